package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/soundlink/internal/devicefactory"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "soundlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "panic", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.Transport)
	assert.Equal(t, "SHIELD", cfg.TargetName)
	assert.True(t, cfg.PrefixMatch)
	assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 20, cfg.HistorySize)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", cfg.Radio.ServiceUUID)
	assert.Equal(t, 81, cfg.Network.Port)
	assert.Equal(t, 800*time.Millisecond, cfg.Network.ProbeTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().TargetName, cfg.TargetName)
}

func TestLoadOverlaysFileThenEnvironment(t *testing.T) {
	// GOAL: file values override defaults, environment overrides the file
	path := writeConfig(t, `
target_name: SENSOR
scan_timeout: 5s
history_size: 50
network:
  hosts: [192.168.4.1, sensor.local]
  port: 8081
`)
	t.Setenv("SOUNDLINK_HISTORY_SIZE", "7")
	t.Setenv("SOUNDLINK_NETWORK_PORT", "9000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "SENSOR", cfg.TargetName)
	assert.Equal(t, 5*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 7, cfg.HistorySize, "environment MUST win over file")
	assert.Equal(t, 9000, cfg.Network.Port)
	assert.Equal(t, []string{"192.168.4.1", "sensor.local"}, cfg.Network.Hosts)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay, "unset values MUST keep defaults")
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown key", content: "target: SHIELD\n"},
		{name: "bad transport", content: "transport: carrier-pigeon\n"},
		{name: "bad uuid", content: "radio:\n  service_uuid: not-a-uuid\n"},
		{name: "zero history", content: "history_size: 0\n"},
		{name: "negative delay", content: "reconnect_delay: -1s\n"},
		{name: "bad output", content: "output_format: csv\n"},
		{name: "bad port", content: "network:\n  port: 70000\n"},
		{name: "bad level", content: "log_level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "\n"))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.HistorySize)
}

func TestOptionMapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = "network"
	cfg.NamePrefix = "SND"
	cfg.Network.Hosts = []string{"10.0.0.0/30"}

	topts := cfg.TransportOptions()
	assert.Equal(t, devicefactory.ModeNetwork, topts.Mode)
	assert.Equal(t, cfg.Radio.NotifyCharUUID, topts.Radio.NotifyCharUUID)
	assert.Equal(t, cfg.ConnectTimeout, topts.Radio.ConnectTimeout)
	assert.Equal(t, []string{"10.0.0.0/30"}, topts.Network.Hosts)
	assert.Equal(t, 81, topts.Network.Port)

	mopts := cfg.ManagerOptions()
	assert.Equal(t, "SHIELD", mopts.Discovery.TargetName)
	assert.Equal(t, "SND", mopts.Discovery.NamePrefix)
	assert.True(t, mopts.Discovery.PrefixMatch)
	assert.Equal(t, cfg.ScanTimeout, mopts.Discovery.Timeout)
	assert.Equal(t, cfg.MaxReconnectAttempts, mopts.MaxReconnectAttempts)
	assert.Equal(t, cfg.HistorySize, mopts.HistorySize)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "debug", logLevel: "debug", want: logrus.DebugLevel},
		{name: "warn", logLevel: "warn", want: logrus.WarnLevel},
		{name: "invalid falls back to info", logLevel: "loud", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
