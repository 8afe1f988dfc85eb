package testutils

import (
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/srg/soundlink/internal/device"
	"github.com/srg/soundlink/internal/reading"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper whose logger writes nothing unless SOUNDLINK_TEST_LOG is set
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		T:      t,
		Logger: QuietLogger(),
	}
}

// QuietLogger returns a debug-level logger; output is discarded unless SOUNDLINK_TEST_LOG is set
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	if os.Getenv("SOUNDLINK_TEST_LOG") == "" {
		logger.SetOutput(io.Discard)
	}
	return logger
}

// Descriptor builds a DeviceDescriptor; a nil rssi leaves the signal strength unknown
func Descriptor(id, name string, rssi *int) device.DeviceDescriptor {
	return device.DeviceDescriptor{ID: id, DisplayName: name, RSSI: rssi}
}

// RSSI returns a pointer to v
func RSSI(v int) *int {
	return &v
}

// Payload renders the canonical sensor JSON message for a decibel value
func Payload(dba float64) []byte {
	data, _ := json.Marshal(map[string]float64{reading.PrimaryField: dba})
	return data
}
