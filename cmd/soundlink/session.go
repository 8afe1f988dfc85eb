package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/soundlink/internal/device"
	"github.com/srg/soundlink/internal/devicefactory"
	"github.com/srg/soundlink/pkg/config"
	"github.com/srg/soundlink/pkg/connection"
)

// transportFactory creates the device transport (can be overridden in tests)
var transportFactory = devicefactory.NewTransport

// session bundles what every command needs: config, logger and a manager
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	manager *connection.Manager
}

// openSession loads configuration, applies flag overrides and the command's
// own adjustments, then creates the transport and manager
func openSession(cmd *cobra.Command, adjust func(*config.Config)) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	transport, err := transportFactory(cfg.TransportOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transport: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"transport": transport.Kind(),
		"target":    cfg.TargetName,
	}).Debug("Session ready")

	return &session{
		cfg:     cfg,
		logger:  logger,
		manager: connection.New(transport, cfg.ManagerOptions(), logger),
	}, nil
}

func (s *session) Close() {
	_ = s.manager.Close()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport, _ = flags.GetString("transport")
	}
	if flags.Changed("target") {
		cfg.TargetName, _ = flags.GetString("target")
	}
	if flags.Changed("prefix") {
		cfg.NamePrefix, _ = flags.GetString("prefix")
		cfg.PrefixMatch = true
	}
	if flags.Changed("hosts") {
		cfg.Network.Hosts, _ = flags.GetStringSlice("hosts")
	}
	return cfg, nil
}

// resolveTarget returns the device named by id, or discovers and picks the best candidate
func (s *session) resolveTarget(ctx context.Context, out io.Writer, id string) (device.DeviceDescriptor, error) {
	if id != "" {
		return device.DeviceDescriptor{ID: id, DisplayName: id, Transport: s.manager.Transport().Kind()}, nil
	}

	descs, err := s.discover(ctx, out)
	if err != nil {
		return device.DeviceDescriptor{}, err
	}
	if len(descs) == 0 {
		return device.DeviceDescriptor{}, fmt.Errorf("%w: %q", ErrNoDevice, s.cfg.TargetName)
	}

	s.logger.WithFields(logrus.Fields{
		"device":     descs[0].DisplayName,
		"address":    descs[0].ID,
		"candidates": len(descs),
	}).Info("Selected device")
	return descs[0], nil
}

func (s *session) discover(ctx context.Context, out io.Writer) ([]device.DeviceDescriptor, error) {
	progress := NewCountdownProgressPrinter(out, "Scanning for devices", "Scanning", s.cfg.ScanTimeout, "Processing results")
	progress.Start()
	defer progress.Stop()

	return s.manager.Discover(ctx, progress.Callback())
}
