package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srg/soundlink/internal/device"
	"github.com/srg/soundlink/pkg/config"
)

var scanFormats = []string{"table", "json", "yaml"}

type scanOptions struct {
	duration time.Duration
	format   string
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover nearby sensors",
		Long: `Scan for sensors whose name matches the target name (or prefix) and list them,
strongest signal first.

Examples:
  soundlink scan
  soundlink scan --prefix SHIELD --duration 5s --format json
  soundlink scan --transport network --hosts 192.168.4.0/24`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (default 3s, or scan_timeout from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format (table, json, yaml)")
	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	if opts.format != "" && !slices.Contains(scanFormats, opts.format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", opts.format, scanFormats)
	}

	s, err := openSession(cmd, func(cfg *config.Config) {
		if opts.duration > 0 {
			cfg.ScanTimeout = opts.duration
		}
		if opts.format != "" {
			cfg.OutputFormat = opts.format
		}
	})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	descs, err := s.discover(ctx, out)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	return writeDevices(out, descs, s.cfg.OutputFormat)
}

func writeDevices(w io.Writer, descs []device.DeviceDescriptor, format string) error {
	if descs == nil {
		descs = []device.DeviceDescriptor{}
	}

	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(descs)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(descs); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return writeDevicesTable(w, descs)
	}
}

func writeDevicesTable(w io.Writer, descs []device.DeviceDescriptor) error {
	if len(descs) == 0 {
		_, err := fmt.Fprintln(w, "No matching devices found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tTRANSPORT")

	for _, d := range descs {
		name := d.DisplayName
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		rssi := "n/a"
		if d.RSSI != nil {
			rssi = fmt.Sprintf("%d dBm", *d.RSSI)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, d.ID, rssi, d.Transport)
	}
	return tw.Flush()
}
