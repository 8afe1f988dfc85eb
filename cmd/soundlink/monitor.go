package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/soundlink/internal/device"
	"github.com/srg/soundlink/internal/history"
	"github.com/srg/soundlink/internal/reading"
	"github.com/srg/soundlink/internal/ringchan"
	"github.com/srg/soundlink/pkg/connection"
)

const monitorQueueSize = 64

var monitorFormats = []string{"text", "json"}

type monitorOptions struct {
	format   string
	count    int
	duration time.Duration
}

func newMonitorCmd() *cobra.Command {
	opts := &monitorOptions{}
	cmd := &cobra.Command{
		Use:   "monitor [device-id]",
		Short: "Stream live sound level readings",
		Long: `Connect to the sensor and print every reading with rolling statistics over the
recent history. Lost links are re-established automatically up to the configured
number of attempts. Press Ctrl+C to stop.

Without a device id the best matching device found by a scan is used.

Examples:
  soundlink monitor
  soundlink monitor AA:BB:CC:DD:EE:FF --count 10
  soundlink monitor --transport network --hosts shield.local --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format (text, json)")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 0, "Stop after this many readings (0 = unlimited)")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long (0 = until interrupted)")
	return cmd
}

func runMonitor(cmd *cobra.Command, args []string, opts *monitorOptions) error {
	if !slices.Contains(monitorFormats, opts.format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", opts.format, monitorFormats)
	}
	if opts.count < 0 {
		return fmt.Errorf("count must not be negative, got %d", opts.count)
	}

	s, err := openSession(cmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Subscriber callbacks must not block the manager; hand snapshots to the loop below
	updates := ringchan.New[connection.State](monitorQueueSize)
	sub := s.manager.Subscribe(func(st connection.State) { updates.Send(st) })
	defer func() {
		sub.Unsubscribe()
		updates.Close()
	}()

	out := cmd.OutOrStdout()
	target, err := s.resolveTarget(ctx, out, argAt(args, 0))
	if err != nil {
		return err
	}

	if err := s.manager.Connect(ctx, target); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer s.manager.Disconnect()

	var deadline <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	printer := newMonitorPrinter(out, opts.format)
	var seen uint64
	printed := 0

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Monitor interrupted")
			return nil

		case <-deadline:
			s.logger.WithField("duration", opts.duration).Debug("Monitor duration elapsed")
			return nil

		case st, ok := <-updates.C():
			if !ok {
				return nil
			}

			printer.state(st.Connection)
			if st.Connection.Is(device.StateDisconnected) && st.Connection.Reason == device.ErrReconnectExhausted.Error() {
				return device.ErrReconnectExhausted
			}

			if st.Received <= seen || st.LastReading == nil {
				continue
			}
			if dropped := st.Received - seen - 1; seen > 0 && dropped > 0 {
				s.logger.WithField("skipped", dropped).Debug("Monitor fell behind")
			}
			seen = st.Received

			printer.reading(*st.LastReading, s.manager.Statistics())
			printed++
			if opts.count > 0 && printed >= opts.count {
				s.logger.WithFields(logrus.Fields{
					"readings": printed,
				}).Debug("Reading count reached")
				return nil
			}
		}
	}
}

// monitorPrinter renders state changes and readings as text lines or JSON events
type monitorPrinter struct {
	w      io.Writer
	json   *json.Encoder
	last   device.ConnectionState
	primed bool
}

type monitorEvent struct {
	Event      string                  `json:"event"`
	State      *device.ConnectionState `json:"state,omitempty"`
	Reading    *reading.Reading        `json:"reading,omitempty"`
	Statistics *history.Statistics     `json:"statistics,omitempty"`
}

func newMonitorPrinter(w io.Writer, format string) *monitorPrinter {
	p := &monitorPrinter{w: w}
	if format == "json" {
		p.json = json.NewEncoder(w)
	}
	return p
}

// state prints cs when it differs from the previous one
func (p *monitorPrinter) state(cs device.ConnectionState) {
	if p.primed && p.last.Kind == cs.Kind && p.last.Reason == cs.Reason {
		return
	}
	p.last = cs
	p.primed = true

	if p.json != nil {
		_ = p.json.Encode(monitorEvent{Event: "state", State: &cs})
		return
	}
	stateColor(cs.Kind).Fprintf(p.w, "%s %s\n", time.Now().Format(time.TimeOnly), capitalize(cs.String()))
}

func (p *monitorPrinter) reading(r reading.Reading, stats history.Statistics) {
	if p.json != nil {
		_ = p.json.Encode(monitorEvent{Event: "reading", Reading: &r, Statistics: &stats})
		return
	}

	line := fmt.Sprintf("%s %6.2f dBA", r.Timestamp.Format("15:04:05.000"), r.Value)
	if r.OK() {
		line += "  ok   "
	} else {
		line += "  " + color.RedString("error")
	}
	if r.Battery != nil {
		line += fmt.Sprintf("  battery %3d%%", *r.Battery)
	}
	line += fmt.Sprintf("  | avg %.2f  min %.2f  max %.2f  n %d", stats.Average, stats.Min, stats.Max, stats.Count)
	if stats.Errors > 0 {
		line += fmt.Sprintf("  errors %d", stats.Errors)
	}
	fmt.Fprintln(p.w, line)
}

func stateColor(kind device.StateKind) *color.Color {
	switch kind {
	case device.StateConnected:
		return color.New(color.FgGreen)
	case device.StateScanning, device.StateConnecting:
		return color.New(color.FgYellow)
	case device.StateDisconnected:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
