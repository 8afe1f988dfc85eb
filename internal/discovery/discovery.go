// Package discovery runs timed scans over a transport and returns the ranked
// list of peers whose names match the configured target.
package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/soundlink/internal/device"
)

// DefaultTimeout bounds a scan when Options.Timeout is not set
const DefaultTimeout = 3 * time.Second

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Filter selects peers by display name.
// A name matches when it equals TargetName, or, with PrefixMatch enabled,
// when it starts with NamePrefix (TargetName if NamePrefix is empty).
type Filter struct {
	TargetName  string
	NamePrefix  string
	PrefixMatch bool
}

// Match reports whether name passes the filter
func (f Filter) Match(name string) bool {
	if name == "" {
		return false
	}
	if f.TargetName != "" && name == f.TargetName {
		return true
	}
	if !f.PrefixMatch {
		return false
	}
	prefix := f.NamePrefix
	if prefix == "" {
		prefix = f.TargetName
	}
	return prefix != "" && strings.HasPrefix(name, prefix)
}

// Options configures a Discoverer
type Options struct {
	Filter
	Timeout time.Duration
}

// Discoverer performs one scan at a time over a transport
type Discoverer struct {
	transport device.Transport
	opts      Options
	logger    *logrus.Logger
	scanning  atomic.Bool
}

// New creates a Discoverer
func New(transport device.Transport, opts Options, logger *logrus.Logger) *Discoverer {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Discoverer{transport: transport, opts: opts, logger: logger}
}

// Timeout returns the configured scan duration
func (d *Discoverer) Timeout() time.Duration { return d.opts.Timeout }

// Discover scans for the configured timeout and returns matching peers,
// de-duplicated by ID (latest advertisement wins) and ranked by RSSI
// descending, unknown RSSI last, then by name and ID.
// An empty result is not an error.
func (d *Discoverer) Discover(ctx context.Context, progress ProgressCallback) ([]device.DeviceDescriptor, error) {
	if !d.scanning.CompareAndSwap(false, true) {
		return nil, &device.DiscoveryError{Kind: device.AlreadyScanning, Msg: "a scan is already in progress"}
	}
	defer d.scanning.Store(false)

	if progress == nil {
		progress = func(string) {}
	}

	d.logger.WithFields(logrus.Fields{
		"transport": d.transport.Kind(),
		"target":    d.opts.TargetName,
		"prefix":    d.opts.PrefixMatch,
		"timeout":   d.opts.Timeout,
	}).Info("Starting device discovery...")

	progress("Scanning")

	scanCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	found := hashmap.New[string, device.DeviceDescriptor]()
	err := d.transport.Scan(scanCtx, func(desc device.DeviceDescriptor) {
		if !d.opts.Match(desc.DisplayName) {
			return
		}
		if desc.Transport == "" {
			desc.Transport = d.transport.Kind()
		}
		if _, existing := found.Get(desc.ID); !existing {
			d.logger.WithFields(logrus.Fields{
				"device":  desc.DisplayName,
				"address": desc.ID,
				"rssi":    formatRSSI(desc.RSSI),
			}).Info("Discovered matching device")
		}
		found.Set(desc.ID, desc.Clone())
	})

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, normalizeScanError(err)
	}
	// the caller's own cancellation is still reported
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}

	progress("Processing results")

	result := make([]device.DeviceDescriptor, 0, found.Len())
	found.Range(func(_ string, desc device.DeviceDescriptor) bool {
		result = append(result, desc)
		return true
	})
	Rank(result)

	d.logger.WithField("device_count", len(result)).Info("Device discovery completed")
	return result, nil
}

// Rank sorts descriptors in place: strongest RSSI first, unknown RSSI last,
// ties broken by display name then ID
func Rank(descs []device.DeviceDescriptor) {
	slices.SortStableFunc(descs, func(a, b device.DeviceDescriptor) int {
		switch {
		case a.RSSI != nil && b.RSSI == nil:
			return -1
		case a.RSSI == nil && b.RSSI != nil:
			return 1
		case a.RSSI != nil && b.RSSI != nil && *a.RSSI != *b.RSSI:
			return cmp.Compare(*b.RSSI, *a.RSSI)
		}
		if c := cmp.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func normalizeScanError(err error) error {
	var derr *device.DiscoveryError
	if errors.As(err, &derr) {
		return err
	}

	kind := device.Unsupported
	if device.KindOf(err) == device.PermissionDenied {
		kind = device.PermissionDenied
	}
	return &device.DiscoveryError{Kind: kind, Msg: "scan failed", Err: err}
}

func formatRSSI(rssi *int) string {
	if rssi == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d dBm", *rssi)
}
