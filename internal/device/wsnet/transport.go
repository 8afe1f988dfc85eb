// Package wsnet implements the local-network fallback transport: the sensor
// serves a WebSocket endpoint on a well-known port and streams readings over it.
package wsnet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/soundlink/internal/device"
)

const (
	DefaultPort         = 81
	DefaultPath         = "/"
	DefaultName         = "SHIELD"
	DefaultProbeTimeout = 800 * time.Millisecond
	DefaultPingInterval = 10 * time.Second

	// NameHeader carries the device name in the handshake response
	NameHeader = "X-Device-Name"

	maxProbes = 32
)

// Options configures the network transport
type Options struct {
	Port           int
	Path           string
	Hosts          []string // host names, IPs, host:port or CIDR blocks up to /24
	DefaultName    string
	ProbeTimeout   time.Duration
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// Transport is the WebSocket implementation of device.Transport
type Transport struct {
	opts   Options
	logger *logrus.Logger

	mu   sync.Mutex
	open map[string]struct{}
}

// NewTransport creates a network transport; zero options take defaults
func NewTransport(opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.DefaultName == "" {
		opts.DefaultName = DefaultName
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Transport{opts: opts, logger: logger, open: make(map[string]struct{})}
}

func (t *Transport) Kind() string { return device.KindNetwork }

// Scan probes every candidate with a WebSocket handshake and reports the ones
// that answer. It returns once all probes finished or ctx ended.
func (t *Transport) Scan(ctx context.Context, handler func(device.DeviceDescriptor)) error {
	targets, err := expandHosts(t.opts.Hosts, t.opts.Port)
	if err != nil {
		return &device.DiscoveryError{Kind: device.Unsupported, Msg: "invalid candidate hosts", Err: err}
	}
	if len(targets) == 0 {
		return &device.DiscoveryError{Kind: device.Unsupported, Msg: "no candidate hosts configured"}
	}

	t.logger.WithFields(logrus.Fields{
		"candidates": len(targets),
		"port":       t.opts.Port,
	}).Debug("Probing network candidates...")

	var (
		wg      sync.WaitGroup
		emitMu  sync.Mutex
		slots   = make(chan struct{}, maxProbes)
		dialer  = websocket.Dialer{HandshakeTimeout: t.opts.ProbeTimeout}
		scanned = 0
	)

	for _, target := range targets {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case slots <- struct{}{}:
		}
		scanned++

		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			defer func() { <-slots }()

			name, ok := t.probe(ctx, &dialer, target)
			if !ok {
				return
			}

			emitMu.Lock()
			defer emitMu.Unlock()
			if ctx.Err() != nil {
				return
			}
			handler(device.DeviceDescriptor{ID: target, DisplayName: name, Transport: device.KindNetwork})
		}(target)
	}
	wg.Wait()

	t.logger.WithField("probed", scanned).Debug("Network probe finished")
	return nil
}

func (t *Transport) probe(ctx context.Context, dialer *websocket.Dialer, target string) (string, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, t.opts.ProbeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(probeCtx, t.endpoint(target), nil)
	if err != nil {
		t.logger.WithFields(logrus.Fields{"address": target, "error": err}).Trace("Probe failed")
		return "", false
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "probe"),
		time.Now().Add(t.opts.ProbeTimeout))
	_ = conn.Close()

	name := t.opts.DefaultName
	if resp != nil {
		if h := resp.Header.Get(NameHeader); h != "" {
			name = h
		}
	}
	return name, true
}

// Open dials the persistent WebSocket to d.ID (host:port)
func (t *Transport) Open(ctx context.Context, d device.DeviceDescriptor) (device.Channel, error) {
	if d.ID == "" {
		return nil, &device.ConnectionError{Kind: device.Unreachable, Msg: "device address is empty"}
	}
	if !t.reserve(d.ID) {
		t.logger.WithField("address", d.ID).Warn("Open attempt while already open")
		return nil, &device.ConnectionError{Kind: device.AlreadyOpen, Msg: d.ID}
	}

	log := t.logger.WithField("address", d.ID)
	log.WithField("timeout", t.opts.ConnectTimeout).Info("Connecting to network device...")

	dialer := websocket.Dialer{HandshakeTimeout: t.opts.ConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, t.endpoint(d.ID), nil)
	if err != nil {
		t.release(d.ID)
		log.WithField("error", err).Error("Failed to dial network device")
		return nil, dialError(err, resp)
	}

	ch := newChannel(d.ID, conn, t.opts, t.logger, func() { t.release(d.ID) })
	ch.start()

	log.Info("Network device connected successfully")
	return ch, nil
}

func dialError(err error, resp *http.Response) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return &device.ConnectionError{Kind: device.PermissionDenied, Msg: resp.Status, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &device.ConnectionError{Kind: device.Unreachable, Err: err}
}

func (t *Transport) endpoint(target string) string {
	u := url.URL{Scheme: "ws", Host: target, Path: t.opts.Path}
	return u.String()
}

func (t *Transport) reserve(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.open[id]; busy {
		return false
	}
	t.open[id] = struct{}{}
	return true
}

func (t *Transport) release(id string) {
	t.mu.Lock()
	delete(t.open, id)
	t.mu.Unlock()
}

func (t *Transport) String() string {
	return fmt.Sprintf("wsnet(port=%d, path=%s)", t.opts.Port, t.opts.Path)
}
