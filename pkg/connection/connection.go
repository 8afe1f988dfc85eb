// Package connection owns the device lifecycle: discovery, connect, reconnect,
// notification decoding into the history buffer and state publication.
package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/soundlink/internal/broadcast"
	"github.com/srg/soundlink/internal/device"
	"github.com/srg/soundlink/internal/discovery"
	"github.com/srg/soundlink/internal/groutine"
	"github.com/srg/soundlink/internal/history"
	"github.com/srg/soundlink/internal/reading"
	"github.com/srg/soundlink/internal/reconnect"
	"github.com/srg/soundlink/internal/ringchan"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultQueueSize      = 64
)

// Options configures a Manager. Zero values take the package defaults.
type Options struct {
	Discovery            discovery.Options
	ConnectTimeout       time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	HistorySize          int
	QueueSize            int // notifications buffered between the transport and the decoder
}

// link is one open channel and the goroutines serving it
type link struct {
	desc    device.DeviceDescriptor
	channel device.Channel
	queue   *ringchan.RingChannel[[]byte]
	epoch   uint64
}

// pendingConnect lets a second Connect to the same device wait for the first
type pendingConnect struct {
	id    string
	epoch uint64
	done  chan struct{}
	err   error
}

// Manager is the single source of truth for connection and data state.
// All mutations happen under mu; transport I/O and publication happen outside it.
type Manager struct {
	transport   device.Transport
	discoverer  *discovery.Discoverer
	opts        Options
	logger      *logrus.Logger
	policy      *reconnect.Policy
	history     *history.Buffer
	broadcaster *broadcast.Broadcaster[State]

	mu       sync.Mutex
	state    State
	epoch    uint64
	target   *device.DeviceDescriptor
	link     *link
	pending  *pendingConnect
	scanning bool
	closed   bool

	// delivery queue; one goroutine at a time drains it in version order
	pubMu      sync.Mutex
	pubQueue   []State
	pubVersion uint64
	delivering bool
	clearAfter bool // Close ran mid-delivery; drop subscribers once drained
}

// New creates a manager in the Idle state
func New(transport device.Transport, opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	return &Manager{
		transport:   transport,
		discoverer:  discovery.New(transport, opts.Discovery, logger),
		opts:        opts,
		logger:      logger,
		policy:      reconnect.New(opts.ReconnectDelay, opts.MaxReconnectAttempts, logger),
		history:     history.NewBuffer(opts.HistorySize),
		broadcaster: broadcast.New[State](logger, broadcast.WithClone(State.Clone)),
		state:       State{Connection: device.Idle()},
	}
}

// Subscribe registers fn for every published state. fn runs synchronously on
// the publishing goroutine and may call back into the manager.
func (m *Manager) Subscribe(fn func(State)) *broadcast.Subscription {
	return m.broadcaster.Subscribe(fn)
}

// State returns a copy of the current snapshot
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Statistics computes aggregates over the current history
func (m *Manager) Statistics() history.Statistics {
	return m.history.Statistics()
}

// History returns the buffered readings, oldest first
func (m *Manager) History() []reading.Reading {
	return m.history.Snapshot()
}

// Transport returns the transport the manager runs on
func (m *Manager) Transport() device.Transport {
	return m.transport
}

// Discover scans for matching devices. The state is Scanning for the duration
// and reverts to its prior value afterwards unless another operation changed it.
func (m *Manager) Discover(ctx context.Context, progress discovery.ProgressCallback) ([]device.DeviceDescriptor, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, device.ErrClosed
	}
	if m.scanning {
		m.mu.Unlock()
		return nil, &device.DiscoveryError{Kind: device.AlreadyScanning, Msg: "a scan is already in progress"}
	}
	m.scanning = true
	prior := m.state.Connection.Clone()
	epoch := m.epoch
	snap := m.setConnectionLocked(device.Scanning())
	m.mu.Unlock()
	m.publish(snap)

	descs, err := m.discoverer.Discover(ctx, progress)

	m.mu.Lock()
	m.scanning = false
	changed := false
	if err == nil {
		m.state.Candidates = cloneDescriptors(descs)
		changed = true
	}
	if m.epoch == epoch && m.state.Connection.Is(device.StateScanning) {
		m.state.Connection = prior
		changed = true
	}
	if changed {
		snap = m.snapshotLocked()
	}
	m.mu.Unlock()

	if changed {
		m.publish(snap)
	}
	if err != nil {
		m.logger.WithField("error", err).Warn("Device discovery failed")
		return nil, err
	}
	return descs, nil
}

// Connect opens a channel to d. It is idempotent for the device that is
// already connected or connecting; any other device is disconnected first.
func (m *Manager) Connect(ctx context.Context, d device.DeviceDescriptor) error {
	if d.ID == "" {
		return &device.ConnectionError{Kind: device.Unreachable, Msg: "device id is empty"}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return device.ErrClosed
	}
	// an open link stays open while a scan runs, so the state is not consulted
	if m.link != nil && m.link.desc.SameDevice(d) {
		m.mu.Unlock()
		m.logger.WithField("address", d.ID).Debug("Already connected")
		return nil
	}
	if p := m.pending; p != nil && p.id == d.ID {
		m.mu.Unlock()
		m.logger.WithField("address", d.ID).Debug("Connect already in progress, waiting")
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	release := m.detachLocked()
	m.epoch++
	target := d.Clone()
	m.target = &target
	p := &pendingConnect{id: d.ID, epoch: m.epoch, done: make(chan struct{})}
	m.pending = p
	snap := m.setConnectionLocked(device.Connecting())
	m.mu.Unlock()

	release()
	m.publish(snap)

	p.err = m.open(ctx, target, p.epoch, false)
	close(p.done)
	return p.err
}

// Disconnect closes the channel, cancels any pending retry and publishes Idle.
// Calling it with nothing to disconnect is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.holdsConnectionLocked() {
		m.mu.Unlock()
		return
	}

	release := m.detachLocked()
	snap := m.setConnectionLocked(device.Idle())
	m.mu.Unlock()

	release()
	m.publish(snap)
	m.logger.Info("Disconnected")
}

// Send writes data to the connected device
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	lnk := m.link
	m.mu.Unlock()

	if lnk == nil {
		return &device.SendError{Kind: device.NotConnected, Msg: "no open channel"}
	}

	if err := lnk.channel.Send(data); err != nil {
		var serr *device.SendError
		if errors.As(err, &serr) {
			return err
		}
		return &device.SendError{Kind: device.IOError, Err: err}
	}

	m.logger.WithFields(logrus.Fields{
		"address": lnk.desc.ID,
		"bytes":   len(data),
	}).Debug("Sent data to device")
	return nil
}

// Close disconnects and shuts the manager down; later calls fail with device.ErrClosed
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	release := m.detachLocked()
	snap := m.setConnectionLocked(device.Idle())
	m.mu.Unlock()

	release()
	m.publish(snap)
	m.clearSubscribers()
	return nil
}

// open runs the transport open for epoch and applies the result if the epoch is still current
func (m *Manager) open(ctx context.Context, d device.DeviceDescriptor, epoch uint64, reconnecting bool) error {
	log := m.logger.WithFields(logrus.Fields{
		"address":   d.ID,
		"name":      d.DisplayName,
		"transport": m.transport.Kind(),
	})
	log.Info("Connecting to device...")

	openCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	ch, err := m.transport.Open(openCtx, d)

	var lnk *link
	if err == nil {
		lnk = &link{desc: d, channel: ch, queue: ringchan.New[[]byte](m.opts.QueueSize), epoch: epoch}
		ch.OnNotification(func(data []byte) {
			if lnk.queue.Send(data) {
				log.Debug("Notification queue full, dropped oldest payload")
			}
		})
	}

	m.mu.Lock()
	if m.epoch != epoch || m.closed {
		m.mu.Unlock()
		if lnk != nil {
			ch.OnNotification(nil)
			lnk.queue.Close()
			_ = ch.Close()
		}
		log.Debug("Connect superseded by a newer operation")
		return device.ErrSuperseded
	}
	if m.pending != nil && m.pending.epoch == epoch {
		m.pending = nil
	}

	if err != nil {
		var snap State
		if reconnecting {
			snap = m.scheduleReconnectLocked(err.Error())
		} else {
			m.target = nil
			snap = m.setConnectionLocked(device.Disconnected(err.Error()))
		}
		m.mu.Unlock()

		m.publish(snap)
		log.WithField("error", err).Error("Failed to connect to device")
		return err
	}

	m.link = lnk
	m.policy.Reset()
	snap := m.setConnectionLocked(device.Connected(d))
	m.mu.Unlock()

	groutine.Go(context.Background(), groutine.Name("notification-pump", d.ID), func(context.Context) {
		for data := range lnk.queue.C() {
			m.handleNotification(lnk, data)
		}
	})
	groutine.Go(context.Background(), groutine.Name("link-watcher", d.ID), func(context.Context) {
		<-ch.Done()
		m.handleChannelEnd(lnk)
	})

	m.publish(snap)
	log.Info("Device connected successfully")
	return nil
}

func (m *Manager) handleNotification(lnk *link, data []byte) {
	r := reading.Decode(data, time.Now())
	if !r.OK() {
		m.logger.WithFields(logrus.Fields{
			"address": lnk.desc.ID,
			"raw":     r.RawPayload,
		}).Debug("Undecodable notification, recorded as error reading")
	}

	m.mu.Lock()
	if m.link != lnk {
		m.mu.Unlock()
		return
	}
	m.history.Push(r)
	last := r.Clone()
	m.state.LastReading = &last
	m.state.Received++
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.publish(snap)
}

// handleChannelEnd reacts to a channel that ended without Disconnect
func (m *Manager) handleChannelEnd(lnk *link) {
	m.mu.Lock()
	if m.link != lnk || m.epoch != lnk.epoch {
		m.mu.Unlock()
		return
	}

	m.link = nil
	lnk.queue.Close()
	m.epoch++

	reason := "connection lost"
	if err := lnk.channel.Err(); err != nil {
		reason = err.Error()
	}
	m.logger.WithFields(logrus.Fields{
		"address": lnk.desc.ID,
		"reason":  reason,
	}).Warn("Device connection lost")

	snap := m.scheduleReconnectLocked(reason)
	m.mu.Unlock()

	m.publish(snap)
}

// scheduleReconnectLocked publishes Disconnected(reason) with a retry queued,
// or the exhausted state when the ceiling is reached
func (m *Manager) scheduleReconnectLocked(reason string) State {
	if m.target == nil {
		return m.setConnectionLocked(device.Disconnected(reason))
	}

	epoch := m.epoch
	if _, ok := m.policy.Schedule(func(attempt int) { m.reconnect(epoch, attempt) }); !ok {
		m.logger.WithFields(logrus.Fields{
			"address":      m.target.ID,
			"max_attempts": m.policy.MaxAttempts(),
		}).Error("Giving up on reconnecting")
		m.target = nil
		return m.setConnectionLocked(device.Disconnected(device.ErrReconnectExhausted.Error()))
	}
	return m.setConnectionLocked(device.Disconnected(reason))
}

func (m *Manager) reconnect(epoch uint64, attempt int) {
	m.mu.Lock()
	if m.closed || m.epoch != epoch || m.target == nil {
		m.mu.Unlock()
		return
	}

	d := m.target.Clone()
	m.epoch++
	p := &pendingConnect{id: d.ID, epoch: m.epoch, done: make(chan struct{})}
	m.pending = p
	snap := m.setConnectionLocked(device.Connecting())
	m.mu.Unlock()

	m.publish(snap)
	m.logger.WithFields(logrus.Fields{
		"address": d.ID,
		"attempt": attempt,
	}).Info("Reconnecting to device...")

	p.err = m.open(context.Background(), d, p.epoch, true)
	close(p.done)
}

// holdsConnectionLocked reports whether Disconnect has anything to do
func (m *Manager) holdsConnectionLocked() bool {
	if m.link != nil || m.pending != nil || m.target != nil || m.policy.Pending() {
		return true
	}
	switch m.state.Connection.Kind {
	case device.StateIdle, device.StateScanning:
		return false
	}
	return true
}

// detachLocked invalidates in-flight work and hands back the open channel's
// teardown, which the caller runs after releasing mu
func (m *Manager) detachLocked() func() {
	m.epoch++
	m.policy.Cancel()
	m.policy.Reset()
	m.target = nil
	m.pending = nil

	lnk := m.link
	m.link = nil
	if lnk == nil {
		return func() {}
	}

	return func() {
		lnk.channel.OnNotification(nil)
		lnk.queue.Close()
		if err := lnk.channel.Close(); err != nil {
			m.logger.WithFields(logrus.Fields{
				"address": lnk.desc.ID,
				"error":   err,
			}).Warn("Error closing device channel")
		}
	}
}

func (m *Manager) setConnectionLocked(cs device.ConnectionState) State {
	m.state.Connection = cs
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	m.state.Version++
	return m.state.Clone()
}

// publish queues s for delivery unless a newer snapshot was already queued.
// The first caller to find the queue idle delivers everything queued, in
// order, before returning. A caller arriving mid-delivery (including a
// subscriber calling back into the manager) returns at once and its
// snapshot follows the one being delivered.
func (m *Manager) publish(s State) {
	m.pubMu.Lock()
	if s.Version <= m.pubVersion {
		m.pubMu.Unlock()
		return
	}
	m.pubVersion = s.Version
	m.pubQueue = append(m.pubQueue, s)
	if m.delivering {
		m.pubMu.Unlock()
		return
	}

	m.delivering = true
	for len(m.pubQueue) > 0 {
		next := m.pubQueue[0]
		m.pubQueue = m.pubQueue[1:]
		m.pubMu.Unlock()

		m.logger.WithFields(logrus.Fields{
			"state":   next.Connection.String(),
			"version": next.Version,
		}).Trace("Publishing state")
		m.broadcaster.Publish(next)

		m.pubMu.Lock()
	}
	m.delivering = false
	dropSubs := m.clearAfter
	m.clearAfter = false
	m.pubMu.Unlock()

	if dropSubs {
		m.broadcaster.Clear()
	}
}

// clearSubscribers drops every subscriber after the queued snapshots reach them
func (m *Manager) clearSubscribers() {
	m.pubMu.Lock()
	if m.delivering {
		m.clearAfter = true
		m.pubMu.Unlock()
		return
	}
	m.pubMu.Unlock()
	m.broadcaster.Clear()
}
