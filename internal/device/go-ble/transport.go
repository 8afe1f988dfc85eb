// Package goble implements the short-range radio transport on top of go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/soundlink/internal/device"
	"github.com/srg/soundlink/internal/groutine"
)

// Nordic UART Service defaults
const (
	DefaultServiceUUID    = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultNotifyCharUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // TX: device -> client
	DefaultWriteCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // RX: client -> device

	DefaultChunkSize  = 20
	DefaultChunkDelay = 10 * time.Millisecond
)

// Adapter is the part of ble.Device the transport needs
type Adapter interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// DeviceFactory creates the platform BLE adapter (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = newPlatformAdapter

// Options configures the radio transport
type Options struct {
	ServiceUUID    string
	NotifyCharUUID string
	WriteCharUUID  string
	ConnectTimeout time.Duration
	ChunkSize      int
	ChunkDelay     time.Duration
}

// DefaultOptions returns the Nordic UART profile with default write pacing
func DefaultOptions() Options {
	return Options{
		ServiceUUID:    DefaultServiceUUID,
		NotifyCharUUID: DefaultNotifyCharUUID,
		WriteCharUUID:  DefaultWriteCharUUID,
		ConnectTimeout: 10 * time.Second,
		ChunkSize:      DefaultChunkSize,
		ChunkDelay:     DefaultChunkDelay,
	}
}

// Transport is the go-ble implementation of device.Transport
type Transport struct {
	adapter Adapter
	opts    Options
	logger  *logrus.Logger

	serviceUUID ble.UUID
	notifyUUID  ble.UUID
	writeUUID   ble.UUID

	mu   sync.Mutex
	open map[string]struct{} // IDs with an open or opening channel
}

// NewTransport creates the platform adapter through DeviceFactory.
// It fails when no usable BLE stack is available.
func NewTransport(opts Options, logger *logrus.Logger) (*Transport, error) {
	if logger == nil {
		logger = logrus.New()
	}

	adapter, err := DeviceFactory()
	if err != nil {
		logger.WithField("error", err).Debug("BLE adapter unavailable")
		if derr := normalizeScanError(err); derr != nil {
			return nil, derr
		}
		return nil, err
	}
	return NewTransportWithAdapter(adapter, opts, logger)
}

// NewTransportWithAdapter wraps an existing adapter
func NewTransportWithAdapter(adapter Adapter, opts Options, logger *logrus.Logger) (*Transport, error) {
	if logger == nil {
		logger = logrus.New()
	}
	def := DefaultOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.NotifyCharUUID == "" {
		opts.NotifyCharUUID = def.NotifyCharUUID
	}
	if opts.WriteCharUUID == "" {
		opts.WriteCharUUID = def.WriteCharUUID
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}

	t := &Transport{
		adapter: adapter,
		opts:    opts,
		logger:  logger,
		open:    make(map[string]struct{}),
	}

	var err error
	if t.serviceUUID, err = ble.Parse(opts.ServiceUUID); err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", opts.ServiceUUID, err)
	}
	if t.notifyUUID, err = ble.Parse(opts.NotifyCharUUID); err != nil {
		return nil, fmt.Errorf("invalid notify characteristic UUID %q: %w", opts.NotifyCharUUID, err)
	}
	if t.writeUUID, err = ble.Parse(opts.WriteCharUUID); err != nil {
		return nil, fmt.Errorf("invalid write characteristic UUID %q: %w", opts.WriteCharUUID, err)
	}
	return t, nil
}

func (t *Transport) Kind() string { return device.KindRadio }

// Scan reports advertisements until ctx ends
func (t *Transport) Scan(ctx context.Context, handler func(device.DeviceDescriptor)) error {
	t.logger.Debug("Starting BLE scan...")

	err := t.adapter.Scan(ctx, true, func(adv ble.Advertisement) {
		rssi := adv.RSSI()
		handler(device.DeviceDescriptor{
			ID:          adv.Addr().String(),
			DisplayName: adv.LocalName(),
			RSSI:        &rssi,
			Transport:   device.KindRadio,
		})
	})

	if derr := normalizeScanError(err); derr != nil {
		t.logger.WithField("error", err).Error("BLE scan failed")
		return derr
	}
	return nil
}

// Open dials the peer, locates the configured service and characteristics
// and subscribes to notifications
func (t *Transport) Open(ctx context.Context, d device.DeviceDescriptor) (device.Channel, error) {
	if d.ID == "" {
		return nil, &device.ConnectionError{Kind: device.Unreachable, Msg: "device address is empty"}
	}
	if !t.reserve(d.ID) {
		t.logger.WithField("address", d.ID).Warn("Open attempt while already open")
		return nil, &device.ConnectionError{Kind: device.AlreadyOpen, Msg: d.ID}
	}

	ch, err := t.openChannel(ctx, d)
	if err != nil {
		t.release(d.ID)
		return nil, err
	}
	return ch, nil
}

func (t *Transport) openChannel(ctx context.Context, d device.DeviceDescriptor) (*channel, error) {
	log := t.logger.WithField("address", d.ID)

	dialCtx := ctx
	if t.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.opts.ConnectTimeout)
		defer cancel()
	}

	log.WithField("timeout", t.opts.ConnectTimeout).Info("Connecting to BLE device...")
	client, err := t.adapter.Dial(dialCtx, ble.NewAddr(d.ID))
	if err != nil {
		log.WithField("error", err).Error("Failed to dial BLE device")
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		return nil, NormalizeError(err)
	}

	fail := func(err error) (*channel, error) {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after open failure")
		}
		return nil, err
	}

	log.Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		log.WithField("error", err).Error("Failed to discover profile")
		return fail(NormalizeError(fmt.Errorf("failed to discover profile: %w", err)))
	}

	notifyChar, writeChar, err := t.locate(profile)
	if err != nil {
		log.WithField("error", err).Error("Required GATT resources missing")
		return fail(err)
	}

	ch := newChannel(d.ID, client, notifyChar, writeChar, t.opts, t.logger, func() { t.release(d.ID) })

	indicate := notifyChar.Property&ble.CharNotify == 0
	if err := client.Subscribe(notifyChar, indicate, ch.deliver); err != nil {
		log.WithField("error", err).Error("Failed to subscribe to notifications")
		return fail(NormalizeError(fmt.Errorf("failed to subscribe to notifications: %w", err)))
	}

	t.watch(client, ch)

	log.WithFields(logrus.Fields{
		"service":     t.opts.ServiceUUID,
		"notify_char": notifyChar.UUID.String(),
		"write_char":  writeChar.UUID.String(),
	}).Info("BLE device connected successfully")
	return ch, nil
}

// locate finds the notify and write characteristics of the configured service.
// The notify characteristic doubles as write characteristic when the dedicated
// one is absent and it accepts writes.
func (t *Transport) locate(profile *ble.Profile) (notifyChar, writeChar *ble.Characteristic, err error) {
	var svc *ble.Service
	if profile != nil {
		for _, s := range profile.Services {
			if s.UUID.Equal(t.serviceUUID) {
				svc = s
				break
			}
		}
	}
	if svc == nil {
		return nil, nil, &device.ConnectionError{
			Kind: device.ServiceNotFound,
			Err:  &device.NotFoundError{Resource: "service", UUIDs: []string{t.opts.ServiceUUID}},
		}
	}

	for _, c := range svc.Characteristics {
		switch {
		case c.UUID.Equal(t.notifyUUID):
			notifyChar = c
		case c.UUID.Equal(t.writeUUID):
			writeChar = c
		}
	}

	if notifyChar == nil || notifyChar.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return nil, nil, &device.ConnectionError{
			Kind: device.CharacteristicNotFound,
			Err:  &device.NotFoundError{Resource: "characteristic", UUIDs: []string{t.opts.ServiceUUID, t.opts.NotifyCharUUID}},
		}
	}
	if writeChar == nil && notifyChar.Property&(ble.CharWrite|ble.CharWriteNR) != 0 {
		writeChar = notifyChar
	}
	if writeChar == nil {
		return nil, nil, &device.ConnectionError{
			Kind: device.CharacteristicNotFound,
			Err:  &device.NotFoundError{Resource: "characteristic", UUIDs: []string{t.opts.ServiceUUID, t.opts.WriteCharUUID}},
		}
	}
	return notifyChar, writeChar, nil
}

// watch ends the channel when the stack reports the link as gone
func (t *Transport) watch(client ble.Client, ch *channel) {
	monitored, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.Debug("Client does not support Disconnected() channel")
		return
	}

	groutine.Go(context.Background(), groutine.Name("ble-link-monitor", ch.id), func(context.Context) {
		select {
		case <-monitored.Disconnected():
			t.logger.WithField("address", ch.id).Warn("BLE stack reported disconnection")
			ch.terminate(&device.ConnectionError{Kind: device.Unreachable, Msg: "link lost"})
		case <-ch.Done():
		}
	})
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
