package goble

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/soundlink/internal/device"
)

// channel is an open link to one peripheral: notifications from the notify
// characteristic, writes to the write characteristic
type channel struct {
	id         string
	client     ble.Client
	notifyChar *ble.Characteristic
	writeChar  *ble.Characteristic
	chunkSize  int
	chunkDelay time.Duration
	logger     *logrus.Logger

	handler    atomic.Pointer[func([]byte)]
	writeMutex sync.Mutex

	mu      sync.Mutex
	closed  bool
	err     error
	done    chan struct{}
	release func()
}

func newChannel(id string, client ble.Client, notifyChar, writeChar *ble.Characteristic, opts Options, logger *logrus.Logger, release func()) *channel {
	return &channel{
		id:         id,
		client:     client,
		notifyChar: notifyChar,
		writeChar:  writeChar,
		chunkSize:  opts.ChunkSize,
		chunkDelay: opts.ChunkDelay,
		logger:     logger,
		done:       make(chan struct{}),
		release:    release,
	}
}

// deliver is the go-ble notification handler
func (c *channel) deliver(data []byte) {
	h := c.handler.Load()
	if h == nil || *h == nil {
		return
	}
	// go-ble may reuse the buffer
	buf := make([]byte, len(data))
	copy(buf, data)
	(*h)(buf)
}

func (c *channel) OnNotification(handler func([]byte)) {
	if handler == nil {
		c.handler.Store(nil)
		return
	}
	c.handler.Store(&handler)
}

// Send writes data in chunks of at most chunkSize bytes, pausing between chunks
func (c *channel) Send(data []byte) error {
	if c.isClosed() {
		return &device.SendError{Kind: device.NotOpen, Msg: c.id}
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	noRsp := c.writeChar.Property&ble.CharWrite == 0 && c.writeChar.Property&ble.CharWriteNR != 0
	for len(data) > 0 {
		n := min(len(data), c.chunkSize)
		chunk := data[:n]
		data = data[n:]

		if c.isClosed() {
			return &device.SendError{Kind: device.NotOpen, Msg: c.id}
		}
		if err := c.client.WriteCharacteristic(c.writeChar, chunk, noRsp); err != nil {
			c.logger.WithFields(logrus.Fields{
				"address": c.id,
				"error":   err,
			}).Error("Failed to write to characteristic")
			return normalizeSendError(err)
		}

		c.logger.WithField("bytes", len(chunk)).Debug("Wrote chunk to device")

		if len(data) > 0 && c.chunkDelay > 0 {
			time.Sleep(c.chunkDelay)
		}
	}
	return nil
}

func (c *channel) Done() <-chan struct{} { return c.done }

func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close unsubscribes and tears the link down. Safe to call more than once.
func (c *channel) Close() error {
	if !c.finish(nil) {
		return nil
	}

	c.logger.WithField("address", c.id).Info("Disconnecting BLE device...")

	indicate := c.notifyChar.Property&ble.CharNotify == 0
	if err := c.client.Unsubscribe(c.notifyChar, indicate); err != nil {
		c.logger.WithField("error", err).Debug("Failed to unsubscribe during close")
	}

	if err := c.client.CancelConnection(); err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return normalizeSendError(err)
	}

	c.logger.WithField("address", c.id).Info("BLE device disconnected successfully")
	return nil
}

// terminate ends the channel after the remote side went away
func (c *channel) terminate(cause error) {
	if c.finish(cause) {
		_ = c.client.CancelConnection()
	}
}

// finish marks the channel closed exactly once and reports whether this call did it
func (c *channel) finish(cause error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.err = cause
	c.mu.Unlock()

	c.handler.Store(nil)
	close(c.done)
	if c.release != nil {
		c.release()
	}
	return true
}

func (c *channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
