package testutils

import (
	"context"
	"sync"

	"github.com/srg/soundlink/internal/device"
)

// FakeTransport is an in-memory device.Transport driven by the test
type FakeTransport struct {
	kind string

	mu        sync.Mutex
	adverts   []device.DeviceDescriptor
	scanErr   error
	scanHold  bool
	scanCalls int
	openHook  func(ctx context.Context, d device.DeviceDescriptor) error
	openCalls int
	channels  []*FakeChannel
}

func NewFakeTransport(kind string) *FakeTransport {
	return &FakeTransport{kind: kind}
}

func (f *FakeTransport) Kind() string { return f.kind }

// SetAdvertisements replaces what the next scans report, in order
func (f *FakeTransport) SetAdvertisements(ds ...device.DeviceDescriptor) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adverts = append([]device.DeviceDescriptor(nil), ds...)
	return f
}

func (f *FakeTransport) SetScanError(err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanErr = err
	return f
}

// SetScanHold makes Scan block until its context ends, like a real radio scan
func (f *FakeTransport) SetScanHold(hold bool) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanHold = hold
	return f
}

// SetOpenHook runs fn before every Open; a non-nil result fails the open
func (f *FakeTransport) SetOpenHook(fn func(ctx context.Context, d device.DeviceDescriptor) error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openHook = fn
	return f
}

func (f *FakeTransport) Scan(ctx context.Context, handler func(device.DeviceDescriptor)) error {
	f.mu.Lock()
	f.scanCalls++
	adverts := append([]device.DeviceDescriptor(nil), f.adverts...)
	scanErr := f.scanErr
	hold := f.scanHold
	f.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, d := range adverts {
		if ctx.Err() != nil {
			return nil
		}
		handler(d.Clone())
	}
	if hold {
		<-ctx.Done()
	}
	return nil
}

func (f *FakeTransport) Open(ctx context.Context, d device.DeviceDescriptor) (device.Channel, error) {
	f.mu.Lock()
	f.openCalls++
	hook := f.openHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, d); err != nil {
			return nil, err
		}
	}

	ch := NewFakeChannel(d.ID)
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	return ch, nil
}

func (f *FakeTransport) ScanCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanCalls
}

func (f *FakeTransport) OpenCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls
}

// Channels returns every channel opened so far, oldest first
func (f *FakeTransport) Channels() []*FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeChannel(nil), f.channels...)
}

// LastChannel returns the most recently opened channel or nil
func (f *FakeTransport) LastChannel() *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.channels) == 0 {
		return nil
	}
	return f.channels[len(f.channels)-1]
}

// FakeChannel is an in-memory device.Channel
type FakeChannel struct {
	ID string

	mu         sync.Mutex
	handler    func([]byte)
	sent       [][]byte
	sendErr    error
	closed     bool
	closeCalls int
	err        error
	done       chan struct{}
}

func NewFakeChannel(id string) *FakeChannel {
	return &FakeChannel{ID: id, done: make(chan struct{})}
}

func (c *FakeChannel) OnNotification(handler func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Notify delivers data to the installed handler; false when none is installed or the channel ended
func (c *FakeChannel) Notify(data []byte) bool {
	c.mu.Lock()
	h := c.handler
	closed := c.closed
	c.mu.Unlock()

	if h == nil || closed {
		return false
	}
	h(append([]byte(nil), data...))
	return true
}

// HasHandler reports whether a notification handler is installed
func (c *FakeChannel) HasHandler() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

func (c *FakeChannel) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *FakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &device.SendError{Kind: device.NotOpen, Msg: c.ID}
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

// Sent returns copies of every payload written so far
func (c *FakeChannel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, b := range c.sent {
		out[i] = string(b)
	}
	return out
}

func (c *FakeChannel) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	c.end(nil)
	return nil
}

// Drop ends the channel from the remote side with cause
func (c *FakeChannel) Drop(cause error) {
	if cause == nil {
		cause = &device.ConnectionError{Kind: device.Unreachable, Msg: "link lost"}
	}
	c.end(cause)
}

func (c *FakeChannel) end(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = cause
	c.handler = nil
	close(c.done)
}

func (c *FakeChannel) Done() <-chan struct{} { return c.done }

func (c *FakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *FakeChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeChannel) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}
