package wsnet

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/soundlink/internal/device"
	"github.com/srg/soundlink/internal/groutine"
)

// channel is a persistent WebSocket link. Every text or binary message is a notification.
type channel struct {
	id           string
	conn         *websocket.Conn
	logger       *logrus.Logger
	pingInterval time.Duration
	pongWait     time.Duration
	writeTimeout time.Duration

	handler atomic.Pointer[func([]byte)]
	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	err     error
	done    chan struct{}
	release func()
}

func newChannel(id string, conn *websocket.Conn, opts Options, logger *logrus.Logger, release func()) *channel {
	return &channel{
		id:           id,
		conn:         conn,
		logger:       logger,
		pingInterval: opts.PingInterval,
		pongWait:     2 * opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		done:         make(chan struct{}),
		release:      release,
	}
}

func (c *channel) start() {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	groutine.Go(context.Background(), groutine.Name("ws-reader", c.id), func(context.Context) { c.readLoop() })
	groutine.Go(context.Background(), groutine.Name("ws-keepalive", c.id), func(context.Context) { c.pingLoop() })
}

func (c *channel) readLoop() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.logger.WithFields(logrus.Fields{
					"address": c.id,
					"error":   err,
				}).Warn("Network link lost")
				c.terminate(&device.ConnectionError{Kind: device.Unreachable, Msg: "link lost", Err: err})
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if h := c.handler.Load(); h != nil && *h != nil {
			(*h)(data)
		}
	}
}

func (c *channel) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.WithFields(logrus.Fields{
					"address": c.id,
					"error":   err,
				}).Debug("Keepalive ping failed")
				c.terminate(&device.ConnectionError{Kind: device.Unreachable, Msg: "keepalive failed", Err: err})
				return
			}
		}
	}
}

func (c *channel) OnNotification(handler func([]byte)) {
	if handler == nil {
		c.handler.Store(nil)
		return
	}
	c.handler.Store(&handler)
}

func (c *channel) Send(data []byte) error {
	if c.isClosed() {
		return &device.SendError{Kind: device.NotOpen, Msg: c.id}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": c.id,
			"error":   err,
		}).Error("Failed to write to network device")
		if c.isClosed() {
			return &device.SendError{Kind: device.NotOpen, Msg: c.id, Err: err}
		}
		return &device.SendError{Kind: device.IOError, Err: err}
	}
	return nil
}

func (c *channel) Done() <-chan struct{} { return c.done }

func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame and releases the socket. Safe to call more than once.
func (c *channel) Close() error {
	if !c.finish(nil) {
		return nil
	}

	c.logger.WithField("address", c.id).Info("Disconnecting network device...")
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout))
	return c.conn.Close()
}

func (c *channel) terminate(cause error) {
	if c.finish(cause) {
		_ = c.conn.Close()
	}
}

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
