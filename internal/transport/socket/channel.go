// Package socket bridges a venue's asynchronous websocket transport to a
// synchronous call contract: one persistent connection, strictly one in-flight
// request, the next inbound message is the reply.
package socket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrTimeout means no reply arrived within the response window.
	ErrTimeout = errors.New("socket: no response before timeout")
	// ErrClosed means the connection dropped while a request was pending.
	ErrClosed = errors.New("socket: connection closed")
)

type Config struct {
	URL               string
	ResponseTimeout   time.Duration // default 12s
	ReconnectCooldown time.Duration // default 60s, pause before a forced reconnect
	HandshakeTimeout  time.Duration
}

// Channel owns one persistent websocket connection. Send calls are serialized
// with a mutex -- the correctness invariant of the whole design: because replies
// carry no correlation guarantee beyond ordering, two concurrent writes would
// make responses unattributable.
type Channel struct {
	cfg    Config
	logger *zap.Logger

	sendMu sync.Mutex // single-flight lock, held for a full request/response round trip

	mu           sync.Mutex // guards conn and closedByUser
	conn         *websocket.Conn
	closedByUser bool

	inbound chan []byte

	rawMu   sync.Mutex
	lastRaw []byte
}

// Dial opens the connection and blocks until the websocket handshake completes.
func Dial(cfg Config, logger *zap.Logger) (*Channel, error) {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 12 * time.Second
	}
	if cfg.ReconnectCooldown <= 0 {
		cfg.ReconnectCooldown = 60 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}

	c := &Channel{
		cfg:     cfg,
		logger:  logger,
		inbound: make(chan []byte, 1),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Channel) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to open websocket %s", c.cfg.URL)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("websocket connection established", zap.String("url", c.cfg.URL))
	go c.readLoop(conn)
	return nil
}

// readLoop owns all reads of one connection generation. It resolves the
// pending Send (if any) with each inbound message and reconnects on an
// unexpected close.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.operatorClosed() {
				return
			}
			c.logger.Warn("websocket connection lost, reopening", zap.Error(err))
			c.reconnect()
			return
		}

		// Keep only the newest unclaimed message; a reply nobody waits for is
		// a stale leftover.
		select {
		case c.inbound <- msg:
		default:
			select {
			case <-c.inbound:
			default:
			}
			c.inbound <- msg
		}
	}
}

// reconnect blocks until the handshake succeeds again, then resumes accepting
// Send. Never runs after an operator-initiated Close.
func (c *Channel) reconnect() {
	for {
		if c.operatorClosed() {
			return
		}
		err := c.connect()
		if err == nil {
			return
		}
		c.logger.Warn("websocket reopen failed, will retry", zap.Error(err))
		time.Sleep(c.cfg.ReconnectCooldown / 10)
	}
}

func (c *Channel) operatorClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedByUser
}

func (c *Channel) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Send writes one command frame and blocks until the next inbound message
// arrives, the response window elapses (ErrTimeout), or the context ends.
// A send-time failure from a detected disconnect sleeps the reconnect cooldown
// and forces a reconnect instead of failing fast: flapping links recover,
// callers pay latency.
func (c *Channel) Send(ctx context.Context, payload []byte) ([]byte, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	// Drop any stale message left over from a timed-out round.
	select {
	case <-c.inbound:
	default:
	}

	conn := c.currentConn()
	if conn == nil {
		return nil, ErrClosed
	}

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Warn("websocket send failed, cooling down before reconnect",
			zap.Duration("cooldown", c.cfg.ReconnectCooldown), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.ReconnectCooldown):
		}
		_ = conn.Close()
		return nil, errors.Wrap(ErrClosed, err.Error())
	}

	select {
	case msg := <-c.inbound:
		c.rawMu.Lock()
		c.lastRaw = msg
		c.rawMu.Unlock()
		return msg, nil
	case <-time.After(c.cfg.ResponseTimeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LastResponse returns the most recent raw reply, for diagnostic replay.
func (c *Channel) LastResponse() []byte {
	c.rawMu.Lock()
	defer c.rawMu.Unlock()
	return c.lastRaw
}

// Close shuts the connection down for good; no reconnect follows.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closedByUser = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
