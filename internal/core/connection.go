package core

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultBufferSize     = 64 * 1024
)

// Transport is the device session used by the queue and the reachability checker.
type Transport interface {
	Connect(ctx context.Context, endpoint PrinterEndpoint) error
	Send(chunks [][]byte) (int, error)
	Disconnect()
	IsConnected() bool
}

type ConnectionOptions struct {
	ConnectTimeout time.Duration
	// WriteTimeout of zero leaves writes without a deadline.
	WriteTimeout time.Duration
	BufferSize   int
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	return o
}

// ConnectionManager holds at most one TCP session to a printer. It is not meant to be
// shared between dispatch paths.
type ConnectionManager struct {
	opts   ConnectionOptions
	logger *zap.Logger

	mu        sync.Mutex
	conn      net.Conn
	activeMu  sync.Mutex
	active    net.Conn
	writer    *bufio.Writer
	endpoint  PrinterEndpoint
	connected bool
}

func NewConnectionManager(opts ConnectionOptions, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

func (c *ConnectionManager) Connect(ctx context.Context, endpoint PrinterEndpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.closeLocked()
	}

	dialer := &net.Dialer{Timeout: c.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint.Address())
	if err != nil {
		return newTransportError(endpoint, "connect", ErrConnectionFailed, err)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		if err := tcp.SetWriteBuffer(c.opts.BufferSize); err != nil {
			c.logger.Debug("failed to set send buffer", zap.String("endpoint", endpoint.String()), zap.Error(err))
		}
		if err := tcp.SetReadBuffer(c.opts.BufferSize); err != nil {
			c.logger.Debug("failed to set receive buffer", zap.String("endpoint", endpoint.String()), zap.Error(err))
		}
	}

	c.conn = conn
	c.setActive(conn)
	c.writer = bufio.NewWriterSize(conn, c.opts.BufferSize)
	c.endpoint = endpoint
	c.connected = true
	return nil
}

// Send writes every chunk in order and flushes. It returns the number of bytes written.
func (c *ConnectionManager) Send(chunks [][]byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return 0, newTransportError(c.endpoint, "send", ErrNotConnected, nil)
	}

	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}

	total := 0
	for _, chunk := range chunks {
		n, err := c.writer.Write(chunk)
		total += n
		if err != nil {
			return total, newTransportError(c.endpoint, "write", ErrWriteFailed, err)
		}
	}
	if err := c.writer.Flush(); err != nil {
		return total, newTransportError(c.endpoint, "flush", ErrWriteFailed, err)
	}
	return total, nil
}

// Disconnect never fails; close errors are logged and the session is reset regardless.
func (c *ConnectionManager) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *ConnectionManager) closeLocked() {
	if c.conn != nil {
		if c.writer != nil {
			if err := c.writer.Flush(); err != nil {
				c.logger.Debug("flush on close failed", zap.String("endpoint", c.endpoint.String()), zap.Error(err))
			}
		}
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close printer connection", zap.String("endpoint", c.endpoint.String()), zap.Error(err))
		}
	}
	c.conn = nil
	c.setActive(nil)
	c.writer = nil
	c.connected = false
}

func (c *ConnectionManager) setActive(conn net.Conn) {
	c.activeMu.Lock()
	c.active = conn
	c.activeMu.Unlock()
}

// Abort closes the socket without waiting for an in-flight Send, which then fails.
func (c *ConnectionManager) Abort() {
	c.activeMu.Lock()
	conn := c.active
	c.activeMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *ConnectionManager) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *ConnectionManager) Endpoint() PrinterEndpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}
