package rediswire

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rediswire/rediswire/protocol"
)

// Client is a Redis client that owns exactly one connection and
// pipelines commands over it.
//
// Commands are issued with Send, Flush and Receive, or with Do which
// combines them. Send writes the encoded request to the connection's
// outbound buffer and records one pending reply obligation; it never
// waits for a reply. Receive decodes exactly one reply, in request
// order. The pending state is a counter, so queuing N commands before
// draining them costs O(1) client memory regardless of N.
//
// A connection-level fault poisons every pending obligation: each
// subsequent Receive reports the fault. A server error reply only fails
// the command at its own position; the pipeline continues.
//
// Send, Flush, Receive and Do must not be called concurrently with each
// other. Independent Clients are fully independent.
type Client struct {
	cfg    *config
	logger Logger

	mu       sync.Mutex
	conn     net.Conn
	reader   *protocol.Reader
	writer   *protocol.Writer
	pending  int64
	fault    error
	closed   bool
	database int

	stats Stats
}

// Dial connects to the configured Redis server and performs the
// connect-time handshake: AUTH when a password is configured (failure
// yields *AuthError), then SELECT when a non-zero database is
// configured (failure yields *SelectError). Either failure leaves the
// connection closed and unusable.
func Dial(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	dialer := cfg.dialer
	if dialer == nil {
		d := &net.Dialer{Timeout: cfg.connectTimeout}
		dialer = d.DialContext
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout)
	defer cancel()

	conn, err := dialer(dialCtx, "tcp", cfg.addr)
	if err != nil {
		return nil, &ConnectionError{Addr: cfg.addr, Err: err}
	}

	if cfg.tlsConfig != nil {
		tlsConn := tls.Client(conn, cfg.tlsConfig)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			conn.Close()
			return nil, &ConnectionError{Addr: cfg.addr, Err: err}
		}
		conn = tlsConn
	}

	c := &Client{
		cfg:      cfg,
		logger:   cfg.logger,
		conn:     conn,
		reader:   protocol.NewReader(conn),
		writer:   protocol.NewWriter(conn),
		database: cfg.database,
	}

	if err := c.handshake(dialCtx); err != nil {
		conn.Close()
		return nil, err
	}

	c.logger.Debug("connected", Field{Key: "addr", Value: cfg.addr}, Field{Key: "db", Value: cfg.database})
	return c, nil
}

// handshake runs the connect-time AUTH and SELECT exchanges
func (c *Client) handshake(ctx context.Context) error {
	if c.cfg.password != "" {
		reply, err := c.Do(ctx, "AUTH", c.cfg.password)
		if err != nil {
			var cmdErr *CommandError
			if errors.As(err, &cmdErr) {
				return &AuthError{Err: cmdErr}
			}
			return &AuthError{Err: err}
		}
		if reply.String() != "OK" {
			return &AuthError{Err: fmt.Errorf("unexpected AUTH reply: %s", reply)}
		}
	}

	if c.cfg.database != 0 {
		reply, err := c.Do(ctx, "SELECT", c.cfg.database)
		if err != nil {
			var cmdErr *CommandError
			if errors.As(err, &cmdErr) {
				return &SelectError{DB: c.cfg.database, Err: cmdErr}
			}
			return &SelectError{DB: c.cfg.database, Err: err}
		}
		if reply.String() != "OK" {
			return &SelectError{DB: c.cfg.database, Err: fmt.Errorf("unexpected SELECT reply: %s", reply)}
		}
	}

	return nil
}

// Addr returns the server address this client is connected to
func (c *Client) Addr() string {
	return c.cfg.addr
}

// Database returns the currently selected database index
func (c *Client) Database() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.database
}

// Stats returns a snapshot of the client's counters
func (c *Client) Stats() Stats {
	return c.stats.Snapshot()
}

// PendingCount returns the number of queued reply obligations: requests
// sent minus replies consumed
func (c *Client) PendingCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Send encodes the command into the connection's outbound buffer and
// records a pending reply obligation. It never blocks waiting for a
// reply; the only blocking point is socket write backpressure once the
// buffer fills.
func (c *Client) Send(cmd string, args ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(cmd, args...)
}

// send queues one command. Caller holds mu.
func (c *Client) send(cmd string, args ...interface{}) error {
	if err := c.usable(); err != nil {
		return err
	}

	if c.cfg.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	}

	if err := c.writer.WriteCommand(buildArgs(cmd, args...)...); err != nil {
		return c.poison(err)
	}

	c.pending++
	c.stats.recordSent()
	c.stats.recordDepth(c.pending)
	return nil
}

// Flush writes any buffered requests to the server
func (c *Client) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flush()
}

// flush flushes the outbound buffer. Caller holds mu.
func (c *Client) flush() error {
	if err := c.usable(); err != nil {
		return err
	}

	if c.cfg.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	}

	if err := c.writer.Flush(); err != nil {
		return c.poison(err)
	}
	return nil
}

// Receive decodes exactly one pending reply, in the order the requests
// were sent. A server error reply is returned as the reply value
// together with a *CommandError; the connection stays usable and later
// replies still decode. A connection-level fault is returned for this
// and every remaining obligation.
func (c *Client) Receive(ctx context.Context) (protocol.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receive(ctx, 0)
}

// receive consumes one obligation. Caller holds mu.
func (c *Client) receive(ctx context.Context, extra time.Duration) (protocol.Value, error) {
	if err := c.usable(); err != nil {
		return protocol.Value{}, err
	}
	if c.pending == 0 {
		return protocol.Value{}, errors.New("receive with no pending replies")
	}

	reply, err := c.readReply(ctx, extra)
	if err != nil {
		return protocol.Value{}, err
	}

	c.pending--
	c.stats.recordReceived(reply.IsError())
	if reply.IsError() {
		return reply, &CommandError{Message: reply.ErrorText()}
	}
	return reply, nil
}

// Drain flushes the outbound buffer and consumes every pending reply,
// in request order. Server error replies appear in place in the result;
// only connection-level faults produce a non-nil error, and they poison
// all remaining obligations.
func (c *Client) Drain(ctx context.Context) ([]protocol.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.flush(); err != nil {
		return nil, err
	}

	replies := make([]protocol.Value, 0, c.pending)
	for c.pending > 0 {
		reply, err := c.receive(ctx, 0)
		if err != nil {
			var cmdErr *CommandError
			if !errors.As(err, &cmdErr) {
				return replies, err
			}
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

// Do sends the command, flushes, and then receives every pending reply
// including replies for earlier Send calls. It returns the reply to the
// last command. If any received reply is a server error, Do returns the
// first such *CommandError after draining the rest.
func (c *Client) Do(ctx context.Context, cmd string, args ...interface{}) (protocol.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.do(ctx, 0, cmd, args...)
}

// do runs a command with extra read-deadline headroom for blocking
// commands. Caller holds mu.
func (c *Client) do(ctx context.Context, extra time.Duration, cmd string, args ...interface{}) (protocol.Value, error) {
	if err := c.send(cmd, args...); err != nil {
		return protocol.Value{}, err
	}
	if err := c.flush(); err != nil {
		return protocol.Value{}, err
	}

	var last protocol.Value
	var firstErr error
	for c.pending > 0 {
		reply, err := c.receive(ctx, extra)
		if err != nil {
			var cmdErr *CommandError
			if !errors.As(err, &cmdErr) {
				return protocol.Value{}, err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		last = reply
	}
	if firstErr != nil {
		return last, firstErr
	}
	return last, nil
}

// Close closes the connection. Every pending obligation and all further
// calls report the closed state.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.fault == nil {
		c.fault = &ConnectionError{Addr: c.cfg.addr, Err: ErrConnClosed}
	}
	err := c.conn.Close()
	c.logger.Debug("closed", Field{Key: "addr", Value: c.cfg.addr})
	return err
}

// usable reports the sticky fault or closed state, if any. Caller holds mu.
func (c *Client) usable() error {
	if c.closed {
		return ErrClosed
	}
	return c.fault
}

// noDeadline disables the read deadline for a single read; used by the
// pub/sub receive loop where message gaps are unbounded.
const noDeadline time.Duration = -1

// readReply reads one reply frame, honoring the configured read timeout
// plus extra headroom and context cancellation. Caller holds mu.
func (c *Client) readReply(ctx context.Context, extra time.Duration) (protocol.Value, error) {
	if extra == noDeadline {
		c.conn.SetReadDeadline(time.Time{})
	} else if c.cfg.readTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.readTimeout + extra))
	}

	// Unblock the read when the context is cancelled or its deadline
	// expires; the resulting read error is reported as ctx.Err below.
	// The context's own deadline is deliberately not folded into the
	// socket deadline: AfterFunc runs only once the context is done, so
	// a read it unblocks always observes a non-nil ctx.Err.
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	reply, err := c.reader.ReadNext()
	if err != nil {
		if ctx.Err() != nil {
			c.poison(err)
			return protocol.Value{}, ctx.Err()
		}
		return protocol.Value{}, c.poison(err)
	}
	return reply, nil
}

// poison records a connection-level fault. Every pending obligation and
// all further operations on this client report it. Caller holds mu.
func (c *Client) poison(err error) error {
	if c.fault != nil {
		return c.fault
	}

	if errors.Is(err, protocol.ErrMalformed) {
		c.fault = &ProtocolError{Message: err.Error(), Err: err}
	} else {
		c.fault = &ConnectionError{Addr: c.cfg.addr, Err: fmt.Errorf("%w: %v", ErrConnClosed, err)}
	}

	c.logger.Error("connection fault",
		Field{Key: "addr", Value: c.cfg.addr},
		Field{Key: "pending", Value: c.pending},
		Field{Key: "err", Value: err})
	c.conn.Close()
	return c.fault
}

// buildArgs converts a command name and arguments to wire arguments.
// Strings and byte slices pass through unmodified; booleans become "1"
// and "0"; integers and floats are formatted in decimal.
func buildArgs(cmd string, args ...interface{}) [][]byte {
	out := make([][]byte, 0, len(args)+1)
	out = append(out, []byte(cmd))
	for _, arg := range args {
		out = append(out, appendArg(arg))
	}
	return out
}

func appendArg(arg interface{}) []byte {
	switch v := arg.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	case int:
		return strconv.AppendInt(nil, int64(v), 10)
	case int64:
		return strconv.AppendInt(nil, v, 10)
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64)
	case bool:
		if v {
			return []byte("1")
		}
		return []byte("0")
	case nil:
		return []byte("")
	default:
		return []byte(fmt.Sprint(v))
	}
}
