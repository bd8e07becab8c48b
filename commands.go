package rediswire

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Typed wrappers for the commands the client's collaborators use. They
// all go through Do and therefore drain any replies still pending from
// explicit Send calls.

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}
	if reply.String() != "PONG" {
		return fmt.Errorf("unexpected PING reply: %s", reply)
	}
	return nil
}

// Echo round-trips a payload
func (c *Client) Echo(ctx context.Context, payload string) (string, error) {
	return String(c.Do(ctx, "ECHO", payload))
}

// Set stores a string value
func (c *Client) Set(ctx context.Context, key, value string) error {
	reply, err := c.Do(ctx, "SET", key, value)
	if err != nil {
		return err
	}
	if reply.String() != "OK" {
		return fmt.Errorf("unexpected SET reply: %s", reply)
	}
	return nil
}

// Get fetches a string value. The second return value reports whether
// the key existed.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	s, err := String(c.Do(ctx, "GET", key))
	if errors.Is(err, ErrNil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

// Del removes keys and returns how many existed
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return Int(c.Do(ctx, "DEL", args...))
}

// Exists reports how many of the given keys exist
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return Int(c.Do(ctx, "EXISTS", args...))
}

// Incr increments a counter key and returns the new value
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return Int(c.Do(ctx, "INCR", key))
}

// HSet sets hash fields and returns the number of new fields
func (c *Client) HSet(ctx context.Context, key string, fields map[string]string) (int64, error) {
	args := make([]interface{}, 0, len(fields)*2+1)
	args = append(args, key)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return Int(c.Do(ctx, "HSET", args...))
}

// HGetAll fetches all fields of a hash
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return StringMap(c.Do(ctx, "HGETALL", key))
}

// LPush prepends values to a list and returns the new length
func (c *Client) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]interface{}, 0, len(values)+1)
	args = append(args, key)
	for _, v := range values {
		args = append(args, v)
	}
	return Int(c.Do(ctx, "LPUSH", args...))
}

// RPush appends values to a list and returns the new length
func (c *Client) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]interface{}, 0, len(values)+1)
	args = append(args, key)
	for _, v := range values {
		args = append(args, v)
	}
	return Int(c.Do(ctx, "RPUSH", args...))
}

// LRange fetches a list slice
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return Strings(c.Do(ctx, "LRANGE", key, start, stop))
}

// BLPop pops the head of the first non-empty list, blocking server-side
// for up to timeout. It returns ok=false when the timeout elapsed with
// nothing to pop; the call resolves at the timeout boundary, never
// later. The socket read deadline is extended by the timeout so the
// server-side wait cannot trip it.
func (c *Client) BLPop(ctx context.Context, timeout time.Duration, keys ...string) (key, value string, ok bool, err error) {
	return c.blockingPop(ctx, "BLPOP", timeout, keys)
}

// BRPop is BLPop for the list tail
func (c *Client) BRPop(ctx context.Context, timeout time.Duration, keys ...string) (key, value string, ok bool, err error) {
	return c.blockingPop(ctx, "BRPOP", timeout, keys)
}

func (c *Client) blockingPop(ctx context.Context, cmd string, timeout time.Duration, keys []string) (string, string, bool, error) {
	args := make([]interface{}, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, formatSeconds(timeout))

	// A zero timeout blocks server-side indefinitely, so the read
	// deadline cannot apply; cancellation still comes from ctx.
	extra := timeout
	if timeout <= 0 {
		extra = noDeadline
	}

	c.mu.Lock()
	reply, err := c.do(ctx, extra, cmd, args...)
	c.mu.Unlock()
	if err != nil {
		return "", "", false, err
	}
	if reply.IsNull {
		return "", "", false, nil
	}
	pair, err := Strings(reply, nil)
	if err != nil {
		return "", "", false, err
	}
	if len(pair) != 2 {
		return "", "", false, fmt.Errorf("unexpected %s reply length %d", cmd, len(pair))
	}
	return pair[0], pair[1], true, nil
}

// Publish posts a message to a channel and returns the number of
// subscribers that received it
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return Int(c.Do(ctx, "PUBLISH", channel, payload))
}

// Select switches the connection's database. The selected index is
// connection-scoped state and resets on reconnect.
func (c *Client) Select(ctx context.Context, db int) error {
	if db < 0 {
		return ErrInvalidConfig
	}
	reply, err := c.Do(ctx, "SELECT", db)
	if err != nil {
		return err
	}
	if reply.String() != "OK" {
		return fmt.Errorf("unexpected SELECT reply: %s", reply)
	}
	c.mu.Lock()
	c.database = db
	c.mu.Unlock()
	return nil
}

// FlushDB clears the selected database
func (c *Client) FlushDB(ctx context.Context) error {
	reply, err := c.Do(ctx, "FLUSHDB")
	if err != nil {
		return err
	}
	if reply.String() != "OK" {
		return fmt.Errorf("unexpected FLUSHDB reply: %s", reply)
	}
	return nil
}

// FlushAll clears every database
func (c *Client) FlushAll(ctx context.Context) error {
	reply, err := c.Do(ctx, "FLUSHALL")
	if err != nil {
		return err
	}
	if reply.String() != "OK" {
		return fmt.Errorf("unexpected FLUSHALL reply: %s", reply)
	}
	return nil
}

// ConfigSet adjusts a server configuration parameter
func (c *Client) ConfigSet(ctx context.Context, parameter, value string) error {
	reply, err := c.Do(ctx, "CONFIG", "SET", parameter, value)
	if err != nil {
		return err
	}
	if reply.String() != "OK" {
		return fmt.Errorf("unexpected CONFIG SET reply: %s", reply)
	}
	return nil
}

// ConfigGet reads server configuration parameters matching the pattern
func (c *Client) ConfigGet(ctx context.Context, parameter string) (map[string]string, error) {
	return StringMap(c.Do(ctx, "CONFIG", "GET", parameter))
}

// formatSeconds renders a duration as Redis timeout seconds. Redis
// accepts fractional seconds; zero means block forever.
func formatSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
