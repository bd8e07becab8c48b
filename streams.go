package rediswire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rediswire/rediswire/protocol"
)

// StreamEntry is one entry of a stream: an ID plus its field-value
// pairs
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// StreamMessages groups the entries read from one stream by XReadGroup
type StreamMessages struct {
	Stream  string
	Entries []StreamEntry
}

// PendingSummary is the short form XPENDING reply: the group's
// unacknowledged entries per consumer and the covered ID range
type PendingSummary struct {
	Count     int64
	MinID     string
	MaxID     string
	Consumers map[string]int64
}

// XReadGroupArgs parameterizes one XReadGroup call. Streams and IDs are
// parallel; use ">" as the ID to read entries never delivered to the
// group. A blank Consumer gets a generated name, returned via the
// Consumer field after the call.
type XReadGroupArgs struct {
	Group    string
	Consumer string
	Streams  []string
	IDs      []string
	Count    int64
	Block    time.Duration
	NoAck    bool
}

// XAdd appends an entry to a stream and returns the assigned ID. Pass
// "*" as id for server-assigned IDs.
func (c *Client) XAdd(ctx context.Context, stream, id string, fields map[string]string) (string, error) {
	args := make([]interface{}, 0, len(fields)*2+2)
	args = append(args, stream, id)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return String(c.Do(ctx, "XADD", args...))
}

// XGroupCreate creates a consumer group reading from start ("0" for the
// whole stream, "$" for new entries only). The stream is created when
// missing, and an already existing group is not an error.
func (c *Client) XGroupCreate(ctx context.Context, stream, group, start string) error {
	reply, err := c.Do(ctx, "XGROUP", "CREATE", stream, group, start, "MKSTREAM")
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code() == "BUSYGROUP" {
			return nil
		}
		return err
	}
	if reply.String() != "OK" {
		return fmt.Errorf("unexpected XGROUP CREATE reply: %s", reply)
	}
	return nil
}

// XReadGroup reads entries on behalf of a consumer group. It returns
// nil without error when the call timed out or nothing matched.
func (c *Client) XReadGroup(ctx context.Context, a *XReadGroupArgs) ([]StreamMessages, error) {
	if len(a.Streams) == 0 || len(a.Streams) != len(a.IDs) {
		return nil, fmt.Errorf("streams and ids must be non-empty and parallel")
	}
	if a.Consumer == "" {
		a.Consumer = "consumer-" + uuid.NewString()
	}

	args := []interface{}{"GROUP", a.Group, a.Consumer}
	if a.Count > 0 {
		args = append(args, "COUNT", a.Count)
	}
	var extra time.Duration
	if a.Block > 0 {
		args = append(args, "BLOCK", a.Block.Milliseconds())
		extra = a.Block
	}
	if a.NoAck {
		args = append(args, "NOACK")
	}
	args = append(args, "STREAMS")
	for _, s := range a.Streams {
		args = append(args, s)
	}
	for _, id := range a.IDs {
		args = append(args, id)
	}

	c.mu.Lock()
	reply, err := c.do(ctx, extra, "XREADGROUP", args...)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if reply.IsNull {
		return nil, nil
	}

	items, err := Values(reply, nil)
	if err != nil {
		return nil, err
	}
	out := make([]StreamMessages, 0, len(items))
	for _, item := range items {
		if item.Type != protocol.TypeArray || len(item.Array) != 2 {
			return nil, fmt.Errorf("unexpected XREADGROUP stream element: %s", item)
		}
		entries, err := parseStreamEntries(item.Array[1])
		if err != nil {
			return nil, err
		}
		out = append(out, StreamMessages{
			Stream:  string(item.Array[0].Data),
			Entries: entries,
		})
	}
	return out, nil
}

// XAck acknowledges entries for a group and returns how many were
// actually pending
func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, stream, group)
	for _, id := range ids {
		args = append(args, id)
	}
	return Int(c.Do(ctx, "XACK", args...))
}

// XClaim transfers ownership of pending entries idle for at least
// minIdle to the given consumer and returns the claimed entries
func (c *Client) XClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamEntry, error) {
	args := make([]interface{}, 0, len(ids)+4)
	args = append(args, stream, group, consumer, minIdle.Milliseconds())
	for _, id := range ids {
		args = append(args, id)
	}
	reply, err := c.Do(ctx, "XCLAIM", args...)
	if err != nil {
		return nil, err
	}
	return parseStreamEntries(reply)
}

// XAutoClaim scans pending entries idle for at least minIdle from the
// given cursor, claims up to count of them for the consumer, and
// returns the claimed entries plus the cursor for the next call ("0-0"
// when the scan wrapped).
func (c *Client) XAutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) (next string, entries []StreamEntry, err error) {
	args := []interface{}{stream, group, consumer, minIdle.Milliseconds(), start}
	if count > 0 {
		args = append(args, "COUNT", count)
	}
	reply, err := c.Do(ctx, "XAUTOCLAIM", args...)
	if err != nil {
		return "", nil, err
	}
	// Two elements before Redis 7, three after (the third lists IDs
	// deleted from the stream).
	if reply.Type != protocol.TypeArray || len(reply.Array) < 2 {
		return "", nil, fmt.Errorf("unexpected XAUTOCLAIM reply: %s", reply)
	}
	entries, err = parseStreamEntries(reply.Array[1])
	if err != nil {
		return "", nil, err
	}
	return string(reply.Array[0].Data), entries, nil
}

// XPending fetches the group's pending-entry summary
func (c *Client) XPending(ctx context.Context, stream, group string) (*PendingSummary, error) {
	reply, err := c.Do(ctx, "XPENDING", stream, group)
	if err != nil {
		return nil, err
	}
	if reply.Type != protocol.TypeArray || len(reply.Array) != 4 {
		return nil, fmt.Errorf("unexpected XPENDING reply: %s", reply)
	}

	summary := &PendingSummary{
		Count:     reply.Array[0].Int(),
		MinID:     string(reply.Array[1].Data),
		MaxID:     string(reply.Array[2].Data),
		Consumers: make(map[string]int64),
	}
	if reply.Array[3].IsNull {
		return summary, nil
	}
	for _, item := range reply.Array[3].Array {
		if item.Type != protocol.TypeArray || len(item.Array) != 2 {
			return nil, fmt.Errorf("unexpected XPENDING consumer element: %s", item)
		}
		n, err := parseCount(item.Array[1])
		if err != nil {
			return nil, err
		}
		summary.Consumers[string(item.Array[0].Data)] = n
	}
	return summary, nil
}

// parseStreamEntries parses an array of [id, [field, value, ...]] pairs
func parseStreamEntries(v protocol.Value) ([]StreamEntry, error) {
	if v.Type != protocol.TypeArray {
		return nil, fmt.Errorf("unexpected stream entries reply: %s", v)
	}
	if v.IsNull {
		return nil, nil
	}

	entries := make([]StreamEntry, 0, len(v.Array))
	for _, item := range v.Array {
		if item.Type != protocol.TypeArray || len(item.Array) != 2 {
			return nil, fmt.Errorf("unexpected stream entry: %s", item)
		}
		fields, err := StringMap(item.Array[1], nil)
		if err != nil && !errors.Is(err, ErrNil) {
			return nil, err
		}
		entries = append(entries, StreamEntry{
			ID:     string(item.Array[0].Data),
			Fields: fields,
		})
	}
	return entries, nil
}

// parseCount reads a number that servers report either as an integer
// or as a bulk string
func parseCount(v protocol.Value) (int64, error) {
	if v.Type == protocol.TypeInteger {
		return v.Integer, nil
	}
	var n int64
	if _, err := fmt.Sscanf(string(v.Data), "%d", &n); err != nil {
		return 0, fmt.Errorf("unexpected count value: %s", v)
	}
	return n, nil
}
