package rediswire

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rediswire/rediswire/protocol"
)

// slotCount is the fixed size of the Redis cluster hash slot space
const slotCount = 16384

// Cluster routes commands to a fixed set of nodes. It performs no
// topology discovery: the caller supplies the node addresses and the
// slot assignment, and redirection replies (MOVED/ASK) surface as
// *CommandError rather than being chased. Per-call node targeting and
// whole-cluster fan-out cover the administrative operations that need
// to reach specific nodes.
type Cluster struct {
	mu    sync.RWMutex
	nodes map[string]*Client
	slots []string // slot index -> node address
}

// DialCluster connects one client per node address. The options apply
// to every node connection; WithAddr is overridden per node.
func DialCluster(ctx context.Context, addrs []string, opts ...Option) (*Cluster, error) {
	if len(addrs) == 0 {
		return nil, ErrInvalidConfig
	}

	cl := &Cluster{
		nodes: make(map[string]*Client, len(addrs)),
		slots: make([]string, slotCount),
	}
	for _, addr := range addrs {
		nodeOpts := append(append([]Option(nil), opts...), WithAddr(addr))
		client, err := Dial(ctx, nodeOpts...)
		if err != nil {
			cl.Close()
			return nil, err
		}
		cl.nodes[addr] = client
	}

	// A single node owns the whole slot space until told otherwise.
	if len(addrs) == 1 {
		for i := range cl.slots {
			cl.slots[i] = addrs[0]
		}
	}
	return cl, nil
}

// AssignSlots maps the inclusive slot range [from, to] to a node
func (cl *Cluster) AssignSlots(addr string, from, to int) error {
	if from < 0 || to >= slotCount || from > to {
		return fmt.Errorf("invalid slot range %d-%d", from, to)
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if _, ok := cl.nodes[addr]; !ok {
		return fmt.Errorf("unknown node %s", addr)
	}
	for i := from; i <= to; i++ {
		cl.slots[i] = addr
	}
	return nil
}

// Node returns the client for an explicitly targeted node
func (cl *Cluster) Node(addr string) (*Client, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	client, ok := cl.nodes[addr]
	if !ok {
		return nil, fmt.Errorf("unknown node %s", addr)
	}
	return client, nil
}

// Do routes the command to the node owning the key's hash slot
func (cl *Cluster) Do(ctx context.Context, key, cmd string, args ...interface{}) (protocol.Value, error) {
	cl.mu.RLock()
	addr := cl.slots[Slot(key)]
	client := cl.nodes[addr]
	cl.mu.RUnlock()

	if client == nil {
		return protocol.Value{}, fmt.Errorf("no node assigned to slot %d for key %q", Slot(key), key)
	}
	return client.Do(ctx, cmd, args...)
}

// ForEachNode runs fn once per node, stopping at the first error. Used
// for administrative commands that must reach every master, e.g.
// FLUSHALL or CONFIG SET.
func (cl *Cluster) ForEachNode(ctx context.Context, fn func(addr string, c *Client) error) error {
	cl.mu.RLock()
	nodes := make(map[string]*Client, len(cl.nodes))
	for addr, client := range cl.nodes {
		nodes[addr] = client
	}
	cl.mu.RUnlock()

	for addr, client := range nodes {
		if err := fn(addr, client); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every node connection
func (cl *Cluster) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var firstErr error
	for _, client := range cl.nodes {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Slot returns the cluster hash slot for a key, honoring hash tags: for
// "{user}.follows" only "user" is hashed, so related keys can be forced
// onto one node.
func Slot(key string) int {
	if open := strings.IndexByte(key, '{'); open >= 0 {
		if end := strings.IndexByte(key[open+1:], '}'); end > 0 {
			key = key[open+1 : open+1+end]
		}
	}
	return int(crc16([]byte(key))) % slotCount
}

// crc16 implements CRC-16/XMODEM (polynomial 0x1021), the checksum
// Redis cluster uses for key hashing
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
