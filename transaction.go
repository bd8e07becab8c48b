package rediswire

import (
	"context"
	"errors"
	"fmt"

	"github.com/rediswire/rediswire/protocol"
)

// Cell is a placeholder for the reply to one command queued inside a
// transaction. Cells are handed out while the transaction is being
// built and resolve only after EXEC returns; reading one earlier
// reports ErrTxUnresolved. If the transaction aborts, cells stay
// unresolved, so an abort can never be mistaken for a null result.
type Cell struct {
	resolved bool
	value    protocol.Value
	err      error
}

// Value returns the resolved reply for this cell's command. A server
// error reply for the command resolves to a *CommandError.
func (c *Cell) Value() (protocol.Value, error) {
	if !c.resolved {
		return protocol.Value{}, ErrTxUnresolved
	}
	return c.value, c.err
}

// String resolves the cell as a string
func (c *Cell) String() (string, error) {
	return String(c.Value())
}

// Int resolves the cell as an integer
func (c *Cell) Int() (int64, error) {
	return Int(c.Value())
}

// Tx collects the commands of one MULTI/EXEC transaction. It is only
// valid inside the builder passed to RunTransaction.
type Tx struct {
	commands [][][]byte
	cells    []*Cell
}

// Do queues a command in the transaction and returns its future cell.
// Nothing is sent until the builder returns; the cell resolves after
// EXEC.
func (tx *Tx) Do(cmd string, args ...interface{}) *Cell {
	cell := &Cell{}
	tx.commands = append(tx.commands, buildArgs(cmd, args...))
	tx.cells = append(tx.cells, cell)
	return cell
}

// Watch marks keys for optimistic locking: if any of them changes
// before the next EXEC on this connection, the transaction aborts. The
// watched set lives on the server; it does not survive a reconnect.
func (c *Client) Watch(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return errors.New("watch requires at least one key")
	}
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	reply, err := c.Do(ctx, "WATCH", args...)
	if err != nil {
		return err
	}
	if reply.String() != "OK" {
		return fmt.Errorf("unexpected WATCH reply: %s", reply)
	}
	return nil
}

// Unwatch clears all watched keys on this connection
func (c *Client) Unwatch(ctx context.Context) error {
	reply, err := c.Do(ctx, "UNWATCH")
	if err != nil {
		return err
	}
	if reply.String() != "OK" {
		return fmt.Errorf("unexpected UNWATCH reply: %s", reply)
	}
	return nil
}

// RunTransaction builds and executes one MULTI/EXEC transaction. The
// builder queues commands through Tx.Do and keeps the returned cells;
// after RunTransaction returns nil, every cell is resolved with the
// reply at its position in the EXEC result.
//
// The whole batch - MULTI, the queued commands, EXEC - is written as a
// single pipelined unit. Outcomes:
//
//   - nil: EXEC returned an array; cells are resolved positionally.
//   - ErrTxAborted: EXEC returned a null array because a watched key
//     changed. No cell resolves.
//   - *TxError: a command was rejected while queuing, or EXEC itself
//     failed. No cell resolves.
//
// A Tx is spent after one run; call RunTransaction again with a new
// builder for a new attempt.
func (c *Client) RunTransaction(ctx context.Context, build func(tx *Tx) error) error {
	tx := &Tx{}
	if err := build(tx); err != nil {
		return err
	}
	if len(tx.commands) == 0 {
		return errors.New("transaction queued no commands")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send("MULTI"); err != nil {
		return err
	}
	for _, args := range tx.commands {
		if err := c.sendRaw(args); err != nil {
			return err
		}
	}
	if err := c.send("EXEC"); err != nil {
		return err
	}
	if err := c.flush(); err != nil {
		return err
	}

	// MULTI reply
	reply, err := c.receive(ctx, 0)
	if err != nil {
		if isCommandError(err) {
			err = &TxError{Message: reply.ErrorText()}
		}
		c.drainTxReplies(ctx, len(tx.commands)+1)
		return err
	}

	// One QUEUED reply per command. A rejected command surfaces here
	// and EXEC will answer EXECABORT; keep reading so the connection
	// stays in sync.
	var queueErr *TxError
	for i := 0; i < len(tx.commands); i++ {
		reply, err := c.receive(ctx, 0)
		if err != nil {
			if !isCommandError(err) {
				c.drainTxReplies(ctx, len(tx.commands)-i)
				return err
			}
			if queueErr == nil {
				queueErr = &TxError{Message: reply.ErrorText()}
			}
		}
	}

	// EXEC reply
	execReply, err := c.receive(ctx, 0)
	if err != nil {
		if !isCommandError(err) {
			return err
		}
		if queueErr != nil {
			return queueErr
		}
		return &TxError{Message: execReply.ErrorText()}
	}
	if queueErr != nil {
		return queueErr
	}

	if execReply.Type != protocol.TypeArray {
		return &TxError{Message: fmt.Sprintf("unexpected EXEC reply type %c", execReply.Type)}
	}
	if execReply.IsNull {
		return ErrTxAborted
	}
	if len(execReply.Array) != len(tx.cells) {
		return &TxError{Message: fmt.Sprintf("EXEC returned %d replies for %d commands", len(execReply.Array), len(tx.cells))}
	}

	for i, cell := range tx.cells {
		element := execReply.Array[i]
		cell.resolved = true
		cell.value = element
		if element.IsError() {
			cell.err = &CommandError{Message: element.ErrorText()}
		}
	}
	return nil
}

// sendRaw queues pre-built wire arguments. Caller holds mu.
func (c *Client) sendRaw(args [][]byte) error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := c.writer.WriteCommand(args...); err != nil {
		return c.poison(err)
	}
	c.pending++
	c.stats.recordSent()
	c.stats.recordDepth(c.pending)
	return nil
}

// drainTxReplies consumes up to n leftover replies after a transaction
// error so the connection stays usable. Caller holds mu.
func (c *Client) drainTxReplies(ctx context.Context, n int) {
	for i := 0; i < n && c.pending > 0; i++ {
		if _, err := c.receive(ctx, 0); err != nil && !isCommandError(err) {
			return
		}
	}
}

func isCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}
