package rediswire

import (
	"context"
	"fmt"

	"github.com/rediswire/rediswire/protocol"
)

// Message is one published message delivered to a subscription handler.
// Pattern is empty for messages matched by a direct channel
// subscription and holds the matching pattern for pmessage deliveries.
type Message struct {
	Channel string
	Pattern string
	Payload []byte
}

// Subscription reports one (un)subscription confirmation frame
type Subscription struct {
	// Kind is "subscribe", "unsubscribe", "psubscribe" or "punsubscribe"
	Kind string
	// Channel is the channel or pattern the confirmation is for
	Channel string
	// Count is the server-reported number of remaining subscriptions
	Count int64
}

type subOp struct {
	command string
	names   []string
}

// Action is a composable sequence of subscription requests. The zero
// value is the empty action. Actions are built with the package-level
// Subscribe/PSubscribe constructors and extended with the chaining
// methods; a handler returns one to direct the session after each
// message.
type Action struct {
	ops []subOp
}

// Subscribe starts an action that subscribes to channels
func Subscribe(channels ...string) Action {
	return Action{}.Subscribe(channels...)
}

// PSubscribe starts an action that subscribes to patterns
func PSubscribe(patterns ...string) Action {
	return Action{}.PSubscribe(patterns...)
}

// Unsubscribe starts an action that unsubscribes from channels
func Unsubscribe(channels ...string) Action {
	return Action{}.Unsubscribe(channels...)
}

// PUnsubscribe starts an action that unsubscribes from patterns
func PUnsubscribe(patterns ...string) Action {
	return Action{}.PUnsubscribe(patterns...)
}

// Subscribe appends a channel subscription request
func (a Action) Subscribe(channels ...string) Action {
	return a.append("SUBSCRIBE", channels)
}

// PSubscribe appends a pattern subscription request
func (a Action) PSubscribe(patterns ...string) Action {
	return a.append("PSUBSCRIBE", patterns)
}

// Unsubscribe appends a channel unsubscription request
func (a Action) Unsubscribe(channels ...string) Action {
	return a.append("UNSUBSCRIBE", channels)
}

// PUnsubscribe appends a pattern unsubscription request
func (a Action) PUnsubscribe(patterns ...string) Action {
	return a.append("PUNSUBSCRIBE", patterns)
}

func (a Action) append(command string, names []string) Action {
	if len(names) == 0 {
		return a
	}
	ops := make([]subOp, 0, len(a.ops)+1)
	ops = append(ops, a.ops...)
	ops = append(ops, subOp{command: command, names: names})
	return Action{ops: ops}
}

// empty reports whether the action carries no requests
func (a Action) empty() bool {
	return len(a.ops) == 0
}

// pubsubSession tracks the live subscription state of one SubscribeLoop
type pubsubSession struct {
	channels map[string]struct{}
	patterns map[string]struct{}

	// outstanding counts sent subscription management requests whose
	// confirmations have not arrived yet
	outstanding int
	active      bool
}

func (s *pubsubSession) applyConfirmation(sub Subscription) {
	s.outstanding--
	switch sub.Kind {
	case "subscribe":
		s.channels[sub.Channel] = struct{}{}
		s.active = true
	case "psubscribe":
		s.patterns[sub.Channel] = struct{}{}
		s.active = true
	case "unsubscribe":
		delete(s.channels, sub.Channel)
	case "punsubscribe":
		delete(s.patterns, sub.Channel)
	}
}

// done reports whether the session has nothing left to wait for: no
// subscribed channel or pattern and no unconfirmed request
func (s *pubsubSession) done() bool {
	return s.outstanding == 0 && len(s.channels) == 0 && len(s.patterns) == 0
}

// SubscribeLoop runs a publish/subscribe session on this client's
// connection. The connection is dedicated to the session for its whole
// duration: issuing ordinary commands on it concurrently is undefined,
// so command traffic needed while the loop runs must use a second
// client.
//
// The initial action is sent first. An empty initial action returns
// immediately. For every delivered message the handler is called and
// the action it returns is sent before the next receive; a nil handler
// drops messages. The session tracks the set of subscribed channels and
// patterns from confirmation frames and returns nil the instant that
// set becomes empty with no request in flight.
//
// Cancelling the context closes the connection and returns ctx.Err().
func (c *Client) SubscribeLoop(ctx context.Context, initial Action, handler func(Message) Action) error {
	session := &pubsubSession{
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sendAction(session, initial); err != nil {
		return err
	}
	if session.outstanding == 0 {
		// Nothing was requested: there is nothing to wait for.
		return nil
	}

	c.logger.Debug("pubsub session started", Field{Key: "addr", Value: c.cfg.addr})

	for {
		frame, err := c.readReply(ctx, noDeadline)
		if err != nil {
			return err
		}

		msg, sub, err := parsePubSubFrame(frame)
		if err != nil {
			return c.poison(err)
		}

		if sub != nil {
			session.applyConfirmation(*sub)
			if session.done() {
				c.logger.Debug("pubsub session drained", Field{Key: "addr", Value: c.cfg.addr})
				return nil
			}
			continue
		}

		if handler == nil {
			continue
		}
		next := handler(*msg)
		if err := c.sendAction(session, next); err != nil {
			return err
		}
	}
}

// sendAction writes and flushes every request in the action, counting
// one expected confirmation per named channel or pattern. Caller holds mu.
func (c *Client) sendAction(session *pubsubSession, action Action) error {
	if action.empty() {
		return nil
	}
	for _, op := range action.ops {
		args := make([][]byte, 0, len(op.names)+1)
		args = append(args, []byte(op.command))
		for _, name := range op.names {
			args = append(args, []byte(name))
		}
		if err := c.usable(); err != nil {
			return err
		}
		if err := c.writer.WriteCommand(args...); err != nil {
			return c.poison(err)
		}
		session.outstanding += len(op.names)
	}
	return c.flush()
}

// parsePubSubFrame splits an inbound frame into either a data message
// or a subscription confirmation
func parsePubSubFrame(frame protocol.Value) (*Message, *Subscription, error) {
	if frame.Type != protocol.TypeArray || frame.IsNull || len(frame.Array) < 3 {
		return nil, nil, fmt.Errorf("%w: unexpected pubsub frame: %s", protocol.ErrMalformed, frame)
	}

	kind := string(frame.Array[0].Data)
	switch kind {
	case "subscribe", "unsubscribe", "psubscribe", "punsubscribe":
		return nil, &Subscription{
			Kind:    kind,
			Channel: string(frame.Array[1].Data),
			Count:   frame.Array[2].Int(),
		}, nil

	case "message":
		return &Message{
			Channel: string(frame.Array[1].Data),
			Payload: frame.Array[2].Data,
		}, nil, nil

	case "pmessage":
		if len(frame.Array) < 4 {
			return nil, nil, fmt.Errorf("%w: short pmessage frame", protocol.ErrMalformed)
		}
		return &Message{
			Pattern: string(frame.Array[1].Data),
			Channel: string(frame.Array[2].Data),
			Payload: frame.Array[3].Data,
		}, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown pubsub frame kind %q", protocol.ErrMalformed, kind)
	}
}
