// Package rediswire is a pipelined Redis client built around one
// connection per client.
//
// Commands queue with Send and resolve with Receive in request order;
// the pending state is a counter, so arbitrarily deep pipelines use
// constant client memory. Do combines send, flush and receive for the
// single-command case.
//
// Basic usage:
//
//	c, err := rediswire.Dial(ctx,
//		rediswire.WithAddr("localhost:6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	reply, err := c.Do(ctx, "SET", "greeting", "hello")
//
// Pipelining:
//
//	for i := 0; i < 100000; i++ {
//		c.Send("SET", fmt.Sprintf("key:%d", i), "value")
//	}
//	replies, err := c.Drain(ctx)
//
// The library supports:
//
//   - Constant-memory command pipelining with in-order replies
//   - Optimistic WATCH/MULTI/EXEC transactions with abort detection
//   - Publish/subscribe sessions driven by an action-returning handler
//   - Server-side Lua scripts with locally validated sources
//   - Stream consumer groups: read, acknowledge, claim, reclaim
//   - Fixed-slot-map cluster routing with per-call node targeting
//
// Each client owns its connection exclusively; run concurrent
// operations on independent clients. A pub/sub session occupies its
// client for the whole loop, so command traffic during a subscription
// needs a second client.
package rediswire
