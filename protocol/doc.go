// Package protocol implements the Redis Serialization Protocol (RESP)
// for encoding client requests and decoding server replies.
//
// The Reader is a streaming parser: each ReadNext call consumes exactly
// one complete reply from the underlying stream and returns it as a
// Value. Decoded replies are never retained by the Reader, so reading N
// replies costs O(1) memory beyond the largest single reply.
//
// Basic usage:
//
//	w := protocol.NewWriter(conn)
//	w.WriteCommand([]byte("GET"), []byte("key"))
//	w.Flush()
//
//	r := protocol.NewReader(conn)
//	value, err := r.ReadNext()
//
// The package supports all RESP2 data types:
//   - Simple Strings
//   - Errors
//   - Integers
//   - Bulk Strings (including null)
//   - Arrays (including null, arbitrarily nested)
package protocol
