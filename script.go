package rediswire

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"strings"

	luaparse "github.com/yuin/gopher-lua/parse"

	"github.com/rediswire/rediswire/protocol"
)

// Script is a handle for a server-side Lua script. The source is
// syntax-checked locally at construction so an invalid script fails
// fast instead of on first Eval, and the SHA1 digest is precomputed for
// EVALSHA.
type Script struct {
	src string
	sha string
}

// NewScript builds a script handle, rejecting source the server's Lua
// interpreter would reject
func NewScript(src string) (*Script, error) {
	if _, err := luaparse.Parse(strings.NewReader(src), "script"); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &Script{
		src: src,
		sha: fmt.Sprintf("%x", sha1.Sum([]byte(src))),
	}, nil
}

// Sha returns the script's SHA1 digest
func (s *Script) Sha() string {
	return s.sha
}

// Load registers the script in the server's script cache
func (s *Script) Load(ctx context.Context, c *Client) error {
	sha, err := String(c.Do(ctx, "SCRIPT", "LOAD", s.src))
	if err != nil {
		return err
	}
	if sha != s.sha {
		return fmt.Errorf("server computed sha %s, expected %s", sha, s.sha)
	}
	return nil
}

// Eval runs the script with EVALSHA, transparently falling back to EVAL
// when the server does not have it cached yet.
//
// A script that blocks the server for longer than the configured
// script time limit is cancelled with Kill from a second, independent
// client; this client's pending read then resolves with a
// *CommandError.
func (s *Script) Eval(ctx context.Context, c *Client, keys []string, args []string) (protocol.Value, error) {
	cmdArgs := make([]interface{}, 0, len(keys)+len(args)+2)
	cmdArgs = append(cmdArgs, s.sha, len(keys))
	for _, k := range keys {
		cmdArgs = append(cmdArgs, k)
	}
	for _, a := range args {
		cmdArgs = append(cmdArgs, a)
	}

	reply, err := c.Do(ctx, "EVALSHA", cmdArgs...)
	if isNoScript(err) {
		cmdArgs[0] = s.src
		reply, err = c.Do(ctx, "EVAL", cmdArgs...)
	}
	return reply, err
}

// ScriptExists reports, per digest, whether the server has the script
// cached
func (c *Client) ScriptExists(ctx context.Context, shas ...string) ([]bool, error) {
	args := make([]interface{}, 0, len(shas)+1)
	args = append(args, "EXISTS")
	for _, sha := range shas {
		args = append(args, sha)
	}
	items, err := Values(c.Do(ctx, "SCRIPT", args...))
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(items))
	for i, item := range items {
		out[i] = item.Int() == 1
	}
	return out, nil
}

// ScriptKill stops the script currently running on the server. It is a
// server-side side channel: issue it on a client whose connection is
// not the one blocked by the script.
func (c *Client) ScriptKill(ctx context.Context) error {
	reply, err := c.Do(ctx, "SCRIPT", "KILL")
	if err != nil {
		return err
	}
	if reply.String() != "OK" {
		return fmt.Errorf("unexpected SCRIPT KILL reply: %s", reply)
	}
	return nil
}

func isNoScript(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return cmdErr.Code() == "NOSCRIPT"
}
