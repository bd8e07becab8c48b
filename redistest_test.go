package rediswire_test

import (
	"crypto/sha1"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rediswire/rediswire/protocol"
)

// testServer is a miniature in-process Redis speaking just enough RESP
// to exercise the client: strings, lists, hashes, transactions with
// WATCH semantics, pub/sub fan-out, blocking pops, and a killable
// blocking script. Commands it does not model can be scripted per test
// with Handle.
type testServer struct {
	t        testing.TB
	ln       net.Listener
	password string
	handlers map[string]serverHandler

	mu       sync.Mutex
	data     map[string]string
	lists    map[string][]string
	hashes   map[string]map[string]string
	config   map[string]string
	scripts  map[string]string
	versions map[string]int64
	conns    map[*serverConn]struct{}

	killCh     chan struct{}
	killOnce   sync.Once
	done       chan struct{}
	listClosed bool
	wg         sync.WaitGroup
}

// serverHandler scripts the reply for one command. args excludes the
// command name.
type serverHandler func(c *serverConn, args []string)

func newTestServer(t testing.TB) *testServer {
	return newTestServerWithPassword(t, "")
}

func newTestServerWithPassword(t testing.TB, password string) *testServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &testServer{
		t:        t,
		ln:       ln,
		password: password,
		handlers: make(map[string]serverHandler),
		data:     make(map[string]string),
		lists:    make(map[string][]string),
		hashes:   make(map[string]map[string]string),
		config:   make(map[string]string),
		scripts:  make(map[string]string),
		versions: make(map[string]int64),
		conns:    make(map[*serverConn]struct{}),
		killCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) Addr() string {
	return s.ln.Addr().String()
}

// Handle scripts the reply for a command, overriding the built-in
// behavior. Must be called before the client sends the command.
func (s *testServer) Handle(cmd string, h serverHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToUpper(cmd)] = h
}

func (s *testServer) Close() {
	s.mu.Lock()
	if s.listClosed {
		s.mu.Unlock()
		return
	}
	s.listClosed = true
	close(s.done)
	for c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()

	s.ln.Close()
	s.wg.Wait()
}

func (s *testServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		c := &serverConn{
			srv:      s,
			conn:     conn,
			reader:   protocol.NewReader(conn),
			writer:   protocol.NewWriter(conn),
			watches:  make(map[string]int64),
			channels: make(map[string]struct{}),
			patterns: make(map[string]struct{}),
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
		}()
	}
}

type serverConn struct {
	srv    *testServer
	conn   net.Conn
	reader *protocol.Reader

	wmu    sync.Mutex
	writer *protocol.Writer

	inTx     bool
	txFailed bool
	queued   [][]string
	watches  map[string]int64
	channels map[string]struct{}
	patterns map[string]struct{}
}

func (c *serverConn) serve() {
	defer func() {
		c.srv.mu.Lock()
		delete(c.srv.conns, c)
		c.srv.mu.Unlock()
		c.conn.Close()
	}()

	for {
		frame, err := c.reader.ReadNext()
		if err != nil {
			return
		}
		if frame.Type != protocol.TypeArray || len(frame.Array) == 0 {
			c.reply(protocol.Err("ERR invalid request"))
			continue
		}
		args := make([]string, len(frame.Array))
		for i, v := range frame.Array {
			args[i] = string(v.Data)
		}
		c.dispatch(strings.ToUpper(args[0]), args[1:])
	}
}

// reply writes one frame, safe against concurrent pub/sub deliveries
func (c *serverConn) reply(v protocol.Value) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.writer.WriteValue(v); err != nil {
		return
	}
	c.writer.Flush()
}

func (c *serverConn) dispatch(name string, args []string) {
	c.srv.mu.Lock()
	handler := c.srv.handlers[name]
	c.srv.mu.Unlock()
	if handler != nil {
		handler(c, args)
		return
	}

	switch name {
	case "MULTI":
		c.inTx = true
		c.txFailed = false
		c.queued = nil
		c.reply(protocol.SimpleString("OK"))
	case "EXEC":
		c.execTransaction()
	case "DISCARD":
		c.inTx = false
		c.queued = nil
		c.reply(protocol.SimpleString("OK"))
	case "WATCH":
		c.srv.mu.Lock()
		for _, key := range args {
			c.watches[key] = c.srv.versions[key]
		}
		c.srv.mu.Unlock()
		c.reply(protocol.SimpleString("OK"))
	case "UNWATCH":
		c.watches = make(map[string]int64)
		c.reply(protocol.SimpleString("OK"))
	case "SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE":
		c.subscription(name, args)
	case "PUBLISH":
		c.publish(args)
	case "BLPOP":
		c.blockingPop(args)
	case "EVAL", "EVALSHA":
		c.eval(name, args)
	case "SCRIPT":
		c.script(args)
	default:
		if c.inTx {
			if !knownCommand(name) {
				c.txFailed = true
				c.reply(protocol.Err("ERR unknown command '" + name + "'"))
				return
			}
			c.queued = append(c.queued, append([]string{name}, args...))
			c.reply(protocol.SimpleString("QUEUED"))
			return
		}
		c.reply(c.exec(name, args))
	}
}

func (c *serverConn) execTransaction() {
	c.inTx = false
	queued := c.queued
	c.queued = nil

	if c.txFailed {
		c.txFailed = false
		c.watches = make(map[string]int64)
		c.reply(protocol.Err("EXECABORT Transaction discarded because of previous errors."))
		return
	}

	c.srv.mu.Lock()
	aborted := false
	for key, version := range c.watches {
		if c.srv.versions[key] != version {
			aborted = true
			break
		}
	}
	c.srv.mu.Unlock()
	c.watches = make(map[string]int64)

	if aborted {
		c.reply(protocol.NullArray())
		return
	}

	replies := make([]protocol.Value, len(queued))
	for i, cmd := range queued {
		replies[i] = c.exec(cmd[0], cmd[1:])
	}
	c.reply(protocol.Value{Type: protocol.TypeArray, Array: replies})
}

func knownCommand(name string) bool {
	switch name {
	case "GET", "SET", "DEL", "EXISTS", "INCR", "HSET", "HGETALL",
		"LPUSH", "RPUSH", "LRANGE", "PING", "ECHO", "AUTH", "SELECT",
		"FLUSHDB", "FLUSHALL", "CONFIG", "PUBLISH":
		return true
	}
	return false
}

// exec runs a data command and returns its reply value so transactions
// can collect replies before writing
func (c *serverConn) exec(name string, args []string) protocol.Value {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case "PING":
		return protocol.SimpleString("PONG")
	case "ECHO":
		return protocol.Bulk(args[0])
	case "AUTH":
		if s.password == "" {
			return protocol.Err("ERR Client sent AUTH, but no password is set")
		}
		if len(args) != 1 || args[0] != s.password {
			return protocol.Err("WRONGPASS invalid username-password pair or user is disabled.")
		}
		return protocol.SimpleString("OK")
	case "SELECT":
		db, err := strconv.Atoi(args[0])
		if err != nil || db < 0 || db > 15 {
			return protocol.Err("ERR DB index is out of range")
		}
		return protocol.SimpleString("OK")
	case "SET":
		s.data[args[0]] = args[1]
		s.versions[args[0]]++
		return protocol.SimpleString("OK")
	case "GET":
		if v, ok := s.data[args[0]]; ok {
			return protocol.Bulk(v)
		}
		return protocol.NullBulk()
	case "DEL":
		var n int64
		for _, key := range args {
			if _, ok := s.data[key]; ok {
				delete(s.data, key)
				s.versions[key]++
				n++
			}
		}
		return protocol.Integer(n)
	case "EXISTS":
		var n int64
		for _, key := range args {
			if _, ok := s.data[key]; ok {
				n++
			}
		}
		return protocol.Integer(n)
	case "INCR":
		n, err := strconv.ParseInt(s.data[args[0]], 10, 64)
		if s.data[args[0]] != "" && err != nil {
			return protocol.Err("ERR value is not an integer or out of range")
		}
		n++
		s.data[args[0]] = strconv.FormatInt(n, 10)
		s.versions[args[0]]++
		return protocol.Integer(n)
	case "HSET":
		if _, ok := s.data[args[0]]; ok {
			return protocol.Err("WRONGTYPE Operation against a key holding the wrong kind of value")
		}
		h := s.hashes[args[0]]
		if h == nil {
			h = make(map[string]string)
			s.hashes[args[0]] = h
		}
		var added int64
		for i := 1; i+1 < len(args); i += 2 {
			if _, ok := h[args[i]]; !ok {
				added++
			}
			h[args[i]] = args[i+1]
		}
		return protocol.Integer(added)
	case "HGETALL":
		if _, ok := s.data[args[0]]; ok {
			return protocol.Err("WRONGTYPE Operation against a key holding the wrong kind of value")
		}
		var items []protocol.Value
		for f, v := range s.hashes[args[0]] {
			items = append(items, protocol.Bulk(f), protocol.Bulk(v))
		}
		return protocol.Value{Type: protocol.TypeArray, Array: items}
	case "LPUSH", "RPUSH":
		key := args[0]
		for _, v := range args[1:] {
			if name == "LPUSH" {
				s.lists[key] = append([]string{v}, s.lists[key]...)
			} else {
				s.lists[key] = append(s.lists[key], v)
			}
		}
		s.versions[key]++
		return protocol.Integer(int64(len(s.lists[key])))
	case "LRANGE":
		list := s.lists[args[0]]
		start, _ := strconv.Atoi(args[1])
		stop, _ := strconv.Atoi(args[2])
		if stop < 0 {
			stop = len(list) + stop
		}
		if start < 0 {
			start = 0
		}
		var items []protocol.Value
		for i := start; i <= stop && i < len(list); i++ {
			items = append(items, protocol.Bulk(list[i]))
		}
		return protocol.Value{Type: protocol.TypeArray, Array: items}
	case "FLUSHDB", "FLUSHALL":
		s.data = make(map[string]string)
		s.lists = make(map[string][]string)
		s.hashes = make(map[string]map[string]string)
		return protocol.SimpleString("OK")
	case "CONFIG":
		if len(args) >= 3 && strings.EqualFold(args[0], "SET") {
			s.config[args[1]] = args[2]
			return protocol.SimpleString("OK")
		}
		if len(args) >= 2 && strings.EqualFold(args[0], "GET") {
			var items []protocol.Value
			for k, v := range s.config {
				if ok, _ := path.Match(args[1], k); ok {
					items = append(items, protocol.Bulk(k), protocol.Bulk(v))
				}
			}
			return protocol.Value{Type: protocol.TypeArray, Array: items}
		}
		return protocol.Err("ERR wrong number of arguments for 'config' command")
	case "PUBLISH":
		return protocol.Integer(c.deliverLocked(args[0], args[1]))
	default:
		return protocol.Err("ERR unknown command '" + strings.ToLower(name) + "'")
	}
}

func (c *serverConn) subscription(name string, args []string) {
	kind := strings.ToLower(name)
	for _, target := range args {
		switch name {
		case "SUBSCRIBE":
			c.channels[target] = struct{}{}
		case "UNSUBSCRIBE":
			delete(c.channels, target)
		case "PSUBSCRIBE":
			c.patterns[target] = struct{}{}
		case "PUNSUBSCRIBE":
			delete(c.patterns, target)
		}
		count := int64(len(c.channels) + len(c.patterns))
		c.reply(protocol.Array(
			protocol.Bulk(kind),
			protocol.Bulk(target),
			protocol.Integer(count),
		))
	}
}

func (c *serverConn) publish(args []string) {
	c.srv.mu.Lock()
	n := c.deliverLocked(args[0], args[1])
	c.srv.mu.Unlock()
	c.reply(protocol.Integer(n))
}

// deliverLocked fans a message out to subscribers. Caller holds srv.mu.
func (c *serverConn) deliverLocked(channel, payload string) int64 {
	var n int64
	for sub := range c.srv.conns {
		if _, ok := sub.channels[channel]; ok {
			sub.reply(protocol.Array(
				protocol.Bulk("message"),
				protocol.Bulk(channel),
				protocol.Bulk(payload),
			))
			n++
		}
		for pattern := range sub.patterns {
			if ok, _ := path.Match(pattern, channel); ok {
				sub.reply(protocol.Array(
					protocol.Bulk("pmessage"),
					protocol.Bulk(pattern),
					protocol.Bulk(channel),
					protocol.Bulk(payload),
				))
				n++
			}
		}
	}
	return n
}

func (c *serverConn) blockingPop(args []string) {
	keys := args[:len(args)-1]
	timeout, _ := strconv.ParseFloat(args[len(args)-1], 64)
	deadline := time.Now().Add(time.Duration(timeout * float64(time.Second)))

	for {
		c.srv.mu.Lock()
		for _, key := range keys {
			if list := c.srv.lists[key]; len(list) > 0 {
				value := list[0]
				c.srv.lists[key] = list[1:]
				c.srv.mu.Unlock()
				c.reply(protocol.Array(protocol.Bulk(key), protocol.Bulk(value)))
				return
			}
		}
		c.srv.mu.Unlock()

		if timeout > 0 && !time.Now().Before(deadline) {
			c.reply(protocol.NullArray())
			return
		}
		select {
		case <-c.srv.done:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (c *serverConn) eval(name string, args []string) {
	src := args[0]
	if name == "EVALSHA" {
		c.srv.mu.Lock()
		cached, ok := c.srv.scripts[strings.ToLower(args[0])]
		c.srv.mu.Unlock()
		if !ok {
			c.reply(protocol.Err("NOSCRIPT No matching script. Please use EVAL."))
			return
		}
		src = cached
	} else {
		sha := fmt.Sprintf("%x", sha1.Sum([]byte(src)))
		c.srv.mu.Lock()
		c.srv.scripts[sha] = src
		c.srv.mu.Unlock()
	}

	// An intentionally endless script blocks this connection until a
	// SCRIPT KILL arrives on another one.
	if strings.Contains(src, "while true") {
		select {
		case <-c.srv.killCh:
			c.reply(protocol.Err("ERR Script killed by user with SCRIPT KILL..."))
		case <-c.srv.done:
		}
		return
	}

	if n, err := strconv.ParseInt(strings.TrimPrefix(src, "return "), 10, 64); err == nil {
		c.reply(protocol.Integer(n))
		return
	}
	c.reply(protocol.Bulk("OK"))
}

func (c *serverConn) script(args []string) {
	switch strings.ToUpper(args[0]) {
	case "LOAD":
		sha := fmt.Sprintf("%x", sha1.Sum([]byte(args[1])))
		c.srv.mu.Lock()
		c.srv.scripts[sha] = args[1]
		c.srv.mu.Unlock()
		c.reply(protocol.Bulk(sha))
	case "EXISTS":
		items := make([]protocol.Value, 0, len(args)-1)
		c.srv.mu.Lock()
		for _, sha := range args[1:] {
			if _, ok := c.srv.scripts[strings.ToLower(sha)]; ok {
				items = append(items, protocol.Integer(1))
			} else {
				items = append(items, protocol.Integer(0))
			}
		}
		c.srv.mu.Unlock()
		c.reply(protocol.Value{Type: protocol.TypeArray, Array: items})
	case "KILL":
		c.srv.killOnce.Do(func() { close(c.srv.killCh) })
		c.reply(protocol.SimpleString("OK"))
	default:
		c.reply(protocol.Err("ERR unknown SCRIPT subcommand"))
	}
}
