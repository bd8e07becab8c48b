package rediswire

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Dialer opens the underlying network connection for a client
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// config holds the configuration for a Client. There are no process-wide
// defaults; every Dial call carries its own config.
type config struct {
	// Server connection settings
	addr      string
	password  string
	database  int
	tlsConfig *tls.Config
	dialer    Dialer

	// Timeouts
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration

	// Observability
	logger Logger
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		addr:           "localhost:6379",
		database:       0,
		connectTimeout: 5 * time.Second,
		readTimeout:    30 * time.Second,
		writeTimeout:   10 * time.Second,
		logger:         &defaultLogger{},
	}
}

// Option represents a configuration option for a Client
type Option func(*config) error

// WithAddr sets the Redis server address
//
// Example:
//   WithAddr("redis.example.com:6379")
func WithAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return &ConnectionError{
				Addr: addr,
				Err:  ErrInvalidConfig,
			}
		}
		c.addr = addr
		return nil
	}
}

// WithAuth sets the password sent with AUTH at connect time. An empty
// password means no AUTH is sent.
//
// Example:
//   WithAuth("mypassword")
func WithAuth(password string) Option {
	return func(c *config) error {
		c.password = password
		return nil
	}
}

// WithDatabase sets the database index selected at connect time
//
// Example:
//   WithDatabase(3)
func WithDatabase(db int) Option {
	return func(c *config) error {
		if db < 0 {
			return ErrInvalidConfig
		}
		c.database = db
		return nil
	}
}

// WithConnectTimeout sets the timeout for establishing the connection
// and completing the AUTH/SELECT handshake
//
// Example:
//   WithConnectTimeout(10 * time.Second)
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithReadTimeout sets the read timeout for receiving a single reply.
// Blocking commands extend it by their own server-side timeout.
//
// Example:
//   WithReadTimeout(30 * time.Second)
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.readTimeout = timeout
		return nil
	}
}

// WithWriteTimeout sets the write timeout for network operations
//
// Example:
//   WithWriteTimeout(10 * time.Second)
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.writeTimeout = timeout
		return nil
	}
}

// WithTLS configures TLS for the server connection
//
// Example:
//   WithTLS(&tls.Config{ServerName: "redis.example.com"})
func WithTLS(tlsConfig *tls.Config) Option {
	return func(c *config) error {
		c.tlsConfig = tlsConfig
		return nil
	}
}

// WithSecureTLS configures TLS with secure defaults. It enforces
// certificate verification and modern protocol versions; prefer it over
// WithTLS in production environments.
//
// Example:
//   WithSecureTLS("redis.example.com")
func WithSecureTLS(serverName string) Option {
	return func(c *config) error {
		if serverName == "" {
			return ErrInvalidConfig
		}
		c.tlsConfig = &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: false,
			MinVersion:         tls.VersionTLS12,
		}
		return nil
	}
}

// WithLogger sets a custom logger for the client
//
// Example:
//   WithLogger(myCustomLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithDialer sets a custom dialer for the underlying connection. Useful
// for unix sockets and tests.
//
// Example:
//   WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
//     return net.Dial("unix", "/tmp/redis.sock")
//   })
func WithDialer(dialer Dialer) Option {
	return func(c *config) error {
		if dialer == nil {
			return ErrInvalidConfig
		}
		c.dialer = dialer
		return nil
	}
}
