package natsclient

import (
	"log/slog"
	"time"

	"github.com/c360/assetmesh/metric"
)

// Option configures a Client at construction time.
type Option func(*Client) error

// WithLogger sets the structured logger. The client tags its records with
// component=natsclient.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMaxReconnects sets how many times the underlying connection retries
// after a drop. Use -1 for unlimited.
func WithMaxReconnects(n int) Option {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the wait between reconnection attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets the protocol-level ping interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithHealthInterval sets how often the client probes the connection.
// Zero disables the probe goroutine.
func WithHealthInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.healthInterval = d
		return nil
	}
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds how long Close waits for in-flight messages.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithCircuitThreshold sets how many consecutive failures open the circuit.
func WithCircuitThreshold(threshold int32) Option {
	return func(c *Client) error {
		if threshold < 1 {
			threshold = 5
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff caps the circuit backoff.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) error {
		if d < time.Second {
			d = time.Minute
		}
		c.maxBackoff = d
		return nil
	}
}

// WithCredentials sets username and password authentication.
func WithCredentials(username, password string) Option {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS enables TLS. Pass empty strings for any file the server does not
// require.
func WithTLS(certFile, keyFile, caFile string) Option {
	return func(c *Client) error {
		c.tls = tlsConfig{
			enabled:  true,
			certFile: certFile,
			keyFile:  keyFile,
			caFile:   caFile,
		}
		return nil
	}
}

// WithName sets the client name reported to the server, visible in server
// monitoring.
func WithName(name string) Option {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithCompression enables wire compression.
func WithCompression(enabled bool) Option {
	return func(c *Client) error {
		c.compression = enabled
		return nil
	}
}

// WithDisconnectCallback registers a callback invoked when the connection
// drops. It runs on its own goroutine.
func WithDisconnectCallback(fn func(error)) Option {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback registers a callback invoked after an automatic
// reconnect. It runs on its own goroutine.
func WithReconnectCallback(fn func()) Option {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback registers a callback invoked whenever observed
// health flips.
func WithHealthChangeCallback(fn func(healthy bool)) Option {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithMetrics exports connection and KV bucket metrics through the given
// registry. Bucket gauges cover only buckets opened through this client.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Client) error {
		if registry == nil {
			return nil
		}
		metrics, err := newClientMetrics(registry)
		if err != nil {
			return err
		}
		c.metrics = metrics
		return nil
	}
}
