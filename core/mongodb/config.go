package mongodb

import "time"

// Config holds configuration for the document store connection.
type Config struct {
	// URI is the connection target string, possibly carrying credentials.
	// It is always masked before appearing in any log output.
	URI string `mapstructure:"uri" default:"mongodb://localhost:27017"`
	// Name is the database name.
	Name string `mapstructure:"name" default:"economy"`
	// ConnectTimeoutMS bounds connection establishment.
	ConnectTimeoutMS int `mapstructure:"connect_timeout_ms" default:"5000"`
	// SocketTimeoutMS bounds individual socket reads and writes.
	SocketTimeoutMS int `mapstructure:"socket_timeout_ms" default:"5000"`
	// MaxWaitMS bounds server selection when no node is reachable.
	MaxWaitMS int `mapstructure:"max_wait_ms" default:"5000"`
	// PoolSize is the maximum number of pooled connections.
	PoolSize int `mapstructure:"pool_size" default:"10"`
	// MaxReconnectAttempts is how many consecutive failures are tolerated
	// before auto-reconnect stops scheduling itself.
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts" default:"5"`
	// BackoffStepSeconds grows the reconnect delay linearly per attempt.
	BackoffStepSeconds int `mapstructure:"backoff_step_s" default:"5"`
	// BackoffCapSeconds caps the reconnect delay.
	BackoffCapSeconds int `mapstructure:"backoff_cap_s" default:"30"`
}

// ConnectTimeout returns the connect timeout as a duration, with a sane
// floor when unset.
func (c Config) ConnectTimeout() time.Duration {
	ms := c.ConnectTimeoutMS
	if ms <= 0 {
		ms = 5000
	}
	return time.Duration(ms) * time.Millisecond
}

// Backoff returns the reconnect delay for a given consecutive failure count:
// min(cap, attempts*step).
func (c Config) Backoff(attempts int) time.Duration {
	step := c.BackoffStepSeconds
	if step < 0 {
		step = 0
	}
	cap := c.BackoffCapSeconds
	if cap <= 0 {
		cap = 30
	}
	s := attempts * step
	if s > cap {
		s = cap
	}
	return time.Duration(s) * time.Second
}
