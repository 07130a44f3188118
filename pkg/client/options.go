package client

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/agentlink"
	"github.com/raskyld/agentlink/pkg/envelope"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

type config struct {
	network      agentlink.Network
	tlsConf      *tls.Config
	dialTimeout  time.Duration
	writeTimeout time.Duration
	maxFrameSize int
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
}

func defaultConfig() config {
	return config{
		network:      agentlink.NetworkTCP,
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		maxFrameSize: envelope.DefaultMaxFrameSize,
	}
}

// Option to pass to [Dial].
type Option func(*config) error

// WithNetwork selects the stream network, TCP by default.
func WithNetwork(network agentlink.Network) Option {
	return func(c *config) error {
		c.network = network
		return nil
	}
}

// WithTLSConfig is required to dial over QUIC. The agentlink ALPN is added
// when NextProtos is empty.
func WithTLSConfig(tlsConf *tls.Config) Option {
	return func(c *config) error {
		if tlsConf == nil {
			return errors.New("nil tls config")
		}
		c.tlsConf = tlsConf.Clone()
		if len(c.tlsConf.NextProtos) == 0 {
			c.tlsConf.NextProtos = []string{agentlink.ALPN}
		}
		return nil
	}
}

func WithDialTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return errors.New("dial timeout must be positive")
		}
		c.dialTimeout = timeout
		return nil
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return errors.New("write timeout must be positive")
		}
		c.writeTimeout = timeout
		return nil
	}
}

// WithMaxFrameSize bounds the frames accepted from the agent.
func WithMaxFrameSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			return errors.New("max frame size must be positive")
		}
		c.maxFrameSize = size
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink sets where metrics go. A nil sink discards them.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to every metric.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}
