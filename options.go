package agentlink

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/agentlink/pkg/envelope"
)

const (
	DefaultPort         = 1337
	DefaultStopTimeout  = 2 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	// DefaultStreamTimeout bounds how long an accepted QUIC connection may
	// take to open its stream.
	DefaultStreamTimeout = 10 * time.Second

	// BulkDepth is the number of image batches kept for sending.
	BulkDepth = 2
)

// Network is the stream network a transport listens on.
type Network uint8

const (
	NetworkTCP Network = iota
	NetworkQUIC
)

func (n Network) String() string {
	switch n {
	case NetworkTCP:
		return "tcp"
	case NetworkQUIC:
		return "quic"
	default:
		return fmt.Sprintf("network(%d)", uint8(n))
	}
}

// ParseNetwork is the inverse of [Network.String].
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(s) {
	case "", "tcp":
		return NetworkTCP, nil
	case "quic":
		return NetworkQUIC, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
	}
}

type config struct {
	addr           string
	port           int
	name           string
	network        Network
	tlsConf        *tls.Config
	logHandler     slog.Handler
	msink          metrics.MetricSink
	metricLabels   []metrics.Label
	maxFrameSize   int
	writeTimeout   time.Duration
	stopTimeout    time.Duration
	streamTimeout  time.Duration
	lazyDisconnect bool
}

func defaultConfig() config {
	return config{
		addr:          "0.0.0.0",
		port:          DefaultPort,
		name:          "agent",
		maxFrameSize:  envelope.DefaultMaxFrameSize,
		writeTimeout:  DefaultWriteTimeout,
		stopTimeout:   DefaultStopTimeout,
		streamTimeout: DefaultStreamTimeout,
	}
}

// Option to pass to [New] and [NewHub].
type Option func(*config) error

// WithListenOn specifies the interface and port to accept the controller
// on. Port 0 picks an ephemeral port, see [Transport.Addr].
func WithListenOn(addr string, port int) Option {
	return func(c *config) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("port %d out of range", port)
		}
		if addr != "" {
			c.addr = addr
		}
		c.port = port
		return nil
	}
}

// WithName sets the endpoint name attached to logs and metrics.
func WithName(name string) Option {
	return func(c *config) error {
		if name != "" {
			c.name = name
		}
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

// WithMetricLabels adds static labels to all metrics produced by the
// transport.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted by
// the transport. A nil sink discards them.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithNetwork selects the stream network. QUIC needs [WithTLSConfig].
func WithNetwork(network Network) Option {
	return func(c *config) error {
		if network != NetworkTCP && network != NetworkQUIC {
			return fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
		}
		c.network = network
		return nil
	}
}

// WithTLSConfig sets the `tls.Config` used by the QUIC listener. It is
// ignored on TCP, the agent link is not encrypted there.
func WithTLSConfig(tlsConf *tls.Config) Option {
	return func(c *config) error {
		if tlsConf == nil {
			return ErrNoTLSConfig
		}
		c.tlsConf = tlsConf.Clone()
		return nil
	}
}

// WithMaxFrameSize bounds the frames accepted from the controller. A larger
// frame is handled as a lost peer.
func WithMaxFrameSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			size = envelope.DefaultMaxFrameSize
		}
		c.maxFrameSize = size
		return nil
	}
}

// WithWriteTimeout sets the deadline of a single frame write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = DefaultWriteTimeout
		}
		c.writeTimeout = timeout
		return nil
	}
}

// WithStopTimeout controls how long [Transport.Stop] waits for its
// goroutines.
func WithStopTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = DefaultStopTimeout
		}
		c.stopTimeout = timeout
		return nil
	}
}

// WithStreamTimeout controls how long an accepted QUIC connection may take
// to open its stream.
func WithStreamTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = DefaultStreamTimeout
		}
		c.streamTimeout = timeout
		return nil
	}
}

// WithLazyDisconnect keeps the transport connected after the peer went away
// until [Transport.Stop] is called. No other controller is accepted in the
// meantime.
func WithLazyDisconnect() Option {
	return func(c *config) error {
		c.lazyDisconnect = true
		return nil
	}
}
