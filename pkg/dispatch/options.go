package dispatch

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

type config struct {
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
	version      string
}

// Option to pass to [New] and [NewEnvironment].
type Option func(*config) error

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

// WithVersion sets the version answered to a version check.
func WithVersion(version string) Option {
	return func(c *config) error {
		c.version = version
		return nil
	}
}

func (c *config) apply(opts []Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

func (c *config) logger() *slog.Logger {
	if c.logHandler == nil {
		return slog.Default()
	}
	return slog.New(c.logHandler)
}

func (c *config) sink() metrics.MetricSink {
	if c.msink == nil {
		return metrics.Default()
	}
	return c.msink
}
