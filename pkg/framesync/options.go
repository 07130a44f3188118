package framesync

import (
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
)

const (
	DefaultTimeStep      = 100 * time.Millisecond
	DefaultImageInterval = 100 * time.Millisecond
	DefaultSyncTimeout   = 3 * time.Second
)

// Observations selects what the sense phase transmits.
type Observations struct {
	GridPosition   bool
	EyePosition    bool
	HeadMotion     bool
	ObjectPosition bool
	Images         bool
}

// DefaultObservations sends everything but head motion.
func DefaultObservations() Observations {
	return Observations{
		GridPosition:   true,
		EyePosition:    true,
		ObjectPosition: true,
		Images:         true,
	}
}

// Tuning holds the knobs which may change while ticking, e.g. on a
// configuration reload.
type Tuning struct {
	ImageInterval time.Duration
	SyncTimeout   time.Duration
	Observations  Observations
}

func (t Tuning) validate() error {
	if t.ImageInterval <= 0 {
		return errors.New("image interval must be positive")
	}
	if t.SyncTimeout <= 0 {
		return errors.New("sync timeout must be positive")
	}
	return nil
}

type config struct {
	sync         bool
	timeStep     time.Duration
	tuning       Tuning
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
}

func defaultConfig() config {
	return config{
		timeStep: DefaultTimeStep,
		tuning: Tuning{
			ImageInterval: DefaultImageInterval,
			SyncTimeout:   DefaultSyncTimeout,
			Observations:  DefaultObservations(),
		},
	}
}

// Option to pass to [New].
type Option func(*config) error

// WithSyncMode selects lockstep timing: the act phase waits for the
// controller's StopSync and the simulation advances by a fixed time step.
func WithSyncMode(sync bool) Option {
	return func(c *config) error {
		c.sync = sync
		return nil
	}
}

// WithTimeStep sets the simulated duration of a tick in lockstep mode.
func WithTimeStep(step time.Duration) Option {
	return func(c *config) error {
		if step <= 0 {
			return errors.New("time step must be positive")
		}
		c.timeStep = step
		return nil
	}
}

// WithImageInterval sets the simulated time between two image batches.
func WithImageInterval(interval time.Duration) Option {
	return func(c *config) error {
		c.tuning.ImageInterval = interval
		return nil
	}
}

// WithSyncTimeout bounds, in wall clock time, how long a lockstep act phase
// waits for StopSync.
func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		c.tuning.SyncTimeout = timeout
		return nil
	}
}

func WithObservations(obs Observations) Option {
	return func(c *config) error {
		c.tuning.Observations = obs
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
