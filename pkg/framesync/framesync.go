// Package framesync couples the simulation tick to the controller link.
//
// Ticks alternate between two phases. The sense phase transmits what the
// agent perceives: pose, eyes, head motion, tracked objects and, at a fixed
// simulated rate, rendered images. The act phase takes in the controller's
// commands and hands them to the dispatcher.
//
// In asynchronous mode the act phase dispatches at most one pending
// envelope and the simulation runs on its own clock. In lockstep mode the
// sense phase opens a round with StartSync and the act phase blocks until
// the controller closes it with StopSync, so the simulation only advances
// as fast as the controller thinks. A round that is not closed within the
// sync timeout is abandoned; StartSync is sent again on the next sense
// phase unless the link is down.
package framesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/agentlink/pkg/envelope"
)

// Link is the agent side of a controller connection, usually an
// agentlink.Transport.
type Link interface {
	Send(env *envelope.Envelope)
	Receive(ctx context.Context) (*envelope.Envelope, error)
	TryReceive() (*envelope.Envelope, bool)
	IsConnected() bool

	// Session identifies the linked controller, empty when there is none.
	Session() string
}

type Dispatcher interface {
	Dispatch(env *envelope.Envelope)
}

// Sensors read the state of the simulated body.
type Sensors interface {
	// Pose of the body: position and Euler rotation in degrees.
	Pose() (position, rotation envelope.Vec3)

	// EyeRotation of the left eye in Euler degrees.
	EyeRotation() envelope.Vec3

	ObjectPosition() envelope.ObjectPosition

	// CaptureImages renders the left, right and main views as PNG.
	CaptureImages() (*envelope.Images, error)
}

// Actuator is implemented by sensors which also move the body. Advance is
// called once per act phase, after the commands were dispatched.
type Actuator interface {
	Advance(dt time.Duration)
}

type Phase uint8

const (
	Sense Phase = iota
	Act
)

func (p Phase) String() string {
	if p == Act {
		return "act"
	}
	return "sense"
}

// Stats is a snapshot safe to take from any goroutine.
type Stats struct {
	Ticks     uint64
	Phase     Phase
	Sync      bool
	InRound   bool
	Images    uint64
	Timeouts  uint64
	Connected bool
}

// Synchronizer runs the two-phase tick. Tick must always be called from the
// same goroutine; [Synchronizer.Stats] and [Synchronizer.Tune] may be called
// from anywhere.
type Synchronizer struct {
	link     Link
	d        Dispatcher
	sensors  Sensors
	actuator Actuator

	sync     bool
	timeStep time.Duration
	tuning   atomic.Pointer[Tuning]

	logger  *slog.Logger
	msink   metrics.MetricSink
	mLabels []metrics.Label

	phase     atomic.Uint32
	ticks     atomic.Uint64
	images    atomic.Uint64
	timeouts  atomic.Uint64
	startSent atomic.Bool

	session      string
	sinceImage   time.Duration

	// wall clock of the last sense phase, folded into the next act phase
	senseDT time.Duration

	motion motionCache
}

// motionCache keeps the previous sense phase samples. Derivatives are plain
// differences between two sense phases, not rates.
type motionCache struct {
	primed      bool
	eye         envelope.Vec3
	position    envelope.Vec3
	rotation    envelope.Vec3
	velocity    envelope.Vec3
	rotVelocity envelope.Vec3
}

// New returns a synchronizer starting in the sense phase. If sensors also
// implement [Actuator], the body is advanced on every act phase.
func New(link Link, d Dispatcher, sensors Sensors, opts ...Option) (*Synchronizer, error) {
	switch {
	case link == nil:
		return nil, ErrNoLink
	case d == nil:
		return nil, ErrNoDispatcher
	case sensors == nil:
		return nil, ErrNoSensors
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}
	if err := cfg.tuning.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
	}

	s := &Synchronizer{
		link:     link,
		d:        d,
		sensors:  sensors,
		sync:     cfg.sync,
		timeStep: cfg.timeStep,
		mLabels:  cfg.metricLabels,
	}
	s.actuator, _ = sensors.(Actuator)
	s.tuning.Store(&cfg.tuning)

	if cfg.logHandler == nil {
		s.logger = slog.Default()
	} else {
		s.logger = slog.New(cfg.logHandler)
	}
	if cfg.msink == nil {
		s.msink = metrics.Default()
	} else {
		s.msink = cfg.msink
	}
	return s, nil
}

// Tune replaces the reloadable settings. It takes effect on the next phase.
func (s *Synchronizer) Tune(t Tuning) error {
	if err := t.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCfg, err)
	}
	s.tuning.Store(&t)
	return nil
}

func (s *Synchronizer) Tuning() Tuning {
	return *s.tuning.Load()
}

func (s *Synchronizer) Stats() Stats {
	return Stats{
		Ticks:     s.ticks.Load(),
		Phase:     Phase(s.phase.Load()),
		Sync:      s.sync,
		InRound:   s.startSent.Load(),
		Images:    s.images.Load(),
		Timeouts:  s.timeouts.Load(),
		Connected: s.link.IsConnected(),
	}
}

// Tick runs the current phase and switches to the other one. dt is the wall
// clock duration of the last frame; lockstep mode ignores it in favour of
// the fixed time step.
func (s *Synchronizer) Tick(dt time.Duration) {
	s.ticks.Add(1)
	s.msink.IncrCounterWithLabels(MetricTickCount, 1.0, s.mLabels)

	if Phase(s.phase.Load()) == Sense {
		s.sense(dt)
		s.senseDT = dt
		s.phase.Store(uint32(Act))
		return
	}

	s.act(dt)
	s.phase.Store(uint32(Sense))
}

func (s *Synchronizer) step(dt time.Duration) time.Duration {
	if s.sync {
		return s.timeStep
	}
	return dt
}

func (s *Synchronizer) sense(dt time.Duration) {
	tuning := s.tuning.Load()
	connected := s.link.IsConnected()
	session := ""
	if connected {
		session = s.link.Session()
	}
	if connected && session != s.session {
		// new controller, new handshake
		s.startSent.Store(false)
	}
	s.session = session

	if connected && s.sync && s.startSent.CompareAndSwap(false, true) {
		s.link.Send(envelope.StartSync())
		s.logger.Debug("start sync sent", labelTick.L(s.ticks.Load()))
		s.msink.IncrCounterWithLabels(MetricStartSyncCount, 1.0, s.mLabels)
	}

	if tuning.Observations.Images {
		s.sinceImage += s.step(dt)
		if s.sinceImage >= tuning.ImageInterval && connected {
			s.sendImages()
			s.sinceImage %= tuning.ImageInterval
		}
	}

	obs := tuning.Observations
	position, rotation := s.sensors.Pose()
	eye := s.sensors.EyeRotation()
	if !s.motion.primed {
		s.motion = motionCache{primed: true, eye: eye, position: position, rotation: rotation}
	}

	if obs.GridPosition {
		s.link.Send(envelope.Wrap(&envelope.GridPosition{Position: position, Rotation: rotation}))
	}

	if obs.EyePosition {
		s.link.Send(envelope.Wrap(&envelope.EyePosition{
			Rotation:         eye,
			RotationVelocity: eye.Sub(s.motion.eye),
		}))
	}
	s.motion.eye = eye

	if obs.ObjectPosition {
		objects := s.sensors.ObjectPosition()
		s.link.Send(envelope.Wrap(&objects))
	}

	velocity := position.Sub(s.motion.position)
	rotVelocity := rotation.Sub(s.motion.rotation)
	if obs.HeadMotion {
		s.link.Send(envelope.Wrap(&envelope.HeadMotion{
			Velocity:             velocity,
			Acceleration:         velocity.Sub(s.motion.velocity),
			RotationVelocity:     rotVelocity,
			RotationAcceleration: rotVelocity.Sub(s.motion.rotVelocity),
		}))
	}
	s.motion.position = position
	s.motion.rotation = rotation
	s.motion.velocity = velocity
	s.motion.rotVelocity = rotVelocity
}

func (s *Synchronizer) sendImages() {
	imgs, err := s.sensors.CaptureImages()
	if err != nil {
		s.logger.Warn("image capture failed", labelError.L(err))
		s.msink.IncrCounterWithLabels(MetricImageErrorCount, 1.0, s.mLabels)
		return
	}
	s.link.Send(envelope.Wrap(imgs))
	s.images.Add(1)
	s.msink.IncrCounterWithLabels(MetricImageCount, 1.0, s.mLabels)
}

func (s *Synchronizer) act(dt time.Duration) {
	if s.link.IsConnected() {
		if s.sync {
			s.lockstep()
		} else if env, ok := s.link.TryReceive(); ok {
			s.intake(env)
		}
	}

	elapsed := s.step(dt)
	if !s.sync {
		// the body moves once per sense/act pair
		elapsed += s.senseDT
	}
	s.senseDT = 0
	if s.actuator != nil {
		s.actuator.Advance(elapsed)
	}
}

// lockstep dispatches everything the controller sent until it closes the
// round or the sync timeout elapses.
func (s *Synchronizer) lockstep() {
	timeout := s.tuning.Load().SyncTimeout
	start := time.Now()
	defer func() {
		s.msink.AddSampleWithLabels(MetricSyncWait, float32(time.Since(start).Milliseconds()), s.mLabels)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		env, err := s.link.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.timeout()
			} else {
				s.logger.Debug("lockstep round interrupted", labelError.L(err))
			}
			return
		}

		s.intake(env)
		if env.Kind() == envelope.KindStopSync {
			s.startSent.Store(false)
			return
		}
	}
}

func (s *Synchronizer) timeout() {
	s.timeouts.Add(1)

	connected := s.link.IsConnected()
	s.msink.IncrCounterWithLabels(
		MetricSyncTimeoutCount,
		1.0,
		withLabels(s.mLabels, labelConnected.M(strconv.FormatBool(connected))),
	)

	if connected {
		s.logger.Info("controller did not close the lockstep round in time")
		s.startSent.Store(false)
		return
	}

	s.logger.Info("lockstep round timed out, controller is gone")
	s.startSent.Store(true)
}

func (s *Synchronizer) intake(env *envelope.Envelope) {
	s.msink.IncrCounterWithLabels(MetricIntakeCount, 1.0, s.mLabels)
	s.d.Dispatch(env)
}
