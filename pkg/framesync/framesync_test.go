package framesync

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/agentlink/pkg/envelope"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	connected atomic.Bool
	inbox     chan *envelope.Envelope

	// onReceive runs when the lockstep wait starts.
	onReceive func()

	mu      sync.Mutex
	sent    []*envelope.Envelope
	session string
}

func newFakeLink(connected bool) *fakeLink {
	l := &fakeLink{inbox: make(chan *envelope.Envelope, 64), session: "s-1"}
	l.connected.Store(connected)
	return l
}

func (l *fakeLink) Session() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

func (l *fakeLink) replace(session string) {
	l.mu.Lock()
	l.session = session
	l.mu.Unlock()
	l.connected.Store(true)
}

func (l *fakeLink) Send(env *envelope.Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, env)
}

func (l *fakeLink) Receive(ctx context.Context) (*envelope.Envelope, error) {
	if l.onReceive != nil {
		l.onReceive()
	}
	select {
	case env := <-l.inbox:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeLink) TryReceive() (*envelope.Envelope, bool) {
	select {
	case env := <-l.inbox:
		return env, true
	default:
		return nil, false
	}
}

func (l *fakeLink) IsConnected() bool { return l.connected.Load() }

func (l *fakeLink) count(kind envelope.Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, env := range l.sent {
		if env.Kind() == kind {
			n++
		}
	}
	return n
}

func (l *fakeLink) take() []envelope.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]envelope.Kind, 0, len(l.sent))
	for _, env := range l.sent {
		out = append(out, env.Kind())
	}
	l.sent = nil
	return out
}

func (l *fakeLink) last(kind envelope.Kind) envelope.Payload {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.sent) - 1; i >= 0; i-- {
		if l.sent[i].Kind() == kind {
			return l.sent[i].Payload()
		}
	}
	return nil
}

type recordingDispatcher struct {
	got []envelope.Kind
}

func (d *recordingDispatcher) Dispatch(env *envelope.Envelope) {
	d.got = append(d.got, env.Kind())
}

type fakeBody struct {
	position, rotation envelope.Vec3
	eye                envelope.Vec3
	advanced           []time.Duration
}

func (b *fakeBody) Pose() (envelope.Vec3, envelope.Vec3) { return b.position, b.rotation }
func (b *fakeBody) EyeRotation() envelope.Vec3 { return b.eye }

func (b *fakeBody) ObjectPosition() envelope.ObjectPosition {
	return envelope.ObjectPosition{GreenCraneX: 1}
}

func (b *fakeBody) CaptureImages() (*envelope.Images, error) {
	return &envelope.Images{Main: []byte{0x89, 'P', 'N', 'G'}}, nil
}

func (b *fakeBody) Advance(dt time.Duration) { b.advanced = append(b.advanced, dt) }

func testLogHandler(emitter string) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue(emitter)},
	})
}

func counterSum(sink *metrics.InmemSink, key []string) float64 {
	name := strings.Join(key, ".")
	var sum float64
	for _, intv := range sink.Data() {
		intv.RLock()
		for k, v := range intv.Counters {
			if k == name || strings.HasPrefix(k, name+";") {
				sum += v.Sum
			}
		}
		intv.RUnlock()
	}
	return sum
}

type fixture struct {
	link *fakeLink
	d    *recordingDispatcher
	body *fakeBody
	sink *metrics.InmemSink
	s    *Synchronizer
}

func newFixture(t *testing.T, connected bool, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		link: newFakeLink(connected),
		d:    &recordingDispatcher{},
		body: &fakeBody{},
		sink: metrics.NewInmemSink(time.Second, 5*time.Minute),
	}
	base := []Option{
		WithLog(testLogHandler(t.Name())),
		WithMetricSink(f.sink),
	}

	var err error
	f.s, err = New(f.link, f.d, f.body, append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func only(obs Observations) Option { return WithObservations(obs) }

func TestNew(t *testing.T) {
	_, err := New(nil, &recordingDispatcher{}, &fakeBody{})
	require.ErrorIs(t, err, ErrNoLink)

	_, err = New(newFakeLink(false), &recordingDispatcher{}, &fakeBody{}, WithImageInterval(0))
	require.ErrorIs(t, err, ErrInvalidCfg)

	_, err = New(newFakeLink(false), &recordingDispatcher{}, &fakeBody{}, WithTimeStep(-time.Second))
	require.ErrorIs(t, err, ErrInvalidCfg)
}

func TestPhasesAlternate(t *testing.T) {
	f := newFixture(t, true, only(Observations{GridPosition: true}))

	require.Equal(t, Sense, f.s.Stats().Phase)
	f.s.Tick(10 * time.Millisecond)
	require.Equal(t, Act, f.s.Stats().Phase)
	require.Equal(t, []envelope.Kind{envelope.KindGridPosition}, f.link.take())
	require.Empty(t, f.body.advanced)

	f.s.Tick(20 * time.Millisecond)
	require.Equal(t, Sense, f.s.Stats().Phase)
	require.Empty(t, f.link.take(), "act phase transmits nothing")
	require.Equal(t, []time.Duration{30 * time.Millisecond}, f.body.advanced, "both phases of the frame elapsed")
	require.EqualValues(t, 2, f.s.Stats().Ticks)
}

func TestAsyncIntake(t *testing.T) {
	f := newFixture(t, true, only(Observations{}))

	for i := 0; i < 3; i++ {
		f.link.inbox <- envelope.Wrap(&envelope.AgentMovement{ActionID: int32(i)})
	}

	for i := 0; i < 4; i++ {
		f.s.Tick(time.Millisecond)
	}
	require.Len(t, f.d.got, 2, "one envelope per act phase")
	require.Len(t, f.link.inbox, 1)

	t.Run("nothing is taken in while disconnected", func(t *testing.T) {
		f.link.connected.Store(false)
		f.s.Tick(time.Millisecond)
		f.s.Tick(time.Millisecond)
		require.Len(t, f.d.got, 2)
		require.Len(t, f.body.advanced, 3, "the body moves regardless")
	})
}

func TestLockstep(t *testing.T) {
	t.Run("round closed by stop sync", func(t *testing.T) {
		f := newFixture(t, true, WithSyncMode(true), WithTimeStep(50*time.Millisecond), only(Observations{}))

		f.s.Tick(time.Hour)
		require.Equal(t, []envelope.Kind{envelope.KindStartSync}, f.link.take())
		require.True(t, f.s.Stats().InRound)

		f.link.inbox <- envelope.Wrap(&envelope.AgentTurn{ActionID: 1})
		f.link.inbox <- envelope.Debug("thinking")
		f.link.inbox <- envelope.StopSync()
		f.link.inbox <- envelope.Wrap(&envelope.AgentTurn{ActionID: 2})

		f.s.Tick(time.Hour)
		require.Equal(t, []envelope.Kind{
			envelope.KindAgentTurn,
			envelope.KindDebug,
			envelope.KindStopSync,
		}, f.d.got)
		require.False(t, f.s.Stats().InRound)
		require.Equal(t, []time.Duration{50 * time.Millisecond}, f.body.advanced, "fixed step in lockstep")

		f.s.Tick(time.Hour)
		require.Equal(t, []envelope.Kind{envelope.KindStartSync}, f.link.take(), "next round opens")
	})

	t.Run("timeout with the controller connected re-arms one start sync", func(t *testing.T) {
		f := newFixture(t, true, WithSyncMode(true), WithSyncTimeout(50*time.Millisecond), only(Observations{}))

		f.s.Tick(0)
		require.Equal(t, 1, f.link.count(envelope.KindStartSync))

		start := time.Now()
		f.s.Tick(0)
		require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
		require.EqualValues(t, 1, f.s.Stats().Timeouts)

		f.s.Tick(0)
		require.Equal(t, 2, f.link.count(envelope.KindStartSync))
		require.Equal(t, 1.0, counterSum(f.sink, MetricSyncTimeoutCount))
	})

	t.Run("timeout with the controller gone sends nothing", func(t *testing.T) {
		f := newFixture(t, true, WithSyncMode(true), WithSyncTimeout(50*time.Millisecond), only(Observations{}))

		f.s.Tick(0)
		f.link.take()

		f.link.onReceive = func() { f.link.connected.Store(false) }
		f.s.Tick(0)
		require.True(t, f.s.Stats().InRound)

		for i := 0; i < 4; i++ {
			f.s.Tick(0)
		}
		require.Zero(t, f.link.count(envelope.KindStartSync))

		t.Run("a new controller gets a fresh handshake", func(t *testing.T) {
			f.link.onReceive = nil
			f.link.connected.Store(true)
			f.s.Tick(0)
			require.Equal(t, 1, f.link.count(envelope.KindStartSync))
		})
	})

	t.Run("controller replaced between two sense phases", func(t *testing.T) {
		f := newFixture(t, true, WithSyncMode(true), WithSyncTimeout(20*time.Millisecond), only(Observations{}))

		f.s.Tick(0)
		require.Equal(t, 1, f.link.count(envelope.KindStartSync))

		// The controller drops during the round and another one links
		// before the next sense phase sees the link down.
		f.link.onReceive = func() { f.link.connected.Store(false) }
		f.s.Tick(0)
		f.link.onReceive = nil
		f.link.replace("s-2")

		f.s.Tick(0)
		require.Equal(t, 2, f.link.count(envelope.KindStartSync))
	})
}

func TestImageRate(t *testing.T) {
	cases := []struct {
		name     string
		sync     bool
		step     time.Duration
		interval time.Duration
		senses   int
	}{
		{name: "async step divides interval", step: 25 * time.Millisecond, interval: 100 * time.Millisecond, senses: 100},
		{name: "async uneven step", step: 30 * time.Millisecond, interval: 100 * time.Millisecond, senses: 100},
		{name: "lockstep", sync: true, step: 100 * time.Millisecond, interval: 300 * time.Millisecond, senses: 60},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := []Option{
				only(Observations{Images: true}),
				WithImageInterval(tc.interval),
				WithSyncMode(tc.sync),
				WithTimeStep(tc.step),
				WithSyncTimeout(time.Millisecond),
			}
			f := newFixture(t, true, opts...)

			for i := 0; i < tc.senses; i++ {
				if tc.sync {
					f.link.inbox <- envelope.StopSync()
				}
				f.s.Tick(tc.step)
				f.s.Tick(tc.step)
			}

			want := int(time.Duration(tc.senses) * tc.step / tc.interval)
			got := f.link.count(envelope.KindImages)
			require.InDelta(t, want, got, 1, "want about %d images, got %d", want, got)
			require.EqualValues(t, got, f.s.Stats().Images)
		})
	}

	t.Run("no images while disconnected", func(t *testing.T) {
		f := newFixture(t, false, only(Observations{Images: true}))
		for i := 0; i < 20; i++ {
			f.s.Tick(time.Second)
		}
		require.Zero(t, f.link.count(envelope.KindImages))
	})
}

func TestObservations(t *testing.T) {
	f := newFixture(t, true, only(Observations{
		GridPosition:   true,
		EyePosition:    true,
		HeadMotion:     true,
		ObjectPosition: true,
	}))

	f.body.position = envelope.Vec3{X: 1}
	f.body.eye = envelope.Vec3{Y: 10}
	f.s.Tick(0)
	require.Equal(t, []envelope.Kind{
		envelope.KindGridPosition,
		envelope.KindEyePosition,
		envelope.KindObjectPosition,
		envelope.KindHeadMotion,
	}, f.link.take())
	f.s.Tick(0)

	t.Run("first differences against the previous sense phase", func(t *testing.T) {
		f.body.position = envelope.Vec3{X: 3}
		f.body.rotation = envelope.Vec3{Y: 90}
		f.body.eye = envelope.Vec3{Y: 15}
		f.s.Tick(0)

		require.Equal(t, &envelope.EyePosition{
			Rotation:         envelope.Vec3{Y: 15},
			RotationVelocity: envelope.Vec3{Y: 5},
		}, f.link.last(envelope.KindEyePosition))
		require.Equal(t, &envelope.HeadMotion{
			Velocity:             envelope.Vec3{X: 2},
			Acceleration:         envelope.Vec3{X: 2},
			RotationVelocity:     envelope.Vec3{Y: 90},
			RotationAcceleration: envelope.Vec3{Y: 90},
		}, f.link.last(envelope.KindHeadMotion))
		f.s.Tick(0)
	})

	t.Run("second differences", func(t *testing.T) {
		f.body.position = envelope.Vec3{X: 4}
		f.s.Tick(0)

		require.Equal(t, &envelope.HeadMotion{
			Velocity:             envelope.Vec3{X: 1},
			Acceleration:         envelope.Vec3{X: -1},
			RotationAcceleration: envelope.Vec3{Y: -90},
		}, f.link.last(envelope.KindHeadMotion))
	})

	t.Run("tuning switches observations off", func(t *testing.T) {
		f.s.Tick(0)
		f.link.take()

		tuning := f.s.Tuning()
		tuning.Observations = Observations{}
		require.NoError(t, f.s.Tune(tuning))

		f.s.Tick(0)
		require.Empty(t, f.link.take())

		require.ErrorIs(t, f.s.Tune(Tuning{}), ErrInvalidCfg)
	})
}
