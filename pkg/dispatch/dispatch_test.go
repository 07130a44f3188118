package dispatch

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/agentlink/pkg/envelope"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []*envelope.Envelope
}

func (s *recordingSender) Send(env *envelope.Envelope) {
	s.sent = append(s.sent, env)
}

func (s *recordingSender) take() []envelope.Payload {
	out := make([]envelope.Payload, 0, len(s.sent))
	for _, env := range s.sent {
		out = append(out, env.Payload())
	}
	s.sent = nil
	return out
}

type fakeBody struct {
	BaseHandler

	holding  bool
	calls    []string
	aborted  []Category
	saccade  bool
	video    bool
	loaded   *envelope.Network
	updated  *envelope.Network
	released []int32
}

func (f *fakeBody) Holding() bool { return f.holding }

func (f *fakeBody) Move(*envelope.AgentMovement) { f.calls = append(f.calls, "move") }
func (f *fakeBody) Turn(*envelope.AgentTurn) { f.calls = append(f.calls, "turn") }
func (f *fakeBody) MoveTo(*envelope.MoveTo) { f.calls = append(f.calls, "move_to") }
func (f *fakeBody) CancelMoveTo(*envelope.CancelMoveTo) {
	f.calls = append(f.calls, "cancel_move_to")
}
func (f *fakeBody) Grasp(Target) { f.calls = append(f.calls, "grasp") }
func (f *fakeBody) Point(Target) { f.calls = append(f.calls, "point") }
func (f *fakeBody) Interact(Target) { f.calls = append(f.calls, "interact") }
func (f *fakeBody) FixateEyes(*envelope.AgentEyeFixation) {
	f.calls = append(f.calls, "fixate")
}
func (f *fakeBody) Release(id int32) { f.released = append(f.released, id) }
func (f *fakeBody) Abort(cat Category) { f.aborted = append(f.aborted, cat) }
func (f *fakeBody) SetSaccade(on bool) { f.saccade = on }
func (f *fakeBody) SetVideoSync(on bool) { f.video = on }
func (f *fakeBody) LoadNetwork(n *envelope.Network) { f.loaded = n }
func (f *fakeBody) UpdateRates(n *envelope.Network) { f.updated = n }

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

func newDispatcher(t *testing.T) (*Dispatcher, *recordingSender, *fakeBody, *metrics.InmemSink) {
	t.Helper()
	out := &recordingSender{}
	body := &fakeBody{}
	sink := metrics.NewInmemSink(time.Second, 5*time.Minute)
	d, err := New(out, body,
		WithLog(testLogHandler(t.Name())),
		WithMetricSink(sink),
		WithVersion("1.2.3"),
	)
	require.NoError(t, err)
	require.Same(t, d, body.Reporter)
	return d, out, body, sink
}

func status(id int32, code envelope.StatusCode) *envelope.ActionStatus {
	return &envelope.ActionStatus{ActionID: id, Status: code}
}

func TestNew(t *testing.T) {
	_, err := New(nil, &fakeBody{})
	require.ErrorIs(t, err, ErrNoSender)

	_, err = New(&recordingSender{}, nil)
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestSameCategoryAborts(t *testing.T) {
	cases := []struct {
		name  string
		first envelope.Payload
		next  envelope.Payload
		cat   Category
	}{
		{
			name:  "movement",
			first: &envelope.AgentMovement{ActionID: 1, Distance: 4},
			next:  &envelope.AgentMovement{ActionID: 2, Distance: 1},
			cat:   Movement,
		},
		{
			name:  "point by id then by position",
			first: &envelope.PointID{ObjectTarget: envelope.ObjectTarget{ActionID: 1, ObjectID: 3}},
			next:  &envelope.PointPos{ScreenTarget: envelope.ScreenTarget{ActionID: 2, X: 10, Y: 20}},
			cat:   Point,
		},
		{
			name:  "eyes",
			first: &envelope.AgentEyeFixation{ActionID: 1},
			next:  &envelope.AgentEyeMovement{ActionID: 2, PanLeft: 5},
			cat:   EyeMovement,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, out, body, sink := newDispatcher(t)

			d.Dispatch(envelope.Wrap(tc.first))
			require.Empty(t, out.take(), "the dispatcher never reports on its own")

			d.Dispatch(envelope.Wrap(tc.next))
			require.Equal(t, []envelope.Payload{status(1, envelope.Aborted)}, out.take())
			require.Equal(t, []Category{tc.cat}, body.aborted)

			require.True(t, d.Report(tc.cat, envelope.InExecution))
			require.True(t, d.Report(tc.cat, envelope.Finished))
			require.Equal(t, []envelope.Payload{
				status(2, envelope.InExecution),
				status(2, envelope.Finished),
			}, out.take())

			require.False(t, d.Report(tc.cat, envelope.Finished), "category is idle again")
			require.Empty(t, out.take())
			require.Equal(t, 1.0, counterSum(sink, MetricReportDroppedCount))
			require.Equal(t, 1.0, counterSum(sink, MetricAbortCount))
		})
	}
}

func TestLocomotionShared(t *testing.T) {
	d, out, body, _ := newDispatcher(t)

	d.Dispatch(envelope.Wrap(&envelope.MoveTo{ActionID: 5}))
	d.Dispatch(envelope.Wrap(&envelope.AgentTurn{ActionID: 6, Degree: 90}))
	require.Equal(t, []envelope.Payload{status(5, envelope.Aborted)}, out.take())
	require.Equal(t, []Category{MoveTo}, body.aborted)

	_, ok := d.Current(MoveTo)
	require.False(t, ok)
	id, ok := d.Current(Turn)
	require.True(t, ok)
	require.EqualValues(t, 6, id)

	require.False(t, d.Report(Movement, envelope.Walking), "movement is not the running category")
	require.True(t, d.Report(Turn, envelope.Rotating))
	require.Equal(t, []envelope.Payload{status(6, envelope.Rotating)}, out.take())
}

func TestIndependentResources(t *testing.T) {
	d, out, body, _ := newDispatcher(t)

	d.Dispatch(envelope.Wrap(&envelope.AgentMovement{ActionID: 1}))
	d.Dispatch(envelope.Wrap(&envelope.GraspID{ObjectTarget: envelope.ObjectTarget{ActionID: 2, ObjectID: 7}}))
	d.Dispatch(envelope.Wrap(&envelope.AgentEyeFixation{ActionID: 3}))

	require.Empty(t, out.take())
	require.Empty(t, body.aborted)
	require.Equal(t, []string{"move", "grasp", "fixate"}, body.calls)
	require.ElementsMatch(t, []ActionRecord{
		{ActionID: 1, Category: Movement, Status: envelope.InExecution},
		{ActionID: 2, Category: Grasp, Status: envelope.InExecution},
		{ActionID: 3, Category: EyeMovement, Status: envelope.InExecution},
	}, d.Running())
}

func TestArmPreemption(t *testing.T) {
	d, out, body, _ := newDispatcher(t)

	d.Dispatch(envelope.Wrap(&envelope.GraspPos{ScreenTarget: envelope.ScreenTarget{ActionID: 1, X: 64, Y: 64}}))
	d.Dispatch(envelope.Wrap(&envelope.InteractID{ObjectTarget: envelope.ObjectTarget{ActionID: 2, ObjectID: 9}}))

	require.Equal(t, []envelope.Payload{status(1, envelope.Aborted)}, out.take())
	require.Equal(t, []Category{Grasp}, body.aborted)
	require.Equal(t, []string{"grasp", "interact"}, body.calls)

	id, ok := d.Current(Interact)
	require.True(t, ok)
	require.EqualValues(t, 2, id)
}

func TestGraspWhileHolding(t *testing.T) {
	for _, p := range []envelope.Payload{
		&envelope.GraspID{ObjectTarget: envelope.ObjectTarget{ActionID: 4, ObjectID: 1}},
		&envelope.GraspPos{ScreenTarget: envelope.ScreenTarget{ActionID: 4, X: 1, Y: 1}},
	} {
		t.Run(p.Kind().String(), func(t *testing.T) {
			d, out, body, _ := newDispatcher(t)
			body.holding = true

			d.Dispatch(envelope.Wrap(p))
			require.Equal(t, []envelope.Payload{status(4, envelope.Aborted)}, out.take())
			require.Empty(t, body.calls, "grasp handler must not run")

			_, ok := d.Current(Grasp)
			require.False(t, ok)
		})
	}

	t.Run("point is never refused", func(t *testing.T) {
		d, out, body, _ := newDispatcher(t)
		body.holding = true

		d.Dispatch(envelope.Wrap(&envelope.PointID{ObjectTarget: envelope.ObjectTarget{ActionID: 8, ObjectID: 1}}))
		require.Empty(t, out.take())
		require.Equal(t, []string{"point"}, body.calls)
	})
}

func TestGraspRelease(t *testing.T) {
	d, out, body, _ := newDispatcher(t)

	d.Dispatch(envelope.Wrap(&envelope.PointID{ObjectTarget: envelope.ObjectTarget{ActionID: 1}}))
	d.Dispatch(envelope.Wrap(&envelope.GraspRelease{ActionRef: envelope.ActionRef{ActionID: 2}}))

	require.Equal(t, []envelope.Payload{status(1, envelope.Aborted)}, out.take())
	require.Equal(t, []int32{2}, body.released)

	require.True(t, d.Report(Grasp, envelope.Finished))
	require.Equal(t, []envelope.Payload{status(2, envelope.Finished)}, out.take())
}

func TestCollide(t *testing.T) {
	d, out, _, _ := newDispatcher(t)

	require.False(t, d.Collide(Movement, 3))

	d.Dispatch(envelope.Wrap(&envelope.AgentMovement{ActionID: 11}))
	require.True(t, d.Collide(Movement, 3))
	require.Equal(t, []envelope.Payload{&envelope.Collision{ActionID: 11, ColliderID: 3}}, out.take())
}

func TestAbort(t *testing.T) {
	d, out, body, _ := newDispatcher(t)

	d.Dispatch(envelope.Wrap(&envelope.AgentMovement{ActionID: 1}))
	d.Dispatch(envelope.Wrap(&envelope.PointID{ObjectTarget: envelope.ObjectTarget{ActionID: 2}}))

	require.False(t, d.Abort(Turn), "turn is not running")
	require.True(t, d.Abort(Movement))
	require.False(t, d.Abort(Movement))
	require.Equal(t, []envelope.Payload{status(1, envelope.Aborted)}, out.take())

	d.AbortAll()
	require.Equal(t, []envelope.Payload{status(2, envelope.Aborted)}, out.take())
	require.Equal(t, []Category{Movement, Point}, body.aborted)
	require.Empty(t, d.Running())
}

func TestRouting(t *testing.T) {
	d, out, body, sink := newDispatcher(t)

	t.Run("version check is answered", func(t *testing.T) {
		d.Dispatch(envelope.Wrap(&envelope.VersionCheck{Version: "0.9"}))
		require.Equal(t, []envelope.Payload{&envelope.VersionCheck{Version: "1.2.3"}}, out.take())
	})

	t.Run("flags", func(t *testing.T) {
		d.Dispatch(envelope.Wrap(&envelope.SaccadeFlag{I: 1}))
		d.Dispatch(envelope.Wrap(&envelope.VideoSync{I: 1}))
		require.True(t, body.saccade)
		require.True(t, body.video)

		d.Dispatch(envelope.Wrap(&envelope.SaccadeFlag{I: 2}))
		require.False(t, body.saccade, "only 1 enables")
	})

	t.Run("network", func(t *testing.T) {
		snapshot := &envelope.Network{Step: 1}
		rates := &envelope.Network{Update: true, Step: 2}
		d.Dispatch(envelope.Wrap(snapshot))
		d.Dispatch(envelope.Wrap(rates))
		require.Same(t, snapshot, body.loaded)
		require.Same(t, rates, body.updated)
	})

	t.Run("cancel move to", func(t *testing.T) {
		body.calls = nil
		d.Dispatch(envelope.Wrap(&envelope.CancelMoveTo{ActionRef: envelope.ActionRef{ActionID: 3}}))
		require.Equal(t, []string{"cancel_move_to"}, body.calls)
	})

	t.Run("markers and outbound kinds", func(t *testing.T) {
		d.Dispatch(envelope.StartSync())
		d.Dispatch(envelope.StopSync())
		d.Dispatch(envelope.Debug("hello"))
		d.Dispatch(envelope.Empty())
		require.Equal(t, 0.0, counterSum(sink, MetricIgnoredCount))

		d.Dispatch(envelope.Wrap(&envelope.Images{Main: []byte{1}}))
		d.Dispatch(envelope.Status(1, envelope.Finished))
		require.Equal(t, 2.0, counterSum(sink, MetricIgnoredCount))
		require.Empty(t, out.take())
	})
}
