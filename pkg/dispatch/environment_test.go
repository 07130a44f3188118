package dispatch

import (
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/agentlink/pkg/envelope"
	"github.com/stretchr/testify/require"
)

type resetLog struct {
	env, trial []int32
}

func (r *resetLog) ResetEnvironment(kind int32) { r.env = append(r.env, kind) }
func (r *resetLog) ResetTrial(kind int32)       { r.trial = append(r.trial, kind) }

func TestEnvironment(t *testing.T) {
	out := &recordingSender{}
	a, b := &resetLog{}, &resetLog{}
	sink := metrics.NewInmemSink(time.Second, 5*time.Minute)

	env, err := NewEnvironment(out, MultiHooks{a, b},
		WithLog(testLogHandler("environment")),
		WithMetricSink(sink),
		WithVersion("1.2.3"),
	)
	require.NoError(t, err)

	env.Dispatch(envelope.Wrap(&envelope.EnvironmentReset{Type: 2}))
	env.Dispatch(envelope.Wrap(&envelope.TrialReset{}))
	env.Dispatch(envelope.Wrap(&envelope.TrialReset{Type: 1}))

	for _, hooks := range []*resetLog{a, b} {
		require.Equal(t, []int32{2}, hooks.env)
		require.Equal(t, []int32{0, 1}, hooks.trial)
	}
	require.Equal(t, 3.0, counterSum(sink, MetricSceneResetCount))

	env.Dispatch(envelope.Wrap(&envelope.VersionCheck{Version: "x"}))
	require.Equal(t, []envelope.Payload{&envelope.VersionCheck{Version: "1.2.3"}}, out.take())

	env.Dispatch(envelope.Wrap(&envelope.AgentMovement{ActionID: 1}))
	env.Dispatch(envelope.Empty())
	require.Empty(t, out.take())
	require.Equal(t, 1.0, counterSum(sink, MetricIgnoredCount))

	_, err = NewEnvironment(out, nil)
	require.ErrorIs(t, err, ErrNoHandler)
}
