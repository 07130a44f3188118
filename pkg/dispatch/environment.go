package dispatch

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/agentlink/pkg/envelope"
)

// SceneHooks reset the scene on behalf of the controller. kind is passed
// through from the request, its meaning is up to the scene.
type SceneHooks interface {
	ResetEnvironment(kind int32)
	ResetTrial(kind int32)
}

// MultiHooks calls every hook in order.
type MultiHooks []SceneHooks

func (m MultiHooks) ResetEnvironment(kind int32) {
	for _, h := range m {
		h.ResetEnvironment(kind)
	}
}

func (m MultiHooks) ResetTrial(kind int32) {
	for _, h := range m {
		h.ResetTrial(kind)
	}
}

// Environment dispatches the scene-level control endpoint. It answers
// version checks and forwards resets to its hooks; anything else is
// ignored.
type Environment struct {
	out     Sender
	hooks   SceneHooks
	logger  *slog.Logger
	msink   metrics.MetricSink
	mLabels []metrics.Label
	version string
}

func NewEnvironment(out Sender, hooks SceneHooks, opts ...Option) (*Environment, error) {
	if out == nil {
		return nil, ErrNoSender
	}
	if hooks == nil {
		return nil, ErrNoHandler
	}

	var cfg config
	if err := cfg.apply(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
	}

	return &Environment{
		out:     out,
		hooks:   hooks,
		logger:  cfg.logger(),
		msink:   cfg.sink(),
		mLabels: cfg.metricLabels,
		version: cfg.version,
	}, nil
}

func (e *Environment) Dispatch(env *envelope.Envelope) {
	switch m := env.Payload().(type) {
	case nil:
	case *envelope.VersionCheck:
		e.logger.Info("version check", "controller", m.Version, "environment", e.version)
		e.out.Send(envelope.Wrap(&envelope.VersionCheck{Version: e.version}))
	case *envelope.EnvironmentReset:
		e.countReset("environment", m.Type)
		e.hooks.ResetEnvironment(m.Type)
	case *envelope.TrialReset:
		e.countReset("trial", m.Type)
		e.hooks.ResetTrial(m.Type)
	case *envelope.DebugText:
		e.logger.Info("controller debug message", "text", m.Text)
	default:
		kind := env.Kind().String()
		e.logger.Warn("ignoring a kind the environment does not handle", labelKind.L(kind))
		e.msink.IncrCounterWithLabels(
			MetricIgnoredCount,
			1.0,
			withLabels(e.mLabels, labelKind.M(kind)),
		)
	}
}

func (e *Environment) countReset(what string, kind int32) {
	e.logger.Info("scene reset requested", labelReset.L(what), "type", kind)
	e.msink.IncrCounterWithLabels(
		MetricSceneResetCount,
		1.0,
		withLabels(e.mLabels, labelReset.M(what)),
	)
}
