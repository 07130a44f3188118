package dispatch

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricDispatchedCount    = []string{"agentlink", "dispatch", "envelope", "count"}
	MetricIgnoredCount       = []string{"agentlink", "dispatch", "ignored", "count"}
	MetricStatusReportCount  = []string{"agentlink", "dispatch", "status", "count"}
	MetricReportDroppedCount = []string{"agentlink", "dispatch", "status", "dropped", "count"}
	MetricAbortCount         = []string{"agentlink", "dispatch", "abort", "count"}
	MetricSceneResetCount    = []string{"agentlink", "dispatch", "scene", "reset", "count"}
)

type telemetryLabel string

const (
	labelKind     telemetryLabel = "kind"
	labelCategory telemetryLabel = "category"
	labelStatus   telemetryLabel = "status"
	labelAction   telemetryLabel = "action_id"
	labelReason   telemetryLabel = "reason"
	labelReset    telemetryLabel = "reset"
)

func (lab telemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab telemetryLabel) L(val any) slog.Attr {
	return slog.Attr{Key: string(lab), Value: slog.AnyValue(val)}
}

func withLabels(static []metrics.Label, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(static)+len(extra))
	out = append(out, static...)
	return append(out, extra...)
}
