package framesync

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricTickCount        = []string{"agentlink", "framesync", "tick", "count"}
	MetricStartSyncCount   = []string{"agentlink", "framesync", "start_sync", "count"}
	MetricSyncTimeoutCount = []string{"agentlink", "framesync", "sync", "timeout", "count"}
	MetricSyncWait         = []string{"agentlink", "framesync", "sync", "wait"}
	MetricImageCount       = []string{"agentlink", "framesync", "image", "count"}
	MetricImageErrorCount  = []string{"agentlink", "framesync", "image", "error", "count"}
	MetricIntakeCount      = []string{"agentlink", "framesync", "intake", "count"}
)

type telemetryLabel string

const (
	labelError     telemetryLabel = "error"
	labelConnected telemetryLabel = "connected"
	labelTick      telemetryLabel = "tick"
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
