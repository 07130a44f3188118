package agentlink

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricFrameInBytes          = []string{"agentlink", "frame", "in", "bytes"}
	MetricFrameInCount          = []string{"agentlink", "frame", "in", "count"}
	MetricFrameOutBytes         = []string{"agentlink", "frame", "out", "bytes"}
	MetricFrameOutCount         = []string{"agentlink", "frame", "out", "count"}
	MetricDecodeErrorCount      = []string{"agentlink", "frame", "decode", "error", "count"}
	MetricSendErrorCount        = []string{"agentlink", "frame", "send", "error", "count"}
	MetricDroppedDisconnected   = []string{"agentlink", "frame", "dropped", "disconnected", "count"}
	MetricBulkDropCount         = []string{"agentlink", "bulk", "dropped", "count"}
	MetricInboundDepth          = []string{"agentlink", "inbound", "depth"}
	MetricConnAcceptedCount     = []string{"agentlink", "connection", "accepted", "count"}
	MetricConnRejectedCount     = []string{"agentlink", "connection", "rejected", "count"}
	MetricConnClosedCount       = []string{"agentlink", "connection", "closed", "count"}
	MetricConnErrorCount        = []string{"agentlink", "connection", "error", "count"}
	MetricHubEndpointsConnected = []string{"agentlink", "hub", "endpoints", "connected"}
)

// TelemetryLabel is a key shared by logs and metrics.
type TelemetryLabel string

var (
	LabelError    TelemetryLabel = "error"
	LabelPeerAddr TelemetryLabel = "peer_addr"
	LabelSession  TelemetryLabel = "session"
	LabelKind     TelemetryLabel = "kind"
	LabelEndpoint TelemetryLabel = "endpoint"
	LabelNetwork  TelemetryLabel = "network"
	LabelClosedBy TelemetryLabel = "closed_by"
	LabelDuration TelemetryLabel = "duration"
	LabelLane     TelemetryLabel = "lane"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

// withLabels returns a fresh slice so callers never alias the static labels.
func withLabels(static []metrics.Label, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(static)+len(extra))
	out = append(out, static...)
	return append(out, extra...)
}
