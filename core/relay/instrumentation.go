package relay

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-relay/core/relay"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	activeSessions, _ = meter.Int64UpDownCounter("relay.sessions.active",
		metric.WithDescription("Sessions currently relaying between a client and the upstream"))
	malformedClientFrames, _ = meter.Int64Counter("relay.client.malformed_frames",
		metric.WithDescription("Client text frames dropped because they could not be decoded"))
)
