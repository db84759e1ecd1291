package upstream

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-relay/core/upstream"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	undecodableEvents, _ = meter.Int64Counter("upstream.undecodable_events",
		metric.WithDescription("Upstream frames that could not be decoded"))
)
