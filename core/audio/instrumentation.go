package audio

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-relay/core/audio"

var (
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	droppedPlaybackChunks, _ = meter.Int64Counter("audio.playback.dropped_chunks",
		metric.WithDescription("Playback chunks discarded by the overflow policy"))
	droppedCaptureBuffers, _ = meter.Int64Counter("audio.capture.dropped_buffers",
		metric.WithDescription("Captured device buffers discarded because framing fell behind"))
)
