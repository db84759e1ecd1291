package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned when an input or output device cannot be
// acquired, e.g. missing permission or no default device.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Sink is a physical (or virtual) output device. Write may block until the
// device has room for more audio, which is what paces playback.
type Sink interface {
	Write(ctx context.Context, chunk []byte) error
	Close() error
}

// Flusher is implemented by sinks that hold audio of their own after Write
// returned. Flush drops it.
type Flusher interface {
	Flush()
}

// SinkOpener acquires an output device for the given encoding.
type SinkOpener func(EncodingInfo) (Sink, error)

// CaptureDevice is an input device delivering raw audio through onAudio.
//
// onAudio may be called from a device thread and must not block. The slice
// passed to it is only valid for the duration of the call.
type CaptureDevice interface {
	StartCapture(ctx context.Context, encodingInfo EncodingInfo, onAudio func(audio []byte)) error
	StopCapture() error
}
