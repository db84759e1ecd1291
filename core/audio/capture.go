package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultFrameDuration = 40 * time.Millisecond

	captureQueueCapacity = 64
	defaultStopTimeout   = time.Second
)

var ErrCaptureActive = errors.New("capture already active")

// CaptureStreamer owns an input device while active and turns whatever the
// device delivers into fixed-size frames handed to an outbound callback.
type CaptureStreamer struct {
	mu sync.Mutex

	encodingInfo  EncodingInfo
	frameDuration time.Duration
	stopTimeout   time.Duration

	// device is non-nil only while capture is active.
	device CaptureDevice
	cancel context.CancelFunc
	done   chan struct{}
}

type CaptureOption func(*CaptureStreamer)

func WithCaptureEncoding(encodingInfo EncodingInfo) CaptureOption {
	return func(s *CaptureStreamer) {
		if !encodingInfo.IsZero() {
			s.encodingInfo = encodingInfo
		}
	}
}

func WithFrameDuration(d time.Duration) CaptureOption {
	return func(s *CaptureStreamer) {
		if d > 0 {
			s.frameDuration = d
		}
	}
}

func NewCaptureStreamer(opts ...CaptureOption) *CaptureStreamer {
	s := &CaptureStreamer{
		encodingInfo:  GetDefaultEncodingInfo(),
		frameDuration: DefaultFrameDuration,
		stopTimeout:   defaultStopTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// FrameSize is the size in bytes of every chunk passed to the outbound
// callback.
func (s *CaptureStreamer) FrameSize() int {
	size := s.encodingInfo.BytesFor(s.frameDuration)
	if size <= 0 {
		return 1
	}
	return size
}

func (s *CaptureStreamer) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device != nil
}

// Start acquires device and begins framing. onChunk receives every complete
// frame in capture order; it is called from a single goroutine.
//
// If the device cannot be acquired the error wraps ErrDeviceUnavailable and
// the device is released again before Start returns.
func (s *CaptureStreamer) Start(ctx context.Context, device CaptureDevice, onChunk func(chunk []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return ErrCaptureActive
	}
	if device == nil {
		return fmt.Errorf("%w: no capture device configured", ErrDeviceUnavailable)
	}
	if onChunk == nil {
		onChunk = func([]byte) {}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	captured := make(chan []byte, captureQueueCapacity)
	onAudio := func(audio []byte) {
		if len(audio) == 0 {
			return
		}

		buf := make([]byte, len(audio))
		copy(buf, audio)
		select {
		case captured <- buf:
		case <-loopCtx.Done():
		default:
			droppedCaptureBuffers.Add(context.Background(), 1)
		}
	}

	if err := device.StartCapture(loopCtx, s.encodingInfo, onAudio); err != nil {
		cancel()
		if stopErr := device.StopCapture(); stopErr != nil {
			logger.Warn("Failed to release capture device after failed start", "error", stopErr)
		}
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	s.device = device
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.frame(loopCtx, captured, onChunk, s.done)

	return nil
}

// Stop releases the device. It is safe to call repeatedly and when Start
// never succeeded. No frames are delivered after Stop returns, unless the
// callback itself was stuck for longer than the stop timeout.
func (s *CaptureStreamer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}

	s.cancel()
	var errs error
	if err := s.device.StopCapture(); err != nil {
		errs = fmt.Errorf("failed to stop capture device: %w", err)
	}

	select {
	case <-s.done:
	case <-time.After(s.stopTimeout):
		errs = errors.Join(errs, fmt.Errorf("capture loop did not stop within %s", s.stopTimeout))
	}

	s.device = nil
	s.cancel = nil
	s.done = nil
	return errs
}

func (s *CaptureStreamer) frame(ctx context.Context, captured <-chan []byte, onChunk func([]byte), done chan struct{}) {
	defer close(done)

	frameSize := s.FrameSize()
	pending := make([]byte, 0, 2*frameSize)
	for {
		select {
		case <-ctx.Done():
			return
		case audio := <-captured:
			pending = append(pending, audio...)
			for len(pending) >= frameSize {
				if ctx.Err() != nil {
					return
				}

				frame := make([]byte, frameSize)
				copy(frame, pending[:frameSize])
				pending = append(pending[:0], pending[frameSize:]...)
				onChunk(frame)
			}
		}
	}
}
