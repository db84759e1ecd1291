package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-relay/core/audio"
)

var _ audio.CaptureDevice = (*CaptureDevice)(nil)

// CaptureDevice reads the default input device with the blocking portaudio
// API. Each read of bufferSize samples is delivered as one callback.
type CaptureDevice struct {
	bufferSize int

	mu          sync.Mutex
	initialized bool
	stream      *portaudio.Stream
	in          []int16
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewCaptureDevice(bufferSize int) *CaptureDevice {
	if bufferSize <= 0 {
		bufferSize = 480
	}
	return &CaptureDevice{bufferSize: bufferSize}
}

func (c *CaptureDevice) StartCapture(ctx context.Context, encodingInfo audio.EncodingInfo, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}
	if encodingInfo.Format != audio.EncodingLinear16 {
		return fmt.Errorf("unsupported capture format %q", encodingInfo.Format.Name())
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	c.initialized = true

	c.in = make([]int16, c.bufferSize)
	stream, err := portaudio.OpenDefaultStream(audio.DefaultChannels, 0, float64(encodingInfo.SampleRate), c.bufferSize, c.in)
	if err != nil {
		return fmt.Errorf("failed to open portaudio stream: %w", err)
	}
	c.stream = stream

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.read(readCtx, c.stream, c.in, onAudio, c.done)

	return nil
}

func (c *CaptureDevice) read(ctx context.Context, stream *portaudio.Stream, in []int16, onAudio func([]byte), done chan struct{}) {
	defer close(done)

	buf := make([]byte, 2*len(in))
	for {
		if ctx.Err() != nil {
			return
		}

		if err := stream.Read(); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Overflows are reported as errors but the stream keeps going.
			logger.Debug("Failed to read from portaudio stream", "error", err)
			continue
		}

		for i, sample := range in {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(sample))
		}
		onAudio(buf)
	}
}

// StopCapture stops the read loop and releases the stream. It is safe to
// call after a partially failed StartCapture.
func (c *CaptureDevice) StopCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	var errs error
	if c.stream != nil {
		// Stop unblocks a pending Read.
		if err := c.stream.Stop(); err != nil {
			errs = fmt.Errorf("failed to stop portaudio stream: %w", err)
		}
		if c.done != nil {
			<-c.done
			c.done = nil
		}
		if err := c.stream.Close(); err != nil && errs == nil {
			errs = fmt.Errorf("failed to close portaudio stream: %w", err)
		}
		c.stream = nil
	}

	if c.initialized {
		_ = portaudio.Terminate()
		c.initialized = false
	}

	return errs
}
