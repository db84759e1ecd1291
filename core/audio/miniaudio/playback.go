package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-relay/core/audio"
)

const maxPendingPlayback = 200 * time.Millisecond

var errSinkClosed = errors.New("playback sink closed")

// playbackSink feeds the miniaudio data callback. Write blocks while more
// than maxPendingPlayback of audio is waiting, which paces the drain loop of
// audio.PlaybackBuffer to the device clock.
type playbackSink struct {
	device *malgo.Device
	config malgo.DeviceConfig

	mu         sync.Mutex
	pending    []byte
	maxPending int
	closed     bool
	drained    *sync.Cond
}

func newPlaybackSink() *playbackSink {
	sink := &playbackSink{}
	sink.drained = sync.NewCond(&sink.mu)
	return sink
}

func (s *playbackSink) Init(audioContext *malgo.AllocatedContext, encodingInfo audio.EncodingInfo) error {
	if encodingInfo.Format != audio.EncodingLinear16 {
		return fmt.Errorf("unsupported playback format %q", encodingInfo.Format.Name())
	}

	sampleRate := uint32(encodingInfo.SampleRate)
	channels := audio.DefaultChannels
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	s.config = malgo.DefaultDeviceConfig(malgo.Playback)
	s.config.SampleRate = sampleRate
	s.config.Playback.Format = format
	s.config.Playback.Channels = uint32(channels)
	s.config.Alsa.NoMMap = 1
	s.config.PeriodSizeInFrames = sampleRate / 50 // 20ms
	s.config.Periods = 4

	s.maxPending = encodingInfo.BytesFor(maxPendingPlayback)

	var err error
	if s.device, err = malgo.InitDevice(
		audioContext.Context,
		s.config,
		malgo.DeviceCallbacks{Data: s.processAudio(bytesPerFrame)},
	); err != nil {
		return err
	}

	return nil
}

func (s *playbackSink) Start() error {
	if s.device == nil {
		return fmt.Errorf("device not initialized")
	}

	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

func (s *playbackSink) Write(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSinkClosed
	}

	s.pending = append(s.pending, chunk...)
	// The data callback broadcasts every period, so ctx is rechecked at
	// least that often.
	for len(s.pending) > s.maxPending && !s.closed && ctx.Err() == nil {
		s.drained.Wait()
	}

	return ctx.Err()
}

func (s *playbackSink) Flush() {
	s.mu.Lock()
	s.pending = s.pending[:0]
	s.mu.Unlock()
	s.drained.Broadcast()
}

func (s *playbackSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
	s.drained.Broadcast()

	if s.device == nil {
		return nil
	}

	var err error
	if s.device.IsStarted() {
		if stopErr := s.device.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop playback device: %w", stopErr)
		}
	}
	s.device.Uninit()
	s.device = nil
	return err
}

func (s *playbackSink) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame
		if need > len(pOutput) {
			need = len(pOutput)
		}

		s.mu.Lock()
		n := copy(pOutput[:need], s.pending)
		s.pending = s.pending[n:]
		s.mu.Unlock()
		s.drained.Broadcast()

		// Underrun: keep the device running on silence.
		clear(pOutput[n:need])
	}
}
