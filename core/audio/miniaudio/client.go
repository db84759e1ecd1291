package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-relay/core/audio"
)

var (
	_ audio.CaptureDevice = (*captureClient)(nil)
	_ audio.Sink          = (*playbackSink)(nil)
	_ audio.Flusher       = (*playbackSink)(nil)
)

// Client owns one miniaudio context shared by the playback sink and the
// capture device it hands out.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	capture      captureClient

	mu    sync.Mutex
	sinks []*playbackSink
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize miniaudio context: %w", audio.ErrDeviceUnavailable, err)
	}

	client := &Client{audioContext: audioCtx}
	client.capture.audioContext = audioCtx
	return client, nil
}

// OpenPlaybackSink satisfies audio.SinkOpener.
func (c *Client) OpenPlaybackSink(encodingInfo audio.EncodingInfo) (audio.Sink, error) {
	sink := newPlaybackSink()
	if err := sink.Init(c.audioContext, encodingInfo); err != nil {
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}
	if err := sink.Start(); err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	c.mu.Lock()
	c.sinks = append(c.sinks, sink)
	c.mu.Unlock()
	return sink, nil
}

func (c *Client) CaptureDevice() audio.CaptureDevice {
	return &c.capture
}

func (c *Client) Close() {
	_ = c.capture.StopCapture()

	c.mu.Lock()
	sinks := c.sinks
	c.sinks = nil
	c.mu.Unlock()
	for _, sink := range sinks {
		_ = sink.Close()
	}

	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}
