package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-relay/core/audio"
)

type captureClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	onAudio func(audio []byte)

	mu sync.Mutex
}

func (c *captureClient) StartCapture(_ context.Context, encodingInfo audio.EncodingInfo, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil && c.device.IsStarted() {
		return nil
	}
	if encodingInfo.Format != audio.EncodingLinear16 {
		return fmt.Errorf("unsupported capture format %q", encodingInfo.Format.Name())
	}

	channels := audio.DefaultChannels
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = uint32(encodingInfo.SampleRate)
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = uint32(encodingInfo.SampleRate / 50) // 20ms
	c.config.Periods = 3

	c.onAudio = onAudio

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			if c.onAudio != nil {
				c.onAudio(pInput[:n])
			}
		},
	})
	if err != nil {
		c.device = nil
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	return nil
}

// StopCapture stops and releases the device. It also cleans up after a
// partially failed StartCapture.
func (c *captureClient) StopCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}

	var err error
	if c.device.IsStarted() {
		if stopErr := c.device.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop capture device: %w", stopErr)
		}
	}

	c.device.Uninit()
	c.device = nil
	c.onAudio = nil
	return err
}
