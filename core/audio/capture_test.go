package audio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// 1 kHz linear16 with 2ms frames gives 4 byte frames.
var testCaptureEncoding = EncodingInfo{SampleRate: 1000, Format: EncodingLinear16}

func TestCaptureStreamerFramesDeviceAudio(t *testing.T) {
	device := &testCaptureDevice{}
	streamer := NewCaptureStreamer(WithCaptureEncoding(testCaptureEncoding), WithFrameDuration(2*time.Millisecond))

	frames := make(chan []byte, 8)
	if err := streamer.Start(context.Background(), device, func(chunk []byte) { frames <- chunk }); err != nil {
		t.Fatalf("expected capture to start, got %v", err)
	}
	defer streamer.Stop()

	if got := streamer.FrameSize(); got != 4 {
		t.Fatalf("expected frame size 4, got %d", got)
	}

	device.emit([]byte{1, 2, 3})
	device.emit([]byte{4, 5, 6, 7, 8, 9})

	for _, want := range [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}} {
		select {
		case got := <-frames:
			if !bytes.Equal(got, want) {
				t.Fatalf("expected frame %v, got %v", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected frame %v within a second", want)
		}
	}

	select {
	case got := <-frames:
		t.Fatalf("expected incomplete frame to be held back, got %v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCaptureStreamerStartFailureReleasesDevice(t *testing.T) {
	device := &testCaptureDevice{startErr: errors.New("permission denied")}
	streamer := NewCaptureStreamer()

	err := streamer.Start(context.Background(), device, nil)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if got := device.stops(); got != 1 {
		t.Fatalf("expected device to be released once, got %d stop calls", got)
	}
	if streamer.IsCapturing() {
		t.Fatalf("expected streamer not to be capturing after failed start")
	}
	if err := streamer.Stop(); err != nil {
		t.Fatalf("expected stop after failed start to be a no-op, got %v", err)
	}
}

func TestCaptureStreamerRejectsMissingDevice(t *testing.T) {
	streamer := NewCaptureStreamer()

	if err := streamer.Start(context.Background(), nil, nil); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestCaptureStreamerStopIsIdempotent(t *testing.T) {
	device := &testCaptureDevice{}
	streamer := NewCaptureStreamer()

	if err := streamer.Start(context.Background(), device, nil); err != nil {
		t.Fatalf("expected capture to start, got %v", err)
	}
	if err := streamer.Start(context.Background(), device, nil); !errors.Is(err, ErrCaptureActive) {
		t.Fatalf("expected ErrCaptureActive on second start, got %v", err)
	}

	if err := streamer.Stop(); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	if err := streamer.Stop(); err != nil {
		t.Fatalf("expected repeated stop to succeed, got %v", err)
	}
	if got := device.stops(); got != 1 {
		t.Fatalf("expected device to be stopped once, got %d", got)
	}
}

func TestCaptureStreamerDeliversNothingAfterStop(t *testing.T) {
	device := &testCaptureDevice{}
	streamer := NewCaptureStreamer(WithCaptureEncoding(testCaptureEncoding), WithFrameDuration(2*time.Millisecond))

	frames := make(chan []byte, 8)
	if err := streamer.Start(context.Background(), device, func(chunk []byte) { frames <- chunk }); err != nil {
		t.Fatalf("expected capture to start, got %v", err)
	}
	if err := streamer.Stop(); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}

	device.emit([]byte{1, 2, 3, 4})

	select {
	case got := <-frames:
		t.Fatalf("expected no frames after stop, got %v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

type testCaptureDevice struct {
	mu        sync.Mutex
	onAudio   func([]byte)
	startErr  error
	stopCalls int
}

func (d *testCaptureDevice) StartCapture(_ context.Context, _ EncodingInfo, onAudio func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.onAudio = onAudio
	return nil
}

func (d *testCaptureDevice) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopCalls++
	return nil
}

func (d *testCaptureDevice) emit(audio []byte) {
	d.mu.Lock()
	onAudio := d.onAudio
	d.mu.Unlock()
	if onAudio != nil {
		onAudio(audio)
	}
}

func (d *testCaptureDevice) stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopCalls
}
