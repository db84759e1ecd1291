package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultIdleWait     = 10 * time.Millisecond
	defaultCloseTimeout = time.Second
)

var ErrPlaybackClosed = errors.New("playback buffer closed")

// PlaybackBuffer decouples bursty network arrival of audio from real-time
// playback. Producers call Enqueue; a single drain loop feeds the sink.
//
// By default the queue is unbounded. WithMaxQueuedChunks switches to a
// drop-oldest policy.
type PlaybackBuffer struct {
	mu    sync.Mutex
	queue [][]byte
	// generation is bumped by Clear so chunks dequeued before it are skipped.
	generation uint64

	opener       SinkOpener
	encodingInfo EncodingInfo
	maxQueued    int
	idleWait     time.Duration
	closeTimeout time.Duration

	startOnce sync.Once
	startErr  error
	sink      Sink

	ctx          context.Context
	cancel       context.CancelFunc
	updateSignal chan struct{}
	done         chan struct{}

	closeOnce sync.Once
	closed    bool
}

type PlaybackOption func(*PlaybackBuffer)

func WithPlaybackEncoding(encodingInfo EncodingInfo) PlaybackOption {
	return func(b *PlaybackBuffer) {
		if !encodingInfo.IsZero() {
			b.encodingInfo = encodingInfo
		}
	}
}

// WithMaxQueuedChunks bounds the queue. When full, the oldest chunk is
// discarded to make room for the new one. n <= 0 means unbounded.
func WithMaxQueuedChunks(n int) PlaybackOption {
	return func(b *PlaybackBuffer) { b.maxQueued = n }
}

func WithIdleWait(d time.Duration) PlaybackOption {
	return func(b *PlaybackBuffer) {
		if d > 0 {
			b.idleWait = d
		}
	}
}

// NewPlaybackBuffer creates a buffer that opens its sink with opener on first
// use. A nil opener gives a plain queue with no drain loop, which is useful
// when the caller drains with Dequeue itself.
func NewPlaybackBuffer(opener SinkOpener, opts ...PlaybackOption) *PlaybackBuffer {
	ctx, cancel := context.WithCancel(context.Background())
	b := &PlaybackBuffer{
		opener:       opener,
		encodingInfo: GetDefaultEncodingInfo(),
		idleWait:     defaultIdleWait,
		closeTimeout: defaultCloseTimeout,
		ctx:          ctx,
		cancel:       cancel,
		updateSignal: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Start opens the sink and starts the drain loop. It is called lazily by
// Enqueue; calling it directly surfaces device errors early. Repeated calls
// return the result of the first one.
func (b *PlaybackBuffer) Start() error {
	if b.opener == nil {
		return nil
	}

	b.startOnce.Do(func() {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			b.startErr = ErrPlaybackClosed
			return
		}

		sink, err := b.opener(b.encodingInfo)
		if err != nil {
			b.startErr = fmt.Errorf("%w: failed to open playback sink: %w", ErrDeviceUnavailable, err)
			logger.Error("Failed to open playback sink", "error", err)
			return
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			_ = sink.Close()
			b.startErr = ErrPlaybackClosed
			return
		}
		b.sink = sink
		b.mu.Unlock()
		go b.drain(sink)
	})

	return b.startErr
}

// Enqueue appends chunk to the tail of the queue. It never blocks on the
// sink. The buffer keeps a reference to chunk, so the caller must not reuse
// it.
func (b *PlaybackBuffer) Enqueue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, chunk)
	dropped := 0
	if b.maxQueued > 0 {
		for len(b.queue) > b.maxQueued {
			b.queue[0] = nil
			b.queue = b.queue[1:]
			dropped++
		}
	}
	b.mu.Unlock()

	if dropped > 0 {
		droppedPlaybackChunks.Add(context.Background(), int64(dropped))
	}

	b.signalUpdate()
	_ = b.Start() // logged inside, enqueueing never fails
}

// Dequeue removes and returns the chunk at the head of the queue.
func (b *PlaybackBuffer) Dequeue() ([]byte, bool) {
	chunk, _, ok := b.next()
	return chunk, ok
}

func (b *PlaybackBuffer) next() ([]byte, uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil, b.generation, false
	}

	chunk := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return chunk, b.generation, true
}

// play writes chunk unless the buffer was cleared after it was dequeued.
func (b *PlaybackBuffer) play(sink Sink, chunk []byte, generation uint64) error {
	b.mu.Lock()
	stale := generation != b.generation
	b.mu.Unlock()
	if stale {
		return nil
	}
	return sink.Write(b.ctx, chunk)
}

// Clear discards everything queued but not yet handed to the sink, in one
// step. Chunks enqueued afterwards are unaffected.
func (b *PlaybackBuffer) Clear() {
	b.mu.Lock()
	b.queue = nil
	b.generation++
	sink := b.sink
	b.mu.Unlock()

	if flusher, ok := sink.(Flusher); ok {
		flusher.Flush()
	}
}

func (b *PlaybackBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops the drain loop and releases the sink. It waits for the loop at
// most closeTimeout.
func (b *PlaybackBuffer) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.queue = nil
		sink := b.sink
		b.mu.Unlock()

		b.cancel()
		if flusher, ok := sink.(Flusher); ok {
			flusher.Flush()
		}

		if sink == nil {
			return
		}

		select {
		case <-b.done:
		case <-time.After(b.closeTimeout):
			err = fmt.Errorf("playback loop did not stop within %s", b.closeTimeout)
		}

		if closeErr := sink.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close playback sink: %w", closeErr))
		}
	})

	return err
}

func (b *PlaybackBuffer) drain(sink Sink) {
	defer close(b.done)

	idle := time.NewTimer(b.idleWait)
	defer idle.Stop()

	for {
		if b.ctx.Err() != nil {
			return
		}

		chunk, generation, ok := b.next()
		if !ok {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(b.idleWait)

			select {
			case <-b.ctx.Done():
				return
			case <-b.updateSignal:
			case <-idle.C:
			}
			continue
		}

		if err := b.play(sink, chunk, generation); err != nil {
			if b.ctx.Err() != nil {
				return
			}
			logger.Warn("Failed to write audio to playback sink", "error", err)
		}
	}
}

func (b *PlaybackBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
