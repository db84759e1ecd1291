package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/upstream"
	"github.com/koscakluka/ema-relay/core/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultGracePeriod = 2 * time.Second

	defaultWriteTimeout = 10 * time.Second
)

var (
	// ErrTransport reports a severed client or upstream connection. It ends
	// the session and is never retried within it.
	ErrTransport = errors.New("transport error")

	ErrAlreadyStarted = errors.New("session already started")

	errClientClosed   = errors.New("client closed the connection")
	errUpstreamClosed = errors.New("upstream session ended")
)

// Conn is the client side of a session. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Bridge pairs one client connection with one upstream session and relays
// between them until either side goes away.
type Bridge struct {
	id       string
	client   Conn
	upstream upstream.Session

	greeting     string
	gracePeriod  time.Duration
	writeTimeout time.Duration

	state atomic.Int32

	// sendMu serializes writes to the client, the pumps both write to it.
	sendMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

type BridgeOption func(*Bridge)

// WithGreeting sets the greeting carried by the connected control message.
func WithGreeting(greeting string) BridgeOption {
	return func(b *Bridge) { b.greeting = greeting }
}

// WithGracePeriod bounds how long teardown waits for both sides to close.
func WithGracePeriod(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.gracePeriod = d
		}
	}
}

func WithSessionID(id string) BridgeOption {
	return func(b *Bridge) { b.id = id }
}

func NewBridge(client Conn, session upstream.Session, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		client:       client,
		upstream:     session,
		gracePeriod:  DefaultGracePeriod,
		writeTimeout: defaultWriteTimeout,
		closed:       make(chan struct{}),
	}
	b.state.Store(int32(StateConnecting))

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Bridge) ID() string {
	return b.id
}

func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Done is closed once both sides of the session have been released.
func (b *Bridge) Done() <-chan struct{} {
	return b.closed
}

// Run greets the client and relays in both directions until the session
// ends. It always tears the session down before returning.
//
// A session ended by either side closing normally, or by ctx, returns nil.
// Otherwise the error wraps ErrTransport or is an events.UpstreamError.
func (b *Bridge) Run(ctx context.Context) (err error) {
	if !b.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return ErrAlreadyStarted
	}

	ctx, span := tracer.Start(ctx, "relay session", trace.WithAttributes(attribute.String("session.id", b.id)))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	activeSessions.Add(ctx, 1)
	defer activeSessions.Add(context.Background(), -1)

	if err := b.send(events.NewConnected(b.greeting)); err != nil {
		_ = b.Close()
		return fmt.Errorf("%w: failed to greet client: %w", ErrTransport, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	teardownHook := withContextCancelHook(groupCtx, func() { _ = b.Close() })
	group.Go(func() error { return panicSafeNamedWorker("client pump", b.pumpClient)(groupCtx) })
	group.Go(func() error { return panicSafeNamedWorker("upstream pump", b.pumpUpstream)(groupCtx) })

	err = group.Wait()
	close(teardownHook)
	if closeErr := b.Close(); closeErr != nil {
		logger.Warn("Session teardown incomplete", "session_id", b.id, "error", closeErr)
	}

	switch {
	case err == nil,
		errors.Is(err, errClientClosed),
		errors.Is(err, errUpstreamClosed),
		errors.Is(err, context.Canceled):
		logger.Info("Session ended", "session_id", b.id)
		return nil
	default:
		logger.Warn("Session ended with error", "session_id", b.id, "error", err)
		return err
	}
}

// Close tears the session down: both sides are closed concurrently and
// waited on for at most the grace period. Safe to call repeatedly and from
// any goroutine.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.state.Store(int32(StateClosing))

		var (
			mu   sync.Mutex
			errs error
			wg   sync.WaitGroup
		)
		record := func(err error) {
			mu.Lock()
			errs = errors.Join(errs, err)
			mu.Unlock()
		}

		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := b.upstream.Close(); err != nil {
				record(fmt.Errorf("failed to close upstream session: %w", err))
			}
		}()
		go func() {
			defer wg.Done()
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = b.client.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(b.gracePeriod))
			if err := b.client.Close(); err != nil {
				record(fmt.Errorf("failed to close client connection: %w", err))
			}
		}()

		released := make(chan struct{})
		go func() {
			wg.Wait()
			close(released)
		}()

		select {
		case <-released:
			mu.Lock()
			b.closeErr = errs
			mu.Unlock()
		case <-time.After(b.gracePeriod):
			b.closeErr = fmt.Errorf("session teardown exceeded grace period of %s", b.gracePeriod)
		}

		b.state.Store(int32(StateClosed))
		close(b.closed)
	})

	return b.closeErr
}

func (b *Bridge) pumpClient(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgType, data, err := b.client.ReadMessage()
		if err != nil {
			if b.State() >= StateClosing ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errClientClosed
			}
			return fmt.Errorf("%w: client read failed: %w", ErrTransport, err)
		}

		switch msgType {
		case websocket.TextMessage:
			msg, err := wire.DecodeClientMessage(data)
			if err != nil {
				malformedClientFrames.Add(ctx, 1)
				logger.Warn("Dropped malformed client frame", "session_id", b.id, "error", err)
				continue
			}
			if err := b.upstream.AppendConversationItem(ctx, msg.Text); err != nil {
				return fmt.Errorf("%w: failed to forward user message: %w", ErrTransport, err)
			}

		case websocket.BinaryMessage:
			if err := b.upstream.AppendInputAudio(ctx, data); err != nil {
				return fmt.Errorf("%w: failed to forward input audio: %w", ErrTransport, err)
			}
		}
	}
}

func (b *Bridge) pumpUpstream(ctx context.Context) error {
	updates := b.upstream.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return errUpstreamClosed
			}
			if err := b.forward(update); err != nil {
				return err
			}
		}
	}
}

// forward translates one upstream update into client frames.
func (b *Bridge) forward(update events.Update) error {
	var err error
	switch u := update.(type) {
	case events.SessionStarted:
		logger.Debug("Upstream session started", "session_id", b.id, "upstream_session_id", u.SessionID)

	case events.SpeechStarted:
		err = b.send(events.NewSpeechStartedControl(u.ItemID))

	case events.SpeechFinished:
		// the client learns about the end of speech from the transcription

	case events.StreamingDelta:
		if u.Text != "" {
			err = b.send(events.NewTextDeltaMessage(u.ItemID, u.Text))
		}
		if err == nil && len(u.Audio) > 0 {
			err = b.write(websocket.BinaryMessage, u.Audio)
		}

	case events.TranscriptionFinished:
		err = b.send(events.NewTranscription(u.ItemID, u.Text))

	case events.StreamFinished:
		err = b.send(events.NewTextDone())

	case events.UpstreamError:
		if sendErr := b.send(events.NewErrorControl(u.Message)); sendErr != nil {
			logger.Debug("Failed to notify client of upstream error", "session_id", b.id, "error", sendErr)
		}
		if u.Recoverable {
			logger.Warn("Upstream rejected a command", "session_id", b.id, "error", u)
			return nil
		}
		return u

	default:
		logger.Warn("Skipped upstream update of unknown type", "session_id", b.id, "type", fmt.Sprintf("%T", update))
	}

	if err != nil {
		return fmt.Errorf("%w: client write failed: %w", ErrTransport, err)
	}
	return nil
}

func (b *Bridge) send(msg events.ServerMessage) error {
	data, err := wire.EncodeServerMessage(msg)
	if err != nil {
		return err
	}
	return b.write(websocket.TextMessage, data)
}

func (b *Bridge) write(msgType int, data []byte) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	_ = b.client.SetWriteDeadline(time.Now().Add(b.writeTimeout))
	return b.client.WriteMessage(msgType, data)
}
