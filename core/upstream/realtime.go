package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultModel = "gpt-4o-realtime-preview"

	defaultHandshakeTimeout = 10 * time.Second
	defaultUpdatesCapacity  = 64
	closeFrameTimeout       = time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// RealtimeDialer connects to a realtime speech-to-speech service speaking
// the session.update / conversation.item.create / input_audio_buffer.append
// protocol over a websocket.
type RealtimeDialer struct {
	url    string
	apiKey string
	model  string

	sessionConfig   wire.SessionConfig
	dialer          *websocket.Dialer
	updatesCapacity int
}

type RealtimeOption func(*RealtimeDialer)

func WithModel(model string) RealtimeOption {
	return func(d *RealtimeDialer) {
		if model != "" {
			d.model = model
		}
	}
}

// WithSessionConfig replaces the session.update payload sent after
// connecting.
func WithSessionConfig(config wire.SessionConfig) RealtimeOption {
	return func(d *RealtimeDialer) { d.sessionConfig = config }
}

func WithHandshakeTimeout(timeout time.Duration) RealtimeOption {
	return func(d *RealtimeDialer) {
		if timeout > 0 {
			d.dialer.HandshakeTimeout = timeout
		}
	}
}

// DefaultSessionConfig asks for text and audio output, server side voice
// activity detection and transcription of user audio.
func DefaultSessionConfig() wire.SessionConfig {
	return wire.SessionConfig{
		Modalities:              []string{"text", "audio"},
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &wire.InputAudioTranscription{Model: "whisper-1"},
		TurnDetection:           &wire.TurnDetection{Type: "server_vad"},
	}
}

func NewRealtimeDialer(rawURL, apiKey string, opts ...RealtimeOption) *RealtimeDialer {
	d := &RealtimeDialer{
		url:           rawURL,
		apiKey:        apiKey,
		model:         DefaultModel,
		sessionConfig: DefaultSessionConfig(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		updatesCapacity: defaultUpdatesCapacity,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *RealtimeDialer) Dial(ctx context.Context) (Session, error) {
	ctx, span := tracer.Start(ctx, "dial upstream")
	defer span.End()
	span.SetAttributes(attribute.String("upstream.model", d.model))

	endpoint, err := url.Parse(d.url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if d.model != "" {
		query := endpoint.Query()
		query.Set("model", d.model)
		endpoint.RawQuery = query.Encode()
	}

	header := http.Header{"OpenAI-Beta": {"realtime=v1"}}
	if d.apiKey != "" {
		header.Set("Authorization", "Bearer "+d.apiKey)
	}

	conn, _, err := d.dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open socket connection to upstream: %w", err)
	}

	session := newRealtimeSession(conn, d.updatesCapacity)
	update, err := wire.EncodeSessionUpdate(d.sessionConfig)
	if err == nil {
		err = session.write(ctx, update)
	}
	if err != nil {
		_ = session.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to configure upstream session: %w", err)
	}

	go session.readLoop()

	return session, nil
}

type realtimeSession struct {
	conn *websocket.Conn

	// writeMu serializes data frames. Close does not take it, so a write
	// blocked on a stalled peer never holds up teardown.
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closed       atomic.Bool

	updates   chan events.Update
	done      chan struct{}
	closeOnce sync.Once
}

func newRealtimeSession(conn *websocket.Conn, capacity int) *realtimeSession {
	return &realtimeSession{
		conn:         conn,
		writeTimeout: defaultWriteTimeout,
		updates:      make(chan events.Update, capacity),
		done:         make(chan struct{}),
	}
}

// AppendConversationItem adds user text to the conversation and asks the
// service to respond to it.
func (s *realtimeSession) AppendConversationItem(ctx context.Context, text string) error {
	item, err := wire.EncodeAppendConversationItem(text)
	if err != nil {
		return fmt.Errorf("failed to encode conversation item: %w", err)
	}
	if err := s.write(ctx, item); err != nil {
		return err
	}

	respond, err := wire.EncodeResponseCreate()
	if err != nil {
		return fmt.Errorf("failed to encode response request: %w", err)
	}
	return s.write(ctx, respond)
}

func (s *realtimeSession) AppendInputAudio(ctx context.Context, chunk []byte) error {
	commands, err := wire.EncodeAppendInputAudio(chunk)
	if err != nil {
		return err
	}

	for _, command := range commands {
		if err := s.write(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

func (s *realtimeSession) Updates() <-chan events.Update {
	return s.updates
}

func (s *realtimeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if writeErr := s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(closeFrameTimeout)); writeErr != nil &&
			!errors.Is(writeErr, websocket.ErrCloseSent) {
			logger.Debug("Failed to send close frame to upstream", "error", writeErr)
		}
		if closeErr := s.conn.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close upstream connection: %w", closeErr)
		}
	})
	return err
}

func (s *realtimeSession) write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.writeTimeout)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if s.closed.Load() {
			return ErrSessionClosed
		}
		return fmt.Errorf("failed to write to upstream: %w", err)
	}
	return nil
}

func (s *realtimeSession) readLoop() {
	defer close(s.updates)

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}

			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("Upstream connection failed", "error", err)
			}
			s.emit(events.NewUpstreamError("transport", err.Error(), false))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		update, err := wire.DecodeUpstreamEvent(data)
		if errors.Is(err, wire.ErrUnhandledEvent) {
			continue
		} else if err != nil {
			undecodableEvents.Add(context.Background(), 1)
			logger.Warn("Failed to decode upstream event", "error", err)
			continue
		}

		if !s.emit(update) {
			return
		}
	}
}

func (s *realtimeSession) emit(update events.Update) bool {
	select {
	case s.updates <- update:
		return true
	case <-s.done:
		return false
	}
}
