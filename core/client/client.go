package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/transcript"
	"github.com/koscakluka/ema-relay/core/wire"
)

const (
	defaultWriteTimeout = 5 * time.Second
	closeFrameTimeout   = time.Second
)

var ErrClosed = errors.New("client closed")

// Playback receives assistant audio. *audio.PlaybackBuffer satisfies it.
type Playback interface {
	Enqueue(chunk []byte)
	Clear()
}

type nopPlayback struct{}

func (nopPlayback) Enqueue([]byte) {}
func (nopPlayback) Clear()         {}

// Client is the user side of a relay session.
type Client struct {
	conn      *websocket.Conn
	playback  Playback
	assembler *transcript.Assembler
	onUpdate  func()

	sendMu sync.Mutex
	closed bool

	closeOnce sync.Once
}

type options struct {
	dialer    *websocket.Dialer
	header    http.Header
	playback  Playback
	assembler *transcript.Assembler
	onUpdate  func()
}

type Option func(*options)

func WithPlayback(playback Playback) Option {
	return func(o *options) {
		if playback != nil {
			o.playback = playback
		}
	}
}

func WithAssembler(assembler *transcript.Assembler) Option {
	return func(o *options) {
		if assembler != nil {
			o.assembler = assembler
		}
	}
}

// WithOnUpdate registers a callback invoked whenever the transcript
// changed. It is called from the goroutine running Run or sending text.
func WithOnUpdate(onUpdate func()) Option {
	return func(o *options) {
		if onUpdate != nil {
			o.onUpdate = onUpdate
		}
	}
}

func WithHeader(header http.Header) Option {
	return func(o *options) { o.header = header }
}

// Dial connects to the relay endpoint at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := options{
		dialer:   websocket.DefaultDialer,
		playback: nopPlayback{},
		onUpdate: func() {},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.assembler == nil {
		o.assembler = transcript.NewAssembler()
	}

	conn, _, err := o.dialer.DialContext(ctx, url, o.header)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to relay: %w", err)
	}

	return &Client{
		conn:      conn,
		playback:  o.playback,
		assembler: o.assembler,
		onUpdate:  o.onUpdate,
	}, nil
}

func (c *Client) Assembler() *transcript.Assembler {
	return c.assembler
}

// Run reads from the relay until the connection ends or ctx is done. Audio
// goes to playback, everything else into the transcript. A speech_started
// control clears pending playback before it is applied.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.isClosed() ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read from relay: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.playback.Enqueue(data)

		case websocket.TextMessage:
			msg, err := wire.DecodeServerMessage(data)
			if err != nil {
				logger.Warn("Dropped malformed relay message", "error", err)
				continue
			}
			if control, ok := msg.(events.Control); ok && control.Action == events.ActionSpeechStarted {
				c.playback.Clear()
			}
			c.assembler.Apply(msg)
			c.onUpdate()
		}
	}
}

// SendText sends typed text and records it in the transcript once sent.
func (c *Client) SendText(text string) error {
	data, err := wire.EncodeUserMessage(text)
	if err != nil {
		return fmt.Errorf("failed to encode user message: %w", err)
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		return err
	}

	c.assembler.AddUserText(text)
	c.onUpdate()
	return nil
}

// SendAudio sends one captured audio chunk. It is meant to be used as the
// capture callback.
func (c *Client) SendAudio(chunk []byte) error {
	return c.write(websocket.BinaryMessage, chunk)
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		c.sendMu.Unlock()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(closeFrameTimeout))
		if closeErr := c.conn.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close relay connection: %w", closeErr)
		}
	})
	return err
}

func (c *Client) write(msgType int, data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := c.conn.WriteMessage(msgType, data); err != nil {
		return fmt.Errorf("failed to write to relay: %w", err)
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.closed
}
