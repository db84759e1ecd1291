package upstream

import (
	"context"
	"errors"

	"github.com/koscakluka/ema-relay/core/events"
)

var ErrSessionClosed = errors.New("upstream session closed")

// Session is one conversation with the upstream realtime service.
//
// Updates is closed once the session ends for any reason. A transport
// failure is reported as a non-recoverable events.UpstreamError before the
// channel closes.
type Session interface {
	AppendConversationItem(ctx context.Context, text string) error
	AppendInputAudio(ctx context.Context, chunk []byte) error
	Updates() <-chan events.Update
	Close() error
}

// Dialer opens upstream sessions, one per client connection.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}
