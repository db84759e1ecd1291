package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/events"
)

type fakeService struct {
	server *httptest.Server

	header chan http.Header
	conns  chan *websocket.Conn
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	service := &fakeService{
		header: make(chan http.Header, 1),
		conns:  make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	service.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		service.header <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		service.conns <- conn
	}))
	t.Cleanup(service.server.Close)

	return service
}

func (s *fakeService) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *fakeService) accept(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case conn := <-s.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for upstream connection")
		return nil
	}
}

func readType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read command: %v", err)
	}
	var command struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &command); err != nil {
		t.Fatalf("command is not json: %v", err)
	}
	return command.Type
}

func nextUpdate(t *testing.T, session Session) (events.Update, bool) {
	t.Helper()

	select {
	case update, ok := <-session.Updates():
		return update, ok
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update")
		return nil, false
	}
}

func dial(t *testing.T, service *fakeService) (Session, *websocket.Conn) {
	t.Helper()

	session, err := NewRealtimeDialer(service.url(), "sk-test").Dial(context.Background())
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	return session, service.accept(t)
}

func TestDialAuthenticatesAndConfiguresSession(t *testing.T) {
	service := newFakeService(t)
	_, conn := dial(t, service)

	header := <-service.header
	if got := header.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("expected bearer authorization, got %q", got)
	}
	if got := readType(t, conn); got != "session.update" {
		t.Fatalf("expected session.update first, got %q", got)
	}
}

func TestAppendConversationItemRequestsResponse(t *testing.T) {
	service := newFakeService(t)
	session, conn := dial(t, service)
	readType(t, conn)

	if err := session.AppendConversationItem(context.Background(), "hello"); err != nil {
		t.Fatalf("expected append to succeed, got %v", err)
	}

	if got := readType(t, conn); got != "conversation.item.create" {
		t.Fatalf("expected conversation.item.create, got %q", got)
	}
	if got := readType(t, conn); got != "response.create" {
		t.Fatalf("expected response.create, got %q", got)
	}
}

func TestAppendInputAudioSendsAppendCommand(t *testing.T) {
	service := newFakeService(t)
	session, conn := dial(t, service)
	readType(t, conn)

	if err := session.AppendInputAudio(context.Background(), []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("expected append to succeed, got %v", err)
	}
	if got := readType(t, conn); got != "input_audio_buffer.append" {
		t.Fatalf("expected input_audio_buffer.append, got %q", got)
	}
}

func TestUpdatesSkipUnhandledAndMalformedEvents(t *testing.T) {
	service := newFakeService(t)
	session, conn := dial(t, service)

	for _, frame := range []string{
		`{"type":"rate_limits.updated"}`,
		`{not json`,
		`{"type":"response.text.delta","item_id":"item_1","delta":"Hi"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("failed to write event: %v", err)
		}
	}

	update, ok := nextUpdate(t, session)
	if !ok {
		t.Fatalf("expected an update before the channel closed")
	}
	delta, isDelta := update.(events.StreamingDelta)
	if !isDelta || delta.Text != "Hi" {
		t.Fatalf("expected text delta Hi, got %#v", update)
	}
}

func TestTransportFailureReportsFatalErrorAndCloses(t *testing.T) {
	service := newFakeService(t)
	session, conn := dial(t, service)

	_ = conn.Close()

	update, ok := nextUpdate(t, session)
	if !ok {
		t.Fatalf("expected an error update before the channel closed")
	}
	upstreamErr, isErr := update.(events.UpstreamError)
	if !isErr || upstreamErr.Recoverable {
		t.Fatalf("expected fatal upstream error, got %#v", update)
	}

	if _, ok := nextUpdate(t, session); ok {
		t.Fatalf("expected updates channel to be closed")
	}
}

func TestCloseIsIdempotentAndStopsWrites(t *testing.T) {
	service := newFakeService(t)
	session, _ := dial(t, service)

	if err := session.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	_ = session.Close()

	if err := session.AppendConversationItem(context.Background(), "late"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	for range session.Updates() {
	}
}

func TestCloseReleasesWriteBlockedOnStalledService(t *testing.T) {
	service := newFakeService(t)
	session, _ := dial(t, service)

	chunk := make([]byte, 128*1024)
	writerDone := make(chan error, 1)
	go func() {
		for {
			if err := session.AppendInputAudio(context.Background(), chunk); err != nil {
				writerDone <- err
				return
			}
		}
	}()

	// let the socket buffers fill so the writer is parked inside a write
	time.Sleep(300 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = session.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected Close to return while a write was blocked")
	}

	select {
	case err := <-writerDone:
		if err == nil {
			t.Fatalf("expected blocked write to fail after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected blocked write to be released by Close")
	}
}

func TestDialFailsForUnreachableService(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := NewRealtimeDialer("ws://127.0.0.1:1", "sk-test").Dial(ctx); err == nil {
		t.Fatalf("expected dial to fail")
	}
}
