package relay

import (
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/upstream"
)

var ErrRegistryClosed = errors.New("registry closed")

// Registry accepts client connections over HTTP and runs one Bridge per
// connection, keyed by a generated session id.
type Registry struct {
	dialer      upstream.Dialer
	upgrader    websocket.Upgrader
	bridgeOpts  []BridgeOption
	onSessionID func(id string)

	mu       sync.Mutex
	sessions map[uuid.UUID]*Bridge
	closed   bool
}

type RegistryOption func(*Registry)

// WithBridgeOptions applies opts to every Bridge the registry creates.
func WithBridgeOptions(opts ...BridgeOption) RegistryOption {
	return func(r *Registry) { r.bridgeOpts = append(r.bridgeOpts, opts...) }
}

func WithCheckOrigin(checkOrigin func(r *http.Request) bool) RegistryOption {
	return func(r *Registry) { r.upgrader.CheckOrigin = checkOrigin }
}

func NewRegistry(dialer upstream.Dialer, opts ...RegistryOption) *Registry {
	r := &Registry{
		dialer:   dialer,
		sessions: map[uuid.UUID]*Bridge{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ServeHTTP opens the upstream session, upgrades the request and relays
// until the session ends.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.isClosed() {
		http.Error(w, ErrRegistryClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	session, err := r.dialer.Dial(req.Context())
	if err != nil {
		logger.Error("Failed to open upstream session", "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logger.Warn("Failed to upgrade client connection", "error", err)
		_ = session.Close()
		return
	}

	id := uuid.New()
	opts := append([]BridgeOption{WithSessionID(id.String())}, r.bridgeOpts...)
	bridge := NewBridge(conn, session, opts...)
	if err := r.add(id, bridge); err != nil {
		_ = bridge.Close()
		return
	}
	defer r.remove(id)

	logger.Info("Session started", "session_id", id.String(), "remote_addr", req.RemoteAddr)
	if err := bridge.Run(req.Context()); err != nil {
		logger.Warn("Session failed", "session_id", id.String(), "error", err)
	}
}

// Len returns the number of sessions currently running.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends every running session and refuses new ones.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	bridges := make([]*Bridge, 0, len(r.sessions))
	for _, bridge := range r.sessions {
		bridges = append(bridges, bridge)
	}
	r.mu.Unlock()

	var errs error
	for _, bridge := range bridges {
		errs = errors.Join(errs, bridge.Close())
	}
	return errs
}

func (r *Registry) add(id uuid.UUID, bridge *Bridge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	r.sessions[id] = bridge
	return nil
}

func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
