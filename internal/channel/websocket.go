// Package channel exposes the gateway to the outside: the WebSocket event
// stream tenants subscribe to, and outbound webhook delivery for inbound
// messages.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wagate/internal/domain"
	"wagate/internal/metrics"
	"wagate/internal/notify"
)

const writeTimeout = 10 * time.Second

// ServerConfig configures the realtime event server.
type ServerConfig struct {
	Host            string
	Port            int
	Path            string // WebSocket endpoint path (default: /ws)
	MetricsEndpoint string // empty disables the metrics handler
	Hub             *notify.Hub
	Logger          *slog.Logger
}

// Server streams session events to tenants over WebSocket. Each connection
// subscribes to one tenant's feed; a tenant may hold several connections.
type Server struct {
	host    string
	port    int
	path    string
	metrics string
	hub     *notify.Hub
	logger  *slog.Logger
	server  *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// EventFrame is the JSON wire format of one streamed event.
type EventFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure CORS for production)
	},
}

// NewServer creates the realtime event server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:    cfg.Host,
		port:    cfg.Port,
		path:    cfg.Path,
		metrics: cfg.MetricsEndpoint,
		hub:     cfg.Hub,
		logger:  cfg.Logger,
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	if s.metrics != "" {
		mux.HandleFunc(s.metrics, metrics.Collector.Handler())
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("realtime server starting", "addr", s.server.Addr, "path", s.path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.closeAllConns()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("realtime server: %w", err)
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	sub := s.hub.Subscribe(tenantID)
	s.logger.Info("event stream opened", "tenant", tenantID)

	defer func() {
		sub.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info("event stream closed", "tenant", tenantID)
	}()

	// Read loop only detects disconnects; clients never send payloads.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", "tenant", tenantID, "err", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(frameFor(ev)); err != nil {
				s.logger.Debug("websocket write failed", "tenant", tenantID, "err", err)
				return
			}
		}
	}
}

func frameFor(ev domain.Event) EventFrame {
	return EventFrame{
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		Payload:   ev.Payload,
		Timestamp: ev.Timestamp,
	}
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}
