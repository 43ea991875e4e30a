// Package server is the optional progress monitor: a websocket stream of
// reconciliation events and a small read API over templates and the
// latest backup.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MattCruikshank/templatebot/internal/auth"
	"github.com/MattCruikshank/templatebot/internal/protocol"
	"github.com/MattCruikshank/templatebot/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server holds the monitor's dependencies.
type Server struct {
	hub       *Hub
	templates *store.Templates
	auth      *auth.Authenticator
	admin     *AdminHandler
	version   string
	logger    *zerolog.Logger
}

// NewServer creates a new server instance.
func NewServer(hub *Hub, templates *store.Templates, backups *store.Backups, authenticator *auth.Authenticator, version string, logger *zerolog.Logger) *Server {
	return &Server{
		hub:       hub,
		templates: templates,
		auth:      authenticator,
		admin:     NewAdminHandler(templates, backups, logger),
		version:   version,
		logger:    logger,
	}
}

// Handler returns the monitor's routes behind the token check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("GET /ws", s.HandleWebSocket)

	// Admin API endpoints
	mux.HandleFunc("GET /api/templates", s.admin.HandleTemplates)
	mux.HandleFunc("/api/templates/{name}", s.admin.HandleTemplate)
	mux.HandleFunc("GET /api/backup", s.admin.HandleBackup)

	return s.auth.Middleware(requestLogger(s.logger)(mux))
}

// ListenAndServe serves the monitor on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the monitor on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Bool("auth", s.auth.Enabled()).Msg("Monitor listening")
	if err := httpServer.Serve(ln); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// HandleWebSocket handles WebSocket connections.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := s.hub.NewClient(conn)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	s.sendHello(client)

	// Start read/write pumps
	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) sendHello(client *Client) {
	names, err := s.templates.List()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list templates")
		client.SendError(protocol.ErrCodeInternal, "Could not list templates")
	}
	if names == nil {
		names = []string{}
	}
	_ = client.SendEnvelope(protocol.TypeHello, protocol.HelloMessage{
		Version:   s.version,
		Templates: names,
	})
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.hub.Unregister(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", client.id).Msg("WebSocket read error")
			}
			break
		}

		s.handleMessage(client, message)
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(client *Client, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		client.SendError(protocol.ErrCodeInvalidMsg, "Invalid message format")
		return
	}

	switch env.Type {
	case protocol.TypeSubscribe:
		var msg protocol.SubscribeMessage
		if err := env.Decode(&msg); err != nil || msg.GuildID == "" {
			client.SendError(protocol.ErrCodeInvalidMsg, "Invalid subscribe message")
			return
		}
		if !s.hub.Subscribe(client, msg.GuildID) {
			return
		}
		_ = client.SendEnvelope(protocol.TypeSubscribed, protocol.SubscribedMessage{GuildID: msg.GuildID})
		s.logger.Debug().Str("client_id", client.id).Str("guild_id", msg.GuildID).Msg("Subscribed")

	case protocol.TypeUnsubscribe:
		var msg protocol.UnsubscribeMessage
		if err := env.Decode(&msg); err != nil {
			client.SendError(protocol.ErrCodeInvalidMsg, "Invalid unsubscribe message")
			return
		}
		s.hub.Unsubscribe(client, msg.GuildID)

	default:
		client.SendError(protocol.ErrCodeInvalidMsg, "Unknown message type")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func requestLogger(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.status).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
