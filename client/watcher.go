// Package client follows a running bot's progress monitor.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MattCruikshank/templatebot/internal/models"
	"github.com/MattCruikshank/templatebot/internal/protocol"
)

// Watcher subscribes to one guild on a monitor and hands its progress
// events to a callback.
type Watcher struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *zerolog.Logger

	mu           sync.RWMutex
	onEvent      func(models.Event)
	onHello      func(protocol.HelloMessage)
	onSubscribed func(guildID string)
}

// NewWatcher creates a watcher for the monitor at addr, which may be a
// host:port or an http(s) or ws(s) URL.
func NewWatcher(addr, token string, logger *zerolog.Logger) (*Watcher, error) {
	u, err := monitorURL(addr)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		url:    u,
		token:  token,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}, nil
}

// URL returns the websocket URL the watcher dials.
func (w *Watcher) URL() string {
	return w.url
}

// SetEventHandler sets the callback for progress events.
func (w *Watcher) SetEventHandler(handler func(models.Event)) {
	w.mu.Lock()
	w.onEvent = handler
	w.mu.Unlock()
}

// SetHelloHandler sets the callback for the server greeting.
func (w *Watcher) SetHelloHandler(handler func(protocol.HelloMessage)) {
	w.mu.Lock()
	w.onHello = handler
	w.mu.Unlock()
}

// SetSubscribedHandler sets the callback run once the subscription is
// confirmed.
func (w *Watcher) SetSubscribedHandler(handler func(guildID string)) {
	w.mu.Lock()
	w.onSubscribed = handler
	w.mu.Unlock()
}

// monitorURL extracts the websocket endpoint from a URL or host:port.
func monitorURL(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", fmt.Errorf("monitor address is empty")
	}
	if !strings.Contains(s, "://") {
		s = "ws://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid monitor address %q: %w", input, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported monitor scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid monitor address %q", input)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// Watch connects, subscribes to guildID and delivers events until ctx is
// done or the monitor closes the connection. Use "*" for every guild.
func (w *Watcher) Watch(ctx context.Context, guildID string) error {
	header := http.Header{}
	if w.token != "" {
		header.Set("Authorization", "Bearer "+w.token)
	}

	conn, resp, err := w.dialer.DialContext(ctx, w.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("monitor rejected the token: %w", err)
		}
		return fmt.Errorf("failed to connect to %s: %w", w.url, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	sub, err := protocol.Encode(protocol.TypeSubscribe, protocol.SubscribeMessage{GuildID: guildID})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	w.logger.Info().Str("url", w.url).Str("guild_id", guildID).Msg("Watching monitor")
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("monitor connection lost: %w", err)
		}
		w.handleMessage(message)
	}
}

func (w *Watcher) handleMessage(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to parse monitor message")
		return
	}

	w.mu.RLock()
	onEvent, onHello, onSubscribed := w.onEvent, w.onHello, w.onSubscribed
	w.mu.RUnlock()

	switch env.Type {
	case protocol.TypeHello:
		var msg protocol.HelloMessage
		if err := env.Decode(&msg); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to parse hello")
			return
		}
		if onHello != nil {
			onHello(msg)
		}

	case protocol.TypeSubscribed:
		var msg protocol.SubscribedMessage
		if err := env.Decode(&msg); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to parse subscribed")
			return
		}
		if onSubscribed != nil {
			onSubscribed(msg.GuildID)
		}

	case protocol.TypeEvent:
		var msg protocol.EventMessage
		if err := env.Decode(&msg); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to parse event")
			return
		}
		if onEvent != nil {
			onEvent(msg.Event)
		}

	case protocol.TypeError:
		var msg protocol.ErrorMessage
		if err := env.Decode(&msg); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to parse error")
			return
		}
		w.logger.Error().Str("code", msg.Code).Msg(msg.Message)
	}
}
