package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TokenProvider supplies short-lived WebSocket authentication tokens
type TokenProvider interface {
	GetWebSocketsToken(ctx context.Context) (*WebSocketsToken, error)
}

// StreamConfig holds private stream configuration
type StreamConfig struct {
	URL           string
	TokenLifetime time.Duration // Exchange-documented token validity
	Channels      []string      // Private channels, e.g. ownTrades, openOrders
}

// PrivateStream maintains an authenticated WebSocket connection. The auth
// token expires server-side, so the stream reconnects with a fresh token at
// 80% of the configured lifetime rather than waiting for the server to drop
// the connection.
type PrivateStream struct {
	tokens TokenProvider
	config StreamConfig
	logger zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	reconnects int

	onMessage func(payload []byte)
}

// NewPrivateStream creates a private stream client
func NewPrivateStream(tokens TokenProvider, cfg StreamConfig, logger zerolog.Logger) *PrivateStream {
	if cfg.TokenLifetime <= 0 {
		cfg.TokenLifetime = 12 * time.Minute
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = []string{"ownTrades"}
	}
	return &PrivateStream{
		tokens: tokens,
		config: cfg,
		logger: logger.With().Str("component", "PrivateStream").Logger(),
	}
}

// OnMessage sets the raw message callback
func (s *PrivateStream) OnMessage(handler func(payload []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = handler
}

// Reconnects returns how many times the stream has reconnected
func (s *PrivateStream) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Run connects and processes the stream until ctx is cancelled. Each
// connection cycle fetches a fresh token; failures back off and retry.
func (s *PrivateStream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.connectAndServe(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn().Err(err).Dur("backoff", backoff).Msg("stream disconnected, reconnecting")

		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// connectAndServe runs one connection cycle: token, dial, subscribe, read
// until the token refresh deadline or a read error.
func (s *PrivateStream) connectAndServe(ctx context.Context) error {
	token, err := s.tokens.GetWebSocketsToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch websocket token: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.config.URL, err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	for _, channel := range s.config.Channels {
		sub := map[string]interface{}{
			"event": "subscribe",
			"subscription": map[string]interface{}{
				"name":  channel,
				"token": token.Token,
			},
		}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
	}

	s.logger.Info().Int("channels", len(s.config.Channels)).Msg("private stream connected")

	// Reconnect with a fresh token well before the current one expires
	refreshAt := time.Now().Add(s.config.TokenLifetime * 8 / 10)

	readErr := make(chan error, 1)
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			s.dispatch(payload)
		}
	}()

	select {
	case <-ctx.Done():
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		return ctx.Err()
	case err := <-readErr:
		return fmt.Errorf("read error: %w", err)
	case <-time.After(time.Until(refreshAt)):
		s.logger.Info().Msg("token refresh due, cycling connection")
		return fmt.Errorf("token refresh cycle")
	}
}

func (s *PrivateStream) dispatch(payload []byte) {
	// Heartbeats and subscription acks are noise for callers
	var event struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &event); err == nil {
		switch event.Event {
		case "heartbeat", "systemStatus", "subscriptionStatus", "pong":
			return
		}
	}

	s.mu.Lock()
	handler := s.onMessage
	s.mu.Unlock()

	if handler != nil {
		handler(payload)
	}
}
