package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"feedline/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketSource reads notifications from a WebSocket endpoint. The
// bearer token is read at every dial so a refreshed login is picked up on
// reconnect.
type WebSocketSource struct {
	URL        string
	Token      func() string
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
}

// Run implements Source.
func (s *WebSocketSource) Run(ctx context.Context, deliver func(types.Notification)) error {
	return reconnect(ctx, "websocket "+s.URL, s.MaxBackoff, func(ctx context.Context, connected func()) error {
		return s.serve(ctx, deliver, connected)
	})
}

func (s *WebSocketSource) serve(ctx context.Context, deliver func(types.Notification), connected func()) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if s.Token != nil {
		if tok := s.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	header.Set("X-Request-ID", uuid.NewString())

	conn, resp, err := dialer.DialContext(ctx, s.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	connected()

	// Unblock ReadMessage when the caller goes away.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		deliverPayload("websocket", data, deliver)
	}
}
