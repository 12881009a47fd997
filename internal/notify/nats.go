package notify

import (
	"context"
	"fmt"
	"time"

	"feedline/internal/logging"
	"feedline/internal/types"

	"github.com/nats-io/nats.go"
)

// NATSSource subscribes to a subject. With Queue set the subscription
// joins a queue group so that several clients share the stream.
type NATSSource struct {
	URL        string
	Subject    string
	Queue      string
	Token      func() string
	MaxBackoff time.Duration
}

// Run implements Source.
func (s *NATSSource) Run(ctx context.Context, deliver func(types.Notification)) error {
	url := s.URL
	if url == "" {
		url = nats.DefaultURL
	}
	return reconnect(ctx, "nats "+url, s.MaxBackoff, func(ctx context.Context, connected func()) error {
		return s.serve(ctx, url, deliver, connected)
	})
}

func (s *NATSSource) serve(ctx context.Context, url string, deliver func(types.Notification), connected func()) error {
	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name("feedline"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.NotifyWarn("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Notify("nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	}
	if s.Token != nil {
		if tok := s.Token(); tok != "" {
			opts = append(opts, nats.Token(tok))
		}
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, 64)
	var sub *nats.Subscription
	if s.Queue != "" {
		sub, err = nc.ChanQueueSubscribe(s.Subject, s.Queue, msgs)
	} else {
		sub, err = nc.ChanSubscribe(s.Subject, msgs)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.Subject, err)
	}
	defer sub.Unsubscribe()
	connected()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return fmt.Errorf("connection closed")
		case m := <-msgs:
			deliverPayload("nats", m.Data, deliver)
		}
	}
}
