package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"feedline/internal/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffCapped(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: 30 * time.Second}
	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	b := &Backoff{}
	assert.Equal(t, initialBackoff, b.Next())
	for i := 0; i < 20; i++ {
		assert.LessOrEqual(t, b.Next(), DefaultMaxBackoff)
	}
}

func TestDecode(t *testing.T) {
	n, err := decode([]byte(`{"id":5,"type":"follow","message":"bob followed you","isUnRead":true}`))
	require.NoError(t, err)
	assert.Equal(t, types.ID("5"), n.ID)
	assert.True(t, n.IsUnRead)

	n, err = decode([]byte(`{"notification":{"id":"n1","type":"like","sender":{"id":"u2","login":"bob"}}}`))
	require.NoError(t, err)
	assert.Equal(t, types.ID("n1"), n.ID)
	require.NotNil(t, n.Sender)
	assert.Equal(t, "bob", n.Sender.Login)

	_, err = decode([]byte(`not json`))
	assert.Error(t, err)
	_, err = decode([]byte(`{"message":"no id"}`))
	assert.Error(t, err)
}

func TestWebSocketSourceDeliversAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	var auth []string
	conns := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		conns++
		n := conns
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"a","type":"like"}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
			return // drop the connection
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"b","type":"comment"}`))
		// Hold the connection until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	token := "t1"
	src := &WebSocketSource{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:      func() string { mu.Lock(); defer mu.Unlock(); return token },
		MaxBackoff: 20 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan types.Notification, 4)
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(n types.Notification) {
			if n.ID == "a" {
				// A new login happens before the reconnect.
				mu.Lock()
				token = "t2"
				mu.Unlock()
			}
			got <- n
		})
	}()

	first := <-got
	second := <-got
	assert.Equal(t, types.ID("a"), first.ID)
	assert.Equal(t, types.ID("b"), second.ID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("source did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(auth), 2)
	assert.Equal(t, "Bearer t1", auth[0])
	assert.Equal(t, "Bearer t2", auth[len(auth)-1], "token is re-read on reconnect")
}

func TestCenterListen(t *testing.T) {
	c := NewCenter(&fakeAPI{}, 10)
	src := sourceFunc(func(ctx context.Context, deliver func(types.Notification)) error {
		deliver(note("x", true))
		deliver(note("y", true))
		return nil
	})
	require.NoError(t, c.Listen(context.Background(), src))
	assert.Equal(t, []string{"y", "x"}, ids(c.Items()))
}

type sourceFunc func(ctx context.Context, deliver func(types.Notification)) error

func (f sourceFunc) Run(ctx context.Context, deliver func(types.Notification)) error {
	return f(ctx, deliver)
}

func TestNATSSource(t *testing.T) {
	url := os.Getenv("FEEDLINE_TEST_NATS_URL")
	if url == "" {
		t.Skip("FEEDLINE_TEST_NATS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	src := &NATSSource{URL: url, Subject: "feedline.test.notifications"}
	_ = src.Run(ctx, func(types.Notification) {})
}

func TestAMQPSource(t *testing.T) {
	url := os.Getenv("FEEDLINE_TEST_AMQP_URL")
	if url == "" {
		t.Skip("FEEDLINE_TEST_AMQP_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	src := &AMQPSource{URL: url, Queue: "feedline.test.notifications"}
	_ = src.Run(ctx, func(types.Notification) {})
}
