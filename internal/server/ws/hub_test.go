package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanBus struct {
	msgs chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.msgs <- payload
	return nil
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.msgs, nil
}

func startHub(t *testing.T) (*Hub, *chanBus, *httptest.Server, context.CancelFunc) {
	t.Helper()
	bus := &chanBus{msgs: make(chan []byte, 8)}
	hub := NewHub(bus, "settlements", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return hub, bus, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHub_RelaysAttemptEvents(t *testing.T) {
	hub, bus, srv, _ := startHub(t)
	conn := dial(t, srv, "")

	hello := readJSON(t, conn)
	assert.Equal(t, "settler_status", hello["type"])
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "settlements", []byte(`{"market_id":"7","state":"report_submitted"}`)))
	ev := readJSON(t, conn)
	assert.Equal(t, "7", ev["market_id"])
}

func TestHub_MarketFilter(t *testing.T) {
	hub, bus, srv, _ := startHub(t)
	conn := dial(t, srv, "?market=9")
	readJSON(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	bus.Publish(context.Background(), "settlements", []byte(`{"market_id":"7"}`))
	bus.Publish(context.Background(), "settlements", []byte(`{"market_id":"9"}`))
	ev := readJSON(t, conn)
	assert.Equal(t, "9", ev["market_id"])
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, _, srv, cancel := startHub(t)
	conn := dial(t, srv, "")
	readJSON(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}
