package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	name  string
	err   error
	calls int
}

func (s *stubSender) Send(context.Context, string, string) error {
	s.calls++
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{" settlement_failed "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), "settled", "t", "m"))
	assert.Equal(t, 0, s.calls)

	require.NoError(t, n.Notify(context.Background(), "settlement_failed", "t", "m"))
	assert.Equal(t, 1, s.calls)
}

func TestNotifier_EmptyFilterAllowsAll(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Equal(t, 1, s.calls)
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, quietLogger()).Enabled())
}

func TestNotifier_ContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &stubSender{name: "bad", err: boom}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), "settled", "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, 1, good.calls)
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "tok", "42")
	require.NoError(t, s.Send(context.Background(), "Settled", "Outcome: 1"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Settled*\nOutcome: 1", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
}

func TestDiscordSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Settled", "ok"))
	assert.Equal(t, "**Settled**\nok", got["content"])
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad webhook")
}
