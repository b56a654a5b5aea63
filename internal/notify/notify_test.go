package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbround18/valheim/internal/httputil"
)

func TestIsDiscord(t *testing.T) {
	assert.True(t, IsDiscord("https://discord.com/api/webhooks/123/abc"))
	assert.True(t, IsDiscord("https://canary.discord.com/api/webhooks/123/abc"))
	assert.True(t, IsDiscord("https://discordapp.com/api/webhooks/123/abc"))
	assert.False(t, IsDiscord("https://discord.com/channels/1"))
	assert.False(t, IsDiscord("https://example.com/api/webhooks/1"))
	assert.False(t, IsDiscord("https://notdiscord.com/api/webhooks/1"))
}

func TestDiscordPayload(t *testing.T) {
	n, err := New("https://discord.com/api/webhooks/1/token")
	require.NoError(t, err)

	data, err := json.Marshal(n.payload(Event{Name: "Install", Status: StatusFailed, Title: "Mod install", Message: "boom"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"embeds":[{"title":"Mod install","description":"boom","color":15158332}]}`, string(data))
}

func TestSendGenericWebhook(t *testing.T) {
	var got map[string]any
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := New(srv.URL+"/hook", WithRetry(httputil.NoRetry()))
	require.NoError(t, err)
	n.now = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }

	err = n.Send(context.Background(), Event{Name: "Broadcast", Status: StatusSuccessful, Title: "Hello", Message: "World"})
	require.NoError(t, err)

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, map[string]any{
		"event_type":    map[string]any{"name": "Broadcast", "status": "Successful"},
		"event_message": "World",
		"event_title":   "Hello",
		"timestamp":     "2026-10-16T12:00:00Z",
	}, got)
}

func TestSendReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	n, err := New(srv.URL, WithRetry(httputil.NoRetry()))
	require.NoError(t, err)

	err = n.Send(context.Background(), Event{Title: "t", Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "unknown webhook")
}

func TestSendRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	retry := httputil.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	n, err := New(srv.URL, WithRetry(retry))
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), Event{Title: "t", Message: "m"}))
	assert.Equal(t, 2, attempts)
}

func TestNewRejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "discord", "ftp://host/hook", "https://"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}
}
