// Package notify delivers server event notifications to webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbround18/valheim/internal/httputil"
	"github.com/mbround18/valheim/internal/logging"
)

var log = logging.L("notify")

// Event statuses.
const (
	StatusRunning    = "Running"
	StatusSuccessful = "Successful"
	StatusFailed     = "Failed"
)

// Embed colours used for Discord webhooks.
const (
	colorRunning    = 0x3498DB
	colorSuccessful = 0x2ECC71
	colorFailed     = 0xE74C3C
)

// Event is a single notification.
type Event struct {
	Name    string
	Status  string
	Title   string
	Message string
}

// Notifier posts events to one webhook URL.
type Notifier struct {
	url    string
	client *http.Client
	retry  httputil.RetryConfig
	now    func() time.Time
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithRetry overrides the retry policy for webhook posts.
func WithRetry(cfg httputil.RetryConfig) Option {
	return func(n *Notifier) { n.retry = cfg }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// New creates a Notifier for webhookURL.
func New(webhookURL string, opts ...Option) (*Notifier, error) {
	u, err := url.Parse(webhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", webhookURL)
	}
	n := &Notifier{
		url:    webhookURL,
		client: &http.Client{Timeout: 15 * time.Second},
		retry:  httputil.DefaultRetryConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// IsDiscord reports whether webhookURL is a Discord webhook.
func IsDiscord(webhookURL string) bool {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	isDiscordHost := host == "discord.com" || host == "discordapp.com" || strings.HasSuffix(host, ".discord.com")
	return isDiscordHost && strings.HasPrefix(u.Path, "/api/webhooks")
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type eventType struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type genericPayload struct {
	EventType    eventType `json:"event_type"`
	EventMessage string    `json:"event_message"`
	EventTitle   string    `json:"event_title"`
	Timestamp    string    `json:"timestamp"`
}

func (n *Notifier) payload(e Event) any {
	if IsDiscord(n.url) {
		color := colorRunning
		switch e.Status {
		case StatusSuccessful:
			color = colorSuccessful
		case StatusFailed:
			color = colorFailed
		}
		return discordPayload{Embeds: []discordEmbed{{Title: e.Title, Description: e.Message, Color: color}}}
	}
	return genericPayload{
		EventType:    eventType{Name: e.Name, Status: e.Status},
		EventMessage: e.Message,
		EventTitle:   e.Title,
		Timestamp:    n.now().UTC().Format(time.RFC3339),
	}
}

// Send posts e to the webhook. Any non-2xx response is an error.
func (n *Notifier) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(n.payload(e))
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	headers := http.Header{"Content-Type": {"application/json"}}
	resp, err := httputil.Do(ctx, n.client, http.MethodPost, n.url, body, headers, n.retry)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Debug("notification sent", "event", e.Name, "status", e.Status)
	return nil
}
