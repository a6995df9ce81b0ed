// Package texts fetches operator-editable message bodies from remote URLs so
// greeting and notification copy can change without a redeploy.
package texts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/m3rciful/relaybot/core/logger"
)

// FallbackGreeting is used whenever the greeting URL is unset or unreachable.
const FallbackGreeting = "Hello!"

const maxBodySize = 64 * 1024

// Fetcher retrieves remote text bodies over HTTP.
type Fetcher struct {
	client    *http.Client
	startURL  string
	notifyURL string
	fraudURL  string
}

// NewFetcher builds a Fetcher. Any URL may be empty; the matching lookup then
// short-circuits to its fallback.
func NewFetcher(client *http.Client, startURL, notifyURL, fraudURL string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, startURL: startURL, notifyURL: notifyURL, fraudURL: fraudURL}
}

// Greeting returns the /start greeting. Fetch failures degrade to
// FallbackGreeting so the guest always gets an answer.
func (f *Fetcher) Greeting(ctx context.Context) string {
	if f.startURL == "" {
		return FallbackGreeting
	}
	body, err := f.fetch(ctx, f.startURL)
	if err != nil {
		logger.Texts.Warn("greeting fetch failed",
			slog.String("event", "fetch.fail"),
			slog.String("url", f.startURL),
			slog.String("error", err.Error()),
		)
		return FallbackGreeting
	}
	if body = strings.TrimSpace(body); body == "" {
		return FallbackGreeting
	}
	return body
}

// Notification returns the admin notification body. An error means the
// notification for this cycle should be skipped, not replaced.
func (f *Fetcher) Notification(ctx context.Context) (string, error) {
	if f.notifyURL == "" {
		return "", fmt.Errorf("texts: notification url not configured")
	}
	body, err := f.fetch(ctx, f.notifyURL)
	if err != nil {
		logger.Texts.Warn("notification fetch failed",
			slog.String("event", "fetch.fail"),
			slog.String("url", f.notifyURL),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	if body = strings.TrimSpace(body); body == "" {
		return "", fmt.Errorf("texts: notification body empty")
	}
	return body, nil
}

// IsFraud reports whether the chat ID appears in the remote fraud list, one
// ID per line. An unset URL or a failed fetch never blocks anyone.
func (f *Fetcher) IsFraud(ctx context.Context, chatID int64) bool {
	if f.fraudURL == "" {
		return false
	}
	body, err := f.fetch(ctx, f.fraudURL)
	if err != nil {
		logger.Texts.Warn("fraud list fetch failed",
			slog.String("event", "fetch.fail"),
			slog.String("url", f.fraudURL),
			slog.String("error", err.Error()),
		)
		return false
	}
	want := strconv.FormatInt(chatID, 10)
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == want {
			return true
		}
	}
	return false
}

func (f *Fetcher) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("texts: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
