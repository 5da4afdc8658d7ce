// Package webhook delivers lifecycle events (started, stopped, crashed,
// quarantined) to an operator-configured HTTP endpoint via HMAC-signed
// JSON POST requests.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is the JSON body posted to the configured webhook URL for every
// notify intent the monitor emits (spec §7: "started, stopped, crashed,
// quarantined").
type Event struct {
	Type      string `json:"type"`
	Server    string `json:"server"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Sender delivers Events to a configured URL, signing the body with
// HMAC-SHA256 when a secret is configured. A Sender with an empty URL
// skips delivery silently — this is how "webhook not configured" is
// represented, matching spec §6 ("Suppresses webhook emission if absent").
type Sender struct {
	client *http.Client
	url    string
	secret string
}

// New builds a Sender. url may be empty, meaning webhook delivery is
// disabled.
func New(url, secret string) *Sender {
	return &Sender{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
	}
}

// Send serializes ev and POSTs it to the configured URL. A non-2xx
// response or transport error is returned to the caller (the monitor logs
// it and moves on — webhook delivery failure never affects machine state).
func (s *Sender) Send(ctx context.Context, ev Event) error {
	if s.url == "" {
		return nil
	}

	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "csw-webhook/1.0")

	if s.secret != "" {
		req.Header.Set("X-Csw-Signature", "sha256="+hmacSHA256(data, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: non-2xx status %d", resp.StatusCode)
	}
	return nil
}

func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
