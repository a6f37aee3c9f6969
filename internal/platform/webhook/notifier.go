// Package webhook delivers signed event notifications to a single
// configured endpoint. Payloads are JSON, signed with HMAC-SHA256 and
// retried with backoff on transport errors and non-2xx responses.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Headers set on every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEventID   = "X-Webhook-ID"
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// Event is the JSON envelope POSTed to the endpoint.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Attempt records one delivery try.
type Attempt struct {
	Attempt    int           `json:"attempt"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// ErrDelivery is returned when every attempt failed.
var ErrDelivery = errors.New("webhook delivery failed")

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature, with or without the
// "sha256=" prefix, matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// Option configures a Notifier.
type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithRetryDelays sets the pause before each retry. The number of delays
// is the number of retries.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(n *Notifier) { n.delays = delays }
}

func WithLogger(l zerolog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// Notifier posts events to one endpoint.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	delays []time.Duration
	logger zerolog.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

// NewNotifier validates rawURL and returns a notifier for it. An empty
// secret sends unsigned payloads.
func NewNotifier(rawURL, secret string, opts ...Option) (*Notifier, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	n := &Notifier{
		url:    rawURL,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		delays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url has no host")
	}
	return nil
}

// Send delivers one event, retrying until it succeeds, the retries run
// out or ctx is done. It returns every attempt made.
func (n *Notifier) Send(ctx context.Context, eventType string, data any) ([]Attempt, error) {
	event := Event{ID: uuid.NewString(), Type: eventType, Timestamp: n.now().UTC(), Data: data}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode webhook event: %w", err)
	}

	var attempts []Attempt
	for i := 0; ; i++ {
		a := n.deliver(ctx, event, payload)
		a.Attempt = i + 1
		attempts = append(attempts, a)
		if a.Error == "" {
			return attempts, nil
		}
		if i >= len(n.delays) {
			break
		}
		select {
		case <-ctx.Done():
			return attempts, fmt.Errorf("%w: %v", ErrDelivery, ctx.Err())
		case <-time.After(n.delays[i]):
		}
	}
	return attempts, fmt.Errorf("%w after %d attempts: %s", ErrDelivery, len(attempts), attempts[len(attempts)-1].Error)
}

func (n *Notifier) deliver(ctx context.Context, event Event, payload []byte) Attempt {
	var a Attempt
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		a.Error = err.Error()
		return a
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderEvent, event.Type)
	req.Header.Set(HeaderTimestamp, event.Timestamp.Format(time.RFC3339))
	if n.secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+SignPayload(payload, n.secret))
	}

	start := time.Now()
	resp, err := n.client.Do(req)
	a.Duration = time.Since(start)
	if err != nil {
		a.Error = err.Error()
		return a
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	a.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return a
}

// Dispatch sends the event in the background with its own timeout and
// logs the outcome. Close waits for pending dispatches.
func (n *Notifier) Dispatch(eventType string, data any, timeout time.Duration) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		attempts, err := n.Send(ctx, eventType, data)
		if err != nil {
			n.logger.Warn().Err(err).Str("event", eventType).Int("attempts", len(attempts)).Msg("webhook delivery failed")
			return
		}
		n.logger.Debug().Str("event", eventType).Int("attempts", len(attempts)).Msg("webhook delivered")
	}()
}

// Close waits for background deliveries to finish.
func (n *Notifier) Close() {
	n.wg.Wait()
}
