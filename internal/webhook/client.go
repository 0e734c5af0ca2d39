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
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Imagebench-Signature"
	HeaderTimestamp = "X-Imagebench-Timestamp"
	HeaderEvent     = "X-Imagebench-Event"
	HeaderDelivery  = "X-Imagebench-Delivery"
	HeaderAttempt   = "X-Imagebench-Attempt"
)

const (
	EventBenchmarkCompleted = "benchmark.completed"
	EventBenchmarkFailed    = "benchmark.failed"
)

// ErrRejected marks a delivery the receiver refused with a non-retryable status.
var ErrRejected = errors.New("webhook rejected")

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Delivery is one event for one endpoint. ID stays the same across attempts
// so receivers can drop duplicates.
type Delivery struct {
	ID       string
	Event    string
	Endpoint string
	Data     any
}

type envelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

type Client struct {
	http     *http.Client
	secret   string
	attempts int
	first    time.Duration
	ceiling  time.Duration
	now      func() time.Time
}

func NewClient(cfg Config) *Client {
	c := &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		secret:   cfg.SigningSecret,
		attempts: max(1, cfg.MaxAttempts),
		first:    cfg.InitialBackoff,
		ceiling:  cfg.MaxBackoff,
		now:      time.Now,
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = 10 * time.Second
	}
	if c.first <= 0 {
		c.first = time.Second
	}
	c.ceiling = max(c.ceiling, c.first)
	return c
}

// Deliver POSTs d as a signed JSON envelope. Transport errors, 408, 429 and
// 5xx responses are retried with exponential backoff; any other non-2xx
// status stops at once with ErrRejected. An empty endpoint is a no-op.
func (c *Client) Deliver(ctx context.Context, d Delivery) error {
	endpoint := strings.TrimSpace(d.Endpoint)
	if endpoint == "" {
		return nil
	}

	sentAt := c.now().UTC()
	body, err := json.Marshal(envelope{ID: d.ID, Event: d.Event, CreatedAt: sentAt, Data: d.Data})
	if err != nil {
		return fmt.Errorf("encode webhook %s: %w", d.ID, err)
	}
	timestamp := strconv.FormatInt(sentAt.Unix(), 10)
	signature := Sign(c.secret, timestamp, body)

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		wait, err := c.post(ctx, endpoint, d, attempt, timestamp, signature, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRejected) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		if attempt == c.attempts {
			break
		}

		if wait <= 0 {
			wait = c.backoff(attempt)
		}
		timer := time.NewTimer(min(wait, c.ceiling))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("webhook %s: gave up after %d attempts: %w", d.ID, c.attempts, lastErr)
}

// post performs one attempt. A positive wait comes from the receiver's
// Retry-After header.
func (c *Client) post(ctx context.Context, endpoint string, d Delivery, attempt int, timestamp, signature string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, d.Event)
	req.Header.Set(HeaderDelivery, d.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt))
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return 0, nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("receiver answered %d", code)
	default:
		return 0, fmt.Errorf("%w: receiver answered %d", ErrRejected, code)
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	wait := c.first
	for i := 1; i < attempt && wait < c.ceiling; i++ {
		wait *= 2
	}
	return min(wait, c.ceiling)
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Sign computes the signature header value over "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the body and timestamp.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
