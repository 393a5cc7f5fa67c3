// Package convo calls a remote conversation service over HTTP. It
// implements the same contract as the embedded dialogue engine, so the
// bridge can run against either.
package convo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge/dialogue"
)

// Verify interface compliance at compile time.
var _ dialogue.Responder = (*Client)(nil)

// Client is a dialogue.Responder backed by a remote HTTP service.
type Client struct {
	url     string
	retries int
	http    *http.Client
	log     *zap.Logger
}

// Option configures the Client.
type Option func(*options)

type options struct {
	timeout time.Duration
	retries int
	http    *http.Client
	log     *zap.Logger
}

// WithTimeout bounds each conversation request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) Option {
	return func(o *options) {
		o.retries = n
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.http = c
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// NewClient creates a client for the conversation service at url.
func NewClient(url string, opts ...Option) *Client {
	cfg := &options{
		timeout: 15 * time.Second,
		retries: 1,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.http == nil {
		cfg.http = &http.Client{Timeout: cfg.timeout}
	}

	return &Client{
		url:     url,
		retries: cfg.retries,
		http:    cfg.http,
		log:     cfg.log,
	}
}

// Respond sends one utterance to the service and returns its reply.
func (c *Client) Respond(ctx context.Context, turn dialogue.Turn) (dialogue.Reply, error) {
	body, err := json.Marshal(turn)
	if err != nil {
		return dialogue.Reply{}, fmt.Errorf("encoding conversation request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.log.Warn("retrying conversation request",
				zap.String("session_id", turn.SessionID),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return dialogue.Reply{}, ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}

		reply, err := c.do(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return dialogue.Reply{}, lastErr
}

func (c *Client) do(ctx context.Context, body []byte) (dialogue.Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return dialogue.Reply{}, fmt.Errorf("creating conversation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dialogue.Reply{}, fmt.Errorf("calling conversation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return dialogue.Reply{}, fmt.Errorf("conversation service returned %d: %s", resp.StatusCode, msg)
	}

	var reply dialogue.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return dialogue.Reply{}, fmt.Errorf("decoding conversation reply: %w", err)
	}
	if reply.Text == "" {
		return dialogue.Reply{}, fmt.Errorf("conversation service returned an empty reply")
	}
	return reply, nil
}
