// Package tts synthesizes speech by calling the text-to-speech service
// over HTTP. The service accepts a JSON request and returns MP3 audio.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultVoice is used when no voice is configured.
const DefaultVoice = "af_heart"

// maxResponseBytes caps how much synthesized audio is read per request.
const maxResponseBytes = 10 << 20

// request is the service's wire format.
type request struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Client calls the text-to-speech service.
type Client struct {
	url     string
	voice   string
	retries int
	http    *http.Client
	log     *zap.Logger
}

// Option configures the Client.
type Option func(*options)

type options struct {
	voice   string
	timeout time.Duration
	retries int
	http    *http.Client
	log     *zap.Logger
}

// WithVoice sets the voice passed on every synthesis request.
func WithVoice(voice string) Option {
	return func(o *options) {
		o.voice = voice
	}
}

// WithTimeout bounds each synthesis request.
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

// NewClient creates a client for the synthesis service at url.
func NewClient(url string, opts ...Option) *Client {
	cfg := &options{
		voice:   DefaultVoice,
		timeout: 30 * time.Second,
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
		voice:   cfg.voice,
		retries: cfg.retries,
		http:    cfg.http,
		log:     cfg.log,
	}
}

// Synthesize converts text to MP3 audio. A failed request is retried
// once before the error is returned.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("empty synthesis text")
	}

	body, err := json.Marshal(request{Text: text, Voice: c.voice})
	if err != nil {
		return nil, fmt.Errorf("encoding synthesis request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.log.Warn("retrying synthesis request", zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}

		audio, err := c.do(ctx, body)
		if err == nil {
			return audio, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling synthesis service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("synthesis service returned %d: %s", resp.StatusCode, msg)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading synthesized audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesis service returned no audio")
	}
	return audio, nil
}
