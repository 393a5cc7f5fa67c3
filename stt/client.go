// Package stt streams caller audio to the speech-to-text service over a
// WebSocket and surfaces partial and final transcription events.
//
// The service accepts binary PCM16 frames and replies with JSON messages
// carrying committed lines plus an in-progress buffer. A final
// "ready_to_stop" message acknowledges end of input.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// MessageTranscript carries committed lines and the live buffer.
	MessageTranscript = "transcript"

	// MessageReadyToStop acknowledges that the service has flushed all
	// pending audio after the client stopped sending.
	MessageReadyToStop = "ready_to_stop"
)

// Line is one committed transcription line.
type Line struct {
	Text             string `json:"text"`
	DetectedLanguage string `json:"detected_language,omitempty"`
}

// message is the service's wire format.
type message struct {
	Type   string `json:"type"`
	Lines  []Line `json:"lines,omitempty"`
	Buffer string `json:"buffer_transcription,omitempty"`
}

// Event is one transcription update. Final events carry a committed
// line; non-final events carry the live buffer text.
type Event struct {
	Text     string
	Language string
	Final    bool
}

// Stream is one live transcription session.
type Stream struct {
	conn      *websocket.Conn
	events    chan Event
	log       *zap.Logger
	done      chan struct{}
	drainWait time.Duration
	closeFn   sync.Once

	mu     sync.Mutex
	closed bool

	committed int
}

// Option configures a Client.
type Option func(*options)

type options struct {
	dialTimeout time.Duration
	drainWait   time.Duration
	buffer      int
	log         *zap.Logger
}

// WithDialTimeout bounds the WebSocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// WithDrainWait bounds how long Close waits for the ready_to_stop
// acknowledgement before tearing the connection down.
func WithDrainWait(d time.Duration) Option {
	return func(o *options) {
		o.drainWait = d
	}
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		o.buffer = n
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Client dials transcription sessions against one service URL.
type Client struct {
	url  string
	opts options
}

// NewClient creates a client for the transcription service at url
// (ws:// or wss://).
func NewClient(url string, opts ...Option) *Client {
	cfg := options{
		dialTimeout: 10 * time.Second,
		drainWait:   5 * time.Second,
		buffer:      100,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{url: url, opts: cfg}
}

// Dial opens a transcription session. The returned stream's event
// channel closes when the service sends ready_to_stop or the connection
// drops.
func (c *Client) Dial(ctx context.Context) (*Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing transcription service: %w", err)
	}

	s := &Stream{
		conn:      conn,
		events:    make(chan Event, c.opts.buffer),
		log:       c.opts.log,
		done:      make(chan struct{}),
		drainWait: c.opts.drainWait,
	}
	go s.readLoop()

	return s, nil
}

// Events returns the transcription event channel. It closes when the
// session ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Send forwards one PCM16 audio frame to the service.
func (s *Stream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("transcription stream closed")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("sending audio frame: %w", err)
	}
	return nil
}

// Close stops sending, waits briefly for the service to flush its
// remaining audio, and closes the connection.
func (s *Stream) Close() error {
	var err error
	s.closeFn.Do(func() {
		s.mu.Lock()
		s.closed = true
		// Empty binary frame signals end of audio.
		err = s.conn.WriteMessage(websocket.BinaryMessage, nil)
		s.mu.Unlock()

		select {
		case <-s.done:
		case <-time.After(s.drainWait):
			s.log.Warn("transcription drain timed out")
		}
		s.conn.Close()
	})
	return err
}

// readLoop parses service messages into events until the connection
// drops or the service acknowledges the stop.
func (s *Stream) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("transcription connection dropped", zap.Error(err))
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("malformed transcription message", zap.Error(err))
			continue
		}

		if msg.Type == MessageReadyToStop {
			return
		}

		// Lines beyond the committed high-water mark are new finals;
		// earlier ones were already delivered.
		for i := s.committed; i < len(msg.Lines); i++ {
			line := msg.Lines[i]
			if line.Text == "" {
				continue
			}
			s.emit(Event{Text: line.Text, Language: line.DetectedLanguage, Final: true})
		}
		if len(msg.Lines) > s.committed {
			s.committed = len(msg.Lines)
		}

		if msg.Buffer != "" {
			s.emit(Event{Text: msg.Buffer, Final: false})
		}
	}
}

// emit delivers an event without blocking the read loop. When the
// consumer lags, the oldest buffered event is dropped.
func (s *Stream) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		s.events <- ev
		s.log.Warn("transcription event buffer full, dropped oldest")
	}
}
