// Package transport handles the Twilio Media Streams WebSocket: it
// parses inbound stream events into typed values and writes outbound
// audio, marks and clears.
package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType identifies one Media Streams event.
type EventType string

const (
	// EventConnected arrives once when Twilio opens the stream.
	EventConnected EventType = "connected"

	// EventStart carries the stream and call identifiers.
	EventStart EventType = "start"

	// EventMedia carries one decoded audio frame.
	EventMedia EventType = "media"

	// EventMark acknowledges playback reached a named position.
	EventMark EventType = "mark"

	// EventDTMF carries one keypad digit.
	EventDTMF EventType = "dtmf"

	// EventStop arrives when the call ends. It is the last event.
	EventStop EventType = "stop"

	// EventError reports an abnormal connection failure.
	EventError EventType = "error"
)

// MediaFormat describes the stream's audio encoding.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartInfo is the payload of the start event.
type StartInfo struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  MediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

// Event is one typed inbound stream event.
type Event struct {
	Type  EventType
	Start *StartInfo
	// Audio is the decoded audio frame of a media event.
	Audio []byte
	// Mark is the acknowledged mark name.
	Mark string
	// Digit is the DTMF digit.
	Digit string
	Err   error
}

// inbound is the Media Streams wire format.
type inbound struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StartInfo    `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
	DTMF      *dtmfPayload  `json:"dtmf,omitempty"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64 audio
}

type markPayload struct {
	Name string `json:"name"`
}

type dtmfPayload struct {
	Digit string `json:"digit"`
}

// outboundMedia is the outbound media message.
type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// Conn is one live media stream.
type Conn struct {
	ws  *websocket.Conn
	log *zap.Logger

	events chan Event
	out    chan []byte
	done   chan struct{}

	writeMu sync.Mutex // serializes all WebSocket writes

	mu        sync.RWMutex
	streamSID string
	callSID   string
	closed    bool

	closeOnce sync.Once
}

// Option configures a Conn.
type Option func(*options)

type options struct {
	eventBuffer int
	outBuffer   int
	log         *zap.Logger
}

// WithEventBuffer sets the inbound event channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		o.eventBuffer = n
	}
}

// WithOutBuffer sets the outbound audio queue capacity.
func WithOutBuffer(n int) Option {
	return func(o *options) {
		o.outBuffer = n
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade accepts an incoming Media Streams WebSocket and starts its
// read and write loops.
func Upgrade(w http.ResponseWriter, r *http.Request, opts ...Option) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return NewConn(ws, opts...), nil
}

// NewConn wraps an established WebSocket as a media stream.
func NewConn(ws *websocket.Conn, opts ...Option) *Conn {
	cfg := &options{
		eventBuffer: 100,
		outBuffer:   100,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Conn{
		ws:     ws,
		log:    cfg.log,
		events: make(chan Event, cfg.eventBuffer),
		out:    make(chan []byte, cfg.outBuffer),
		done:   make(chan struct{}),
	}

	go c.readLoop()
	go c.writeLoop()

	return c
}

// Events returns the inbound event channel. It closes when the stream
// ends.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// StreamSID returns the stream identifier, empty before the start event.
func (c *Conn) StreamSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSID
}

// CallSID returns the call identifier, empty before the start event.
func (c *Conn) CallSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callSID
}

// WriteMedia queues one audio frame for the caller. When the queue is
// full the oldest frame is dropped so live audio never backs up.
func (c *Conn) WriteMedia(audio []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("media stream closed")
	}

	frame := make([]byte, len(audio))
	copy(frame, audio)

	select {
	case c.out <- frame:
	default:
		select {
		case <-c.out:
			c.log.Warn("outbound audio queue full, dropped oldest frame")
		default:
		}
		select {
		case c.out <- frame:
		case <-c.done:
			return fmt.Errorf("media stream closed")
		}
	}
	return nil
}

// SendMark asks Twilio to acknowledge when playback reaches this point.
func (c *Conn) SendMark(name string) error {
	return c.writeJSON(outboundMark{
		Event:     "mark",
		StreamSID: c.StreamSID(),
		Mark:      markPayload{Name: name},
	})
}

// Clear discards any audio Twilio has buffered but not yet played.
func (c *Conn) Clear() error {
	return c.writeJSON(outboundClear{
		Event:     "clear",
		StreamSID: c.StreamSID(),
	})
}

// Close tears the stream down. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		_ = c.ws.Close()
	})
	return nil
}

func (c *Conn) writeJSON(v any) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("media stream closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// readLoop parses inbound messages into typed events until the stream
// stops or the connection drops. It owns closing the event channel.
func (c *Conn) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.events)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.deliver(Event{Type: EventError, Err: err})
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("malformed stream message", zap.Error(err))
			continue
		}

		switch msg.Event {
		case "connected":
			c.deliver(Event{Type: EventConnected})

		case "start":
			if msg.Start == nil {
				continue
			}
			c.mu.Lock()
			c.streamSID = msg.Start.StreamSID
			c.callSID = msg.Start.CallSID
			c.mu.Unlock()
			c.deliver(Event{Type: EventStart, Start: msg.Start})

		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				c.log.Warn("undecodable media payload", zap.Error(err))
				continue
			}
			c.deliver(Event{Type: EventMedia, Audio: audio})

		case "mark":
			if msg.Mark == nil {
				continue
			}
			c.deliver(Event{Type: EventMark, Mark: msg.Mark.Name})

		case "dtmf":
			if msg.DTMF == nil {
				continue
			}
			c.deliver(Event{Type: EventDTMF, Digit: msg.DTMF.Digit})

		case "stop":
			c.deliver(Event{Type: EventStop})
			return
		}
	}
}

// deliver hands an event to the consumer, dropping the oldest media
// frame when the buffer is full. Non-media events always get through.
func (c *Conn) deliver(ev Event) {
	select {
	case c.events <- ev:
		return
	default:
	}

	select {
	case old := <-c.events:
		if old.Type != EventMedia {
			// Never silently drop a control event; put it back first.
			select {
			case c.events <- old:
			case <-c.done:
				return
			}
		} else {
			c.log.Warn("inbound event buffer full, dropped media frame")
		}
	default:
	}

	// The consumer may already be gone during teardown; never block on it.
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// writeLoop drains the outbound queue onto the WebSocket.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			msg := outboundMedia{
				Event:     "media",
				StreamSID: c.StreamSID(),
				Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
			}
			if err := c.writeJSON(msg); err != nil {
				c.log.Warn("outbound media write failed", zap.Error(err))
				_ = c.Close()
				return
			}
		}
	}
}
