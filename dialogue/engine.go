// Package dialogue implements the slot-filling reservation conversation:
// a per-session state machine that consumes one utterance at a time,
// extracts reservation fields, and emits the next spoken reply plus
// booking side effects.
package dialogue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge/booking"
)

// State of a reservation conversation.
type State string

const (
	StateGreeting      State = "greeting"
	StateGatheringInfo State = "gathering_info"
	StateConfirming    State = "confirming"
	StateCompleted     State = "completed"
	StateCancelled     State = "cancelled"
)

// Turn is one user utterance handed to a Responder.
type Turn struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	Language  string `json:"language,omitempty"`
}

// Reply is the Responder's answer for one turn.
type Reply struct {
	Text      string `json:"reply"`
	SessionID string `json:"session_id"`
	Slots     *Slots `json:"reservation_data,omitempty"`
	Complete  bool   `json:"is_complete"`
}

// Responder produces a spoken reply for one user utterance. The local
// Engine and a remote conversation service are interchangeable behind it.
type Responder interface {
	Respond(ctx context.Context, turn Turn) (Reply, error)
}

// BookingSystem is the side-effect collaborator the engine drives.
type BookingSystem interface {
	CheckAvailability(ctx context.Context, date, timeSlot string, partySize int) booking.Availability
	CreateBooking(ctx context.Context, req booking.Request) booking.Result
}

// Verify interface compliance at compile time.
var (
	_ Responder     = (*Engine)(nil)
	_ BookingSystem = (*booking.Store)(nil)
)

var confirmWords = []string{"yes", "confirm", "correct", "right", "perfect", "okay", "sure", "book it"}

// changeWords trigger the explicit change-request flow; "actually" is
// included so corrections like "actually 4" overwrite rather than being
// ignored.
var changeWords = []string{"change", "different", "modify", "update", "wrong", "instead", "rather", "actually"}

var cancelWords = []string{"cancel", "never mind", "nevermind", "forget it"}

// conversation is the per-session dialogue state.
type conversation struct {
	mu          sync.Mutex
	state       State
	slots       Slots
	callerPhone string
	lastUpdated time.Time
}

// Engine is the slot-filling dialogue state machine.
type Engine struct {
	extractor  SlotExtractor
	bookings   BookingSystem
	restaurant string
	sessionTTL time.Duration
	now        func() time.Time
	log        *zap.Logger

	mu            sync.Mutex
	conversations map[string]*conversation
}

// Option configures the Engine.
type Option func(*options)

type options struct {
	extractor  SlotExtractor
	restaurant string
	sessionTTL time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// WithExtractor swaps the slot extractor.
func WithExtractor(x SlotExtractor) Option {
	return func(o *options) {
		o.extractor = x
	}
}

// WithRestaurantName sets the name used in prompts.
func WithRestaurantName(name string) Option {
	return func(o *options) {
		o.restaurant = name
	}
}

// WithSessionTTL sets how long an inactive conversation is retained.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.sessionTTL = ttl
	}
}

// WithClock overrides the time source, which anchors relative dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// NewEngine creates the engine on top of a booking system.
func NewEngine(bookings BookingSystem, opts ...Option) *Engine {
	cfg := &options{
		restaurant: "Bella Vista",
		sessionTTL: 30 * time.Minute,
		now:        time.Now,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.extractor == nil {
		cfg.extractor = NewRegexExtractor(cfg.now)
	}

	return &Engine{
		extractor:     cfg.extractor,
		bookings:      bookings,
		restaurant:    cfg.restaurant,
		sessionTTL:    cfg.sessionTTL,
		now:           cfg.now,
		log:           cfg.log,
		conversations: make(map[string]*conversation),
	}
}

// SetCallerPhone records the caller ID for a session so bookings carry a
// callback number without asking for it.
func (e *Engine) SetCallerPhone(sessionID, phone string) {
	conv := e.conversation(sessionID)
	conv.mu.Lock()
	conv.callerPhone = phone
	conv.mu.Unlock()
}

// SessionState returns the dialogue state for a session, if it exists.
func (e *Engine) SessionState(sessionID string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.conversations[sessionID]
	if !ok {
		return "", false
	}
	return conv.state, true
}

// EndSession drops a conversation.
func (e *Engine) EndSession(sessionID string) {
	e.mu.Lock()
	delete(e.conversations, sessionID)
	e.mu.Unlock()
}

// Respond consumes one utterance and advances the conversation.
func (e *Engine) Respond(ctx context.Context, turn Turn) (Reply, error) {
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return Reply{}, fmt.Errorf("empty utterance")
	}

	conv := e.conversation(turn.SessionID)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	conv.lastUpdated = e.now()

	reply := e.advance(ctx, conv, text)

	slots := conv.slots
	e.log.Debug("dialogue turn",
		zap.String("session_id", turn.SessionID),
		zap.String("state", string(conv.state)))

	return Reply{
		Text:      reply,
		SessionID: turn.SessionID,
		Slots:     &slots,
		Complete:  conv.state == StateCompleted,
	}, nil
}

// advance runs slot extraction and the state transition for one turn.
// conv.mu is held.
func (e *Engine) advance(ctx context.Context, conv *conversation, text string) string {
	if conv.state == StateCompleted {
		return e.completedText(conv)
	}
	if conv.state == StateCancelled {
		return "This conversation has ended. Please call again to make a reservation."
	}

	if containsAny(text, cancelWords) {
		conv.state = StateCancelled
		return fmt.Sprintf("No problem, I've cancelled this request. Thank you for calling %s!", e.restaurant)
	}

	extracted := e.extractor.Extract(text, conv.slots)
	change := containsAny(text, changeWords)
	gained, changed := merge(&conv.slots, extracted, change)

	switch conv.state {
	case StateGreeting:
		// First utterance always moves to gathering; a fully specified
		// request skips straight to confirmation.
		conv.state = StateGatheringInfo
		if conv.slots.Complete() {
			conv.state = StateConfirming
			return e.confirmationText(conv)
		}
		if gained {
			return e.askNext(conv)
		}
		return fmt.Sprintf("I'd be happy to help you make a reservation at %s. Could you let me know how many people will be dining and when you'd like to come?", e.restaurant)

	case StateGatheringInfo:
		if conv.slots.Complete() {
			conv.state = StateConfirming
			return e.confirmationText(conv)
		}
		return e.askNext(conv)

	case StateConfirming:
		switch {
		case gained || changed:
			if conv.slots.Complete() {
				return e.confirmationText(conv)
			}
			conv.state = StateGatheringInfo
			return e.askNext(conv)
		case containsAny(text, confirmWords):
			return e.commit(ctx, conv)
		case change:
			conv.state = StateGatheringInfo
			return "No problem! What would you like to change about your reservation?"
		default:
			return "Please say 'yes' or 'confirm' to proceed with the reservation, or let me know what you'd like to change."
		}
	}

	return "I'm sorry, I didn't understand that. Could you please clarify?"
}

// commit runs the availability check and booking creation. Failures keep
// the conversation in the confirming state so the caller can retry or
// change details.
func (e *Engine) commit(ctx context.Context, conv *conversation) string {
	s := conv.slots

	avail := e.bookings.CheckAvailability(ctx, s.Date, s.Time, s.PartySize)
	if !avail.Available {
		return fmt.Sprintf("%s Would you like to try a different time?", avail.Message)
	}

	phone := s.Phone
	if phone == "" {
		phone = conv.callerPhone
	}

	result := e.bookings.CreateBooking(ctx, booking.Request{
		Date:            s.Date,
		Time:            s.Time,
		PartySize:       s.PartySize,
		GuestName:       s.GuestName,
		Phone:           phone,
		SpecialRequests: s.SpecialRequests,
	})
	if !result.Success {
		return fmt.Sprintf("I'm sorry, there was an issue creating your reservation: %s Would you like to try again?", result.Message)
	}

	conv.state = StateCompleted
	return e.completedText(conv)
}

func (e *Engine) conversation(sessionID string) *conversation {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sweepLocked()

	conv, ok := e.conversations[sessionID]
	if !ok {
		conv = &conversation{
			state:       StateGreeting,
			lastUpdated: e.now(),
		}
		e.conversations[sessionID] = conv
	}
	return conv
}

// sweepLocked drops conversations idle past the TTL. e.mu is held.
func (e *Engine) sweepLocked() {
	cutoff := e.now().Add(-e.sessionTTL)
	for id, conv := range e.conversations {
		if conv.lastUpdated.Before(cutoff) {
			delete(e.conversations, id)
		}
	}
}

// merge applies extracted values to the conversation slots. Filled fields
// are only overwritten under an explicit change request, and then only the
// specific re-parsed field. It reports whether any previously-empty field
// was filled and whether any filled field was overwritten with a new value.
func merge(cur *Slots, extracted Slots, change bool) (gained, changed bool) {
	if extracted.PartySize != 0 {
		if cur.PartySize == 0 {
			cur.PartySize = extracted.PartySize
			gained = true
		} else if change && extracted.PartySize != cur.PartySize {
			cur.PartySize = extracted.PartySize
			changed = true
		}
	}
	if extracted.Date != "" {
		if cur.Date == "" {
			cur.Date = extracted.Date
			gained = true
		} else if change && extracted.Date != cur.Date {
			cur.Date = extracted.Date
			changed = true
		}
	}
	if extracted.Time != "" {
		if cur.Time == "" {
			cur.Time = extracted.Time
			gained = true
		} else if change && extracted.Time != cur.Time {
			cur.Time = extracted.Time
			changed = true
		}
	}
	if extracted.GuestName != "" {
		if cur.GuestName == "" {
			cur.GuestName = extracted.GuestName
			gained = true
		} else if change && extracted.GuestName != cur.GuestName {
			cur.GuestName = extracted.GuestName
			changed = true
		}
	}
	if extracted.Phone != "" && cur.Phone == "" {
		cur.Phone = extracted.Phone
	}
	if extracted.SpecialRequests != "" {
		if cur.SpecialRequests == "" {
			cur.SpecialRequests = extracted.SpecialRequests
		} else {
			cur.SpecialRequests += ", " + extracted.SpecialRequests
		}
	}
	return gained, changed
}

func containsAny(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
