// Package booking manages reservation availability and commits. The store
// is in-memory; durable persistence lives outside this subsystem.
package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Request carries the fields needed to commit a reservation.
type Request struct {
	Date            string // YYYY-MM-DD
	Time            string // HH:MM
	PartySize       int
	GuestName       string
	Phone           string
	SpecialRequests string
}

// Availability is the result of an availability check.
type Availability struct {
	Available bool
	Message   string
}

// Result is the outcome of a booking commit.
type Result struct {
	Success   bool
	BookingID string
	Message   string
}

// Booking is one confirmed reservation.
type Booking struct {
	ID              string    `json:"id"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	PartySize       int       `json:"party_size"`
	GuestName       string    `json:"guest_name"`
	Phone           string    `json:"phone,omitempty"`
	SpecialRequests string    `json:"special_requests,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// Booking status values.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// DefaultSeatCeiling is the number of seats one time slot can hold.
const DefaultSeatCeiling = 30

// hours are the operating hours per weekday.
var hours = map[time.Weekday][2]string{
	time.Monday:    {"17:00", "22:00"},
	time.Tuesday:   {"17:00", "22:00"},
	time.Wednesday: {"17:00", "22:00"},
	time.Thursday:  {"17:00", "22:00"},
	time.Friday:    {"17:00", "23:00"},
	time.Saturday:  {"17:00", "23:00"},
	time.Sunday:    {"16:00", "21:00"},
}

// commonTimes are the slots suggested as alternatives when a slot is full.
var commonTimes = []string{"18:00", "19:00", "20:00", "21:00"}

// Booking outcome values reported to the observer.
const (
	OutcomeCreated   = "created"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
)

// Store is the in-memory booking system.
type Store struct {
	seatCeiling int
	log         *zap.Logger
	observe     func(outcome string)

	mu       sync.RWMutex
	bookings map[string]*Booking
}

// Option configures the Store.
type Option func(*options)

type options struct {
	seatCeiling int
	log         *zap.Logger
	observe     func(outcome string)
}

// WithSeatCeiling sets the per-slot seat ceiling.
func WithSeatCeiling(n int) Option {
	return func(o *options) {
		o.seatCeiling = n
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithOutcomeObserver sets a callback invoked with the outcome of every
// commit or cancellation attempt.
func WithOutcomeObserver(fn func(outcome string)) Option {
	return func(o *options) {
		o.observe = fn
	}
}

// NewStore creates an empty booking store.
func NewStore(opts ...Option) *Store {
	cfg := &options{
		seatCeiling: DefaultSeatCeiling,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Store{
		seatCeiling: cfg.seatCeiling,
		log:         cfg.log,
		observe:     cfg.observe,
		bookings:    make(map[string]*Booking),
	}
}

func (s *Store) record(outcome string) {
	if s.observe != nil {
		s.observe(outcome)
	}
}

// CheckAvailability reports whether a slot can seat the party. Capacity is
// the seat ceiling minus confirmed seats at that exact date and time. When
// full, the message suggests alternative slots on the same date.
func (s *Store) CheckAvailability(ctx context.Context, date, timeSlot string, partySize int) Availability {
	free := s.freeSeats(date, timeSlot)
	if partySize <= free {
		return Availability{
			Available: true,
			Message:   fmt.Sprintf("Perfect! We have availability for %d guests at %s on %s.", partySize, timeSlot, date),
		}
	}

	return Availability{
		Available: false,
		Message:   fmt.Sprintf("I'm sorry, we're fully booked at %s. %s", timeSlot, s.alternatives(date, partySize)),
	}
}

// CreateBooking validates, checks availability and commits. The booking ID
// derives from date, time and normalized guest name, so committing the
// same reservation twice returns the existing booking.
func (s *Store) CreateBooking(ctx context.Context, req Request) Result {
	var missing []string
	if req.Date == "" {
		missing = append(missing, "date")
	}
	if req.Time == "" {
		missing = append(missing, "time")
	}
	if req.PartySize == 0 {
		missing = append(missing, "party size")
	}
	if req.GuestName == "" {
		missing = append(missing, "guest name")
	}
	if len(missing) > 0 {
		s.record(OutcomeRejected)
		return Result{Message: fmt.Sprintf("I need the following information: %s.", strings.Join(missing, ", "))}
	}

	if v := s.validateHours(req.Date, req.Time); v != "" {
		s.record(OutcomeRejected)
		return Result{Message: v}
	}

	id := BookingID(req.Date, req.Time, req.GuestName)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.bookings[id]; ok && existing.Status == StatusConfirmed {
		return Result{
			Success:   true,
			BookingID: id,
			Message:   fmt.Sprintf("Your reservation for %d guests on %s at %s is already confirmed.", existing.PartySize, existing.Date, existing.Time),
		}
	}

	if req.PartySize > s.freeSeatsLocked(req.Date, req.Time) {
		s.record(OutcomeRejected)
		return Result{Message: fmt.Sprintf("I'm sorry, we're fully booked at %s. %s", req.Time, s.alternativesLocked(req.Date, req.PartySize))}
	}

	s.bookings[id] = &Booking{
		ID:              id,
		Date:            req.Date,
		Time:            req.Time,
		PartySize:       req.PartySize,
		GuestName:       req.GuestName,
		Phone:           req.Phone,
		SpecialRequests: req.SpecialRequests,
		Status:          StatusConfirmed,
		CreatedAt:       time.Now(),
	}

	s.log.Info("booking created",
		zap.String("booking_id", id),
		zap.Int("party_size", req.PartySize))
	s.record(OutcomeCreated)

	return Result{
		Success:   true,
		BookingID: id,
		Message:   fmt.Sprintf("Perfect! Your reservation is confirmed for %d guests on %s at %s.", req.PartySize, req.Date, req.Time),
	}
}

// Get returns a booking by ID.
func (s *Store) Get(id string) (*Booking, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, false
	}
	got := *b
	return &got, true
}

// Cancel marks a booking cancelled, freeing its seats.
func (s *Store) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Status == StatusCancelled {
		return false
	}
	b.Status = StatusCancelled
	s.record(OutcomeCancelled)
	return true
}

// List returns all bookings ordered by date and time.
func (s *Store) List() []Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// BookingID derives the deterministic booking identity.
func BookingID(date, timeSlot, guestName string) string {
	name := strings.ToLower(strings.TrimSpace(guestName))
	name = strings.Join(strings.Fields(name), "_")
	return fmt.Sprintf("%s_%s_%s", date, timeSlot, name)
}

func (s *Store) freeSeats(date, timeSlot string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freeSeatsLocked(date, timeSlot)
}

func (s *Store) freeSeatsLocked(date, timeSlot string) int {
	used := 0
	for _, b := range s.bookings {
		if b.Status == StatusConfirmed && b.Date == date && b.Time == timeSlot {
			used += b.PartySize
		}
	}
	free := s.seatCeiling - used
	if free < 0 {
		free = 0
	}
	return free
}

func (s *Store) alternatives(date string, partySize int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alternativesLocked(date, partySize)
}

func (s *Store) alternativesLocked(date string, partySize int) string {
	var open []string
	for _, slot := range commonTimes {
		if partySize <= s.freeSeatsLocked(date, slot) {
			open = append(open, slot)
		}
		if len(open) == 3 {
			break
		}
	}
	if len(open) == 0 {
		return "Would you like to try a different date?"
	}
	return fmt.Sprintf("Available alternatives: %s.", strings.Join(open, ", "))
}

// validateHours returns a message when the slot is outside operating
// hours, empty otherwise.
func (s *Store) validateHours(date, timeSlot string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "Please provide the date as year-month-day."
	}
	t, err := time.Parse("15:04", timeSlot)
	if err != nil {
		return "Please provide the time as hours and minutes."
	}

	h := hours[d.Weekday()]
	opens, _ := time.Parse("15:04", h[0])
	closes, _ := time.Parse("15:04", h[1])
	if t.Before(opens) || t.After(closes) {
		return fmt.Sprintf("Our hours on %s are %s to %s.", d.Weekday(), h[0], h[1])
	}
	return ""
}
