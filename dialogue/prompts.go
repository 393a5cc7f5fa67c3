package dialogue

import (
	"fmt"
	"strings"
)

// askNext asks for the next missing required field, recapping what is
// already known. conv.mu is held.
func (e *Engine) askNext(conv *conversation) string {
	missing := conv.slots.Missing()
	if len(missing) == 0 {
		return e.confirmationText(conv)
	}

	questions := map[string]string{
		"party_size": "How many people will be in your party?",
		"date":       "What date would you like to make your reservation for?",
		"time":       "What time would work best for you?",
		"guest_name": "May I have your name for the reservation?",
	}
	question := questions[missing[0]]

	// Recap known fields, except when asking for the name.
	if missing[0] == "guest_name" {
		return question
	}
	recap := recapParts(conv.slots)
	if len(recap) == 0 {
		return question
	}
	return fmt.Sprintf("For your reservation %s, %s", strings.Join(recap, " "), strings.ToLower(question[:1])+question[1:])
}

func recapParts(s Slots) []string {
	var parts []string
	if s.PartySize != 0 {
		parts = append(parts, fmt.Sprintf("for a party of %d", s.PartySize))
	}
	if s.Date != "" {
		parts = append(parts, fmt.Sprintf("on %s", s.Date))
	}
	if s.Time != "" {
		parts = append(parts, fmt.Sprintf("at %s", s.Time))
	}
	return parts
}

// confirmationText summarizes the booking and asks for an explicit yes/no.
func (e *Engine) confirmationText(conv *conversation) string {
	s := conv.slots
	return fmt.Sprintf("Thank you for choosing %s! To confirm your reservation for %s, a party of %d on %s at %s, please say 'yes' or 'confirm'. If you'd like to make any changes, just let me know.",
		e.restaurant, s.GuestName, s.PartySize, s.Date, s.Time)
}

func (e *Engine) completedText(conv *conversation) string {
	s := conv.slots
	return fmt.Sprintf("Perfect! Your reservation for %d guests on %s at %s has been confirmed. We'll see you at %s!",
		s.PartySize, s.Date, s.Time, e.restaurant)
}
