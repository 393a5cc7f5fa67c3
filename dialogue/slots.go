package dialogue

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Slots are the reservation fields gathered over a conversation. Zero
// values mean unset. PartySize, Date, Time and GuestName are required for
// a booking; Phone and SpecialRequests are optional.
type Slots struct {
	PartySize       int    `json:"party_size,omitempty"`
	Date            string `json:"date,omitempty"` // YYYY-MM-DD
	Time            string `json:"time,omitempty"` // HH:MM, 24-hour
	GuestName       string `json:"guest_name,omitempty"`
	Phone           string `json:"phone,omitempty"`
	SpecialRequests string `json:"special_requests,omitempty"`
}

// requiredOrder is the fixed priority in which missing fields are asked for.
var requiredOrder = []string{"party_size", "date", "time", "guest_name"}

// Missing returns the unset required fields in ask order.
func (s Slots) Missing() []string {
	var out []string
	for _, f := range requiredOrder {
		switch f {
		case "party_size":
			if s.PartySize == 0 {
				out = append(out, f)
			}
		case "date":
			if s.Date == "" {
				out = append(out, f)
			}
		case "time":
			if s.Time == "" {
				out = append(out, f)
			}
		case "guest_name":
			if s.GuestName == "" {
				out = append(out, f)
			}
		}
	}
	return out
}

// Complete reports whether all required fields are set.
func (s Slots) Complete() bool {
	return len(s.Missing()) == 0
}

// SlotExtractor parses reservation fields out of one utterance. It returns
// only the fields the utterance yielded; merging into the conversation's
// slots is the engine's job. Implementations are swappable for a real
// NLU backend without touching the state machine.
type SlotExtractor interface {
	Extract(utterance string, current Slots) Slots
}

// RegexExtractor is the heuristic pattern-matching extractor.
type RegexExtractor struct {
	now func() time.Time
}

// NewRegexExtractor creates the extractor. now supplies "today" for
// relative dates; nil means time.Now.
func NewRegexExtractor(now func() time.Time) *RegexExtractor {
	if now == nil {
		now = time.Now
	}
	return &RegexExtractor{now: now}
}

var wordToNum = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
}

var monthNum = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var weekdayNum = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

const numberWords = `one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty`

var (
	partyDigitPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d{1,2})\s*(?:people|guests?|persons?)`),
		regexp.MustCompile(`table\s+for\s+(\d{1,2})\b`),
		regexp.MustCompile(`party\s+of\s+(\d{1,2})\b`),
		regexp.MustCompile(`reservation\s+for\s+(\d{1,2})\b`),
	}
	partyWordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(` + numberWords + `)\s*(?:people|guests?|persons?)`),
		regexp.MustCompile(`table\s+for\s+(` + numberWords + `)\b`),
		regexp.MustCompile(`party\s+of\s+(` + numberWords + `)\b`),
		regexp.MustCompile(`reservation\s+for\s+(` + numberWords + `)\b`),
	}
	// A bare corrected number ("actually 4", "make it 6") re-targets the
	// party size unless a time marker follows it.
	partyCorrectionRe = regexp.MustCompile(`(?:actually|make\s+it|change\s+(?:it|that)\s+to)\s+(\d{1,2})\s*([a-z:.]*)`)

	dateLiteralRe = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	dayMonthRe    = regexp.MustCompile(`(\d{1,2})(?:st|nd|rd|th)?\s+(january|february|march|april|may|june|july|august|september|october|november|december)`)
	monthDayRe    = regexp.MustCompile(`(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	weekdayRe     = regexp.MustCompile(`(next\s+)?(sunday|monday|tuesday|wednesday|thursday|friday|saturday)`)

	meridiemTimeRe = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.?|p\.m\.?)\b`)
	oclockTimeRe   = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*o'?clock`)
	atTimeRe       = regexp.MustCompile(`at\s+(\d{1,2})(?::(\d{2}))?\b`)
	colonTimeRe    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:my\s+name\s+is|this\s+is|i'?m)\s+([A-Za-z]+(?:\s+[A-Za-z]+){0,2})`),
		regexp.MustCompile(`(?i)under\s+(?:the\s+name\s+)?([A-Za-z]+(?:\s+[A-Za-z]+){0,2})`),
		regexp.MustCompile(`([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\s+(?:party|reservation)`),
		regexp.MustCompile(`for\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`),
	}

	specialKeywords = []string{
		"window", "outside", "patio", "indoor", "quiet", "romantic",
		"birthday", "anniversary", "celebration", "vegan", "vegetarian",
		"gluten free", "allergy", "allergic", "wheelchair", "accessible",
		"high chair",
	}

	// Words a name pattern can capture that are never names.
	nameStopwords = map[string]bool{
		"calling": true, "sorry": true, "looking": true, "sure": true,
		"yes": true, "no": true, "okay": true, "tonight": true,
		"today": true, "tomorrow": true, "dinner": true, "lunch": true,
	}

	phoneRe = regexp.MustCompile(`\+?\d[\d\s().-]{6,14}\d`)
)

// Extract runs the regex cascades over one utterance. Fields already
// present in current still get re-parsed (the engine decides whether a
// value may overwrite), except guest name, which is only hunted while
// unset to avoid false positives from "for X" phrasings.
func (x *RegexExtractor) Extract(utterance string, current Slots) Slots {
	var out Slots
	lower := strings.ToLower(utterance)

	out.PartySize = extractPartySize(lower)
	out.Date = x.extractDate(lower)
	out.Time = extractTime(lower)
	if current.GuestName == "" {
		out.GuestName = extractGuestName(utterance)
	}
	out.SpecialRequests = extractSpecialRequests(lower, current.SpecialRequests)
	if current.Phone == "" {
		out.Phone = strings.TrimSpace(phoneRe.FindString(utterance))
	}

	return out
}

func extractPartySize(lower string) int {
	for _, re := range partyDigitPatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 20 {
				return n
			}
		}
	}
	for _, re := range partyWordPatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			if n, ok := wordToNum[m[1]]; ok {
				return n
			}
		}
	}
	if m := partyCorrectionRe.FindStringSubmatch(lower); m != nil {
		trailing := m[2]
		if trailing != "am" && trailing != "pm" && trailing != "a.m" && trailing != "p.m" &&
			!strings.HasPrefix(trailing, "o'clock") && !strings.HasPrefix(trailing, "oclock") &&
			!strings.Contains(trailing, ":") {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 20 {
				return n
			}
		}
	}
	return 0
}

// extractDate resolves a date mention to YYYY-MM-DD. Relative keywords win
// over absolute patterns; absolute dates earlier than today roll forward
// to the next occurrence.
func (x *RegexExtractor) extractDate(lower string) string {
	today := x.now()
	midnight := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	if strings.Contains(lower, "tomorrow") {
		return midnight.AddDate(0, 0, 1).Format("2006-01-02")
	}
	if strings.Contains(lower, "today") || strings.Contains(lower, "tonight") {
		return midnight.Format("2006-01-02")
	}

	if m := dateLiteralRe.FindStringSubmatch(lower); m != nil {
		if d, err := time.ParseInLocation("2006-01-02", m[0], today.Location()); err == nil {
			return d.Format("2006-01-02")
		}
	}

	day, month := 0, time.Month(0)
	if m := dayMonthRe.FindStringSubmatch(lower); m != nil {
		day, _ = strconv.Atoi(m[1])
		month = monthNum[m[2]]
	} else if m := monthDayRe.FindStringSubmatch(lower); m != nil {
		month = monthNum[m[1]]
		day, _ = strconv.Atoi(m[2])
	}
	if day >= 1 && day <= 31 && month != 0 {
		d := time.Date(today.Year(), month, day, 0, 0, 0, 0, today.Location())
		if d.Day() != day {
			return "" // e.g. february 30
		}
		if d.Before(midnight) {
			d = d.AddDate(1, 0, 0)
		}
		return d.Format("2006-01-02")
	}

	if m := weekdayRe.FindStringSubmatch(lower); m != nil {
		target := weekdayNum[m[2]]
		ahead := (int(target) - int(midnight.Weekday()) + 7) % 7
		if ahead == 0 && m[1] != "" {
			ahead = 7
		}
		return midnight.AddDate(0, 0, ahead).Format("2006-01-02")
	}

	return ""
}

// extractTime resolves a time mention to HH:MM (24-hour). Noon and
// midnight map to 12:00 and 00:00. Bare numbers need an explicit cue
// ("at", "o'clock", or a colon literal) so they don't collide with party
// sizes; without a meridiem the hour is taken as spoken.
func extractTime(lower string) string {
	if strings.Contains(lower, "noon") {
		return "12:00"
	}
	if strings.Contains(lower, "midnight") {
		return "00:00"
	}

	if m := meridiemTimeRe.FindStringSubmatch(lower); m != nil {
		return normalizeTime(m[1], m[2], m[3])
	}
	if m := oclockTimeRe.FindStringSubmatch(lower); m != nil {
		return normalizeTime(m[1], m[2], "")
	}
	if m := atTimeRe.FindStringSubmatch(lower); m != nil {
		return normalizeTime(m[1], m[2], "")
	}
	if m := colonTimeRe.FindStringSubmatch(lower); m != nil {
		return normalizeTime(m[1], m[2], "")
	}
	return ""
}

func normalizeTime(hourStr, minuteStr, meridiem string) string {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour > 23 {
		return ""
	}
	minute := 0
	if minuteStr != "" {
		minute, err = strconv.Atoi(minuteStr)
		if err != nil || minute > 59 {
			return ""
		}
	}

	switch {
	case strings.HasPrefix(meridiem, "p") && hour != 12:
		hour += 12
	case strings.HasPrefix(meridiem, "a") && hour == 12:
		hour = 0
	}
	if hour > 23 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

func extractGuestName(utterance string) string {
	for _, re := range namePatterns {
		m := re.FindStringSubmatch(utterance)
		if m == nil {
			continue
		}
		name := trimNameTail(strings.TrimSpace(m[1]))
		if len(name) < 2 || len(name) > 50 {
			continue
		}
		if nameStopwords[strings.ToLower(strings.Fields(name)[0])] {
			continue
		}
		return titleCase(name)
	}
	return ""
}

// trimNameTail cuts a captured name at the first conjunction or filler the
// loose word patterns can swallow.
func trimNameTail(name string) string {
	cut := map[string]bool{"and": true, "for": true, "at": true, "on": true, "we": true, "i": true, "the": true}
	words := strings.Fields(name)
	for i, w := range words {
		if cut[strings.ToLower(w)] {
			words = words[:i]
			break
		}
	}
	return strings.Join(words, " ")
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// extractSpecialRequests spots request keywords and appends the ones not
// already recorded.
func extractSpecialRequests(lower, existing string) string {
	var found []string
	for _, kw := range specialKeywords {
		if strings.Contains(lower, kw) && !strings.Contains(existing, kw) {
			found = append(found, kw)
		}
	}
	return strings.Join(found, ", ")
}
