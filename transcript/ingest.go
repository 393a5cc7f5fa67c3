// Package transcript consumes streaming transcript fragments from the STT
// engine and turns them into discrete dialogue turns.
//
// Partial fragments only update a transient "currently speaking" buffer.
// Final fragments are queued FIFO, with identical consecutive finals
// suppressed, and a debounce window enforces minimum spacing between
// dialogue-engine invocations.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Segment is one transcript fragment from the STT stream.
type Segment struct {
	Text       string
	Language   string
	Final      bool
	ReceivedAt time.Time
}

// Ingest collects fragments for one call.
type Ingest struct {
	queue chan Segment

	mu        sync.Mutex
	partial   string
	lastFinal string
}

// NewIngest creates an ingest with a bounded final-segment queue.
func NewIngest(queueSize int) *Ingest {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Ingest{
		queue: make(chan Segment, queueSize),
	}
}

// Push routes a fragment. Partials overwrite the in-place buffer; finals
// are enqueued unless empty or identical to the immediately preceding
// final. It reports whether the fragment was enqueued.
func (in *Ingest) Push(seg Segment) bool {
	if seg.ReceivedAt.IsZero() {
		seg.ReceivedAt = time.Now()
	}

	text := strings.TrimSpace(seg.Text)
	if !seg.Final {
		in.mu.Lock()
		in.partial = text
		in.mu.Unlock()
		return false
	}

	if text == "" {
		return false
	}

	in.mu.Lock()
	if text == in.lastFinal {
		in.mu.Unlock()
		return false
	}
	in.lastFinal = text
	in.partial = ""
	in.mu.Unlock()

	seg.Text = text
	select {
	case in.queue <- seg:
		return true
	default:
		// Queue full: drop the oldest so the newest utterance survives.
		select {
		case <-in.queue:
		default:
		}
		in.queue <- seg
		return true
	}
}

// Partial returns the transient in-progress transcription.
func (in *Ingest) Partial() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.partial
}

// Queue exposes the FIFO of completed utterances.
func (in *Ingest) Queue() <-chan Segment {
	return in.queue
}
