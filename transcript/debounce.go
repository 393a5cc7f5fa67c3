package transcript

import (
	"context"
	"time"
)

// DefaultDebounceWindow is the minimum spacing between dialogue-engine
// invocations for one call.
const DefaultDebounceWindow = 1500 * time.Millisecond

// Debouncer enforces turn spacing. The caller runs a single loop per call,
// which also guarantees at most one in-flight dialogue invocation.
type Debouncer struct {
	window time.Duration
	last   time.Time
}

// NewDebouncer creates a debouncer with the given window; zero or negative
// selects the default.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer{window: window}
}

// Next blocks for the next completed utterance, then holds it until the
// window since the previous dispatch has lapsed. Utterances arriving during
// the hold are not dropped: each one replaces the held segment, so the most
// recent text wins. Utterances already queued behind the received one are
// coalesced the same way before dispatch, so a burst that arrived while no
// reader was waiting still yields one invocation. Returns false when the
// context is canceled.
func (d *Debouncer) Next(ctx context.Context, queue <-chan Segment) (Segment, bool) {
	var seg Segment
	select {
	case <-ctx.Done():
		return Segment{}, false
	case seg = <-queue:
	}

	for drained := false; !drained; {
		select {
		case newer := <-queue:
			seg = newer
		default:
			drained = true
		}
	}

	for {
		wait := d.window - time.Since(d.last)
		if wait <= 0 {
			d.last = time.Now()
			return seg, true
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Segment{}, false
		case newer := <-queue:
			timer.Stop()
			seg = newer
		case <-timer.C:
			d.last = time.Now()
			return seg, true
		}
	}
}
