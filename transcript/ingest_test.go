package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialNeverEnqueues(t *testing.T) {
	in := NewIngest(4)

	assert.False(t, in.Push(Segment{Text: "book a ta"}))
	assert.False(t, in.Push(Segment{Text: "book a table"}))
	assert.Equal(t, "book a table", in.Partial())
	assert.Empty(t, in.Queue())
}

func TestFinalEnqueuesAndClearsPartial(t *testing.T) {
	in := NewIngest(4)

	in.Push(Segment{Text: "book a ta"})
	assert.True(t, in.Push(Segment{Text: "book a table", Final: true}))
	assert.Equal(t, "", in.Partial())

	seg := <-in.Queue()
	assert.Equal(t, "book a table", seg.Text)
}

func TestDuplicateFinalSuppressed(t *testing.T) {
	in := NewIngest(4)

	assert.True(t, in.Push(Segment{Text: "seven pm", Final: true}))
	assert.False(t, in.Push(Segment{Text: "seven pm", Final: true}))
	assert.False(t, in.Push(Segment{Text: "  seven pm ", Final: true}))
	assert.True(t, in.Push(Segment{Text: "eight pm", Final: true}))

	assert.Len(t, in.Queue(), 2)
}

func TestEmptyFinalIgnored(t *testing.T) {
	in := NewIngest(4)
	assert.False(t, in.Push(Segment{Text: "   ", Final: true}))
}

func TestFullQueueDropsOldest(t *testing.T) {
	in := NewIngest(2)

	in.Push(Segment{Text: "one", Final: true})
	in.Push(Segment{Text: "two", Final: true})
	in.Push(Segment{Text: "three", Final: true})

	first := <-in.Queue()
	second := <-in.Queue()
	assert.Equal(t, "two", first.Text)
	assert.Equal(t, "three", second.Text)
}

// Two finals 0.2s apart inside one debounce window produce exactly one
// dispatch, carrying the later text.
func TestDebounceCoalescesRapidFinals(t *testing.T) {
	in := NewIngest(8)
	d := NewDebouncer(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Prime the window so the next utterance is held.
	in.Push(Segment{Text: "hello", Final: true})
	seg, ok := d.Next(ctx, in.Queue())
	require.True(t, ok)
	require.Equal(t, "hello", seg.Text)

	in.Push(Segment{Text: "table for six", Final: true})
	go func() {
		time.Sleep(40 * time.Millisecond)
		in.Push(Segment{Text: "table for six people tonight", Final: true})
	}()

	seg, ok = d.Next(ctx, in.Queue())
	require.True(t, ok)
	assert.Equal(t, "table for six people tonight", seg.Text)

	// Nothing further pending.
	short, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	_, ok = d.Next(short, in.Queue())
	assert.False(t, ok)
}

// Finals that queued up before anyone asked for a turn are coalesced
// into a single dispatch, even from an idle debouncer.
func TestDebounceColdStartCoalescesBacklog(t *testing.T) {
	in := NewIngest(8)
	d := NewDebouncer(300 * time.Millisecond)

	in.Push(Segment{Text: "table for six", Final: true})
	in.Push(Segment{Text: "table for six people tonight", Final: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	seg, ok := d.Next(ctx, in.Queue())
	require.True(t, ok)
	assert.Equal(t, "table for six people tonight", seg.Text)

	short, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	_, ok = d.Next(short, in.Queue())
	assert.False(t, ok, "the earlier final must not become a second turn")
}

func TestDebounceCancel(t *testing.T) {
	in := NewIngest(4)
	d := NewDebouncer(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := d.Next(ctx, in.Queue())
	assert.False(t, ok)
}
