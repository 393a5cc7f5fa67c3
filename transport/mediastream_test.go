package transport

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialPair upgrades a server-side Conn and returns it with the raw
// client socket Twilio would hold.
func dialPair(t *testing.T, opts ...Option) (*Conn, *websocket.Conn) {
	t.Helper()
	conns := make(chan *Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, opts...)
		require.NoError(t, err)
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	conn := <-conns
	t.Cleanup(func() { conn.Close() })
	return conn, client
}

func nextEvent(t *testing.T, conn *Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestInboundEvents(t *testing.T) {
	conn, client := dialPair(t)

	require.NoError(t, client.WriteJSON(map[string]any{"event": "connected"}))
	assert.Equal(t, EventConnected, nextEvent(t, conn).Type)

	require.NoError(t, client.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid": "MZ123",
			"callSid":   "CA456",
			"tracks":    []string{"inbound"},
			"mediaFormat": map[string]any{
				"encoding":   "audio/x-mulaw",
				"sampleRate": 8000,
				"channels":   1,
			},
		},
	}))
	ev := nextEvent(t, conn)
	require.Equal(t, EventStart, ev.Type)
	require.NotNil(t, ev.Start)
	assert.Equal(t, "MZ123", ev.Start.StreamSID)
	assert.Equal(t, "CA456", ev.Start.CallSID)
	assert.Equal(t, "audio/x-mulaw", ev.Start.MediaFormat.Encoding)
	assert.Equal(t, "MZ123", conn.StreamSID())
	assert.Equal(t, "CA456", conn.CallSID())

	frame := []byte{0x7F, 0x80, 0xFF, 0x00}
	require.NoError(t, client.WriteJSON(map[string]any{
		"event": "media",
		"media": map[string]any{"payload": base64.StdEncoding.EncodeToString(frame)},
	}))
	ev = nextEvent(t, conn)
	require.Equal(t, EventMedia, ev.Type)
	assert.Equal(t, frame, ev.Audio)

	require.NoError(t, client.WriteJSON(map[string]any{
		"event": "dtmf",
		"dtmf":  map[string]any{"digit": "5"},
	}))
	ev = nextEvent(t, conn)
	require.Equal(t, EventDTMF, ev.Type)
	assert.Equal(t, "5", ev.Digit)

	require.NoError(t, client.WriteJSON(map[string]any{
		"event": "mark",
		"mark":  map[string]any{"name": "reply-1"},
	}))
	ev = nextEvent(t, conn)
	require.Equal(t, EventMark, ev.Type)
	assert.Equal(t, "reply-1", ev.Mark)
}

func TestStopClosesEventChannel(t *testing.T) {
	conn, client := dialPair(t)

	require.NoError(t, client.WriteJSON(map[string]any{"event": "stop"}))
	assert.Equal(t, EventStop, nextEvent(t, conn).Type)

	select {
	case _, open := <-conn.Events():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("event channel did not close")
	}
}

func TestWriteMedia(t *testing.T) {
	conn, client := dialPair(t)

	require.NoError(t, client.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ123", "callSid": "CA456"},
	}))
	nextEvent(t, conn)

	frame := []byte{0x01, 0x02, 0x03}
	require.NoError(t, conn.WriteMedia(frame))

	var msg outboundMedia
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))

	assert.Equal(t, "media", msg.Event)
	assert.Equal(t, "MZ123", msg.StreamSID)
	decoded, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)
}

func TestSendMarkAndClear(t *testing.T) {
	conn, client := dialPair(t)

	require.NoError(t, conn.SendMark("reply-done"))
	require.NoError(t, conn.Clear())

	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	var mark outboundMark
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &mark))
	assert.Equal(t, "mark", mark.Event)
	assert.Equal(t, "reply-done", mark.Mark.Name)

	var clr outboundClear
	_, data, err = client.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &clr))
	assert.Equal(t, "clear", clr.Event)
}

func TestMalformedMessagesSkipped(t *testing.T) {
	conn, client := dialPair(t)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("{broken")))
	require.NoError(t, client.WriteJSON(map[string]any{
		"event": "media",
		"media": map[string]any{"payload": "!!!not-base64!!!"},
	}))
	require.NoError(t, client.WriteJSON(map[string]any{"event": "connected"}))

	// Only the well-formed event arrives.
	assert.Equal(t, EventConnected, nextEvent(t, conn).Type)
}

func TestWriteAfterCloseFails(t *testing.T) {
	conn, _ := dialPair(t)

	require.NoError(t, conn.Close())
	assert.Error(t, conn.WriteMedia([]byte{0x00}))
	assert.Error(t, conn.SendMark("late"))
	require.NoError(t, conn.Close(), "close is idempotent")
}

func TestReadLoopUnblocksOnCloseWithFullBuffer(t *testing.T) {
	conn, client := dialPair(t, WithEventBuffer(1))

	// Fill the buffer with control events nobody is consuming. Control
	// events are never dropped, so the read loop ends up waiting on the
	// consumer.
	for i := 0; i < 4; i++ {
		require.NoError(t, client.WriteJSON(map[string]any{
			"event": "mark",
			"mark":  map[string]any{"name": "stale"},
		}))
	}
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, conn.Close())

	// Teardown must still release the read loop so it can close the
	// event channel.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-conn.Events():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("event channel did not close")
		}
	}
}

func TestOutboundQueueNeverBlocks(t *testing.T) {
	conn, _ := dialPair(t, WithOutBuffer(1))

	// Flood a tiny queue; old frames are dropped rather than blocking
	// the producer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			require.NoError(t, conn.WriteMedia([]byte{byte(i)}))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WriteMedia blocked")
	}
}
