package stt

import (
	"context"
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

// fakeService runs a scripted transcription endpoint.
func fakeService(t *testing.T, script func(conn *websocket.Conn)) *Client {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)

	return NewClient("ws" + strings.TrimPrefix(srv.URL, "http"))
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func collect(t *testing.T, s *Stream, n int) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	return got
}

func TestStreamEvents(t *testing.T) {
	c := fakeService(t, func(conn *websocket.Conn) {
		writeJSON(t, conn, message{Type: MessageTranscript, Buffer: "book a ta"})
		writeJSON(t, conn, message{
			Type:  MessageTranscript,
			Lines: []Line{{Text: "book a table for four", DetectedLanguage: "en"}},
		})
		writeJSON(t, conn, message{Type: MessageReadyToStop})
	})

	s, err := c.Dial(context.Background())
	require.NoError(t, err)
	defer s.Close()

	events := collect(t, s, 2)
	assert.Equal(t, Event{Text: "book a ta"}, events[0])
	assert.Equal(t, Event{Text: "book a table for four", Language: "en", Final: true}, events[1])

	_, open := <-s.Events()
	assert.False(t, open, "channel closes after ready_to_stop")
}

func TestStreamDeliversOnlyNewLines(t *testing.T) {
	c := fakeService(t, func(conn *websocket.Conn) {
		writeJSON(t, conn, message{Type: MessageTranscript, Lines: []Line{{Text: "first"}}})
		// The service resends the whole line history each time.
		writeJSON(t, conn, message{Type: MessageTranscript, Lines: []Line{{Text: "first"}, {Text: "second"}}})
		writeJSON(t, conn, message{Type: MessageReadyToStop})
	})

	s, err := c.Dial(context.Background())
	require.NoError(t, err)
	defer s.Close()

	events := collect(t, s, 2)
	assert.Equal(t, "first", events[0].Text)
	assert.Equal(t, "second", events[1].Text)
	_, open := <-s.Events()
	assert.False(t, open)
}

func TestStreamSendForwardsBinaryFrames(t *testing.T) {
	frames := make(chan []byte, 1)
	c := fakeService(t, func(conn *websocket.Conn) {
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, mt)
		frames <- data
		writeJSON(t, conn, message{Type: MessageReadyToStop})
	})

	s, err := c.Dial(context.Background())
	require.NoError(t, err)

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	require.NoError(t, s.Send(pcm))

	select {
	case got := <-frames:
		assert.Equal(t, pcm, got)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}
	s.Close()

	assert.Error(t, s.Send(pcm), "send after close fails")
}

func TestStreamMalformedMessagesSkipped(t *testing.T) {
	c := fakeService(t, func(conn *websocket.Conn) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		writeJSON(t, conn, message{Type: MessageTranscript, Lines: []Line{{Text: "still works"}}})
		writeJSON(t, conn, message{Type: MessageReadyToStop})
	})

	s, err := c.Dial(context.Background())
	require.NoError(t, err)
	defer s.Close()

	events := collect(t, s, 1)
	assert.Equal(t, "still works", events[0].Text)
}

func TestDialFailure(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", WithDialTimeout(200*time.Millisecond))
	_, err := c.Dial(context.Background())
	assert.Error(t, err)
}

func TestStreamChannelClosesOnDrop(t *testing.T) {
	c := fakeService(t, func(conn *websocket.Conn) {
		// Close abruptly with no ready_to_stop.
	})

	s, err := c.Dial(context.Background())
	require.NoError(t, err)
	defer s.Close()

	select {
	case _, open := <-s.Events():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close")
	}
}
