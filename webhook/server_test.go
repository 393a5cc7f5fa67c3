package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/voicebridge/booking"
	"github.com/agentplexus/voicebridge/dialogue"
	"github.com/agentplexus/voicebridge/session"
)

var fixedNow = func() time.Time {
	return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
}

func newTestServer(t *testing.T) (*Server, *booking.Store, *session.Registry) {
	t.Helper()
	store := booking.NewStore()
	engine := dialogue.NewEngine(store, dialogue.WithClock(fixedNow))
	registry := session.NewRegistry()

	// The stream endpoint is exercised in the orchestrator tests; the
	// HTTP surface here runs without a live orchestrator.
	s := New(nil, engine, store, registry, "https://bridge.example.com")
	return s, store, registry
}

func postForm(s *Server, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestVoiceWebhookReturnsStreamTwiML(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := postForm(s, "/voice", url.Values{
		"CallSid": {"CA123"},
		"From":    {"+15550100"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")

	body := w.Body.String()
	assert.Contains(t, body, "<Connect>")
	assert.Contains(t, body, `url="wss://bridge.example.com/twilio/stream"`)
	assert.Contains(t, body, `name="caller"`)
	assert.Contains(t, body, `value="+15550100"`)
}

func TestStatusWebhookDeactivatesSession(t *testing.T) {
	s, _, registry := newTestServer(t)

	sess := session.New("CA456", "MZ1", "+15550100")
	require.True(t, registry.Insert(sess))
	require.True(t, sess.Active())

	w := postForm(s, "/status", url.Values{
		"CallSid":    {"CA456"},
		"CallStatus": {"completed"},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, sess.Active())
}

func TestStatusWebhookIgnoresInterimStatus(t *testing.T) {
	s, _, registry := newTestServer(t)

	sess := session.New("CA457", "MZ1", "")
	require.True(t, registry.Insert(sess))

	postForm(s, "/status", url.Values{
		"CallSid":    {"CA457"},
		"CallStatus": {"in-progress"},
	})
	assert.True(t, sess.Active())
}

func TestConversationEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := `{"text":"table for 4, tomorrow at 7pm, my name is Alice","session_id":"api_1"}`
	req := httptest.NewRequest(http.MethodPost, "/conversation", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var reply dialogue.Reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Contains(t, reply.Text, "Alice")
	require.NotNil(t, reply.Slots)
	assert.Equal(t, 4, reply.Slots.PartySize)
	assert.Equal(t, "2026-09-01", reply.Slots.Date)
}

func TestConversationEndpointValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, body := range []string{
		`{broken`,
		`{"text":"","session_id":"x"}`,
		`{"text":"hello","session_id":""}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/conversation", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %s", body)
	}
}

func TestReservationEndpoints(t *testing.T) {
	s, store, _ := newTestServer(t)

	res := store.CreateBooking(context.Background(), booking.Request{
		Date: "2026-09-01", Time: "19:00", PartySize: 4, GuestName: "Alice",
	})
	require.True(t, res.Success)

	req := httptest.NewRequest(http.MethodGet, "/reservations", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), res.BookingID)

	req = httptest.NewRequest(http.MethodDelete, "/reservations/"+res.BookingID, nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Cancelling twice is a 404.
	req = httptest.NewRequest(http.MethodDelete, "/reservations/"+res.BookingID, nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, _, registry := newTestServer(t)
	registry.Insert(session.New("CA1", "MZ1", ""))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["active_calls"])
}
