// Package webhook is the HTTP surface of the bridge: Twilio voice and
// status webhooks, the media stream WebSocket endpoint, and the
// operational API (health, metrics, reservations, conversation).
package webhook

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge"
	"github.com/agentplexus/voicebridge/booking"
	"github.com/agentplexus/voicebridge/dialogue"
	"github.com/agentplexus/voicebridge/orchestrator"
	"github.com/agentplexus/voicebridge/session"
	"github.com/agentplexus/voicebridge/transport"
)

// Server wires the HTTP routes to the bridge components.
type Server struct {
	router    *gin.Engine
	orch      *orchestrator.Orchestrator
	respond   dialogue.Responder
	bookings  *booking.Store
	registry  *session.Registry
	publicURL string
	log       *zap.Logger
}

// Option configures the Server.
type Option func(*options)

type options struct {
	log *zap.Logger
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// New creates the HTTP server. publicURL is the base URL Twilio reaches
// this server at; the media stream URL derives from it.
func New(orch *orchestrator.Orchestrator, respond dialogue.Responder, bookings *booking.Store, registry *session.Registry, publicURL string, opts ...Option) *Server {
	cfg := &options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Server{
		orch:      orch,
		respond:   respond,
		bookings:  bookings,
		registry:  registry,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       cfg.log,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.POST("/voice", s.handleVoice)
	r.POST("/status", s.handleStatus)
	r.GET("/twilio/stream", s.handleStream)
	r.POST("/conversation", s.handleConversation)
	r.GET("/reservations", s.handleListReservations)
	r.DELETE("/reservations/:id", s.handleCancelReservation)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = r
	return s
}

// Router returns the underlying handler for http.Server.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		// The stream endpoint logs its own lifecycle.
		if c.FullPath() == "/twilio/stream" {
			return
		}
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}

// TwiML document for <Connect><Stream>.
type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:",omitempty"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string       `xml:"url,attr"`
	Parameters []twimlParam `xml:"Parameter"`
}

type twimlParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// streamURL converts the public base URL to its WebSocket form.
func (s *Server) streamURL() string {
	url := s.publicURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/twilio/stream"
}

// handleVoice answers Twilio's incoming-call webhook with TwiML that
// connects the call to the media stream. The caller's number rides
// along as a stream parameter so the dialogue engine can attach it to
// the booking.
func (s *Server) handleVoice(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	from := c.PostForm("From")
	s.log.Info("incoming call",
		zap.String("call_sid", callSID),
		zap.String("from", from))

	doc := twimlResponse{
		Connect: &twimlConnect{
			Stream: twimlStream{
				URL: s.streamURL(),
				Parameters: []twimlParam{
					{Name: "caller", Value: from},
				},
			},
		},
	}

	body, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		c.String(http.StatusInternalServerError, "twiml generation failed")
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, xml.Header+string(body))
}

// handleStatus consumes Twilio status callbacks. Terminal statuses
// deactivate the session; the stream teardown itself happens when
// Twilio closes the WebSocket.
func (s *Server) handleStatus(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	status := c.PostForm("CallStatus")
	s.log.Info("call status",
		zap.String("call_sid", callSID),
		zap.String("status", status))

	if isTerminalStatus(status) {
		if sess, ok := s.registry.Get(callSID); ok {
			sess.Deactivate()
		}
	}
	c.Status(http.StatusNoContent)
}

func isTerminalStatus(status string) bool {
	switch status {
	case voicebridge.CallStatusCompleted,
		voicebridge.CallStatusBusy,
		voicebridge.CallStatusFailed,
		voicebridge.CallStatusNoAnswer,
		voicebridge.CallStatusCanceled:
		return true
	}
	return false
}

// handleStream upgrades the media stream WebSocket and runs the call.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := transport.Upgrade(c.Writer, c.Request, transport.WithLogger(s.log))
	if err != nil {
		s.log.Warn("stream upgrade failed", zap.Error(err))
		return
	}

	if err := s.orch.HandleStream(c.Request.Context(), conn); err != nil {
		s.log.Warn("call ended with error", zap.Error(err))
	}
}

// handleConversation exposes the dialogue engine over HTTP with the
// same contract a remote conversation service implements.
func (s *Server) handleConversation(c *gin.Context) {
	var turn dialogue.Turn
	if err := c.ShouldBindJSON(&turn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(turn.Text) == "" || turn.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text and session_id are required"})
		return
	}

	reply, err := s.respond.Respond(c.Request.Context(), turn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleListReservations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reservations": s.bookings.List()})
}

func (s *Server) handleCancelReservation(c *gin.Context) {
	id := c.Param("id")
	if !s.bookings.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no confirmed reservation %q", id)})
		return
	}
	s.log.Info("reservation cancelled", zap.String("booking_id", id))
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "id": id})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"version":      voicebridge.Version,
		"active_calls": s.registry.Len(),
	})
}
