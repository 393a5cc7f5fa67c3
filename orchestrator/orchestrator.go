// Package orchestrator runs the per-call bridge: it moves caller audio
// to the transcription service, turns finalized transcripts into
// dialogue turns, and plays synthesized replies back over the media
// stream.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge/audio"
	"github.com/agentplexus/voicebridge/dialogue"
	"github.com/agentplexus/voicebridge/metrics"
	"github.com/agentplexus/voicebridge/session"
	"github.com/agentplexus/voicebridge/stt"
	"github.com/agentplexus/voicebridge/transcript"
	"github.com/agentplexus/voicebridge/transport"
)

const (
	// frameBytes is one 20ms µ-law frame at 8kHz.
	frameBytes = 160

	// framePeriod paces outbound audio in real time.
	framePeriod = 20 * time.Millisecond
)

// apologyText is spoken when a collaborator fails mid-call.
const apologyText = "I'm sorry, I'm having a little trouble right now. Could you please repeat that?"

// SpeechStream is one live transcription session.
type SpeechStream interface {
	Send(pcm []byte) error
	Events() <-chan stt.Event
	Close() error
}

// SpeechDialer opens transcription sessions.
type SpeechDialer interface {
	Dial(ctx context.Context) (SpeechStream, error)
}

// Synthesizer converts reply text to MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// MediaStream is the caller-facing leg of one call.
type MediaStream interface {
	Events() <-chan transport.Event
	WriteMedia(audio []byte) error
	SendMark(name string) error
	Clear() error
	Close() error
}

// Verify interface compliance at compile time.
var (
	_ MediaStream  = (*transport.Conn)(nil)
	_ SpeechStream = (*stt.Stream)(nil)
)

// sttDialer adapts *stt.Client to SpeechDialer.
type sttDialer struct {
	c *stt.Client
}

func (d sttDialer) Dial(ctx context.Context) (SpeechStream, error) {
	return d.c.Dial(ctx)
}

// NewSTTDialer wraps the transcription client.
func NewSTTDialer(c *stt.Client) SpeechDialer {
	return sttDialer{c: c}
}

// Orchestrator bridges calls between Twilio and the speech collaborators.
type Orchestrator struct {
	registry *session.Registry
	speech   SpeechDialer
	synth    Synthesizer
	respond  dialogue.Responder
	codec    *audio.Codec
	metrics  *metrics.Metrics
	log      *zap.Logger

	greeting       string
	replyFormat    audio.SourceFormat
	debounceWindow time.Duration
	idleTimeout    time.Duration
	hangup         func(ctx context.Context, callSID string) error
}

// Option configures the Orchestrator.
type Option func(*options)

type options struct {
	codec          *audio.Codec
	metrics        *metrics.Metrics
	log            *zap.Logger
	greeting       string
	replyFormat    audio.SourceFormat
	debounceWindow time.Duration
	idleTimeout    time.Duration
	hangup         func(ctx context.Context, callSID string) error
}

// WithCodec sets the audio codec.
func WithCodec(c *audio.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithGreeting sets the line spoken when the stream starts.
func WithGreeting(text string) Option {
	return func(o *options) {
		o.greeting = text
	}
}

// WithDebounceWindow sets the minimum spacing between dialogue turns.
func WithDebounceWindow(d time.Duration) Option {
	return func(o *options) {
		o.debounceWindow = d
	}
}

// WithIdleTimeout sets how long a silent call is kept before hangup.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithReplyFormat sets the format the synthesizer returns. The default
// is MP3.
func WithReplyFormat(f audio.SourceFormat) Option {
	return func(o *options) {
		o.replyFormat = f
	}
}

// WithHangup sets the REST hangup used when a call idles out. Without
// it the bridge just closes the media stream.
func WithHangup(fn func(ctx context.Context, callSID string) error) Option {
	return func(o *options) {
		o.hangup = fn
	}
}

// New creates an orchestrator.
func New(registry *session.Registry, speech SpeechDialer, synth Synthesizer, respond dialogue.Responder, opts ...Option) *Orchestrator {
	cfg := &options{
		greeting:       "Thank you for calling! How can I help you today?",
		replyFormat:    audio.SourceFormat{Encoding: audio.EncodingMP3},
		debounceWindow: transcript.DefaultDebounceWindow,
		idleTimeout:    600 * time.Second,
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.codec == nil {
		cfg.codec = audio.New()
	}

	return &Orchestrator{
		registry:       registry,
		speech:         speech,
		synth:          synth,
		respond:        respond,
		codec:          cfg.codec,
		metrics:        cfg.metrics,
		log:            cfg.log,
		greeting:       cfg.greeting,
		replyFormat:    cfg.replyFormat,
		debounceWindow: cfg.debounceWindow,
		idleTimeout:    cfg.idleTimeout,
		hangup:         cfg.hangup,
	}
}

// call bundles the per-call state shared by the loops.
type call struct {
	sess   *session.Session
	conn   MediaStream
	speech SpeechStream
	ingest *transcript.Ingest

	mu      sync.Mutex // serializes outbound audio
	markSeq int
}

// HandleStream runs one call to completion. It blocks until the stream
// stops, the context is canceled, or the call idles out.
func (o *Orchestrator) HandleStream(ctx context.Context, conn MediaStream) error {
	defer conn.Close()

	start, err := o.awaitStart(ctx, conn)
	if err != nil {
		return err
	}

	sess := session.New(start.CallSID, start.StreamSID, start.CustomParams["caller"])
	if !o.registry.Insert(sess) {
		return fmt.Errorf("call %s already bridged", start.CallSID)
	}
	defer o.registry.Remove(sess.CallSID)

	if o.metrics != nil {
		o.metrics.CallsTotal.Inc()
		o.metrics.ActiveCalls.Inc()
		defer o.metrics.ActiveCalls.Dec()
		defer func() {
			o.metrics.CallDuration.Observe(sess.Duration().Seconds())
		}()
	}

	log := o.log.With(
		zap.String("call_sid", sess.CallSID),
		zap.String("stream_sid", sess.StreamSID))
	log.Info("call started", zap.String("caller", sess.CallerID))

	if caller := sess.CallerID; caller != "" {
		if cp, ok := o.respond.(interface{ SetCallerPhone(sessionID, phone string) }); ok {
			cp.SetCallerPhone(sess.DialogueSessionID, caller)
		}
	}

	speech, err := o.speech.Dial(ctx)
	if err != nil {
		log.Error("transcription dial failed", zap.Error(err))
		o.collaboratorError("stt")
		c := &call{sess: sess, conn: conn}
		o.speak(ctx, c, "I'm sorry, our reservation line is having technical difficulties. Please call back in a few minutes.")
		return err
	}
	defer speech.Close()

	c := &call{
		sess:   sess,
		conn:   conn,
		speech: speech,
		ingest: transcript.NewIngest(32),
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer cancel()
		o.mediaLoop(callCtx, c, log)
	}()
	go func() {
		defer wg.Done()
		o.transcriptLoop(callCtx, c, log)
	}()
	go func() {
		defer wg.Done()
		o.turnLoop(callCtx, c, log)
	}()

	o.speak(callCtx, c, o.greeting)

	o.watchIdle(callCtx, c, log)
	cancel()
	wg.Wait()

	sess.Deactivate()
	log.Info("call ended", zap.Duration("duration", sess.Duration()))
	return nil
}

// awaitStart consumes events until the start event arrives.
func (o *Orchestrator) awaitStart(ctx context.Context, conn MediaStream) (*transport.StartInfo, error) {
	timeout := time.NewTimer(10 * time.Second)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, fmt.Errorf("no start event within 10s")
		case ev, ok := <-conn.Events():
			if !ok {
				return nil, fmt.Errorf("stream closed before start")
			}
			switch ev.Type {
			case transport.EventStart:
				return ev.Start, nil
			case transport.EventStop, transport.EventError:
				return nil, fmt.Errorf("stream ended before start")
			}
		}
	}
}

// mediaLoop forwards caller audio to the transcription service and
// reacts to stream control events. Returning cancels the call.
func (o *Orchestrator) mediaLoop(ctx context.Context, c *call, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.conn.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case transport.EventMedia:
				c.sess.Touch()
				if o.metrics != nil {
					o.metrics.AudioFramesIn.Inc()
				}
				pcm, err := o.codec.DecodeInbound(ev.Audio)
				if err != nil {
					log.Warn("inbound frame conversion failed", zap.Error(err))
					continue
				}
				if err := c.speech.Send(pcm); err != nil {
					log.Warn("transcription send failed", zap.Error(err))
					o.collaboratorError("stt")
					return
				}

			case transport.EventDTMF:
				c.sess.Touch()
				log.Debug("dtmf", zap.String("digit", ev.Digit))

			case transport.EventMark:
				log.Debug("playback mark", zap.String("name", ev.Mark))
				if c.sess.State() == session.StateSpeaking {
					c.sess.SetState(session.StateListening)
				}

			case transport.EventStop:
				log.Info("caller hung up")
				return

			case transport.EventError:
				log.Warn("stream error", zap.Error(ev.Err))
				return
			}
		}
	}
}

// transcriptLoop feeds transcription events into the utterance queue.
// A finalized utterance arriving mid-reply interrupts playback.
func (o *Orchestrator) transcriptLoop(ctx context.Context, c *call, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.speech.Events():
			if !ok {
				return
			}
			seg := transcript.Segment{
				Text:       ev.Text,
				Language:   ev.Language,
				Final:      ev.Final,
				ReceivedAt: time.Now(),
			}
			if !c.ingest.Push(seg) {
				continue
			}
			log.Debug("utterance finalized", zap.String("text", seg.Text))
			if c.sess.State() == session.StateSpeaking {
				if err := c.conn.Clear(); err == nil {
					log.Debug("interrupted playback for new utterance")
				}
			}
		}
	}
}

// turnLoop debounces finalized utterances into dialogue turns and
// speaks the replies. A single loop per call keeps turns strictly
// ordered with at most one dialogue call in flight.
func (o *Orchestrator) turnLoop(ctx context.Context, c *call, log *zap.Logger) {
	deb := transcript.NewDebouncer(o.debounceWindow)

	for {
		seg, ok := deb.Next(ctx, c.ingest.Queue())
		if !ok {
			return
		}

		c.sess.SetState(session.StateThinking)
		turnStart := time.Now()

		reply, err := o.respond.Respond(ctx, dialogue.Turn{
			Text:      seg.Text,
			SessionID: c.sess.DialogueSessionID,
			Language:  seg.Language,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dialogue turn failed", zap.Error(err))
			o.collaboratorError("conversation")
			o.speak(ctx, c, apologyText)
			continue
		}

		if o.metrics != nil {
			o.metrics.TurnsTotal.Inc()
			o.metrics.TurnLatency.Observe(time.Since(turnStart).Seconds())
		}
		log.Info("dialogue turn",
			zap.String("utterance", seg.Text),
			zap.Bool("complete", reply.Complete))

		o.speak(ctx, c, reply.Text)
	}
}

// speak synthesizes text and plays it to the caller in real-time paced
// frames, then marks the end of the reply.
func (o *Orchestrator) speak(ctx context.Context, c *call, text string) {
	if text == "" || ctx.Err() != nil {
		return
	}

	src, err := o.synth.Synthesize(ctx, text)
	if err != nil {
		o.log.Error("synthesis failed", zap.Error(err))
		o.collaboratorError("tts")
		return
	}

	mulaw, err := o.codec.EncodeOutbound(src, o.replyFormat)
	if err != nil {
		o.log.Error("outbound conversion failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sess.SetState(session.StateSpeaking)

	ticker := time.NewTicker(framePeriod)
	defer ticker.Stop()

	for off := 0; off < len(mulaw); off += frameBytes {
		end := off + frameBytes
		if end > len(mulaw) {
			end = len(mulaw)
		}
		if err := c.conn.WriteMedia(mulaw[off:end]); err != nil {
			return
		}
		if o.metrics != nil {
			o.metrics.AudioFramesOut.Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	c.markSeq++
	if err := c.conn.SendMark(fmt.Sprintf("reply-%d", c.markSeq)); err != nil {
		o.log.Debug("mark send failed", zap.Error(err))
	}
}

// watchIdle hangs the call up after prolonged silence.
func (o *Orchestrator) watchIdle(ctx context.Context, c *call, log *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.sess.IdleSince() < o.idleTimeout {
				continue
			}
			log.Info("call idle past timeout, hanging up",
				zap.Duration("idle", c.sess.IdleSince()))
			if o.hangup != nil {
				hangCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := o.hangup(hangCtx, c.sess.CallSID); err != nil {
					log.Warn("REST hangup failed", zap.Error(err))
				}
				cancel()
			}
			return
		}
	}
}

func (o *Orchestrator) collaboratorError(name string) {
	if o.metrics != nil {
		o.metrics.CollaboratorErr.WithLabelValues(name).Inc()
	}
}
