// Package voicebridge bridges Twilio Media Streams phone calls to a
// turn-based spoken-dialogue backend for restaurant reservations.
//
// The bridge sits between the PSTN leg and three external collaborators:
//   - stt: streaming speech-to-text over WebSocket (16kHz PCM in, JSON out)
//   - dialogue/convo: turn-based conversation engine (local slot-filling
//     state machine, or a remote HTTP service with the same contract)
//   - tts: text-to-speech over HTTP (text in, MP3 out)
//
// Per call the orchestrator runs three loops: inbound audio is transcoded
// from 8kHz µ-law to 16kHz linear PCM and forwarded to STT; finalized
// transcripts are debounced into turns and handed to the dialogue engine;
// replies are synthesized, transcoded back to µ-law and paced out over the
// media stream in 20ms chunks.
//
// # Environment Variables
//
//	TWILIO_ACCOUNT_SID - Twilio Account SID (optional, enables REST hangup)
//	TWILIO_AUTH_TOKEN  - Twilio Auth Token
//	PUBLIC_WEBHOOK_URL - Public base URL Twilio reaches this server at
//	STT_URL            - WebSocket base URL of the STT engine
//	TTS_URL            - HTTP base URL of the TTS engine
package voicebridge

// Version is the bridge version.
const Version = "0.1.0"

// Audio format constants for Media Streams and the STT leg.
const (
	// AudioEncodingMulaw is the µ-law encoding Twilio sends (8-bit, 8kHz).
	AudioEncodingMulaw = "audio/x-mulaw"

	// AudioEncodingPCM is linear PCM (16-bit little-endian).
	AudioEncodingPCM = "audio/x-l16"

	// TelephonySampleRate is the Twilio media stream sample rate (8kHz).
	TelephonySampleRate = 8000

	// SpeechSampleRate is the sample rate the STT engine expects (16kHz).
	SpeechSampleRate = 16000

	// FrameDurationMs is the duration of one Twilio media chunk.
	FrameDurationMs = 20

	// MulawFrameBytes is the size of one 20ms µ-law frame at 8kHz.
	MulawFrameBytes = 160
)

// Call status constants as reported by Twilio status callbacks.
const (
	CallStatusQueued     = "queued"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)
