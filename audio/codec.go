// Package audio converts between the 8kHz µ-law audio carried on Twilio
// Media Streams and the 16-bit linear PCM the speech engines work with.
//
// Inbound: base64-decoded µ-law frames are expanded to 16-bit PCM and
// upsampled 8kHz→16kHz for the STT engine. Outbound: synthesized audio
// (MP3, WAV or raw PCM at an arbitrary rate) is downmixed to mono,
// resampled to 8kHz and companded back to µ-law.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"go.uber.org/zap"
)

// Encoding identifies the container/codec of outbound source audio.
type Encoding string

const (
	// EncodingMP3 is an MP3 container, as returned by the TTS engine.
	EncodingMP3 Encoding = "mp3"

	// EncodingWAV is a PCM16 WAV container.
	EncodingWAV Encoding = "wav"

	// EncodingPCM16 is raw 16-bit little-endian PCM; SampleRate and
	// Channels must be set on the SourceFormat.
	EncodingPCM16 Encoding = "pcm16"
)

// SourceFormat describes outbound source audio handed to EncodeOutbound.
// SampleRate and Channels are ignored for container encodings, which carry
// their own header.
type SourceFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Codec performs bidirectional telephony audio conversion.
type Codec struct {
	telephonyRate int
	speechRate    int
	slowThreshold time.Duration
	observe       func(d time.Duration)
	log           *zap.Logger
}

// Option configures the Codec.
type Option func(*options)

type options struct {
	slowThreshold time.Duration
	observe       func(d time.Duration)
	log           *zap.Logger
}

// WithSlowThreshold sets the conversion duration above which a frame is
// flagged as slow. Default 10ms.
func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) {
		o.slowThreshold = d
	}
}

// WithObserver sets a callback invoked with the duration of every
// conversion, for metrics.
func WithObserver(fn func(d time.Duration)) Option {
	return func(o *options) {
		o.observe = fn
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// New creates a Codec converting between 8kHz µ-law and 16kHz PCM.
func New(opts ...Option) *Codec {
	cfg := &options{
		slowThreshold: 10 * time.Millisecond,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Codec{
		telephonyRate: 8000,
		speechRate:    16000,
		slowThreshold: cfg.slowThreshold,
		observe:       cfg.observe,
		log:           cfg.log,
	}
}

// DecodeInbound converts one µ-law frame from the telephony leg into
// 16-bit little-endian PCM at 16kHz mono.
func (c *Codec) DecodeInbound(mulaw []byte) ([]byte, error) {
	start := time.Now()
	defer c.timeConversion(start, "inbound")

	if len(mulaw) == 0 {
		return nil, fmt.Errorf("empty µ-law frame")
	}

	samples := make([]int16, len(mulaw))
	for i, b := range mulaw {
		samples[i] = MulawToLinear(b)
	}

	out := resampleLinear(samples, c.telephonyRate, c.speechRate)
	return samplesToBytes(out), nil
}

// EncodeOutbound converts synthesized audio into µ-law at 8kHz mono for
// the telephony leg.
func (c *Codec) EncodeOutbound(data []byte, src SourceFormat) ([]byte, error) {
	start := time.Now()
	defer c.timeConversion(start, "outbound")

	samples, rate, channels, err := decodeSource(data, src)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no audio samples in %s source", src.Encoding)
	}

	mono := toMono(samples, channels)
	resampled := resampleLinear(mono, rate, c.telephonyRate)

	out := make([]byte, len(resampled))
	for i, s := range resampled {
		out[i] = LinearToMulaw(s)
	}
	return out, nil
}

func (c *Codec) timeConversion(start time.Time, direction string) {
	d := time.Since(start)
	if c.observe != nil {
		c.observe(d)
	}
	if d > c.slowThreshold {
		c.log.Warn("slow audio conversion",
			zap.String("direction", direction),
			zap.Duration("took", d))
	}
}

func decodeSource(data []byte, src SourceFormat) ([]int16, int, int, error) {
	switch src.Encoding {
	case EncodingMP3:
		return decodeMP3(data)
	case EncodingWAV:
		return decodeWAV(data)
	case EncodingPCM16:
		if src.SampleRate <= 0 {
			return nil, 0, 0, fmt.Errorf("pcm16 source requires a sample rate")
		}
		channels := src.Channels
		if channels <= 0 {
			channels = 1
		}
		return bytesToSamples(data), src.SampleRate, channels, nil
	default:
		return nil, 0, 0, fmt.Errorf("unsupported source encoding %q", src.Encoding)
	}
}

// decodeMP3 decodes an MP3 container. go-mp3 always emits 16-bit stereo
// at the stream's native rate.
func decodeMP3(data []byte) ([]int16, int, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode mp3: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read mp3 stream: %w", err)
	}

	return bytesToSamples(raw), dec.SampleRate(), 2, nil
}

// decodeWAV parses a PCM16 WAV container.
func decodeWAV(data []byte) ([]int16, int, int, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a RIFF/WAVE container")
	}

	var (
		rate     int
		channels int
		bits     int
		pcm      []byte
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return nil, 0, 0, fmt.Errorf("truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("unsupported wav format %d, want PCM", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			rate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}

		pos = body + size
		if size%2 == 1 {
			pos++ // chunk padding
		}
	}

	if rate == 0 || channels == 0 || pcm == nil {
		return nil, 0, 0, fmt.Errorf("wav missing fmt or data chunk")
	}
	if bits != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported wav bit depth %d, want 16", bits)
	}

	return bytesToSamples(pcm), rate, channels, nil
}

// toMono averages interleaved channels down to one.
func toMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := 0; i < len(out); i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// resampleLinear converts between sample rates by linear interpolation.
func resampleLinear(in []int16, inRate, outRate int) []int16 {
	if inRate == outRate || len(in) == 0 {
		return append([]int16(nil), in...)
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := int(math.Round(float64(len(in)) * ratio))
	if outLen <= 1 {
		return []int16{}
	}
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		i0 := int(math.Floor(srcPos))
		i1 := i0 + 1
		if i0 >= len(in) {
			i0 = len(in) - 1
		}
		if i1 >= len(in) {
			i1 = len(in) - 1
		}
		f := srcPos - float64(i0)
		v := float64(in[i0])*(1.0-f) + float64(in[i1])*f
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

func bytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return out
}

func samplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(v))
	}
	return out
}
