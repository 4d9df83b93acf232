package media

import (
	"time"

	"github.com/ivrcore/mediacore/pkg/types"
)

// Config tunes one Connection's behavior. It mirrors the MediaConfig fields
// a deployment sets in the server's YAML configuration (STREAMING_MODE,
// RECOGNIZER_POOL_SIZE, and friends); the config loader is responsible for
// turning environment/flag/file values into this struct before it reaches
// the media package.
type Config struct {
	// Variant selects STT_TTS, TRANSCRIPTION_ONLY, or PASSTHROUGH.
	Variant Variant

	// SampleRate is the PCM sample rate this connection negotiates with the
	// recognizer and synthesizer. 16000 in the default mode; callers running
	// PASSTHROUGH with an external service that requires 24 kHz should set
	// this explicitly.
	SampleRate int

	// Languages lists candidate language tags for recognizer auto-detect.
	Languages []string

	// SessionTTL is the CoreMemory TTL written on every SessionStore.Save.
	SessionTTL time.Duration

	// BargeInStopTimeout bounds how long the barge-in algorithm waits for
	// its stop-audio frame to be handed to the egress lane before giving up
	// and proceeding with cancellation anyway.
	BargeInStopTimeout time.Duration

	// TurnDeadline is the soft deadline passed to the Orchestrator for each
	// turn.
	TurnDeadline time.Duration

	// TurnQueueDepth bounds the turn_queue. Overflow drops the oldest
	// non-current final with a logged warning, never the most recent.
	TurnQueueDepth int

	// PassthroughVoice and PassthroughInstructions seed the external
	// realtime voice service's session when Variant is PASSTHROUGH. Ignored
	// for the other two variants.
	PassthroughVoice        types.VoiceProfile
	PassthroughInstructions string

	// VADFrameSizeMs, VADSpeechThreshold, and VADSilenceThreshold configure
	// the local VAD session PASSTHROUGH uses for barge-in detection, since
	// the external service's own transcript stream carries no speech-onset
	// event the MediaHandler can act on fast enough.
	VADFrameSizeMs     int
	VADSpeechThreshold float64
	VADSilenceThreshold float64
}

const (
	defaultSampleRate          = 16000
	defaultSessionTTL          = 30 * time.Minute
	defaultBargeInStopTimeout  = 50 * time.Millisecond
	defaultTurnDeadline        = 30 * time.Second
	defaultTurnQueueDepth      = 8
	defaultVADFrameSizeMs      = 20
	defaultVADSpeechThreshold  = 0.5
	defaultVADSilenceThreshold = 0.35
)

// withDefaults returns a copy of c with zero-valued fields replaced by their
// documented defaults.
func (c Config) withDefaults() Config {
	if c.Variant == "" {
		c.Variant = VariantSTTTTS
	}
	if c.SampleRate == 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.BargeInStopTimeout == 0 {
		c.BargeInStopTimeout = defaultBargeInStopTimeout
	}
	if c.TurnDeadline == 0 {
		c.TurnDeadline = defaultTurnDeadline
	}
	if c.TurnQueueDepth == 0 {
		c.TurnQueueDepth = defaultTurnQueueDepth
	}
	if c.VADFrameSizeMs == 0 {
		c.VADFrameSizeMs = defaultVADFrameSizeMs
	}
	if c.VADSpeechThreshold == 0 {
		c.VADSpeechThreshold = defaultVADSpeechThreshold
	}
	if c.VADSilenceThreshold == 0 {
		c.VADSilenceThreshold = defaultVADSilenceThreshold
	}
	return c
}
