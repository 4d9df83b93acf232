package media

// State is a MediaHandler connection's position in the per-session state
// machine. Transitions happen on the lane, bridge, and barge-in goroutines,
// serialized by Connection.mu.
type State int

const (
	// StateIdle is the resting state: no active recognizer activity, no
	// agent audio playing. Entered at session start and after a completed
	// turn's egress drains.
	StateIdle State = iota

	// StateListening means a partial has been observed with no agent audio
	// currently playing; the caller has the floor.
	StateListening

	// StateSpeaking means agent frames are enqueued to the socket.
	StateSpeaking

	// StateBargingIn is the transient state between a partial arriving
	// during Speaking/Turning and the barge-in handler finishing its
	// cancellation; it does not wait for the far end's stop-audio reply.
	StateBargingIn

	// StateTurning means a final has been enqueued and the turn lane is
	// running (or about to run) the Orchestrator for it.
	StateTurning

	// StateClosing is terminal: socket close, lease loss, or a fatal error.
	StateClosing
)

// String returns the state's name, for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateSpeaking:
		return "Speaking"
	case StateBargingIn:
		return "BargingIn"
	case StateTurning:
		return "Turning"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Variant selects which of the three MediaHandler operating modes a
// Connection runs, chosen per-call at accept time.
type Variant string

const (
	// VariantSTTTTS is the default: full recognizer + orchestrator +
	// synthesizer pipeline with barge-in.
	VariantSTTTTS Variant = "STT_TTS"

	// VariantTranscriptionOnly runs the recognizer and emits Transcript
	// frames on finals; the turn lane, synthesis, and barge-in are disabled.
	VariantTranscriptionOnly Variant = "TRANSCRIPTION_ONLY"

	// VariantPassthrough forwards audio to and from an external realtime
	// voice service in place of the SpeechIO pools and Orchestrator. The
	// egress lane and stop-audio protocol are retained.
	VariantPassthrough Variant = "PASSTHROUGH"
)
