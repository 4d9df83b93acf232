package vad

import "github.com/ivrcore/mediacore/pkg/types"

// VADEvent and VADEventType are aliases of the shared pkg/types definitions:
// Engine and SessionHandle are typed in terms of pkg/types so that callers
// outside this package (the media package's passthrough barge-in detection)
// never need to convert between a vad-local shape and the shared one.
type (
	VADEvent     = types.VADEvent
	VADEventType = types.VADEventType
)

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart = types.VADSpeechStart

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue = types.VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd = types.VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence = types.VADSilence
)
