package media

// InboundFrame is one JSON text frame received from the telephony provider
// or browser client on the media WebSocket. Exactly one of AudioMetadata,
// AudioData, or StopAudio is populated, selected by Kind.
type InboundFrame struct {
	Kind          string             `json:"kind"`
	AudioMetadata *InboundAudioMeta  `json:"audioMetadata,omitempty"`
	AudioData     *InboundAudioData  `json:"audioData,omitempty"`
	StopAudio     *InboundStopAudio  `json:"stopAudio,omitempty"`
}

// InboundAudioMeta announces the format of the audio that follows.
type InboundAudioMeta struct {
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// InboundAudioData carries one base64-encoded PCM chunk.
type InboundAudioData struct {
	Data             string `json:"data"`
	Timestamp        string `json:"timestamp"`
	ParticipantRawID string `json:"participantRawID"`
	Silent           bool   `json:"silent"`
}

// InboundStopAudio is sent by the far end to acknowledge that it has
// stopped local playout; the fields are reserved for provider extensions.
type InboundStopAudio struct{}

const (
	inboundKindAudioMetadata = "AudioMetadata"
	inboundKindAudioData     = "AudioData"
	inboundKindStopAudio     = "StopAudio"
)

// OutboundFrame is one JSON text frame written back to the socket. The
// provider's wire protocol capitalizes the outbound Kind field and its
// payload fields differently from the inbound ones; this mirrors that
// asymmetry deliberately rather than normalizing it away.
type OutboundFrame struct {
	Kind       string             `json:"Kind"`
	AudioData  *OutboundAudioData `json:"AudioData,omitempty"`
	StopAudio  *OutboundStopAudio `json:"StopAudio,omitempty"`
	Transcript *TranscriptFrame   `json:"Transcript,omitempty"`
}

// OutboundAudioData carries one base64-encoded synthesized PCM chunk.
type OutboundAudioData struct {
	Data string `json:"Data"`
}

// OutboundStopAudio requests the far end to stop playout immediately. Sent
// as the first step of the barge-in algorithm, ahead of local cancellation.
type OutboundStopAudio struct{}

// TranscriptFrame reports a recognized utterance. Emitted in the
// TRANSCRIPTION_ONLY variant, and optionally alongside STT_TTS for caller
// UIs that display live transcription.
type TranscriptFrame struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

const (
	outboundKindAudioData  = "AudioData"
	outboundKindStopAudio  = "StopAudio"
	outboundKindTranscript = "Transcript"
)
