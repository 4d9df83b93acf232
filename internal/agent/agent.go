// Package agent implements the AgentRegistry: the name→handler mapping that
// the Orchestrator consults on every turn, plus the [Specialist]
// specification type loaded from YAML at startup and its runtime
// implementation, [ARTAgent].
//
// This package lives under internal/ because it encapsulates
// application-private routing logic and is not intended to be imported by
// external code.
package agent

import (
	"context"

	"github.com/ivrcore/mediacore/pkg/corestate"
	"github.com/ivrcore/mediacore/pkg/types"
)

// ModelConfig selects and tunes the language model backing a specialist.
type ModelConfig struct {
	DeploymentID string
	Temperature  float64
	MaxTokens    int
}

// VoiceConfig selects the synthesizer voice used when this specialist
// speaks. Copied into CoreMemory.Context on handoff so the MediaHandler's
// egress lane picks it up for the next turn.
type VoiceConfig struct {
	Name  string
	Style string
	Rate  float64
}

// PromptConfig locates the system prompt template on disk.
type PromptConfig struct {
	Path string
}

// Specialist is a single Agent specification document as loaded from YAML:
// the static configuration for one named participant in the conversation.
// Specialist values are immutable after the AgentRegistry is frozen.
type Specialist struct {
	// Name uniquely identifies this specialist within the registry. Used as
	// the AgentRegistry key and as CoreMemory.ActiveAgent's value.
	Name string

	// Description is a short human-readable summary of the specialist, used
	// in its system prompt and as the instructions of an S2S session.
	Description string

	Model   ModelConfig
	Voice   VoiceConfig
	Prompts PromptConfig

	// Tools lists the names of MCP tools this specialist's engine should be
	// offered, resolved against the tool registry at load time.
	Tools []string

	// Greeting is spoken the first time this specialist becomes active in a
	// given session. ReentryGreeting is spoken on every subsequent handoff
	// back to this specialist.
	Greeting        string
	ReentryGreeting string
}

// AudioSink is how a [Handler] emits synthesized speech. Enqueue must not
// block on playout; it returns once frames is queued for the egress lane.
type AudioSink interface {
	Enqueue(frames <-chan []byte)
}

// Handler is the AgentRegistry's unit of dispatch: an asynchronous function
// that reacts to one caller utterance. isProviderCall distinguishes a
// telephony-originated session from a browser-originated one, letting a
// handler adjust disclosures or prompt framing per channel.
//
// Implementations must not return before all audio they intend to emit has
// been handed to sink (though they need not wait for it to finish playing).
// A Handler may append to mem.History and mutate mem.Context; it must treat
// mem as single-threaded for the duration of one call — the Orchestrator
// guarantees no concurrent Handler invocation shares a CoreMemory.
type Handler func(ctx context.Context, mem *corestate.CoreMemory, utterance types.Transcript, sink AudioSink, isProviderCall bool) (corestate.ToolEnvelope, error)
