package config

import "github.com/ivrcore/mediacore/pkg/types"

// LogLevel controls slog verbosity for the running server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// EngineType selects an NPC's conversation pipeline.
type EngineType string

const (
	// EngineCascaded runs the full STT → LLM → TTS pipeline, synthesizing
	// only once the LLM's full reply is in hand.
	EngineCascaded EngineType = "cascaded"

	// EngineSentenceCascade is EngineCascaded with sentence-boundary
	// synthesis: TTS starts on the first complete sentence instead of
	// waiting for the whole reply.
	EngineSentenceCascade EngineType = "sentence_cascade"

	// EngineS2S routes audio directly through a speech-to-speech provider,
	// bypassing the STT/LLM/TTS split entirely.
	EngineS2S EngineType = "s2s"
)

// IsValid reports whether e is a recognised engine mode.
func (e EngineType) IsValid() bool {
	switch e {
	case EngineCascaded, EngineSentenceCascade, EngineS2S:
		return true
	}
	return false
}

// BudgetTier constrains which MCP tools are exposed to an NPC's LLM based on
// how much added latency a tool call may cost mid-turn.
type BudgetTier string

const (
	BudgetTierFast     BudgetTier = "fast"
	BudgetTierStandard BudgetTier = "standard"
	BudgetTierDeep     BudgetTier = "deep"
)

// IsValid reports whether b is a recognised budget tier.
func (b BudgetTier) IsValid() bool {
	switch b {
	case BudgetTierFast, BudgetTierStandard, BudgetTierDeep:
		return true
	}
	return false
}

// ToTypesBudgetTier converts the config-file string tier into the
// [types.BudgetTier] enum that the agent registry and MCP host consume.
// Unset or unrecognised values default to the most conservative tier.
func (b BudgetTier) ToTypesBudgetTier() types.BudgetTier {
	switch b {
	case BudgetTierDeep:
		return types.BudgetDeep
	case BudgetTierStandard:
		return types.BudgetStandard
	default:
		return types.BudgetFast
	}
}
