// Package corestate defines the per-session state shared by the media
// handler, the orchestrator, and the specialist registry: [CoreMemory], its
// history entries, the [ToolEnvelope] a specialist returns, and the
// transient [CallContext] that never leaves a single connection.
package corestate

import (
	"time"

	"github.com/ivrcore/mediacore/pkg/types"
)

// Role identifies the speaker of a [HistoryEntry].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// HistoryEntry is one append-only record in [CoreMemory.History].
type HistoryEntry struct {
	AgentName string
	Role      Role
	Content   string
	Timestamp time.Time
}

// CoreMemory is the per-session conversation state persisted through
// SessionStore. It is owned by exactly one turn-lane goroutine at a time;
// callers outside that goroutine must treat it as read-only.
type CoreMemory struct {
	// SessionID is immutable after creation.
	SessionID string

	// ActiveAgent is the name of the currently-routing specialist. Defaults
	// to the entry agent when empty or unknown at the AgentRegistry.
	ActiveAgent string

	// History is ordered and append-only within a session.
	History []HistoryEntry

	// Context maps string keys to JSON-typed values: caller attributes,
	// per-agent greeting flags ("greeted:<AgentName>"), voice profile
	// (voice_name, voice_style, voice_rate), and tool outputs. Unknown keys
	// must round-trip unchanged through Save/Load.
	Context map[string]any

	// LatencyMarks maps an operation label to elapsed milliseconds, rewritten
	// per turn.
	LatencyMarks map[string]float64

	// Version is a monotonic stamp incremented on every Save, permitting a
	// future compare-and-swap write path. Callers must not set it directly.
	Version uint64

	// LastWrite is the timestamp of the most recent Save.
	LastWrite time.Time
}

// NewCoreMemory returns an empty, ready-to-persist CoreMemory for sessionID,
// defaulting ActiveAgent to entryAgent.
func NewCoreMemory(sessionID, entryAgent string) *CoreMemory {
	return &CoreMemory{
		SessionID:    sessionID,
		ActiveAgent:  entryAgent,
		History:      nil,
		Context:      make(map[string]any),
		LatencyMarks: make(map[string]float64),
	}
}

// Clone returns a deep-enough copy of m suitable for round-trip and
// idempotence tests: mutating the clone's History/Context must not affect m.
func (m *CoreMemory) Clone() *CoreMemory {
	c := &CoreMemory{
		SessionID:    m.SessionID,
		ActiveAgent:  m.ActiveAgent,
		History:      append([]HistoryEntry(nil), m.History...),
		Context:      make(map[string]any, len(m.Context)),
		LatencyMarks: make(map[string]float64, len(m.LatencyMarks)),
		Version:      m.Version,
		LastWrite:    m.LastWrite,
	}
	for k, v := range m.Context {
		c.Context[k] = v
	}
	for k, v := range m.LatencyMarks {
		c.LatencyMarks[k] = v
	}
	return c
}

// Greeted reports whether agent has already been greeted once in this
// session (the "greeted:<AgentName>" context flag).
func (m *CoreMemory) Greeted(agent string) bool {
	v, ok := m.Context["greeted:"+agent]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MarkGreeted sets the "greeted:<AgentName>" context flag.
func (m *CoreMemory) MarkGreeted(agent string) {
	if m.Context == nil {
		m.Context = make(map[string]any)
	}
	m.Context["greeted:"+agent] = true
}

// HandoffKind discriminates the two ToolEnvelope handoff targets.
type HandoffKind string

const (
	HandoffAIAgent    HandoffKind = "ai_agent"
	HandoffHumanAgent HandoffKind = "human_agent"
)

// ToolEnvelope is the tagged result of invoking a specialist or a tool. Extra
// holds any fields a provider attaches that this codebase does not model
// explicitly; they must be preserved through persistence unmodified.
type ToolEnvelope struct {
	Success       bool
	Handoff       HandoffKind // empty when no handoff is requested
	TargetAgent   string
	Reason        string
	Topic         string
	AssistantText string
	AudioFrames   <-chan []byte // lazy sequence of opaque frames, may be nil

	// Extra preserves unknown fields round-tripped through serialization
	// (e.g. from a provider's JSON response) that this type does not name.
	Extra map[string]any
}

// CallContext is per-call ephemeral state, never persisted. It is built once
// when a MediaHandler accepts a connection and lives exactly as long as that
// connection.
type CallContext struct {
	SessionID         string
	PeerParticipantID string
	StartTime         time.Time
	LastActivity      time.Time

	// PassthroughHandle is an optional pre-initialized handle to an external
	// realtime voice service, populated only for the PASSTHROUGH variant.
	PassthroughHandle any
}

// Touch refreshes LastActivity to now.
func (c *CallContext) Touch(now time.Time) { c.LastActivity = now }

// VoiceProfileFrom reads the voice_name/voice_style/voice_rate keys out of
// m.Context, defaulting zero-valued fields when absent.
func VoiceProfileFrom(m *CoreMemory) types.VoiceProfile {
	vp := types.VoiceProfile{}
	if v, ok := m.Context["voice_name"].(string); ok {
		vp.Name = v
	}
	if v, ok := m.Context["voice_style"].(string); ok {
		if vp.Metadata == nil {
			vp.Metadata = make(map[string]string)
		}
		vp.Metadata["style"] = v
	}
	if v, ok := m.Context["voice_rate"].(float64); ok {
		vp.SpeedFactor = v
	}
	return vp
}

// ApplyVoiceProfile copies name/style/rate into m.Context, as required when
// the Orchestrator synchronizes voice profile on handoff.
func ApplyVoiceProfile(m *CoreMemory, name, style string, rate float64) {
	if m.Context == nil {
		m.Context = make(map[string]any)
	}
	m.Context["voice_name"] = name
	m.Context["voice_style"] = style
	m.Context["voice_rate"] = rate
}
