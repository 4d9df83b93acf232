package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ivrcore/mediacore/internal/engine"
	"github.com/ivrcore/mediacore/internal/hotctx"
	"github.com/ivrcore/mediacore/internal/mcp"
	"github.com/ivrcore/mediacore/pkg/audio"
	"github.com/ivrcore/mediacore/pkg/corestate"
	"github.com/ivrcore/mediacore/pkg/provider/llm"
	"github.com/ivrcore/mediacore/pkg/types"
)

// handoffToolNames are the MCP tool names whose result is interpreted as a
// ToolEnvelope handoff/escalation instead of a plain text result.
var handoffToolNames = map[string]bool{
	"handoff_to_agent":  true,
	"escalate_to_human": true,
}

// EngineFactory builds a fresh [engine.VoiceEngine] dedicated to one
// session's use of one specialist. Supplied by application wiring so
// ARTAgent stays provider-agnostic.
type EngineFactory func() (engine.VoiceEngine, error)

// ARTAgent is the runtime implementation of a [Specialist]: it owns one
// lazily-created [engine.VoiceEngine] per session (keyed by session ID,
// since the AgentRegistry itself is shared across every live call) and
// exposes a [Handler]-shaped [ARTAgent.Respond] method for registration.
//
// Safe for concurrent use by multiple sessions; per-session state is
// confined to the engines map, never to ARTAgent's own fields.
type ARTAgent struct {
	spec      Specialist
	assembler *hotctx.Assembler
	mcpHost   mcp.Host
	budget    types.BudgetTier
	newEngine EngineFactory

	mu      sync.Mutex
	engines map[string]engine.VoiceEngine // sessionID -> engine
}

// NewARTAgent constructs a runtime specialist. assembler and newEngine must
// not be nil; mcpHost may be nil to disable tool calling for this specialist.
func NewARTAgent(spec Specialist, assembler *hotctx.Assembler, mcpHost mcp.Host, budget types.BudgetTier, newEngine EngineFactory) (*ARTAgent, error) {
	if assembler == nil {
		return nil, errors.New("agent: assembler must not be nil")
	}
	if newEngine == nil {
		return nil, errors.New("agent: newEngine must not be nil")
	}
	return &ARTAgent{
		spec:      spec,
		assembler: assembler,
		mcpHost:   mcpHost,
		budget:    budget,
		newEngine: newEngine,
		engines:   make(map[string]engine.VoiceEngine),
	}, nil
}

// Spec returns this agent's static specification.
func (a *ARTAgent) Spec() Specialist { return a.spec }

// CloseSession releases the per-session engine for sessionID, if one was
// created. Called by the MediaHandler when a session ends.
func (a *ARTAgent) CloseSession(sessionID string) error {
	a.mu.Lock()
	eng, ok := a.engines[sessionID]
	delete(a.engines, sessionID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return eng.Close()
}

func (a *ARTAgent) sessionEngine(sessionID string) (engine.VoiceEngine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if eng, ok := a.engines[sessionID]; ok {
		return eng, nil
	}

	eng, err := a.newEngine()
	if err != nil {
		return nil, fmt.Errorf("agent: create engine for %q: %w", a.spec.Name, err)
	}

	if a.mcpHost != nil {
		tools := filterTools(a.mcpHost.AvailableTools(a.budget), a.spec.Tools)
		if err := eng.SetTools(tools); err != nil {
			return nil, fmt.Errorf("agent: set tools: %w", err)
		}
	}

	a.engines[sessionID] = eng
	return eng, nil
}

// toolBridge captures the last handoff-shaped tool result observed during a
// single Respond call, bridging the engine's synchronous OnToolCall callback
// back to the caller that invoked Process.
type toolBridge struct {
	mu       sync.Mutex
	envelope *corestate.ToolEnvelope
}

func (b *toolBridge) record(env corestate.ToolEnvelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envelope = &env
}

func (b *toolBridge) get() *corestate.ToolEnvelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.envelope
}

// handoffResult is the JSON shape a handoff/escalation MCP tool returns.
type handoffResult struct {
	Success     bool   `json:"success"`
	Handoff     string `json:"handoff"`
	TargetAgent string `json:"target_agent"`
	Reason      string `json:"reason"`
	Topic       string `json:"topic"`
}

// Respond implements the [Handler] contract for this specialist.
func (a *ARTAgent) Respond(ctx context.Context, mem *corestate.CoreMemory, utterance types.Transcript, sink AudioSink, isProviderCall bool) (corestate.ToolEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return corestate.ToolEnvelope{}, fmt.Errorf("agent: %w", err)
	}

	eng, err := a.sessionEngine(mem.SessionID)
	if err != nil {
		return corestate.ToolEnvelope{}, err
	}

	bridge := &toolBridge{}
	if a.mcpHost != nil {
		eng.OnToolCall(func(name, args string) (string, error) {
			result, err := a.mcpHost.ExecuteTool(ctx, name, args)
			if err != nil {
				return "", fmt.Errorf("agent: execute tool %q: %w", name, err)
			}
			if handoffToolNames[name] {
				var hr handoffResult
				if jerr := json.Unmarshal([]byte(result.Content), &hr); jerr == nil {
					bridge.record(corestate.ToolEnvelope{
						Success:     hr.Success,
						Handoff:     corestate.HandoffKind(hr.Handoff),
						TargetAgent: hr.TargetAgent,
						Reason:      hr.Reason,
						Topic:       hr.Topic,
					})
				}
			}
			return result.Content, nil
		})
	}

	hctx, err := a.assembler.Assemble(ctx, a.spec.Name, mem.SessionID)
	if err != nil {
		return corestate.ToolEnvelope{}, fmt.Errorf("agent: assemble hot context: %w", err)
	}

	systemPrompt := hotctx.FormatSystemPrompt(hctx, a.spec.Description)

	messages := make([]llm.Message, 0, len(mem.History)+1)
	for _, h := range mem.History {
		messages = append(messages, llm.Message{
			Role:    string(h.Role),
			Content: h.Content,
			Name:    h.AgentName,
		})
	}
	channelTag := "browser"
	if isProviderCall {
		channelTag = "phone"
	}
	messages = append(messages, llm.Message{
		Role:    string(corestate.RoleUser),
		Content: utterance.Text,
		Name:    utterance.SpeakerID,
	})

	promptCtx := engine.PromptContext{
		SystemPrompt: systemPrompt,
		HotContext:   "[channel: " + channelTag + "] " + hotContextString(hctx),
		Messages:     messages,
		BudgetTier:   a.budget,
	}

	frame := audio.AudioFrame{SampleRate: 16000, Channels: 1}
	resp, err := eng.Process(ctx, frame, promptCtx)
	if err != nil {
		return corestate.ToolEnvelope{}, fmt.Errorf("agent: engine process: %w", err)
	}

	if resp.Audio != nil {
		sink.Enqueue(resp.Audio)
	}

	if resp.Text != "" {
		mem.History = append(mem.History,
			corestate.HistoryEntry{AgentName: a.spec.Name, Role: corestate.RoleAssistant, Content: resp.Text},
		)
	}

	if env := bridge.get(); env != nil {
		if env.AssistantText == "" {
			env.AssistantText = resp.Text
		}
		return *env, nil
	}

	return corestate.ToolEnvelope{Success: true, AssistantText: resp.Text}, nil
}

// filterTools restricts available to the names listed in allowed. An empty
// allowed list means "no tools for this specialist", matching a YAML
// specification that omits the tools key.
func filterTools(available []types.ToolDefinition, allowed []string) []types.ToolDefinition {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	filtered := make([]types.ToolDefinition, 0, len(available))
	for _, t := range available {
		if set[t.Name] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func hotContextString(hctx *hotctx.HotContext) string {
	if hctx == nil || hctx.SceneContext == nil {
		return ""
	}
	var s string
	if hctx.SceneContext.Location != nil {
		s += "Location: " + hctx.SceneContext.Location.Name + "; "
	}
	return s
}
