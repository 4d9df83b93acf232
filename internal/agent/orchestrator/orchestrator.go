// Package orchestrator implements the turn-routing algorithm described by
// the core's component design: for each caller utterance it resolves the
// active specialist from the [agent.Registry], runs its handler, and
// translates the returned [corestate.ToolEnvelope] into concrete actions —
// handoff, escalation, or a completed turn persisted to [corestate.Store].
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ivrcore/mediacore/internal/agent"
	"github.com/ivrcore/mediacore/pkg/corestate"
	"github.com/ivrcore/mediacore/pkg/types"
)

const (
	defaultSessionTTL    = 30 * time.Minute
	defaultTurnTimeout   = 30 * time.Second
	defaultApologyPhrase = "Sorry, I ran into a problem with that. Let's try something else."
	defaultClosingPhrase = "I'm going to connect you with a member of our team now. One moment please."
)

// Speaker synthesizes text to speech and enqueues the resulting audio via
// sink. It is the Orchestrator's only path to the egress lane, used for
// handoff greetings, apology phrases, and the escalation closing phrase.
// Implemented by whatever owns SpeechIO and the MediaHandler's egress lane.
type Speaker interface {
	Speak(ctx context.Context, text string, voice agent.VoiceConfig, sink agent.AudioSink) error
}

// Outcome summarizes what the Orchestrator did with one turn, for the
// MediaHandler to act on.
type Outcome struct {
	// Envelope is the final ToolEnvelope produced by the turn (after at most
	// one ai_agent handoff chain).
	Envelope corestate.ToolEnvelope

	// Skipped is true when the utterance was empty and no handler ran.
	Skipped bool

	// EscalationRequested is true when the turn ended in a human handoff;
	// the MediaHandler should close the socket once the egress queue drains.
	EscalationRequested bool
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithSessionTTL sets the TTL passed to SessionStore.Save after each
// completed turn. Default 30 minutes.
func WithSessionTTL(d time.Duration) Option { return func(o *Orchestrator) { o.sessionTTL = d } }

// WithTurnTimeout sets the soft per-turn deadline applied to handler calls.
// Default 30 seconds.
func WithTurnTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.turnTimeout = d } }

// WithApologyPhrase overrides the phrase spoken when a handler reports
// success: false.
func WithApologyPhrase(phrase string) Option {
	return func(o *Orchestrator) { o.apologyPhrase = phrase }
}

// WithClosingPhrase overrides the phrase spoken before a human_agent
// escalation closes the session.
func WithClosingPhrase(phrase string) Option {
	return func(o *Orchestrator) { o.closingPhrase = phrase }
}

// WithLogger overrides the default logger (log/slog's default).
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// Orchestrator runs the registry-based turn-routing algorithm. The only
// routing path is AgentRegistry lookup by CoreMemory.ActiveAgent — there is
// no content-based or address-detection fallback.
//
// Safe for concurrent use across sessions; a single Orchestrator instance is
// shared by every MediaHandler connection in the process.
type Orchestrator struct {
	registry *agent.Registry
	store    corestate.Store
	speaker  Speaker
	log      *slog.Logger

	sessionTTL    time.Duration
	turnTimeout   time.Duration
	apologyPhrase string
	closingPhrase string
}

// New creates an Orchestrator. registry and store must not be nil; speaker
// may be nil, in which case greeting/apology/escalation phrases are silently
// skipped (useful for the TRANSCRIPTION_ONLY variant, which never invokes
// the Orchestrator in the first place, and for tests).
func New(registry *agent.Registry, store corestate.Store, speaker Speaker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:      registry,
		store:         store,
		speaker:       speaker,
		log:           slog.Default(),
		sessionTTL:    defaultSessionTTL,
		turnTimeout:   defaultTurnTimeout,
		apologyPhrase: defaultApologyPhrase,
		closingPhrase: defaultClosingPhrase,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleTurn implements the algorithm in full: resolve the active
// specialist, invoke its handler, and interpret the resulting envelope.
func (o *Orchestrator) HandleTurn(ctx context.Context, mem *corestate.CoreMemory, utterance types.Transcript, sink agent.AudioSink, isProviderCall bool) (Outcome, error) {
	if strings.TrimSpace(utterance.Text) == "" {
		return Outcome{Skipped: true}, nil
	}

	turnCtx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	active, fallback := o.resolveActiveAgent(mem.ActiveAgent)
	handler, ok := o.registry.Lookup(active)
	if !ok {
		return Outcome{}, fmt.Errorf("orchestrator: no entry agent registered")
	}
	mem.ActiveAgent = active

	env, err := o.invoke(turnCtx, handler, mem, utterance, sink, isProviderCall, fallback)
	if err != nil {
		return Outcome{}, err
	}

	return o.interpret(turnCtx, mem, utterance, sink, isProviderCall, env, 0)
}

// resolveActiveAgent returns the agent name to route to, coercing to the
// entry agent when the stored name is empty or not registered.
func (o *Orchestrator) resolveActiveAgent(stored string) (name string, fallback bool) {
	if stored == "" {
		return o.registry.EntryAgent(), true
	}
	if _, ok := o.registry.Lookup(stored); !ok {
		return o.registry.EntryAgent(), true
	}
	return stored, false
}

func (o *Orchestrator) invoke(ctx context.Context, h agent.Handler, mem *corestate.CoreMemory, utterance types.Transcript, sink agent.AudioSink, isProviderCall, fallback bool) (corestate.ToolEnvelope, error) {
	if fallback {
		ctx = context.WithValue(ctx, fallbackKey{}, true)
	}

	start := time.Now()
	env, err := h(ctx, mem, utterance, sink, isProviderCall)
	elapsed := time.Since(start)

	if mem.LatencyMarks == nil {
		mem.LatencyMarks = make(map[string]float64)
	}
	mem.LatencyMarks["handler:"+mem.ActiveAgent] = float64(elapsed.Milliseconds())

	if err != nil {
		return corestate.ToolEnvelope{}, fmt.Errorf("orchestrator: handler %q: %w", mem.ActiveAgent, err)
	}
	return env, nil
}

type fallbackKey struct{}

// interpret applies the envelope-interpretation step of the algorithm.
// chainDepth guards against more than one ai_agent handoff within a turn.
func (o *Orchestrator) interpret(ctx context.Context, mem *corestate.CoreMemory, utterance types.Transcript, sink agent.AudioSink, isProviderCall bool, env corestate.ToolEnvelope, chainDepth int) (Outcome, error) {
	// Escalation wins over a simultaneous ai_agent handoff.
	if env.Handoff == corestate.HandoffHumanAgent {
		if mem.Context == nil {
			mem.Context = make(map[string]any)
		}
		mem.Context["escalation_requested"] = true
		o.speak(ctx, mem, mem.ActiveAgent, o.closingPhrase, agent.VoiceConfig{}, sink)
		if err := o.persist(ctx, mem); err != nil {
			return Outcome{}, err
		}
		return Outcome{Envelope: env, EscalationRequested: true}, nil
	}

	if env.Handoff == corestate.HandoffAIAgent && env.TargetAgent != "" {
		spec, ok := o.registry.Spec(env.TargetAgent)
		if !ok {
			o.log.Warn("orchestrator: unknown handoff target, ignoring", "target_agent", env.TargetAgent)
			if err := o.persist(ctx, mem); err != nil {
				return Outcome{}, err
			}
			return Outcome{Envelope: env}, nil
		}

		if chainDepth >= 1 {
			o.log.Warn("orchestrator: ignoring second handoff within one turn", "target_agent", env.TargetAgent)
			if err := o.persist(ctx, mem); err != nil {
				return Outcome{}, err
			}
			return Outcome{Envelope: env}, nil
		}

		mem.ActiveAgent = env.TargetAgent
		corestate.ApplyVoiceProfile(mem, spec.Voice.Name, spec.Voice.Style, spec.Voice.Rate)

		greeting := spec.ReentryGreeting
		if !mem.Greeted(spec.Name) {
			greeting = spec.Greeting
			mem.MarkGreeted(spec.Name)
		}
		o.speak(ctx, mem, spec.Name, greeting, spec.Voice, sink)

		handler, ok := o.registry.Lookup(spec.Name)
		if !ok {
			return Outcome{}, fmt.Errorf("orchestrator: registered specialist %q has no handler", spec.Name)
		}
		nextEnv, err := o.invoke(ctx, handler, mem, utterance, sink, isProviderCall, false)
		if err != nil {
			return Outcome{}, err
		}
		return o.interpret(ctx, mem, utterance, sink, isProviderCall, nextEnv, chainDepth+1)
	}

	if !env.Success {
		o.speak(ctx, mem, mem.ActiveAgent, o.apologyPhrase, agent.VoiceConfig{}, sink)
	}

	if err := o.persist(ctx, mem); err != nil {
		return Outcome{}, err
	}
	return Outcome{Envelope: env}, nil
}

// speak synthesizes phrase via the Speaker and records it in mem.History as
// an assistant utterance attributed to agentName, so that handoff greetings,
// apologies, and escalation closing phrases show up in the transcript the
// same as any other agent response.
func (o *Orchestrator) speak(ctx context.Context, mem *corestate.CoreMemory, agentName, phrase string, voice agent.VoiceConfig, sink agent.AudioSink) {
	if phrase == "" {
		return
	}
	mem.History = append(mem.History, corestate.HistoryEntry{
		AgentName: agentName,
		Role:      corestate.RoleAssistant,
		Content:   phrase,
		Timestamp: time.Now(),
	})
	if o.speaker == nil {
		return
	}
	if err := o.speaker.Speak(ctx, phrase, voice, sink); err != nil {
		o.log.Warn("orchestrator: speak failed", "error", err)
	}
}

func (o *Orchestrator) persist(ctx context.Context, mem *corestate.CoreMemory) error {
	if o.store == nil {
		return nil
	}
	if err := o.store.Save(ctx, mem, o.sessionTTL); err != nil {
		return fmt.Errorf("orchestrator: persist session %q: %w", mem.SessionID, err)
	}
	return nil
}

// IsFallbackCall reports whether ctx was passed to a handler invoked as the
// entry-agent fallback (CoreMemory.ActiveAgent was empty or unregistered).
func IsFallbackCall(ctx context.Context) bool {
	v, _ := ctx.Value(fallbackKey{}).(bool)
	return v
}
