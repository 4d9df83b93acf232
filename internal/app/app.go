// Package app wires all mediacore subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the media HTTP server and blocks until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithTranscriptLog, WithCoreStateStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ivrcore/mediacore/internal/agent"
	"github.com/ivrcore/mediacore/internal/agent/orchestrator"
	"github.com/ivrcore/mediacore/internal/config"
	"github.com/ivrcore/mediacore/internal/engine"
	"github.com/ivrcore/mediacore/internal/engine/cascade"
	s2sengine "github.com/ivrcore/mediacore/internal/engine/s2s"
	"github.com/ivrcore/mediacore/internal/health"
	"github.com/ivrcore/mediacore/internal/hotctx"
	"github.com/ivrcore/mediacore/internal/mcp"
	"github.com/ivrcore/mediacore/internal/mcp/mcphost"
	"github.com/ivrcore/mediacore/internal/media"
	"github.com/ivrcore/mediacore/internal/resilience"
	"github.com/ivrcore/mediacore/internal/speechio"
	"github.com/ivrcore/mediacore/pkg/corestate"
	corestatepostgres "github.com/ivrcore/mediacore/pkg/corestate/postgres"
	corestateredis "github.com/ivrcore/mediacore/pkg/corestate/redis"
	"github.com/ivrcore/mediacore/pkg/memory"
	"github.com/ivrcore/mediacore/pkg/memory/postgres"
	"github.com/ivrcore/mediacore/pkg/provider/embeddings"
	"github.com/ivrcore/mediacore/pkg/provider/llm"
	providers2s "github.com/ivrcore/mediacore/pkg/provider/s2s"
	"github.com/ivrcore/mediacore/pkg/provider/stt"
	"github.com/ivrcore/mediacore/pkg/provider/tts"
	"github.com/ivrcore/mediacore/pkg/provider/vad"
	"github.com/ivrcore/mediacore/pkg/types"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	S2S        providers2s.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
}

// App owns all subsystem lifetimes and orchestrates the mediacore voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	sessions  memory.TranscriptLog
	graph     memory.KnowledgeGraph
	store     corestate.Store
	mcpHost   mcp.Host
	assembler *hotctx.Assembler
	registry  *agent.Registry
	orch      *orchestrator.Orchestrator
	server    *media.Server
	health    *health.Handler
	httpSrv   *http.Server

	// ttsFallback is built once by fallbackTTS and shared by every caller.
	ttsFallback tts.Provider

	// closers are called in reverse-init order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriptLog injects a session store instead of creating one from config.
func WithTranscriptLog(s memory.TranscriptLog) Option {
	return func(a *App) { a.sessions = s }
}

// WithKnowledgeGraph injects a knowledge graph instead of creating one from config.
func WithKnowledgeGraph(g memory.KnowledgeGraph) Option {
	return func(a *App) { a.graph = g }
}

// WithMCPHost injects an MCP host instead of creating one from config.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithCoreStateStore injects a [corestate.Store] instead of connecting to
// Redis/PostgreSQL from config.
func WithCoreStateStore(s corestate.Store) Option {
	return func(a *App) { a.store = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: memory store connection,
// core session-state store connection, MCP server registration + calibration,
// specialist registry loading, and media server assembly. The returned App's
// HTTP server is not yet listening; call Run to start serving.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Long-term memory store ────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Core session-state store (hot Redis + cold Postgres) ──────────
	if err := a.initCoreState(ctx); err != nil {
		return nil, fmt.Errorf("app: init corestate: %w", err)
	}

	// ── 3. MCP host ───────────────────────────────────────────────────────
	if err := a.initMCP(ctx); err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	// ── 4. Hot context assembler ──────────────────────────────────────────
	a.assembler = hotctx.NewAssembler(a.sessions, a.graph)

	// ── 5. Specialist registry ────────────────────────────────────────────
	if err := a.initAgents(); err != nil {
		return nil, fmt.Errorf("app: init agents: %w", err)
	}

	// ── 6. SpeechIO pools + media server ──────────────────────────────────
	if err := a.initMedia(); err != nil {
		return nil, fmt.Errorf("app: init media: %w", err)
	}

	// ── 7. Health handler ──────────────────────────────────────────────────
	a.initHealth()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory sets up the PostgreSQL long-term memory store (transcript log +
// knowledge graph) or uses injected mocks.
func (a *App) initMemory(ctx context.Context) error {
	if a.sessions != nil && a.graph != nil {
		return nil // both injected
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("memory.postgres_dsn is required when memory stores are not injected")
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims == 0 {
		dims = 1536 // sensible default for OpenAI text-embedding-3-small
	}

	store, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}

	if a.sessions == nil {
		a.sessions = store.L1()
	}
	if a.graph == nil {
		a.graph = store
	}

	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initCoreState sets up the hot/cold [corestate.Store] pair fronting every
// live media connection, or uses an injected mock. Unlike the long-term
// memory store, corestate.Store exposes no Close method, so the underlying
// pgxpool.Pool and redis.Client are tracked independently here.
func (a *App) initCoreState(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	cs := a.cfg.CoreState
	dsn := cs.PostgresDSN
	if dsn == "" {
		dsn = a.cfg.Memory.PostgresDSN
	}
	if dsn == "" {
		return fmt.Errorf("corestate.postgres_dsn (or memory.postgres_dsn) is required when no corestate store is injected")
	}
	if cs.RedisAddr == "" {
		return fmt.Errorf("corestate.redis_addr is required when no corestate store is injected")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("corestate: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("corestate: ping: %w", err)
	}
	if err := corestatepostgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("corestate: migrate: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	rdb := redis.NewClient(&redis.Options{
		Addr:     cs.RedisAddr,
		Password: cs.RedisPassword,
		DB:       cs.RedisDB,
	})
	a.closers = append(a.closers, rdb.Close)

	cold := corestatepostgres.NewColdStore(pool)
	app, env := cs.App, cs.Env
	if app == "" {
		app = "mediacore"
	}
	if env == "" {
		env = "production"
	}
	a.store = corestateredis.New(rdb, cold, app, env)
	return nil
}

// initMCP sets up the MCP host, registers servers, and calibrates.
func (a *App) initMCP(ctx context.Context) error {
	if a.mcpHost == nil {
		a.mcpHost = mcphost.New()
	}
	a.closers = append(a.closers, a.mcpHost.Close)

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: string(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := a.mcpHost.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	if err := a.mcpHost.Calibrate(ctx); err != nil {
		slog.Warn("MCP calibration failed, using declared latencies", "err", err)
	}

	return nil
}

// initAgents builds the resilience-wrapped TTS provider, loads every
// specialist spec file into a fresh [agent.Registry], configures the entry
// agent, and freezes the registry.
func (a *App) initAgents() error {
	ttsProvider := a.fallbackTTS()

	registry := agent.NewRegistry()
	budget := a.cfg.Agents.BudgetTier.ToTypesBudgetTier()
	if len(a.cfg.Agents.SpecFiles) == 0 {
		slog.Warn("no agent spec files configured")
	}

	loader := agent.NewLoader(registry, a.assembler, a.mcpHost, budget, engineFactoryFor(a.providers, ttsProvider))
	// names keeps spec-file order so an empty EntryAgent falls back to the
	// first loaded spec.
	var names []string
	for _, path := range a.cfg.Agents.SpecFiles {
		spec, err := agent.LoadSpecFile(path)
		if err == nil {
			err = loader.Register(spec)
		}
		if err != nil {
			return fmt.Errorf("load agent spec %q: %w", path, err)
		}
		names = append(names, spec.Name)
	}

	if err := registry.Configure(a.cfg.Agents.EntryAgent, names); err != nil {
		return fmt.Errorf("configure agent registry: %w", err)
	}
	registry.Freeze()

	a.registry = registry
	slog.Info("agent registry ready", "specialists", len(names), "entry", registry.EntryAgent())
	return nil
}

// fallbackTTS wraps the configured TTS provider in a [resilience.TTSFallback]
// so every synthesis call — whether issued by a cascade engine or by the
// orchestrator's canned-phrase Speaker — benefits from the same circuit
// breaker. Returns nil if no TTS provider is configured (s2s-only deployments
// need none).
func (a *App) fallbackTTS() tts.Provider {
	if a.providers.TTS == nil {
		return nil
	}
	if a.ttsFallback == nil {
		a.ttsFallback = resilience.NewTTSFallback(a.providers.TTS, "primary", resilience.FallbackConfig{})
	}
	return a.ttsFallback
}

// fallbackSTT wraps the configured STT provider in a [resilience.STTFallback]
// fronting the RecognizerPool. Returns nil if no STT provider is configured
// (s2s-only deployments drive audio directly through the S2S provider).
func (a *App) fallbackSTT() stt.Provider {
	if a.providers.STT == nil {
		return nil
	}
	return resilience.NewSTTFallback(a.providers.STT, "primary", resilience.FallbackConfig{})
}

// engineFactoryFor builds the [agent.EngineFactoryFor] closure handed to the
// specialist loader. Every specialist in this application shares one engine
// mode — cascade or speech-to-speech — chosen once from which providers are
// configured, since a specialist's YAML spec carries no per-agent engine
// selector. Individual specialists still get their own [engine.VoiceEngine]
// instance, built fresh per session by the returned [agent.EngineFactory].
func engineFactoryFor(providers *Providers, ttsProvider tts.Provider) agent.EngineFactoryFor {
	useS2S := providers.S2S != nil
	return func(spec agent.Specialist) agent.EngineFactory {
		voice := specialistVoiceProfile(spec.Voice)
		return func() (engine.VoiceEngine, error) {
			if useS2S {
				return s2sengine.New(providers.S2S, providers2s.SessionConfig{
					Voice:        voice,
					Instructions: spec.Description,
				}), nil
			}
			if providers.LLM == nil {
				return nil, fmt.Errorf("specialist %q requires an LLM provider (no s2s provider configured)", spec.Name)
			}
			if ttsProvider == nil {
				return nil, fmt.Errorf("specialist %q requires a TTS provider", spec.Name)
			}
			return cascade.New(
				providers.LLM, // fast model
				providers.LLM, // strong model (same provider for now; per-spec override is a future knob)
				ttsProvider,
				voice,
				cascade.WithSampling(spec.Model.Temperature, spec.Model.MaxTokens),
			), nil
		}
	}
}

// specialistVoiceProfile converts an [agent.VoiceConfig] into the
// [types.VoiceProfile] shape the engine and TTS layers consume.
func specialistVoiceProfile(vc agent.VoiceConfig) types.VoiceProfile {
	vp := types.VoiceProfile{Name: vc.Name, SpeedFactor: vc.Rate}
	if vc.Style != "" {
		vp.Metadata = map[string]string{"style": vc.Style}
	}
	return vp
}

// initMedia constructs the SpeechIO pools, the orchestrator's canned-phrase
// Speaker, and the [media.Server] that fronts the WebSocket endpoint.
func (a *App) initMedia() error {
	mcfg := a.cfg.Media

	var recognizers *speechio.RecognizerPool
	if sttP := a.fallbackSTT(); sttP != nil {
		recognizers = speechio.NewRecognizerPool(sttP, mcfg.RecognizerPoolSize, mcfg.AcquireTimeout)
	}

	synthesizers := speechio.NewSynthesizerPool(a.fallbackTTS(), mcfg.SynthesizerPoolSize, mcfg.AcquireTimeout)

	a.orch = orchestrator.New(a.registry, a.store, &media.Speaker{Synthesizers: synthesizers},
		orchestrator.WithSessionTTL(mcfg.SessionTTL),
		orchestrator.WithTurnTimeout(mcfg.TurnDeadline),
		orchestrator.WithLogger(slog.Default()),
	)

	variant := media.VariantSTTTTS
	switch mcfg.Variant {
	case "transcription_only":
		variant = media.VariantTranscriptionOnly
	case "passthrough":
		variant = media.VariantPassthrough
	}

	a.server = &media.Server{
		Recognizers:  recognizers,
		Synthesizers: synthesizers,
		Orchestrator: a.orch,
		Store:        a.store,
		EntryAgent:   a.registry.EntryAgent(),
		Log:          slog.Default(),
		S2SProvider:  a.providers.S2S,
		VADEngine:    a.providers.VAD,
		Config: media.Config{
			Variant:            variant,
			SampleRate:         mcfg.SampleRate,
			Languages:          mcfg.Languages,
			SessionTTL:         mcfg.SessionTTL,
			BargeInStopTimeout: mcfg.BargeInStopTimeout,
			TurnDeadline:       mcfg.TurnDeadline,
			TurnQueueDepth:     mcfg.TurnQueueDepth,
		},
	}

	listenPath := mcfg.ListenPath
	if listenPath == "" {
		listenPath = "/api/v1/media/stream"
	}

	mux := http.NewServeMux()
	mux.Handle(listenPath, a.server)

	a.httpSrv = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: mux,
	}
	return nil
}

// initHealth wires liveness/readiness checks into the media server's mux.
// Readiness depends on the core session-state store being reachable, since a
// call cannot be accepted without it.
func (a *App) initHealth() {
	a.health = health.New(health.Checker{
		Name: "corestate",
		Check: func(ctx context.Context) error {
			_, err := a.store.Load(ctx, "__healthcheck__")
			if errors.Is(err, corestate.ErrNotFound) {
				return nil
			}
			return err
		},
	})
	a.health.Register(a.httpSrv.Handler.(*http.ServeMux))
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// TranscriptLog returns the session transcript store. May be nil if memory
// is not configured.
func (a *App) TranscriptLog() memory.TranscriptLog { return a.sessions }

// KnowledgeGraph returns the knowledge graph. May be nil if memory is not
// configured.
func (a *App) KnowledgeGraph() memory.KnowledgeGraph { return a.graph }

// MCPHost returns the MCP host. New creates a host with no servers when none
// is injected and none are configured, so it is never nil after New.
func (a *App) MCPHost() mcp.Host { return a.mcpHost }

// CoreStateStore returns the session-state store backing live calls.
func (a *App) CoreStateStore() corestate.Store { return a.store }

// Registry returns the loaded specialist registry.
func (a *App) Registry() *agent.Registry { return a.registry }

// Server returns the media WebSocket handler, useful for tests that want to
// drive it directly with httptest.
func (a *App) Server() *media.Server { return a.server }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the media HTTP server and blocks until ctx is cancelled or the
// server stops with an error other than [http.ErrServerClosed].
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("media server listening", "addr", a.httpSrv.Addr)
		errCh <- a.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
			cancel()
		}

		// Run closers in reverse-init order.
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
