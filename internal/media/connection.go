// Package media implements the MediaHandler: the per-call concurrency
// engine that terminates one bidirectional audio WebSocket, drives it
// through the recognizer and Orchestrator, and enforces sub-50ms barge-in
// cancellation.
//
// A Connection runs three goroutines with disjoint blocking behavior — an
// ingress lane (socket reads, recognizer feed), a turn lane (single-consumer
// orchestrator invocation), and an egress lane (single socket writer) — so
// that audio read and agent speech write never contend on the same
// goroutine. See connection.go for the lane wiring, bargein.go for the
// cancellation algorithm, and frames.go for the wire protocol.
package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/ivrcore/mediacore/internal/agent"
	"github.com/ivrcore/mediacore/internal/agent/orchestrator"
	"github.com/ivrcore/mediacore/internal/speechio"
	"github.com/ivrcore/mediacore/pkg/corestate"
	"github.com/ivrcore/mediacore/pkg/provider/s2s"
	"github.com/ivrcore/mediacore/pkg/provider/stt"
	"github.com/ivrcore/mediacore/pkg/provider/vad"
	"github.com/ivrcore/mediacore/pkg/types"
)

// socket is the subset of *websocket.Conn a Connection needs. Extracted so
// tests can supply an in-memory double without a live network connection.
type socket interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// turnHandle identifies one in-flight turn: its epoch for egress tagging and
// the context that cancellation (barge-in) closes. Closing ctx is the
// corpus's broadcast-without-a-mutex idiom — every reader (the synthesis
// frame loop, the handler's own cancellation checks) observes it at its next
// suspension point with no shared state beyond the channel context.Context
// already wraps.
type turnHandle struct {
	epoch  uint64
	ctx    context.Context
	cancel context.CancelFunc
}

type finalTranscript struct {
	text  string
	lang  string
	epoch uint64
}

type egressFrame struct {
	epoch uint64 // 0 for frames not tied to a turn (e.g. a bare stop-audio)
	kind  egressKind
	audio []byte
}

type egressKind int

const (
	egressAudio egressKind = iota
	egressStop
	egressDone // marks the end of one turn's synthesized audio
)

// Connection is one accepted media WebSocket and everything needed to drive
// it: a recognizer session, the shared SpeechIO synthesizer pool, the
// Orchestrator, and the SessionStore used to persist CoreMemory.
type Connection struct {
	cfg            Config
	sock           socket
	sessionID      string
	isProviderCall bool

	recognizers  *speechio.RecognizerPool
	synthesizers *speechio.SynthesizerPool
	orch         *orchestrator.Orchestrator
	store        corestate.Store
	log          *slog.Logger

	mem *corestate.CoreMemory

	mu       sync.Mutex
	state    State
	current  *turnHandle // the turn lane's active turn, if any
	speaking *turnHandle // the turn whose audio is currently in the egress pipe

	epochFloor atomic.Uint64 // frames with epoch <= this are dropped at egress
	nextEpoch  atomic.Uint64

	turnQueue chan finalTranscript
	egress    chan egressFrame

	recognizer stt.SessionHandle
	relRecog   func()

	// s2sProvider and vadEngine are only consulted when cfg.Variant is
	// VariantPassthrough.
	s2sProvider s2s.Provider
	vadEngine   vad.Engine
	s2sSession  s2s.SessionHandle
	vadSession  vad.SessionHandle

	passEpoch atomic.Uint64 // the egress epoch currently tagging passthrough audio
}

// Option configures a Connection during construction.
type Option func(*Connection)

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) { c.log = l }
}

// WithS2SProvider supplies the external realtime voice service used when
// Config.Variant is VariantPassthrough. Required for that variant; ignored
// otherwise.
func WithS2SProvider(p s2s.Provider) Option {
	return func(c *Connection) { c.s2sProvider = p }
}

// WithVAD supplies the local voice-activity detector PASSTHROUGH uses to
// detect caller barge-in, since the external service's transcript stream
// carries no speech-onset event fast enough to act on. Optional: without
// one, PASSTHROUGH forwards audio but never locally barges in on the
// external service's playout.
func WithVAD(e vad.Engine) Option {
	return func(c *Connection) { c.vadEngine = e }
}

// New builds a Connection over sock for sessionID, using mem as the
// (already-loaded-or-fresh) CoreMemory for this call. Callers own mem's
// provenance: on fresh calls it is corestate.NewCoreMemory(sessionID,
// entryAgent); on reconnect it is the value rehydrated from store.Load.
func New(
	sock socket,
	sessionID string,
	isProviderCall bool,
	mem *corestate.CoreMemory,
	recognizers *speechio.RecognizerPool,
	synthesizers *speechio.SynthesizerPool,
	orch *orchestrator.Orchestrator,
	store corestate.Store,
	cfg Config,
	opts ...Option,
) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		cfg:            cfg,
		sock:           sock,
		sessionID:      sessionID,
		isProviderCall: isProviderCall,
		recognizers:    recognizers,
		synthesizers:   synthesizers,
		orch:           orch,
		store:          store,
		log:            slog.Default(),
		mem:            mem,
		turnQueue:      make(chan finalTranscript, cfg.TurnQueueDepth),
		egress:         make(chan egressFrame, cfg.TurnQueueDepth),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("session_id", sessionID, "variant", string(cfg.Variant))
	return c
}

// Run drives the connection until ctx is cancelled, the socket closes, or a
// fatal error occurs. It blocks until every lane has exited.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var bridgeWG sync.WaitGroup
	switch c.cfg.Variant {
	case VariantPassthrough:
		if err := c.setupPassthrough(ctx); err != nil {
			return err
		}
		defer c.teardownPassthrough()
		bridgeWG.Add(2)
		go func() { defer bridgeWG.Done(); c.passthroughAudioBridge(ctx) }()
		go func() { defer bridgeWG.Done(); c.passthroughTranscriptBridge(ctx) }()
	default:
		sess, err := c.recognizers.Acquire(ctx, stt.StreamConfig{
			SampleRate: c.cfg.SampleRate,
			Channels:   1,
			Language:   firstOrEmpty(c.cfg.Languages),
		})
		if err != nil {
			return fmt.Errorf("media: acquire recognizer: %w", err)
		}
		c.recognizer = sess
		c.relRecog = func() { _ = sess.Close() }
		defer c.relRecog()

		bridgeWG.Add(1)
		go func() { defer bridgeWG.Done(); c.recognizerBridgeLoop(ctx) }()
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.ingressLoop(ctx) }()
	go func() { defer wg.Done(); c.egressLoop(ctx) }()
	go func() {
		defer wg.Done()
		if c.cfg.Variant == VariantSTTTTS {
			c.turnLoop(ctx)
		}
	}()

	wg.Wait()
	cancel()
	bridgeWG.Wait()

	c.setState(StateClosing)
	return nil
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the connection's current state. Safe for concurrent use;
// intended for observability and tests.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ── Ingress lane ─────────────────────────────────────────────────────────

func (c *Connection) ingressLoop(ctx context.Context) {
	for {
		_, data, err := c.sock.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				c.log.Info("socket closed by peer", "code", closeErr.Code)
			} else {
				c.log.Warn("ingress read failed", "err", err)
			}
			c.setState(StateClosing)
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("protocol violation: malformed frame", "err", err)
			continue
		}

		switch frame.Kind {
		case inboundKindAudioMetadata:
			// Format is negotiated by Config.SampleRate at accept time; the
			// metadata frame is informational only.
		case inboundKindAudioData:
			c.handleAudioData(frame.AudioData)
		case inboundKindStopAudio:
			// Acknowledgment that the far end stopped playout; no action
			// required beyond what handleBargeIn already did.
		default:
			c.log.Warn("protocol violation: unknown inbound frame kind", "kind", frame.Kind)
		}
	}
}

func (c *Connection) handleAudioData(ad *InboundAudioData) {
	if ad == nil {
		c.log.Warn("protocol violation: AudioData frame missing payload")
		return
	}
	if ad.Silent || ad.Data == "" {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(ad.Data)
	if err != nil {
		c.log.Warn("protocol violation: non-base64 audio", "err", err)
		return
	}

	if c.cfg.Variant == VariantPassthrough {
		c.handlePassthroughAudio(raw)
		return
	}
	if c.recognizer == nil {
		return
	}
	if err := c.recognizer.SendAudio(raw); err != nil {
		c.log.Warn("recognizer send audio failed", "err", err)
	}
}

// ── Recognizer bridge ────────────────────────────────────────────────────

// recognizerBridgeLoop crosses partial/final transcripts from the
// recognizer's own execution context onto the lanes above: partials go to
// schedule_barge_in (fire-and-forget), finals to enqueue_final (bounded,
// drop-oldest-on-overflow).
func (c *Connection) recognizerBridgeLoop(ctx context.Context) {
	partials := c.recognizer.Partials()
	finals := c.recognizer.Finals()
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-partials:
			if !ok {
				return
			}
			c.mu.Lock()
			if c.state == StateIdle {
				c.state = StateListening
			}
			c.mu.Unlock()
			c.scheduleBargeIn(tr)
		case tr, ok := <-finals:
			if !ok {
				return
			}
			c.onFinal(tr)
		}
	}
}

func (c *Connection) onFinal(tr types.Transcript) {
	if c.cfg.Variant == VariantTranscriptionOnly {
		c.mem.History = append(c.mem.History, corestate.HistoryEntry{
			AgentName: c.mem.ActiveAgent,
			Role:      corestate.RoleUser,
			Content:   tr.Text,
			Timestamp: time.Now(),
		})
		c.writeOutbound(context.Background(), OutboundFrame{
			Kind:       outboundKindTranscript,
			Transcript: &TranscriptFrame{Text: tr.Text, Final: true},
		})
		return
	}
	c.enqueueFinal(tr)
}

// enqueueFinal is the non-blocking queue put described in the component
// design: it never blocks the recognizer thread. On overflow it drops the
// oldest pending (non-current) final, never the one just arrived.
func (c *Connection) enqueueFinal(tr types.Transcript) {
	epoch := c.nextEpoch.Add(1)
	item := finalTranscript{text: tr.Text, epoch: epoch}

	select {
	case c.turnQueue <- item:
		return
	default:
	}

	select {
	case dropped := <-c.turnQueue:
		c.log.Warn("turn queue full, dropped oldest pending final", "dropped_epoch", dropped.epoch)
	default:
	}

	select {
	case c.turnQueue <- item:
	default:
		c.log.Warn("turn queue still full after drop, dropping newest final", "epoch", epoch)
	}
}

// ── Socket write helper (egress lane only) ──────────────────────────────

func encodeAudio(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func (c *Connection) writeOutbound(ctx context.Context, frame OutboundFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("marshal outbound frame", "err", err)
		return
	}
	if err := c.sock.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Warn("write outbound frame failed", "err", err)
	}
}
