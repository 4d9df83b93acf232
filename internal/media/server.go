package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ivrcore/mediacore/internal/agent/orchestrator"
	"github.com/ivrcore/mediacore/internal/speechio"
	"github.com/ivrcore/mediacore/pkg/corestate"
	"github.com/ivrcore/mediacore/pkg/provider/s2s"
	"github.com/ivrcore/mediacore/pkg/provider/vad"
)

// Server accepts media WebSocket upgrades and runs one Connection per call,
// per the URL shape `/api/v1/media/stream?call_connection_id={id}&session_id={opt}`.
type Server struct {
	Recognizers  *speechio.RecognizerPool
	Synthesizers *speechio.SynthesizerPool
	Orchestrator *orchestrator.Orchestrator
	Store        corestate.Store
	Config       Config
	EntryAgent   string
	Log          *slog.Logger

	// S2SProvider and VADEngine are only required when Config.Variant (or a
	// per-call override, once STREAMING_MODE supports per-call selection)
	// is VariantPassthrough.
	S2SProvider s2s.Provider
	VADEngine   vad.Engine
}

func (s *Server) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// ServeHTTP upgrades the request to a WebSocket and blocks for the lifetime
// of the call, loading or creating CoreMemory before handing off to a
// Connection. It never returns an error to the client beyond the upgrade
// handshake itself: once the socket is open, failures are logged and the
// socket is closed, matching the corpus's "never panic the request
// goroutine" posture.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	callConnectionID := q.Get("call_connection_id")
	if callConnectionID == "" {
		http.Error(w, "call_connection_id is required", http.StatusBadRequest)
		return
	}
	sessionID := q.Get("session_id")
	isProviderCall := sessionID == ""
	if isProviderCall {
		sessionID = callConnectionID
	}

	log := s.logger().With("call_connection_id", callConnectionID, "session_id", sessionID)

	mem, err := s.loadOrCreateMemory(ctx, sessionID)
	if err != nil {
		log.Error("load or create core memory failed", "err", err)
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}

	opts := []Option{WithLogger(log)}
	if s.S2SProvider != nil {
		opts = append(opts, WithS2SProvider(s.S2SProvider))
	}
	if s.VADEngine != nil {
		opts = append(opts, WithVAD(s.VADEngine))
	}
	mc := New(conn, sessionID, isProviderCall, mem, s.Recognizers, s.Synthesizers, s.Orchestrator, s.Store, s.Config, opts...)

	if err := mc.Run(ctx); err != nil {
		log.Warn("media connection ended with error", "err", err)
		conn.Close(websocket.StatusInternalError, "media connection failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "call ended")
}

// loadOrCreateMemory implements the reconnect semantics from the external
// interfaces description: a session_id present in the URL means "rehydrate",
// absent means "fresh call."
func (s *Server) loadOrCreateMemory(ctx context.Context, sessionID string) (*corestate.CoreMemory, error) {
	mem, err := s.Store.Load(ctx, sessionID)
	if err == nil {
		return mem, nil
	}
	if !errors.Is(err, corestate.ErrNotFound) {
		return nil, fmt.Errorf("media: load session %q: %w", sessionID, err)
	}
	return corestate.NewCoreMemory(sessionID, s.EntryAgent), nil
}
