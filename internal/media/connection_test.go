package media

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ivrcore/mediacore/internal/agent"
	"github.com/ivrcore/mediacore/internal/agent/orchestrator"
	"github.com/ivrcore/mediacore/internal/speechio"
	"github.com/ivrcore/mediacore/pkg/corestate"
	corestatemock "github.com/ivrcore/mediacore/pkg/corestate/mock"
	sttmock "github.com/ivrcore/mediacore/pkg/provider/stt/mock"
	ttsmock "github.com/ivrcore/mediacore/pkg/provider/tts/mock"
	"github.com/ivrcore/mediacore/pkg/types"
)

// fakeSocket is an in-memory double for the socket interface, letting tests
// drive a Connection without a live network WebSocket.
type fakeSocket struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan []byte, 8),
		out:    make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeSocket) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg := <-f.in:
		return websocket.MessageText, msg, nil
	case <-f.closed:
		return 0, nil, context.Canceled
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeSocket) Write(ctx context.Context, _ websocket.MessageType, data []byte) error {
	select {
	case f.out <- append([]byte(nil), data...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSocket) Close(websocket.StatusCode, string) error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func newTestRegistry(t *testing.T, h agent.Handler) *agent.Registry {
	t.Helper()
	r := agent.NewRegistry()
	if err := r.Register(agent.Specialist{Name: "triage"}, h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Configure("triage", []string{"triage"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	r.Freeze()
	return r
}

func waitForOutbound(t *testing.T, out <-chan []byte, timeout time.Duration) OutboundFrame {
	t.Helper()
	select {
	case raw := <-out:
		var frame OutboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unmarshal outbound frame: %v", err)
		}
		return frame
	case <-time.After(timeout):
		t.Fatal("timed out waiting for outbound frame")
		return OutboundFrame{}
	}
}

func TestConnection_FinalTurnProducesEgressAudio(t *testing.T) {
	finals := make(chan types.Transcript, 1)
	finals <- types.Transcript{Text: "hello there", IsFinal: true}
	sttSession := &sttmock.Session{
		PartialsCh: make(chan types.Transcript, 1),
		FinalsCh:   finals,
	}
	sttProvider := &sttmock.Provider{Session: sttSession}
	recognizers := speechio.NewRecognizerPool(sttProvider, 1, time.Second)
	synthesizers := speechio.NewSynthesizerPool(&ttsmock.Provider{}, 1, time.Second)

	handler := func(_ context.Context, _ *corestate.CoreMemory, _ types.Transcript, sink agent.AudioSink, _ bool) (corestate.ToolEnvelope, error) {
		ch := make(chan []byte, 1)
		ch <- []byte("synthesized-audio")
		close(ch)
		sink.Enqueue(ch)
		return corestate.ToolEnvelope{Success: true, AssistantText: "hi there"}, nil
	}
	registry := newTestRegistry(t, handler)
	orch := orchestrator.New(registry, &corestatemock.Store{}, nil)

	sock := newFakeSocket()
	mem := corestate.NewCoreMemory("sess-1", "triage")
	conn := New(sock, "sess-1", false, mem, recognizers, synthesizers, orch, &corestatemock.Store{}, Config{Variant: VariantSTTTTS, TurnQueueDepth: 4})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- conn.Run(ctx) }()

	frame := waitForOutbound(t, sock.out, time.Second)
	if frame.Kind != outboundKindAudioData {
		t.Fatalf("Kind = %q, want AudioData", frame.Kind)
	}
	if frame.AudioData == nil {
		t.Fatal("AudioData is nil")
	}
	if frame.AudioData.Data != encodeAudio([]byte("synthesized-audio")) {
		t.Errorf("AudioData.Data = %q, want encoded synthesized-audio", frame.AudioData.Data)
	}

	cancel()
	<-runDone

	if len(mem.History) == 0 || mem.History[0].Content != "hello there" {
		t.Errorf("History = %+v, want first entry user:%q", mem.History, "hello there")
	}
}

func TestConnection_TranscriptionOnlyEmitsTranscriptFrame(t *testing.T) {
	finals := make(chan types.Transcript, 1)
	finals <- types.Transcript{Text: "just transcribe me", IsFinal: true}
	sttSession := &sttmock.Session{
		PartialsCh: make(chan types.Transcript, 1),
		FinalsCh:   finals,
	}
	sttProvider := &sttmock.Provider{Session: sttSession}
	recognizers := speechio.NewRecognizerPool(sttProvider, 1, time.Second)

	sock := newFakeSocket()
	mem := corestate.NewCoreMemory("sess-1", "triage")
	conn := New(sock, "sess-1", false, mem, recognizers, nil, nil, &corestatemock.Store{}, Config{Variant: VariantTranscriptionOnly})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- conn.Run(ctx) }()

	frame := waitForOutbound(t, sock.out, time.Second)
	if frame.Kind != outboundKindTranscript {
		t.Fatalf("Kind = %q, want Transcript", frame.Kind)
	}
	if frame.Transcript == nil || frame.Transcript.Text != "just transcribe me" || !frame.Transcript.Final {
		t.Errorf("Transcript = %+v, want {just transcribe me true}", frame.Transcript)
	}

	cancel()
	<-runDone
}

func TestConnection_BargeInSendsStopAudioWithinTimeout(t *testing.T) {
	finals := make(chan types.Transcript, 1)
	finals <- types.Transcript{Text: "long answer incoming", IsFinal: true}
	sttSession := &sttmock.Session{
		PartialsCh: make(chan types.Transcript, 1),
		FinalsCh:   finals,
	}
	sttProvider := &sttmock.Provider{Session: sttSession}
	recognizers := speechio.NewRecognizerPool(sttProvider, 1, time.Second)
	synthesizers := speechio.NewSynthesizerPool(&ttsmock.Provider{}, 1, time.Second)

	blockingFrames := make(chan []byte) // never sent to; keeps the turn "speaking" forever
	handler := func(_ context.Context, _ *corestate.CoreMemory, _ types.Transcript, sink agent.AudioSink, _ bool) (corestate.ToolEnvelope, error) {
		sink.Enqueue(blockingFrames)
		return corestate.ToolEnvelope{Success: true}, nil
	}
	registry := newTestRegistry(t, handler)
	orch := orchestrator.New(registry, &corestatemock.Store{}, nil)

	sock := newFakeSocket()
	mem := corestate.NewCoreMemory("sess-1", "triage")
	conn := New(sock, "sess-1", false, mem, recognizers, synthesizers, orch, &corestatemock.Store{},
		Config{Variant: VariantSTTTTS, TurnQueueDepth: 4, BargeInStopTimeout: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- conn.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for conn.State() != StateSpeaking && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if conn.State() != StateSpeaking {
		t.Fatalf("State = %v, want Speaking before barge-in", conn.State())
	}

	start := time.Now()
	conn.scheduleBargeIn(types.Transcript{Text: "wait, stop"})

	frame := waitForOutbound(t, sock.out, 200*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("stop-audio arrived after %v, want well within BargeInStopTimeout", elapsed)
	}
	if frame.Kind != outboundKindStopAudio {
		t.Fatalf("Kind = %q, want StopAudio", frame.Kind)
	}

	deadline = time.Now().Add(time.Second)
	for conn.State() != StateListening && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if conn.State() != StateListening {
		t.Fatalf("State after barge-in = %v, want Listening", conn.State())
	}
	if conn.epochFloor.Load() == 0 {
		t.Error("epochFloor not raised after barge-in")
	}

	cancel()
	<-runDone
}
