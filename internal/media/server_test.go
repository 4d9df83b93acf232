package media

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ivrcore/mediacore/internal/speechio"
	corestatemock "github.com/ivrcore/mediacore/pkg/corestate/mock"
	sttmock "github.com/ivrcore/mediacore/pkg/provider/stt/mock"
	"github.com/ivrcore/mediacore/pkg/types"
)

func TestServer_MissingCallConnectionIDRejected(t *testing.T) {
	srv := &Server{Store: &corestatemock.Store{}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/media/stream", nil)

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServer_AcceptRunsTranscriptionOnlyConnection(t *testing.T) {
	finals := make(chan types.Transcript, 1)
	finals <- types.Transcript{Text: "server accepted me", IsFinal: true}
	sttProvider := &sttmock.Provider{Session: &sttmock.Session{
		PartialsCh: make(chan types.Transcript, 1),
		FinalsCh:   finals,
	}}

	srv := &Server{
		Recognizers: speechio.NewRecognizerPool(sttProvider, 1, time.Second),
		Store:       &corestatemock.Store{},
		Config:      Config{Variant: VariantTranscriptionOnly},
		EntryAgent:  "triage",
	}

	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()

	wsURL := "ws" + httpSrv.URL[len("http"):] + "/api/v1/media/stream?call_connection_id=call-123"
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	var frame OutboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Kind != outboundKindTranscript || frame.Transcript == nil || frame.Transcript.Text != "server accepted me" {
		t.Errorf("frame = %+v, want a Transcript frame with the expected text", frame)
	}
}
