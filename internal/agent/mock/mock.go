// Package mock provides in-memory mock implementations of [agent.AudioSink]
// and canned [agent.Handler] values for use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/ivrcore/mediacore/internal/agent"
	"github.com/ivrcore/mediacore/pkg/corestate"
	"github.com/ivrcore/mediacore/pkg/types"
)

// AudioSink is a mock implementation of [agent.AudioSink] that records every
// channel handed to Enqueue without draining it.
type AudioSink struct {
	mu    sync.Mutex
	Calls [](<-chan []byte)
}

// Enqueue implements [agent.AudioSink].
func (s *AudioSink) Enqueue(frames <-chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, frames)
}

// CallCount returns the number of times Enqueue was called.
func (s *AudioSink) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// HandlerCall records the arguments of a single invocation of a mock Handler.
type HandlerCall struct {
	Utterance      types.Transcript
	IsProviderCall bool
}

// Handler is a stateful mock satisfying [agent.Handler]'s function shape via
// [Handler.Func]. Configure Result/Err before use; Calls records every
// invocation.
type Handler struct {
	mu sync.Mutex

	// Result is returned by every call, unless Err is non-nil.
	Result corestate.ToolEnvelope

	// Err is returned by every call when non-nil, instead of Result.
	Err error

	// Calls records all invocations.
	Calls []HandlerCall
}

// Func returns an [agent.Handler] bound to this mock.
func (h *Handler) Func() agent.Handler {
	return func(_ context.Context, mem *corestate.CoreMemory, utterance types.Transcript, sink agent.AudioSink, isProviderCall bool) (corestate.ToolEnvelope, error) {
		h.mu.Lock()
		h.Calls = append(h.Calls, HandlerCall{Utterance: utterance, IsProviderCall: isProviderCall})
		result, err := h.Result, h.Err
		h.mu.Unlock()

		if err != nil {
			return corestate.ToolEnvelope{}, err
		}
		if mem != nil {
			mem.History = append(mem.History, corestate.HistoryEntry{
				Role:    corestate.RoleAssistant,
				Content: result.AssistantText,
			})
		}
		return result, nil
	}
}
