package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ivrcore/mediacore/internal/agent"
	"github.com/ivrcore/mediacore/pkg/corestate"
	"github.com/ivrcore/mediacore/pkg/types"
)

func noopHandler(ctx context.Context, mem *corestate.CoreMemory, utterance types.Transcript, sink agent.AudioSink, isProviderCall bool) (corestate.ToolEnvelope, error) {
	return corestate.ToolEnvelope{Success: true}, nil
}

func TestRegistry_RegisterLookup(t *testing.T) {
	r := agent.NewRegistry()

	if err := r.Register(agent.Specialist{Name: "billing"}, agent.Handler(noopHandler)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h, ok := r.Lookup("billing")
	if !ok || h == nil {
		t.Fatalf("Lookup(billing): ok=%v h=%v", ok, h)
	}

	if _, ok := r.Lookup("unknown"); ok {
		t.Fatalf("Lookup(unknown): expected not found")
	}
}

func TestRegistry_ConfigureUnknownAgent(t *testing.T) {
	r := agent.NewRegistry()
	_ = r.Register(agent.Specialist{Name: "billing"}, agent.Handler(noopHandler))

	err := r.Configure("billing", []string{"billing", "support"})
	var unknown *agent.ErrUnknownAgent
	if !errors.As(err, &unknown) || unknown.Name != "support" {
		t.Fatalf("Configure: got %v, want ErrUnknownAgent{support}", err)
	}
}

func TestRegistry_ConfigureDefaultsEntryAgent(t *testing.T) {
	r := agent.NewRegistry()
	_ = r.Register(agent.Specialist{Name: "billing"}, agent.Handler(noopHandler))

	if err := r.Configure("", []string{"billing"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if r.EntryAgent() != "billing" {
		t.Fatalf("EntryAgent() = %q, want billing", r.EntryAgent())
	}
}

func TestRegistry_FreezeBlocksMutation(t *testing.T) {
	r := agent.NewRegistry()
	_ = r.Register(agent.Specialist{Name: "billing"}, agent.Handler(noopHandler))
	_ = r.Configure("billing", []string{"billing"})
	r.Freeze()

	if err := r.Register(agent.Specialist{Name: "support"}, agent.Handler(noopHandler)); !errors.Is(err, agent.ErrAlreadyFrozen) {
		t.Fatalf("Register after Freeze: got %v, want ErrAlreadyFrozen", err)
	}
	if err := r.Configure("billing", []string{"billing"}); !errors.Is(err, agent.ErrAlreadyFrozen) {
		t.Fatalf("Configure after Freeze: got %v, want ErrAlreadyFrozen", err)
	}

	// Reads remain available after freezing.
	if _, ok := r.Lookup("billing"); !ok {
		t.Fatalf("Lookup(billing) after Freeze: expected found")
	}
}
