package agent

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ivrcore/mediacore/internal/hotctx"
	"github.com/ivrcore/mediacore/internal/mcp"
	"github.com/ivrcore/mediacore/pkg/types"
)

// specDocument is the on-disk shape of an Agent specification YAML document.
//
// Example:
//
//	name: billing
//	description: "Handles billing questions and plan changes."
//	model:
//	  deployment_id: gpt-4o-mini
//	  temperature: 0.3
//	  max_tokens: 400
//	voice:
//	  name: aria
//	  style: friendly
//	  rate: 1.0
//	prompts:
//	  path: prompts/billing.txt
//	tools: [lookup_account, lookup_invoice]
//	greeting: "Hi, this is billing, how can I help?"
//	reentry_greeting: "You're back with billing."
type specDocument struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Model       struct {
		DeploymentID string  `yaml:"deployment_id"`
		Temperature  float64 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
	} `yaml:"model"`
	Voice struct {
		Name  string  `yaml:"name"`
		Style string  `yaml:"style"`
		Rate  float64 `yaml:"rate"`
	} `yaml:"voice"`
	Prompts struct {
		Path string `yaml:"path"`
	} `yaml:"prompts"`
	Tools           []string `yaml:"tools"`
	Greeting        string   `yaml:"greeting"`
	ReentryGreeting string   `yaml:"reentry_greeting"`
}

func (d specDocument) toSpecialist() Specialist {
	return Specialist{
		Name:        d.Name,
		Description: d.Description,
		Model: ModelConfig{
			DeploymentID: d.Model.DeploymentID,
			Temperature:  d.Model.Temperature,
			MaxTokens:    d.Model.MaxTokens,
		},
		Voice: VoiceConfig{
			Name:  d.Voice.Name,
			Style: d.Voice.Style,
			Rate:  d.Voice.Rate,
		},
		Prompts:         PromptConfig{Path: d.Prompts.Path},
		Tools:           d.Tools,
		Greeting:        d.Greeting,
		ReentryGreeting: d.ReentryGreeting,
	}
}

// LoadSpecFile reads and parses a single Agent specification YAML file.
func LoadSpecFile(path string) (Specialist, error) {
	f, err := os.Open(path)
	if err != nil {
		return Specialist{}, fmt.Errorf("agent: open spec file %q: %w", path, err)
	}
	defer f.Close()

	spec, err := LoadSpecFromReader(f)
	if err != nil {
		return Specialist{}, fmt.Errorf("agent: parse spec file %q: %w", path, err)
	}
	return spec, nil
}

// LoadSpecFromReader parses a single Agent specification document from r.
func LoadSpecFromReader(r io.Reader) (Specialist, error) {
	var doc specDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Specialist{}, fmt.Errorf("agent: decode spec yaml: %w", err)
	}
	if doc.Name == "" {
		return Specialist{}, fmt.Errorf("agent: spec document missing required field 'name'")
	}
	return doc.toSpecialist(), nil
}

// EngineFactoryFor builds the per-session [EngineFactory] to use for a given
// specialist, typically closing over that specialist's [ModelConfig] to
// select and configure an LLM provider. Supplied by application wiring.
type EngineFactoryFor func(spec Specialist) EngineFactory

// Loader reads Agent specification YAML documents and registers each one
// into a [Registry] as a running [ARTAgent]. Constructed once per
// application with the shared infrastructure every specialist needs.
type Loader struct {
	registry     *Registry
	assembler    *hotctx.Assembler
	mcpHost      mcp.Host
	budget       types.BudgetTier
	engineFactor EngineFactoryFor
}

// NewLoader creates a Loader. registry, assembler, and engineFactory must not
// be nil; mcpHost may be nil to disable tool calling for every specialist
// loaded through this Loader.
func NewLoader(registry *Registry, assembler *hotctx.Assembler, mcpHost mcp.Host, budget types.BudgetTier, engineFactory EngineFactoryFor) *Loader {
	return &Loader{
		registry:     registry,
		assembler:    assembler,
		mcpHost:      mcpHost,
		budget:       budget,
		engineFactor: engineFactory,
	}
}

// LoadFile reads the Agent specification at path and registers it into the
// Loader's Registry.
func (l *Loader) LoadFile(path string) error {
	spec, err := LoadSpecFile(path)
	if err != nil {
		return err
	}
	return l.Register(spec)
}

// Register builds an [ARTAgent] for spec and registers its Respond method as
// the spec's [Handler] in the Registry.
func (l *Loader) Register(spec Specialist) error {
	art, err := NewARTAgent(spec, l.assembler, l.mcpHost, l.budget, l.engineFactor(spec))
	if err != nil {
		return fmt.Errorf("agent: build specialist %q: %w", spec.Name, err)
	}
	if err := l.registry.Register(spec, art.Respond); err != nil {
		return fmt.Errorf("agent: register specialist %q: %w", spec.Name, err)
	}
	return nil
}
