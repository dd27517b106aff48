package llm

import (
	"context"
	"fmt"
	"sync"

	"dev.quorum.engine/internal/models"
)

// ScriptedProvider is an in-process adapter that replays canned responses.
// It backs engine tests, deterministic replays, and the "scripted" provider
// kind; each call pops the next response in order, repeating the last one
// when the script runs out.
type ScriptedProvider struct {
	cfg       models.ProviderConfig
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

// NewScriptedProvider creates a scripted adapter named by cfg that returns
// the given responses in order.
func NewScriptedProvider(cfg models.ProviderConfig, responses ...string) *ScriptedProvider {
	return &ScriptedProvider{cfg: cfg, responses: responses}
}

// RegisterScripted registers the "scripted" kind on a registry. The adapter
// answers every prompt with a deterministic echo; real scripts are attached
// by tests via NewScriptedProvider directly.
func RegisterScripted(r *Registry) {
	r.Register("scripted", func(cfg models.ProviderConfig, _ string) (Provider, error) {
		return NewScriptedProvider(cfg, fmt.Sprintf("[%s scripted response]", cfg.Name)), nil
	})
}

func (p *ScriptedProvider) Name() string                  { return p.cfg.Name }
func (p *ScriptedProvider) Config() models.ProviderConfig { return p.cfg }

// FailWith queues errors returned before any scripted responses.
func (p *ScriptedProvider) FailWith(errs ...error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, errs...)
	return p
}

// Calls reports how many Generate calls the adapter has served.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Prompts returns the prompts seen so far.
func (p *ScriptedProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// Generate implements Provider.
func (p *ScriptedProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.prompts = append(p.prompts, prompt)

	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return "", err
	}
	if len(p.responses) == 0 {
		return "", fmt.Errorf("scripted provider %s has no responses", p.cfg.Name)
	}

	next := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return next, nil
}

// GenerateStream implements StreamingProvider by emitting the full response
// as a single delta.
func (p *ScriptedProvider) GenerateStream(ctx context.Context, prompt, system string, onDelta func(string)) (string, error) {
	text, err := p.Generate(ctx, prompt, system)
	if err != nil {
		return "", err
	}
	if onDelta != nil {
		onDelta(text)
	}
	return text, nil
}
