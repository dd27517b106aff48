// Package llm defines the uniform provider adapter contract the engine
// consumes, a registry mapping provider kinds to constructors, and the
// credential resolver. Provider-specific API clients live outside the core
// and plug in through the registry.
package llm

import (
	"context"

	"dev.quorum.engine/internal/models"
)

// Provider is the uniform adapter over heterogeneous upstream clients. A
// successful Generate returns non-empty text; adapters honor the configured
// per-provider timeout and release resources promptly when the engine
// abandons a call past its deadline.
type Provider interface {
	Name() string
	Config() models.ProviderConfig
	Generate(ctx context.Context, prompt, system string) (string, error)
}

// StreamingProvider is the optional streaming capability, detected by
// interface upgrade rather than subclassing. GenerateStream emits partial
// text via onDelta and returns the concatenated final text.
type StreamingProvider interface {
	Provider
	GenerateStream(ctx context.Context, prompt, system string, onDelta func(string)) (string, error)
}

// Generate dispatches to the streaming path when the adapter supports it and
// a delta callback is supplied, falling back to the blocking call otherwise.
func Generate(ctx context.Context, p Provider, prompt, system string, onDelta func(string)) (string, error) {
	if onDelta != nil {
		if sp, ok := p.(StreamingProvider); ok {
			return sp.GenerateStream(ctx, prompt, system, onDelta)
		}
	}
	return p.Generate(ctx, prompt, system)
}
