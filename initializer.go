package servicetree

import (
	"context"
	"fmt"
)

// Initializer is the extension point a node runs from its scheduled
// initialization job. Implementations fetch artifacts, load backends and
// otherwise prepare the node to serve.
//
// Initialize may be invoked more than once: the scheduler re-runs it for
// retries and reschedules, so it must be idempotent or re-entrant.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// InitializerFunc adapts an ordinary function to the Initializer interface.
type InitializerFunc func(ctx context.Context) error

// Initialize calls f(ctx).
func (f InitializerFunc) Initialize(ctx context.Context) error {
	return f(ctx)
}

type noopInitializer struct{}

func (noopInitializer) Initialize(context.Context) error { return nil }

type initializerChain []Initializer

// Initializers composes several initializers into one that runs them in
// order and stops at the first failure.
func Initializers(inits ...Initializer) Initializer {
	chain := make(initializerChain, 0, len(inits))
	for _, init := range inits {
		if init != nil {
			chain = append(chain, init)
		}
	}
	return chain
}

func (c initializerChain) Initialize(ctx context.Context) error {
	for i, init := range c {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := init.Initialize(ctx); err != nil {
			return fmt.Errorf("initializer %d of %d: %w", i+1, len(c), err)
		}
	}
	return nil
}
