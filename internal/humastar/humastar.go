// Package humastar bridges Huma streaming responses with the Datastar SSE
// protocol, and carries the hypermedia action links emitted by resource
// bodies.
//
// Usage:
//
//	func (h *Handler) Events(ctx context.Context, _ *humastar.EmptyInput) (*huma.StreamResponse, error) {
//	    return humastar.Stream(func(ctx context.Context, sse humastar.SSE) {
//	        sse.Signals(map[string]any{"connected": true})
//	    }), nil
//	}
package humastar

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"
)

// EmptyInput is the input of handlers without parameters.
type EmptyInput struct{}

// SSE wraps a Datastar SSE generator.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE creates a Datastar SSE helper from a Huma streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Stream returns a StreamResponse that runs fn with a ready SSE helper.
// The context passed to fn ends when the client disconnects.
func Stream(fn func(ctx context.Context, sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(humaCtx.Context(), NewSSE(humaCtx))
		},
	}
}

// Signals patches signals on the client.
func (s SSE) Signals(signals map[string]any) error {
	return s.MarshalAndPatchSignals(signals)
}
