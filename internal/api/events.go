package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/humastar"
	"github.com/joeblew999/plat-webgis/internal/service"
)

// EventHandler streams layer change events to browsers as Datastar signal
// patches.
type EventHandler struct {
	bus *service.EventBus
}

func NewEventHandler(bus *service.EventBus) *EventHandler {
	return &EventHandler{bus: bus}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/events", h.Events,
		huma.OperationTags("events"),
		func(o *huma.Operation) {
			o.Summary = "Layer change stream"
			o.Description = "Server-sent events (Datastar). Each layer mutation patches the layerEvent signal with resource, action, id and name."
		},
	)
}

func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return humastar.Stream(func(ctx context.Context, sse humastar.SSE) {
		events, unsubscribe := h.bus.Subscribe()
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := sse.Signals(map[string]any{"layerEvent": ev}); err != nil {
					return
				}
			}
		}
	}), nil
}
