package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/service"
)

type InfoHandler struct {
	store   string
	files   *service.FileStore
	bus     *service.EventBus
	maxSize int64
}

func NewInfoHandler(storeDriver string, svc *Services) *InfoHandler {
	return &InfoHandler{
		store:   storeDriver,
		files:   svc.Layers.Files(),
		bus:     svc.Bus,
		maxSize: svc.Layers.MaxUploadBytes(),
	}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name          string        `json:"name" doc:"Service name"`
	Version       string        `json:"version" doc:"Service version"`
	Store         string        `json:"store" doc:"Layer store backend" example:"duckdb"`
	UploadDir     string        `json:"uploadDir" doc:"Upload directory path"`
	MaxUploadSize string        `json:"maxUploadSize" doc:"Upload size limit" example:"400.0 MB"`
	Uploads       service.Usage `json:"uploads" doc:"Stored file usage"`
	Subscribers   int           `json:"subscribers" doc:"Connected event stream clients"`
	Features      []string      `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	usage, err := h.files.Usage()
	if err != nil {
		return nil, huma.Error500InternalServerError("Server error")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:          "plat-webgis",
		Version:       Version,
		Store:         h.store,
		UploadDir:     h.files.Root(),
		MaxUploadSize: service.FormatSize(h.maxSize),
		Uploads:       usage,
		Subscribers:   h.bus.Subscribers(),
		Features:      []string{"geojson", "search", "mvt", "sse", h.store},
	}}, nil
}
