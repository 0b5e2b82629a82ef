// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-webgis/internal/auth"
	"github.com/joeblew999/plat-webgis/internal/humastar"
	"github.com/joeblew999/plat-webgis/internal/layer"
	"github.com/joeblew999/plat-webgis/internal/service"
)

// Version is reported by /health and /api/info.
const Version = "1.0.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Layers *service.LayerService
	Search *service.SearchService
	Tiles  *service.TileService
	Auth   *auth.Service
	Bus    *service.EventBus
	Logger zerolog.Logger
}

// Types

type LayerIDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"665f1c2b9d3e4a0012345678"`
}

type ListLayersInput struct {
	IncludeInactive bool `query:"includeInactive" doc:"Also list deactivated layers"`
}

// LayerBody is a layer plus the actions available on it.
type LayerBody struct {
	layer.Layer
}

var layerActions = []humastar.ActionDef{
	{Rel: "edit", Pattern: "/api/layers/%s", Method: http.MethodPut, Title: "Edit layer"},
	{Rel: "delete", Pattern: "/api/layers/%s", Method: http.MethodDelete, Title: "Delete layer"},
	{Rel: "geodata", Pattern: "/api/geodata/%s", Method: http.MethodGet, Title: "GeoJSON data"},
	{Rel: "tiles", Pattern: "/api/tiles/%s/{z}/{x}/{y}", Method: http.MethodGet, Title: "Vector tiles"},
}

var deactivateAction = humastar.ActionDef{
	Rel: "deactivate", Pattern: "/api/layers/%s/deactivate", Method: http.MethodPost, Title: "Hide layer",
}

func (b LayerBody) Actions() []humastar.Action {
	actions := humastar.ActionsFor(b.ID, layerActions...)
	if b.IsActive {
		actions = append(actions, humastar.ActionsFor(b.ID, deactivateAction)...)
	}
	return actions
}

type LayerOutput struct {
	Body LayerBody
}

type LayersOutput struct {
	Body []layer.Layer
}

type UploadLayerInput struct {
	RawBody multipart.Form
}

// UpdateLayerBody is the edit form. Unknown fields such as name are accepted
// and ignored; the name is always generated.
type UpdateLayerBody struct {
	_           struct{} `json:"-" additionalProperties:"true"`
	Type        string   `json:"type,omitempty" doc:"Layer type" example:"Peta Ajudikasi"`
	Tahun       *int     `json:"tahun,omitempty" doc:"Year, required for Peta Ajudikasi" example:"2017"`
	Description *string  `json:"description,omitempty" doc:"Free text description"`
}

type UpdateLayerInput struct {
	LayerIDInput
	Body UpdateLayerBody
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type MessageOutput struct {
	Body MessageBody
}

type GeoDataOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type SearchInput struct {
	Q      string   `query:"q" doc:"Search term, at least 2 characters" example:"sukamaju"`
	Layers []string `query:"layers" doc:"Layer IDs to search; all active layers when empty"`
}

type SearchOutput struct {
	Body []service.Match
}

type TileInput struct {
	LayerIDInput
	Z int `path:"z" doc:"Zoom level"`
	X int `path:"x" doc:"Tile column"`
	Y int `path:"y" doc:"Tile row"`
}

type TileOutput struct {
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	Body            []byte
}

type TypeInfo struct {
	Type         layer.Type  `json:"type" doc:"Layer type"`
	RequiresYear bool        `json:"requiresYear" doc:"Whether tahun must be set"`
	MinYear      int         `json:"minYear,omitempty" doc:"First accepted tahun"`
	MaxYear      int         `json:"maxYear,omitempty" doc:"Last accepted tahun"`
	Style        layer.Style `json:"style" doc:"Base map style"`
}

type StylesBody struct {
	Types     map[string]layer.Style `json:"types" doc:"Base style per layer type"`
	Highlight map[string]layer.Style `json:"highlight" doc:"Style of a selected feature per layer type"`
	Default   layer.Style            `json:"default" doc:"Style for unknown types"`
}

type VerifyBody struct {
	UID         string `json:"uid,omitempty" doc:"Identity provider user id"`
	Email       string `json:"email,omitempty" doc:"User email"`
	DisplayName string `json:"displayName,omitempty" doc:"Display name"`
	PhotoURL    string `json:"photoURL,omitempty" doc:"Avatar URL"`
}

type VerifiedUser struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        auth.Role `json:"role" enum:"admin,user"`
}

type VerifyOutput struct {
	Body struct {
		User VerifiedUser `json:"user"`
	}
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
	log zerolog.Logger
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc, log: svc.Logger}
}

// RegisterRoutes registers every handler of h on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers layer routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/layers", h.ListLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Register(api, huma.Operation{
		OperationID:  "upload-layer",
		Method:       http.MethodPost,
		Path:         "/api/layers",
		Summary:      "Upload layer",
		Description:  "Uploads a GeoJSON FeatureCollection (.geojson or .json) as multipart form data with fields file, type, tahun, description and createdBy.",
		Tags:         []string{"layers"},
		MaxBodyBytes: h.svc.Layers.MaxUploadBytes() + UploadOverhead,
	}, h.UploadLayer)
	huma.Put(api, "/api/layers/{id}", h.UpdateLayer, huma.OperationTags("layers"))
	huma.Delete(api, "/api/layers/{id}", h.DeleteLayer, huma.OperationTags("layers"))
	huma.Post(api, "/api/layers/{id}/deactivate", h.DeactivateLayer, huma.OperationTags("layers"))
}

// RegisterGeoData registers the raw GeoJSON route.
func (h *APIHandler) RegisterGeoData(api huma.API) {
	huma.Get(api, "/api/geodata/{id}", h.GetGeoData, huma.OperationTags("geodata"))
}

// RegisterSearch registers feature search.
func (h *APIHandler) RegisterSearch(api huma.API) {
	huma.Get(api, "/api/search", h.Search, huma.OperationTags("geodata"))
}

// RegisterTiles registers the vector tile route.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/tiles/{id}/{z}/{x}/{y}", h.GetTile, huma.OperationTags("geodata"))
}

// RegisterCatalog registers the layer type and style tables.
func (h *APIHandler) RegisterCatalog(api huma.API) {
	huma.Get(api, "/api/types", h.ListTypes, huma.OperationTags("catalog"))
	huma.Get(api, "/api/styles", h.GetStyles, huma.OperationTags("catalog"))
}

// RegisterAuth registers sign-in verification.
func (h *APIHandler) RegisterAuth(api huma.API) {
	huma.Post(api, "/api/auth/verify", h.Verify, huma.OperationTags("auth"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) ListLayers(ctx context.Context, input *ListLayersInput) (*LayersOutput, error) {
	layers, err := h.svc.Layers.List(ctx, input.IncludeInactive)
	if err != nil {
		return nil, toHTTP(h.log, err)
	}
	return &LayersOutput{Body: layers}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *LayerIDInput) (*LayerOutput, error) {
	l, err := h.svc.Layers.Get(ctx, input.ID)
	if err != nil {
		return nil, toHTTP(h.log, err)
	}
	return &LayerOutput{Body: LayerBody{l}}, nil
}

func (h *APIHandler) UploadLayer(ctx context.Context, input *UploadLayerInput) (*LayerOutput, error) {
	form := &input.RawBody
	files := form.File["file"]
	if len(files) == 0 {
		return nil, huma.Error400BadRequest("No file uploaded")
	}
	fh := files[0]

	fields := layer.Fields{Type: layer.Type(formValue(form, "type"))}
	if v := formValue(form, "tahun"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("tahun must be a number, got %q", v))
		}
		fields.Year = &year
	}
	if vs, ok := form.Value["description"]; ok && len(vs) > 0 {
		fields.Description = &vs[0]
	}

	f, err := fh.Open()
	if err != nil {
		return nil, toHTTP(h.log, fmt.Errorf("%w: open upload: %v", layer.ErrStorage, err))
	}
	defer f.Close()

	l, err := h.svc.Layers.Upload(ctx, service.UploadInput{
		FileName:  fh.Filename,
		Content:   f,
		Size:      fh.Size,
		Fields:    fields,
		CreatedBy: formValue(form, "createdBy"),
	})
	if err != nil {
		return nil, toHTTP(h.log, err)
	}
	return &LayerOutput{Body: LayerBody{l}}, nil
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func (h *APIHandler) UpdateLayer(ctx context.Context, input *UpdateLayerInput) (*LayerOutput, error) {
	l, err := h.svc.Layers.Update(ctx, input.ID, layer.Fields{
		Type:        layer.Type(input.Body.Type),
		Year:        input.Body.Tahun,
		Description: input.Body.Description,
	})
	if err != nil {
		return nil, toHTTP(h.log, err)
	}
	return &LayerOutput{Body: LayerBody{l}}, nil
}

func (h *APIHandler) DeleteLayer(ctx context.Context, input *LayerIDInput) (*MessageOutput, error) {
	if err := h.svc.Layers.Delete(ctx, input.ID); err != nil {
		return nil, toHTTP(h.log, err)
	}
	return &MessageOutput{Body: MessageBody{Message: "Layer deleted successfully"}}, nil
}

func (h *APIHandler) DeactivateLayer(ctx context.Context, input *LayerIDInput) (*MessageOutput, error) {
	if err := h.svc.Layers.Deactivate(ctx, input.ID); err != nil {
		return nil, toHTTP(h.log, err)
	}
	return &MessageOutput{Body: MessageBody{Message: "Layer deactivated successfully"}}, nil
}

func (h *APIHandler) GetGeoData(ctx context.Context, input *LayerIDInput) (*GeoDataOutput, error) {
	data, err := h.svc.Layers.GeoData(ctx, input.ID)
	if err != nil {
		return nil, toHTTP(h.log, err)
	}
	return &GeoDataOutput{ContentType: "application/geo+json", Body: data}, nil
}

func (h *APIHandler) Search(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	var ids []string
	for _, id := range input.Layers {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	matches, err := h.svc.Search.Search(ctx, input.Q, ids)
	if err != nil {
		return nil, toHTTP(h.log, err)
	}
	return &SearchOutput{Body: matches}, nil
}

func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	data, err := h.svc.Tiles.Tile(ctx, input.ID, input.Z, input.X, input.Y)
	if err != nil {
		return nil, toHTTP(h.log, err)
	}
	return &TileOutput{
		ContentType:     "application/vnd.mapbox-vector-tile",
		ContentEncoding: "gzip",
		Body:            data,
	}, nil
}

func (h *APIHandler) ListTypes(ctx context.Context, input *struct{}) (*struct{ Body []TypeInfo }, error) {
	types := layer.Types()
	out := make([]TypeInfo, 0, len(types))
	for _, t := range types {
		info := TypeInfo{Type: t, RequiresYear: t.RequiresYear(), Style: layer.StyleFor(t)}
		if info.RequiresYear {
			info.MinYear = layer.MinAdjudicationYear
			info.MaxYear = layer.MaxAdjudicationYear
		}
		out = append(out, info)
	}
	return &struct{ Body []TypeInfo }{Body: out}, nil
}

func (h *APIHandler) GetStyles(ctx context.Context, input *struct{}) (*struct{ Body StylesBody }, error) {
	body := StylesBody{
		Types:     map[string]layer.Style{},
		Highlight: map[string]layer.Style{},
		Default:   layer.DefaultStyle,
	}
	for _, t := range layer.Types() {
		body.Types[string(t)] = layer.StyleFor(t)
		body.Highlight[string(t)] = layer.HighlightStyle(t)
	}
	return &struct{ Body StylesBody }{Body: body}, nil
}

func (h *APIHandler) Verify(ctx context.Context, input *struct{ Body VerifyBody }) (*VerifyOutput, error) {
	u, err := h.svc.Auth.Verify(ctx, auth.Identity{
		UID:         strings.TrimSpace(input.Body.UID),
		Email:       strings.TrimSpace(input.Body.Email),
		DisplayName: input.Body.DisplayName,
		PhotoURL:    input.Body.PhotoURL,
	})
	if err != nil {
		if layer.IsClientError(err) {
			return nil, huma.Error400BadRequest("Missing required fields")
		}
		return nil, toHTTP(h.log, err)
	}
	out := &VerifyOutput{}
	out.Body.User = VerifiedUser{UID: u.UID, Email: u.Email, DisplayName: u.DisplayName, Role: u.Role}
	return out, nil
}
