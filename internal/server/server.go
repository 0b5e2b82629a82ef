package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-webgis/internal/api"
	"github.com/joeblew999/plat-webgis/internal/auth"
	"github.com/joeblew999/plat-webgis/internal/metrics"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/store"
)

// Config holds the server configuration.
type Config struct {
	Host           string
	Port           string
	StoreDriver    string
	UploadDir      string
	MaxUploadBytes int64
	AdminEmails    []string
	Metrics        bool
}

// Server is the webgis HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	store    store.Store
	services *api.Services
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates a server on top of an opened store. The server owns st and
// closes it in Close.
func New(cfg Config, st store.Store, log zerolog.Logger) *Server {
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("plat-webgis API", api.Version)
	humaConfig.Info.Description = "Web GIS for land office map layers: GeoJSON upload, layer catalogue, search and vector tiles."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.New(true)
	}
	humaAPI.UseMiddleware(api.Observe(log, m))

	bus := service.NewEventBus()
	bus.OnPublish = func(e service.Event) { m.Event(e.Action) }

	layers := service.NewLayerService(service.LayerConfig{
		Store:          st,
		Files:          service.NewFileStore(cfg.UploadDir),
		Bus:            bus,
		Metrics:        m,
		Logger:         log.With().Str("component", "layers").Logger(),
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	services := &api.Services{
		Layers: layers,
		Search: service.NewSearchService(layers, log.With().Str("component", "search").Logger()),
		Tiles:  service.NewTileService(layers),
		Auth:   auth.NewService(st, cfg.AdminEmails),
		Bus:    bus,
		Logger: log,
	}

	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humaAPI,
		store:    st,
		services: services,
		metrics:  m,
		log:      log,
	}
	s.routes()
	s.handler = api.LimitUploadBody(mux, layers.MaxUploadBytes())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", "Link, Content-Length")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Layers returns the layer service, for maintenance commands.
func (s *Server) Layers() *service.LayerService {
	return s.services.Layers
}

// Close closes server resources.
func (s *Server) Close() error {
	return s.store.Close()
}

func (s *Server) routes() {
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.config.StoreDriver, s.services).RegisterRoutes(s.humaAPI)
	api.NewEventHandler(s.services.Bus).RegisterRoutes(s.humaAPI)

	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
	s.mux.Handle("/uploads/", s.handleUploads())
	s.mux.HandleFunc("/", s.handleRoot)
}

// handleUploads serves stored GeoJSON files by their filePath. Directory
// listings are not served.
func (s *Server) handleUploads() http.Handler {
	files := http.StripPrefix(service.URLPrefix, http.FileServer(http.Dir(s.config.UploadDir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		files.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "Not found"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-webgis",
		"status":  "running",
	})
}
