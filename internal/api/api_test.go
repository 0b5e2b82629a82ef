package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-webgis/internal/auth"
	"github.com/joeblew999/plat-webgis/internal/layer"
	"github.com/joeblew999/plat-webgis/internal/metrics"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/store"
)

const parcelsFC = `{"type":"FeatureCollection","features":[
	{"type":"Feature","properties":{"nama":"Desa Sukamaju","nib":"10.01"},
	 "geometry":{"type":"Polygon","coordinates":[[[106,-7],[107,-7],[107,-6],[106,-6],[106,-7]]]}}
]}`

type testServer struct {
	api     humatest.TestAPI
	svc     *Services
	metrics *metrics.Metrics
}

// newTestServices wires services over an in-memory DuckDB store. A zero
// maxUpload keeps the default limit.
func newTestServices(t *testing.T, m *metrics.Metrics, maxUpload int64) *Services {
	t.Helper()
	st, err := store.OpenDuckDB(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	bus := service.NewEventBus()
	layers := service.NewLayerService(service.LayerConfig{
		Store:          st,
		Files:          service.NewFileStore(t.TempDir()),
		Bus:            bus,
		Metrics:        m,
		Logger:         zerolog.Nop(),
		MaxUploadBytes: maxUpload,
	})
	return &Services{
		Layers: layers,
		Search: service.NewSearchService(layers, zerolog.Nop()),
		Tiles:  service.NewTileService(layers),
		Auth:   auth.NewService(st, []string{"boss@example.com"}),
		Bus:    bus,
		Logger: zerolog.Nop(),
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	m := metrics.New(false)
	svc := newTestServices(t, m, 0)

	config := huma.DefaultConfig("Test", Version)
	config.CreateHooks = nil
	config.Transformers = append(config.Transformers, LinkTransformer())
	_, api := humatest.New(t, config)
	api.UseMiddleware(Observe(zerolog.Nop(), m))
	RegisterRoutes(api, svc)
	NewInfoHandler(store.DriverDuckDB, svc).RegisterRoutes(api)

	return &testServer{api: api, svc: svc, metrics: m}
}

// uploadForm builds a multipart body. An empty fileName omits the file part.
func uploadForm(t *testing.T, fileName, content string, fields map[string]string) (string, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte(content))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return "Content-Type: " + w.FormDataContentType(), buf
}

func (ts *testServer) upload(t *testing.T, typ string, tahun string) layer.Layer {
	t.Helper()
	fields := map[string]string{"type": typ, "createdBy": "admin@example.com", "description": "uji"}
	if tahun != "" {
		fields["tahun"] = tahun
	}
	header, body := uploadForm(t, "parcels.geojson", parcelsFC, fields)
	resp := ts.api.Post("/api/layers", header, body)
	if resp.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", resp.Code, resp.Body.String())
	}
	var l layer.Layer
	if err := json.Unmarshal(resp.Body.Bytes(), &l); err != nil {
		t.Fatal(err)
	}
	return l
}

func decodeError(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("error body %q: %v", body, err)
	}
	return e.Error
}

func hasLink(resp http.Header, rel string) bool {
	for _, v := range resp.Values("Link") {
		if strings.Contains(v, `rel="`+rel+`"`) {
			return true
		}
	}
	return false
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.api.Get("/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"status":"ok"`) {
		t.Fatalf("body %s", resp.Body.String())
	}
	if !hasLink(resp.Header(), "layers") {
		t.Fatalf("missing layers link: %v", resp.Header().Values("Link"))
	}
}

func TestUploadAndGetLayer(t *testing.T) {
	ts := newTestServer(t)
	l := ts.upload(t, "Peta Ajudikasi", "2017")

	if l.Name != "Peta Ajudikasi 2017" || l.Year == nil || *l.Year != 2017 {
		t.Fatalf("unexpected layer %+v", l)
	}
	if l.Description != "uji" || l.CreatedBy != "admin@example.com" || !l.IsActive {
		t.Fatalf("unexpected layer %+v", l)
	}
	if l.FileName != "parcels.geojson" || !strings.HasPrefix(l.FilePath, "/uploads/") {
		t.Fatalf("unexpected file fields %+v", l)
	}
	if l.Metadata.FeatureCount != 1 || l.Metadata.Bounds == nil || l.Metadata.Bounds.Type != "Polygon" {
		t.Fatalf("unexpected metadata %+v", l.Metadata)
	}

	resp := ts.api.Get("/api/layers/" + l.ID)
	if resp.Code != http.StatusOK {
		t.Fatalf("get: %d %s", resp.Code, resp.Body.String())
	}
	var got layer.Layer
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != l.ID || got.Name != l.Name {
		t.Fatalf("got %+v, want %+v", got, l)
	}
	for _, rel := range []string{"self", "collection", "edit", "delete", "geodata", "tiles", "deactivate"} {
		if !hasLink(resp.Header(), rel) {
			t.Errorf("missing %s link: %v", rel, resp.Header().Values("Link"))
		}
	}
}

func TestUploadRejected(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		fileName string
		content  string
		fields   map[string]string
		want     string
	}{
		{"no file", "", "", map[string]string{"type": "LSD", "createdBy": "a"}, "No file uploaded"},
		{"wrong extension", "parcels.shp", parcelsFC, map[string]string{"type": "LSD", "createdBy": "a"}, "only .geojson and .json files are allowed"},
		{"missing type", "parcels.geojson", parcelsFC, map[string]string{"createdBy": "a"}, ""},
		{"unknown type", "parcels.geojson", parcelsFC, map[string]string{"type": "Lainnya", "createdBy": "a"}, ""},
		{"adjudication without year", "parcels.geojson", parcelsFC, map[string]string{"type": "Peta Ajudikasi", "createdBy": "a"}, ""},
		{"year out of range", "parcels.geojson", parcelsFC, map[string]string{"type": "Peta Ajudikasi", "tahun": "2020", "createdBy": "a"}, ""},
		{"year not a number", "parcels.geojson", parcelsFC, map[string]string{"type": "Peta Ajudikasi", "tahun": "baru", "createdBy": "a"}, ""},
		{"missing creator", "parcels.geojson", parcelsFC, map[string]string{"type": "LSD"}, ""},
		{"features not an array", "parcels.geojson", `{"type":"FeatureCollection","features":{}}`, map[string]string{"type": "LSD", "createdBy": "a"}, ""},
		{"top-level array", "parcels.json", `[1,2]`, map[string]string{"type": "LSD", "createdBy": "a"}, ""},
		{"invalid json", "parcels.json", `{"type":`, map[string]string{"type": "LSD", "createdBy": "a"}, "invalid JSON: unexpected end of JSON input"},
		{"text coordinate", "parcels.json", `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":["110","-7"]}}]}`, map[string]string{"type": "LSD", "createdBy": "a"}, "feature 0: longitude is string, not a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, body := uploadForm(t, tt.fileName, tt.content, tt.fields)
			resp := ts.api.Post("/api/layers", header, body)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("status %d, body %s", resp.Code, resp.Body.String())
			}
			msg := decodeError(t, resp.Body.Bytes())
			if msg == "" {
				t.Fatal("empty error message")
			}
			if tt.want != "" && msg != tt.want {
				t.Fatalf("error %q, want %q", msg, tt.want)
			}
		})
	}

	layers, err := ts.svc.Layers.List(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 0 {
		t.Fatalf("rejected uploads created %d layers", len(layers))
	}
	files, err := ts.svc.Layers.Files().List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Fatalf("rejected uploads left %d files", len(files))
	}
}

func TestLayerNotFound(t *testing.T) {
	ts := newTestServer(t)
	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/layers/missing"},
		{http.MethodDelete, "/api/layers/missing"},
		{http.MethodPost, "/api/layers/missing/deactivate"},
		{http.MethodGet, "/api/geodata/missing"},
		{http.MethodGet, "/api/tiles/missing/0/0/0"},
	} {
		resp := ts.api.Do(req.method, req.path)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s %s: status %d", req.method, req.path, resp.Code)
		}
		if msg := decodeError(t, resp.Body.Bytes()); msg != "Layer not found" {
			t.Fatalf("%s %s: error %q", req.method, req.path, msg)
		}
	}

	resp := ts.api.Put("/api/layers/missing", map[string]any{"type": "LSD"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("update missing: status %d", resp.Code)
	}
}

func TestListLayers(t *testing.T) {
	ts := newTestServer(t)
	first := ts.upload(t, "LSD", "")
	second := ts.upload(t, "RTRW", "")

	resp := ts.api.Get("/api/layers")
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d", resp.Code)
	}
	var layers []layer.Layer
	if err := json.Unmarshal(resp.Body.Bytes(), &layers); err != nil {
		t.Fatal(err)
	}
	if len(layers) != 2 || layers[0].ID != second.ID || layers[1].ID != first.ID {
		t.Fatalf("want newest first, got %+v", layers)
	}
	if !hasLink(resp.Header(), "search") {
		t.Fatalf("missing search link: %v", resp.Header().Values("Link"))
	}
}

func TestUpdateLayer(t *testing.T) {
	ts := newTestServer(t)
	l := ts.upload(t, "LSD", "")

	resp := ts.api.Put("/api/layers/"+l.ID, map[string]any{
		"type":  "Peta Ajudikasi",
		"tahun": 2018,
		"name":  "ignored",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("update: %d %s", resp.Code, resp.Body.String())
	}
	var got layer.Layer
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "Peta Ajudikasi 2018" || got.Type != layer.TypePetaAjudikasi {
		t.Fatalf("unexpected layer %+v", got)
	}
	if got.Description != "uji" || got.FilePath != l.FilePath {
		t.Fatalf("update touched unrelated fields: %+v", got)
	}

	resp = ts.api.Put("/api/layers/"+l.ID, map[string]any{"type": "Peta Ajudikasi"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing tahun: status %d", resp.Code)
	}
	resp = ts.api.Put("/api/layers/"+l.ID, map[string]any{"description": "tanpa tipe"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing type: status %d", resp.Code)
	}
}

func TestDeleteLayer(t *testing.T) {
	ts := newTestServer(t)
	l := ts.upload(t, "LSD", "")

	resp := ts.api.Delete("/api/layers/" + l.ID)
	if resp.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "Layer deleted successfully") {
		t.Fatalf("body %s", resp.Body.String())
	}
	if resp := ts.api.Get("/api/layers/" + l.ID); resp.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", resp.Code)
	}
	files, err := ts.svc.Layers.Files().List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Fatalf("file left behind: %+v", files)
	}
}

func TestDeactivateLayer(t *testing.T) {
	ts := newTestServer(t)
	l := ts.upload(t, "ZNT", "")

	resp := ts.api.Post("/api/layers/" + l.ID + "/deactivate")
	if resp.Code != http.StatusOK {
		t.Fatalf("deactivate: %d %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "Layer deactivated successfully") {
		t.Fatalf("body %s", resp.Body.String())
	}

	resp = ts.api.Get("/api/layers")
	if strings.Contains(resp.Body.String(), l.ID) {
		t.Fatal("deactivated layer still listed")
	}
	resp = ts.api.Get("/api/layers?includeInactive=true")
	if !strings.Contains(resp.Body.String(), l.ID) {
		t.Fatal("deactivated layer missing from full listing")
	}

	resp = ts.api.Get("/api/layers/" + l.ID)
	if resp.Code != http.StatusOK {
		t.Fatalf("get: status %d", resp.Code)
	}
	if hasLink(resp.Header(), "deactivate") {
		t.Fatal("inactive layer still offers deactivate")
	}
}

func TestGeoData(t *testing.T) {
	ts := newTestServer(t)
	l := ts.upload(t, "Batas Desa", "")

	resp := ts.api.Get("/api/geodata/" + l.ID)
	if resp.Code != http.StatusOK {
		t.Fatalf("geodata: %d %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content type %q", ct)
	}
	if resp.Body.String() != parcelsFC {
		t.Fatalf("body differs from upload: %s", resp.Body.String())
	}
}

func TestGeoDataFileMissing(t *testing.T) {
	ts := newTestServer(t)
	l := ts.upload(t, "LSD", "")
	if err := ts.svc.Layers.Files().Remove(l.FilePath); err != nil {
		t.Fatal(err)
	}

	resp := ts.api.Get("/api/geodata/" + l.ID)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status %d", resp.Code)
	}
	if msg := decodeError(t, resp.Body.Bytes()); msg != "File not found" {
		t.Fatalf("error %q", msg)
	}
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t)
	l := ts.upload(t, "LSD", "")

	resp := ts.api.Get("/api/search?q=sukamaju&layers=" + l.ID)
	if resp.Code != http.StatusOK {
		t.Fatalf("search: %d %s", resp.Code, resp.Body.String())
	}
	var matches []struct {
		LayerID   string `json:"layerId"`
		LayerName string `json:"layerName"`
		Feature   struct {
			Properties map[string]any `json:"properties"`
		} `json:"feature"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &matches); err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].LayerID != l.ID || matches[0].LayerName != "LSD" {
		t.Fatalf("unexpected matches %+v", matches)
	}
	if matches[0].Feature.Properties["nib"] != "10.01" {
		t.Fatalf("feature properties %+v", matches[0].Feature.Properties)
	}

	resp = ts.api.Get("/api/search?q=s")
	if resp.Code != http.StatusOK || strings.TrimSpace(resp.Body.String()) != "[]" {
		t.Fatalf("short term: %d %s", resp.Code, resp.Body.String())
	}
}

func TestTiles(t *testing.T) {
	ts := newTestServer(t)
	l := ts.upload(t, "LSD", "")

	resp := ts.api.Get(fmt.Sprintf("/api/tiles/%s/0/0/0", l.ID))
	if resp.Code != http.StatusOK {
		t.Fatalf("tile: %d %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/vnd.mapbox-vector-tile" {
		t.Fatalf("content type %q", ct)
	}
	if enc := resp.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("content encoding %q", enc)
	}
	if resp.Body.Len() == 0 {
		t.Fatal("empty tile")
	}

	for _, path := range []string{
		fmt.Sprintf("/api/tiles/%s/23/0/0", l.ID),
		fmt.Sprintf("/api/tiles/%s/1/2/0", l.ID),
		fmt.Sprintf("/api/tiles/%s/1/0/-1", l.ID),
	} {
		if resp := ts.api.Get(path); resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d", path, resp.Code)
		}
	}
}

func TestCatalog(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.api.Get("/api/types")
	if resp.Code != http.StatusOK {
		t.Fatalf("types: status %d", resp.Code)
	}
	var types []TypeInfo
	if err := json.Unmarshal(resp.Body.Bytes(), &types); err != nil {
		t.Fatal(err)
	}
	if len(types) != len(layer.Types()) {
		t.Fatalf("got %d types, want %d", len(types), len(layer.Types()))
	}
	for _, ti := range types {
		if ti.RequiresYear != (ti.Type == layer.TypePetaAjudikasi) {
			t.Fatalf("unexpected requiresYear for %+v", ti)
		}
		if ti.RequiresYear && (ti.MinYear != 2016 || ti.MaxYear != 2019) {
			t.Fatalf("unexpected year range %+v", ti)
		}
	}

	resp = ts.api.Get("/api/styles")
	if resp.Code != http.StatusOK {
		t.Fatalf("styles: status %d", resp.Code)
	}
	var styles StylesBody
	if err := json.Unmarshal(resp.Body.Bytes(), &styles); err != nil {
		t.Fatal(err)
	}
	if styles.Types["LSD"] != layer.StyleFor(layer.TypeLSD) {
		t.Fatalf("LSD style %+v", styles.Types["LSD"])
	}
	if styles.Highlight["LSD"] != layer.HighlightStyle(layer.TypeLSD) {
		t.Fatalf("LSD highlight %+v", styles.Highlight["LSD"])
	}
	if styles.Default != layer.DefaultStyle {
		t.Fatalf("default style %+v", styles.Default)
	}
}

func TestVerify(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name  string
		body  map[string]any
		code  int
		role  auth.Role
		error string
	}{
		{"whitelisted admin", map[string]any{"uid": "u1", "email": "Boss@Example.com", "displayName": "Boss"}, http.StatusOK, auth.RoleAdmin, ""},
		{"admin in address", map[string]any{"uid": "u2", "email": "admin.kantah@example.com"}, http.StatusOK, auth.RoleAdmin, ""},
		{"regular user", map[string]any{"uid": "u3", "email": "petugas@example.com"}, http.StatusOK, auth.RoleUser, ""},
		{"missing email", map[string]any{"uid": "u4"}, http.StatusBadRequest, "", "Missing required fields"},
		{"missing uid", map[string]any{"email": "a@example.com"}, http.StatusBadRequest, "", "Missing required fields"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.api.Post("/api/auth/verify", tt.body)
			if resp.Code != tt.code {
				t.Fatalf("status %d, body %s", resp.Code, resp.Body.String())
			}
			if tt.error != "" {
				if msg := decodeError(t, resp.Body.Bytes()); msg != tt.error {
					t.Fatalf("error %q, want %q", msg, tt.error)
				}
				return
			}
			var out struct {
				User VerifiedUser `json:"user"`
			}
			if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
				t.Fatal(err)
			}
			if out.User.Role != tt.role || out.User.UID != tt.body["uid"] {
				t.Fatalf("unexpected user %+v", out.User)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "LSD", "")

	resp := ts.api.Get("/api/info")
	if resp.Code != http.StatusOK {
		t.Fatalf("info: status %d", resp.Code)
	}
	var info InfoBody
	if err := json.Unmarshal(resp.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Name != "plat-webgis" || info.Store != "duckdb" || info.MaxUploadSize != "400.0 MB" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Uploads.Files != 1 || info.Uploads.Bytes != int64(len(parcelsFC)) {
		t.Fatalf("unexpected usage %+v", info.Uploads)
	}
}

func TestObserveRecordsMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.api.Get("/health")
	ts.api.Get("/api/layers/missing")

	families, err := ts.metrics.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, f := range families {
		if f.GetName() != "webgis_http_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			seen[labels["route"]+" "+labels["status"]] = true
		}
	}
	for _, want := range []string{"/health 200", "/api/layers/{id} 404"} {
		if !seen[want] {
			t.Fatalf("missing request metric %q in %v", want, seen)
		}
	}
}
