package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-webgis/internal/extract"
	"github.com/joeblew999/plat-webgis/internal/layer"
	"github.com/joeblew999/plat-webgis/internal/metrics"
	"github.com/joeblew999/plat-webgis/internal/store"
)

// MaxUploadBytes is the default upload size limit (400 MiB).
const MaxUploadBytes int64 = 400 << 20

// UploadInput is one multipart upload.
type UploadInput struct {
	FileName  string
	Content   io.Reader
	Size      int64 // declared size, 0 when unknown
	Fields    layer.Fields
	CreatedBy string
}

// LayerConfig wires a LayerService.
type LayerConfig struct {
	Store          store.Store
	Files          *FileStore
	Bus            *EventBus
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
	MaxUploadBytes int64
}

// LayerService runs the layer operations: upload, edit, delete and
// geodata retrieval.
type LayerService struct {
	store    store.Store
	files    *FileStore
	bus      *EventBus
	metrics  *metrics.Metrics
	log      zerolog.Logger
	maxBytes int64
}

// NewLayerService creates a layer service.
func NewLayerService(cfg LayerConfig) *LayerService {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = MaxUploadBytes
	}
	return &LayerService{
		store:    cfg.Store,
		files:    cfg.Files,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		maxBytes: cfg.MaxUploadBytes,
	}
}

// MaxUploadBytes returns the configured size limit.
func (s *LayerService) MaxUploadBytes() int64 {
	return s.maxBytes
}

// Files returns the file store.
func (s *LayerService) Files() *FileStore {
	return s.files
}

// Upload validates, stores and records an uploaded GeoJSON file. Nothing
// is written to disk before the input has been fully validated, and the
// written file is removed again when the record cannot be created.
func (s *LayerService) Upload(ctx context.Context, in UploadInput) (layer.Layer, error) {
	l, err := s.upload(ctx, in)
	switch {
	case err == nil:
		s.metrics.Upload(metrics.UploadAccepted, l.FileSize)
	case layer.IsClientError(err):
		s.metrics.Upload(metrics.UploadRejected, 0)
	default:
		s.metrics.Upload(metrics.UploadFailed, 0)
	}
	return l, err
}

func (s *LayerService) upload(ctx context.Context, in UploadInput) (layer.Layer, error) {
	if in.Content == nil || in.FileName == "" {
		return layer.Layer{}, fmt.Errorf("%w: no file uploaded", layer.ErrValidation)
	}
	ext, err := CheckExt(in.FileName)
	if err != nil {
		return layer.Layer{}, err
	}
	if in.Size > s.maxBytes {
		return layer.Layer{}, s.tooLarge()
	}

	fields, err := in.Fields.Normalize()
	if err != nil {
		return layer.Layer{}, err
	}
	createdBy := strings.TrimSpace(in.CreatedBy)
	if createdBy == "" {
		return layer.Layer{}, fmt.Errorf("%w: createdBy is required", layer.ErrValidation)
	}

	data, err := io.ReadAll(io.LimitReader(in.Content, s.maxBytes+1))
	if err != nil {
		return layer.Layer{}, fmt.Errorf("%w: read upload: %v", layer.ErrStorage, err)
	}
	if int64(len(data)) > s.maxBytes {
		return layer.Layer{}, s.tooLarge()
	}

	meta, err := extract.ExtractBytes(data)
	if err != nil {
		return layer.Layer{}, err
	}

	filePath, err := s.files.Save(ext, data)
	if err != nil {
		return layer.Layer{}, err
	}

	l := layer.Layer{
		Type:      fields.Type,
		Year:      fields.Year,
		FilePath:  filePath,
		FileName:  in.FileName,
		FileSize:  int64(len(data)),
		CreatedBy: createdBy,
		Metadata:  meta,
	}
	if fields.Description != nil {
		l.Description = *fields.Description
	}

	if _, err := s.store.Create(ctx, &l); err != nil {
		if rmErr := s.files.Remove(filePath); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("file", filePath).Msg("could not remove file of failed upload")
		}
		return layer.Layer{}, err
	}

	s.log.Info().
		Str("id", l.ID).
		Str("type", string(l.Type)).
		Int("features", l.Metadata.FeatureCount).
		Str("size", FormatSize(l.FileSize)).
		Msg("layer uploaded")
	s.publish(ActionCreated, l)
	return l, nil
}

func (s *LayerService) tooLarge() error {
	return TooLarge(s.maxBytes)
}

// TooLarge is the validation error for an upload over maxBytes.
func TooLarge(maxBytes int64) error {
	return fmt.Errorf("%w: file exceeds the %s upload limit", layer.ErrValidation, FormatSize(maxBytes))
}

// List returns layers newest first.
func (s *LayerService) List(ctx context.Context, includeInactive bool) ([]layer.Layer, error) {
	layers, err := s.store.List(ctx, !includeInactive)
	if err != nil {
		return nil, err
	}
	if !includeInactive {
		s.metrics.SetActiveLayers(len(layers))
	}
	return layers, nil
}

// Get returns one layer.
func (s *LayerService) Get(ctx context.Context, id string) (layer.Layer, error) {
	return s.store.Get(ctx, id)
}

// Update edits type, tahun and description. The stored file is kept.
func (s *LayerService) Update(ctx context.Context, id string, f layer.Fields) (layer.Layer, error) {
	l, err := s.store.Update(ctx, id, f)
	if err != nil {
		return layer.Layer{}, err
	}
	s.publish(ActionUpdated, l)
	return l, nil
}

// Deactivate hides a layer from the active listing.
func (s *LayerService) Deactivate(ctx context.Context, id string) error {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Deactivate(ctx, id); err != nil {
		return err
	}
	s.publish(ActionDeactivated, l)
	return nil
}

// Delete removes the record, then the stored file. File removal is best
// effort: a failure is logged and the delete still succeeds.
func (s *LayerService) Delete(ctx context.Context, id string) error {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.files.Remove(l.FilePath); err != nil {
		s.log.Warn().Err(err).Str("id", id).Str("file", l.FilePath).Msg("could not remove layer file")
	}
	s.log.Info().Str("id", id).Str("name", l.Name).Msg("layer deleted")
	s.publish(ActionDeleted, l)
	return nil
}

// GeoData returns the stored GeoJSON of a layer as it was uploaded.
func (s *LayerService) GeoData(ctx context.Context, id string) ([]byte, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.files.Read(l.FilePath)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: stored file of layer %s is not valid JSON", layer.ErrStorage, id)
	}
	return data, nil
}

// RenameReport counts the outcome of RegenerateNames.
type RenameReport struct {
	Scanned int      `json:"scanned"`
	Updated int      `json:"updated"`
	Retyped int      `json:"retyped"`
	Skipped []string `json:"skipped,omitempty"`
}

// RegenerateNames maps legacy types onto their replacement and rewrites
// every name that does not match the generated one. Layers that fail
// validation are reported as skipped.
func (s *LayerService) RegenerateNames(ctx context.Context) (RenameReport, error) {
	layers, err := s.store.List(ctx, false)
	if err != nil {
		return RenameReport{}, err
	}

	var r RenameReport
	for _, l := range layers {
		r.Scanned++
		typ, retyped := layer.NormalizeLegacyType(l.Type)
		if !retyped && l.Name == layer.GenerateName(typ, l.Year) {
			continue
		}

		updated, err := s.store.Update(ctx, l.ID, layer.Fields{Type: typ, Year: l.Year})
		if errors.Is(err, layer.ErrValidation) {
			s.log.Warn().Err(err).Str("id", l.ID).Msg("layer not renamed")
			r.Skipped = append(r.Skipped, l.ID)
			continue
		}
		if err != nil {
			return r, err
		}
		if retyped {
			r.Retyped++
		}
		r.Updated++
		s.log.Info().Str("id", l.ID).Str("from", l.Name).Str("to", updated.Name).Msg("layer renamed")
		s.publish(ActionUpdated, updated)
	}
	return r, nil
}

func (s *LayerService) publish(action string, l layer.Layer) {
	s.bus.Publish(Event{Resource: "layers", Action: action, ID: l.ID, Name: l.Name})
}
