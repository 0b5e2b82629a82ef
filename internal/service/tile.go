package service

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-webgis/internal/layer"
)

// MaxTileZoom is the deepest zoom level served.
const MaxTileZoom = 22

// TileLayerName is the name of the single layer inside every tile.
const TileLayerName = "features"

// TileService renders Mapbox Vector Tiles from stored layers. The stored
// GeoJSON is read and parsed for every tile.
type TileService struct {
	layers *LayerService
}

// NewTileService creates a tile service over the layers of ls.
func NewTileService(ls *LayerService) *TileService {
	return &TileService{layers: ls}
}

// Tile renders tile z/x/y of layer id as a gzipped MVT. A tile outside the
// layer's bounding box has no features.
func (s *TileService) Tile(ctx context.Context, id string, z, x, y int) ([]byte, error) {
	if err := checkTile(z, x, y); err != nil {
		return nil, err
	}
	l, err := s.layers.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	tile := maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
	fc := geojson.NewFeatureCollection()
	if l.Metadata.Bounds != nil && l.Metadata.Bounds.Bound().Intersects(tile.Bound()) {
		src, err := s.collection(ctx, l)
		if err != nil {
			return nil, err
		}
		fc = clipCandidates(src, tile.Bound())
	}

	layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{TileLayerName: fc})
	layers.ProjectToTile(tile)
	layers.Clip(mvt.MapboxGLDefaultExtentBound)
	layers.Simplify(simplify.DouglasPeucker(1.0))
	layers.RemoveEmpty(1.0, 1.0)

	data, err := mvt.MarshalGzipped(layers)
	if err != nil {
		return nil, fmt.Errorf("%w: encode tile: %v", layer.ErrStorage, err)
	}
	return data, nil
}

func checkTile(z, x, y int) error {
	if z < 0 || z > MaxTileZoom {
		return fmt.Errorf("%w: zoom must be between 0 and %d", layer.ErrValidation, MaxTileZoom)
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return fmt.Errorf("%w: tile %d/%d/%d out of range", layer.ErrValidation, z, x, y)
	}
	return nil
}

// clipCandidates keeps the features whose bounds touch b.
func clipCandidates(src *geojson.FeatureCollection, b orb.Bound) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for _, f := range src.Features {
		if f.Geometry != nil && f.Geometry.Bound().Intersects(b) {
			out.Append(f)
		}
	}
	return out
}

func (s *TileService) collection(ctx context.Context, l layer.Layer) (*geojson.FeatureCollection, error) {
	data, err := s.layers.GeoData(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", layer.ErrMalformedGeoJSON, err)
	}
	return fc, nil
}
