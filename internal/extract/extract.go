// Package extract computes layer metadata (feature count, bounding box and
// geometry type) from a GeoJSON FeatureCollection.
package extract

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-webgis/internal/layer"
)

// MaxDepth bounds the nesting of coordinate arrays and geometry collections.
// Real GeoJSON never goes past 4 (MultiPolygon).
const MaxDepth = 32

// FallbackGeometryType is reported when no feature carries a geometry type.
const FallbackGeometryType = "Polygon"

// ExtractBytes decodes data as JSON and runs Extract on it.
func ExtractBytes(data []byte) (layer.Metadata, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return layer.Metadata{}, fmt.Errorf("%w: invalid JSON: %v", layer.ErrMalformedGeoJSON, err)
	}
	return Extract(doc)
}

// Extract computes metadata from a decoded FeatureCollection, as produced by
// json.Unmarshal into an any.
//
// Every array under geometry.coordinates whose first element is a number and
// which has at least two elements is a [lng, lat] position; any other array
// is walked recursively, so all geometry types share one traversal.
func Extract(doc any) (layer.Metadata, error) {
	root, ok := doc.(map[string]any)
	if !ok {
		return layer.Metadata{}, fmt.Errorf("%w: top-level value is not an object", layer.ErrMalformedGeoJSON)
	}

	raw := root["features"]
	if raw == nil {
		return layer.Metadata{}, nil
	}
	features, ok := raw.([]any)
	if !ok {
		return layer.Metadata{}, fmt.Errorf("%w: features is not an array", layer.ErrMalformedGeoJSON)
	}

	meta := layer.Metadata{FeatureCount: len(features)}
	if len(features) == 0 {
		return meta, nil
	}

	var (
		w            walker
		geometryType = FallbackGeometryType
		seenGeometry bool
	)
	for i, f := range features {
		feature, ok := f.(map[string]any)
		if !ok {
			continue
		}
		geom, ok := feature["geometry"].(map[string]any)
		if !ok {
			continue
		}
		if !seenGeometry {
			if t, ok := geom["type"].(string); ok && t != "" {
				geometryType = t
				seenGeometry = true
			}
		}
		if err := w.geometry(geom, 0); err != nil {
			return layer.Metadata{}, fmt.Errorf("feature %d: %w", i, err)
		}
	}

	if w.points == 0 {
		return meta, nil
	}
	meta.Bounds = &layer.Bounds{
		Type: geometryType,
		BBox: [4]float64{w.bound.Min.Lon(), w.bound.Min.Lat(), w.bound.Max.Lon(), w.bound.Max.Lat()},
	}
	return meta, nil
}

type walker struct {
	bound  orb.Bound
	points int
}

func (w *walker) geometry(geom map[string]any, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", layer.ErrMalformedGeometry, MaxDepth)
	}
	if coords := geom["coordinates"]; coords != nil {
		if err := w.coordinates(coords, depth+1); err != nil {
			return err
		}
	}

	members, ok := geom["geometries"].([]any)
	if !ok {
		return nil
	}
	for _, m := range members {
		child, ok := m.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: geometry collection member is %T", layer.ErrMalformedGeometry, m)
		}
		if err := w.geometry(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) coordinates(v any, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: coordinates nested deeper than %d", layer.ErrMalformedGeometry, MaxDepth)
	}
	arr, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%w: expected coordinate array, got %T", layer.ErrMalformedGeometry, v)
	}

	if len(arr) == 0 {
		return nil
	}
	switch first := arr[0].(type) {
	case float64:
		if len(arr) < 2 {
			return fmt.Errorf("%w: position needs longitude and latitude", layer.ErrMalformedGeometry)
		}
		lat, ok := arr[1].(float64)
		if !ok {
			return fmt.Errorf("%w: latitude is %T, not a number", layer.ErrMalformedGeometry, arr[1])
		}
		w.add(orb.Point{first, lat})
		return nil
	case []any:
	default:
		return fmt.Errorf("%w: longitude is %T, not a number", layer.ErrMalformedGeometry, first)
	}

	for _, el := range arr {
		if err := w.coordinates(el, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) add(p orb.Point) {
	if w.points == 0 {
		w.bound = p.Bound()
	} else {
		w.bound = w.bound.Extend(p)
	}
	w.points++
}
