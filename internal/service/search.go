package service

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-webgis/internal/layer"
)

// MinSearchTerm is the shortest term that triggers a search.
const MinSearchTerm = 2

// searchWorkers bounds how many layer files are parsed at once.
const searchWorkers = 4

// Match is a feature whose properties contain the search term.
type Match struct {
	LayerID   string           `json:"layerId" doc:"Layer the feature belongs to"`
	LayerName string           `json:"layerName" doc:"Display name of that layer"`
	Feature   *geojson.Feature `json:"feature" doc:"The matching GeoJSON feature"`
}

// SearchService finds features by property text.
type SearchService struct {
	layers *LayerService
	log    zerolog.Logger
}

// NewSearchService creates a search service over the layers of ls.
func NewSearchService(ls *LayerService, log zerolog.Logger) *SearchService {
	return &SearchService{layers: ls, log: log}
}

// Search returns the features of the given layers whose joined property
// values contain term, case-insensitively. With no layer ids every active
// layer is searched. Terms shorter than MinSearchTerm give no matches.
// A layer that cannot be loaded is logged and skipped.
func (s *SearchService) Search(ctx context.Context, term string, layerIDs []string) ([]Match, error) {
	term = strings.TrimSpace(term)
	if utf8.RuneCountInString(term) < MinSearchTerm {
		return []Match{}, nil
	}
	needle := strings.ToLower(term)

	if len(layerIDs) == 0 {
		active, err := s.layers.List(ctx, false)
		if err != nil {
			return nil, err
		}
		for _, l := range active {
			if l.IsActive {
				layerIDs = append(layerIDs, l.ID)
			}
		}
	}

	perLayer := make([][]Match, len(layerIDs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(searchWorkers)
	for i, id := range layerIDs {
		g.Go(func() error {
			matches, err := s.searchLayer(ctx, id, needle)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Warn().Err(err).Str("layer", id).Msg("search skipped layer")
				return nil
			}
			perLayer[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []Match{}
	for _, m := range perLayer {
		out = append(out, m...)
	}
	return out, nil
}

func (s *SearchService) searchLayer(ctx context.Context, id, needle string) ([]Match, error) {
	l, err := s.layers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.layers.GeoData(ctx, id)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", layer.ErrMalformedGeoJSON, err)
	}

	var matches []Match
	for _, f := range fc.Features {
		if len(f.Properties) == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(joinProperties(f.Properties)), needle) {
			matches = append(matches, Match{LayerID: l.ID, LayerName: l.Name, Feature: f})
		}
	}
	return matches, nil
}

// joinProperties renders every property value and joins them with spaces.
// Keys are visited in sorted order; null values render as the empty string.
func joinProperties(props geojson.Properties) string {
	parts := make([]string, 0, len(props))
	for _, k := range slices.Sorted(maps.Keys(props)) {
		parts = append(parts, propertyText(props[k]))
	}
	return strings.Join(parts, " ")
}

func propertyText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
