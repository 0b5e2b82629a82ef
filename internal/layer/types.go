// Package layer contains the layer domain model shared by the store, the
// upload pipeline and the API.
package layer

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Type is the category tag of a layer. The set of values is closed; see Types.
type Type string

const (
	TypeLSD             Type = "LSD"
	TypeLP2B            Type = "LP2B"
	TypeRTRW            Type = "RTRW"
	TypeRDTR            Type = "RDTR"
	TypeZNT             Type = "ZNT"
	TypeGarisPantai     Type = "Garis Pantai"
	TypeKawasanHutan    Type = "Kawasan Hutan"
	TypeBatasDesa       Type = "Batas Desa"
	TypePetaPendaftaran Type = "Peta Pendaftaran"
	TypePetaAjudikasi   Type = "Peta Ajudikasi"
	TypePetaRutin       Type = "Peta Rutin"
)

// legacyTypeHutanHijau was renamed to Kawasan Hutan.
const legacyTypeHutanHijau = "Hutan Hijau"

// Year range accepted for adjudication maps.
const (
	MinAdjudicationYear = 2016
	MaxAdjudicationYear = 2019
)

var allTypes = []Type{
	TypeLSD,
	TypeLP2B,
	TypeRTRW,
	TypeRDTR,
	TypeZNT,
	TypeGarisPantai,
	TypeKawasanHutan,
	TypeBatasDesa,
	TypePetaPendaftaran,
	TypePetaAjudikasi,
	TypePetaRutin,
}

// Types returns every layer type in display order.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Valid reports whether t is a member of the enumeration.
func (t Type) Valid() bool {
	for _, v := range allTypes {
		if v == t {
			return true
		}
	}
	return false
}

// RequiresYear reports whether layers of this type carry a tahun.
func (t Type) RequiresYear() bool {
	return t == TypePetaAjudikasi
}

// ParseType converts user input into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if t == "" {
		return "", fmt.Errorf("%w: type is required", ErrValidation)
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown layer type %q", ErrValidation, s)
	}
	return t, nil
}

// NormalizeLegacyType maps retired type names onto their replacement.
// It reports whether a rename happened.
func NormalizeLegacyType(t Type) (Type, bool) {
	if string(t) == legacyTypeHutanHijau {
		return TypeKawasanHutan, true
	}
	return t, false
}

// GenerateName returns the display name for a type/year pair:
// "Peta Ajudikasi <tahun>" for adjudication maps, the type itself otherwise.
func GenerateName(t Type, year *int) string {
	if t.RequiresYear() && year != nil {
		return fmt.Sprintf("%s %d", t, *year)
	}
	return string(t)
}

// Layer is a persisted GeoJSON layer record.
type Layer struct {
	ID          string    `json:"id" doc:"Unique layer identifier" example:"665f1c2b9d3e4a0012345678"`
	Name        string    `json:"name" doc:"Display name, generated from type and tahun" example:"Peta Ajudikasi 2017"`
	Type        Type      `json:"type" doc:"Layer category" example:"LSD"`
	Year        *int      `json:"tahun,omitempty" doc:"Year, only for Peta Ajudikasi" example:"2017"`
	Description string    `json:"description" doc:"Free text description"`
	FilePath    string    `json:"filePath" doc:"Stored file location" example:"/uploads/1717171717171-3f2a9c1d7e0b.geojson"`
	FileName    string    `json:"fileName" doc:"Original upload file name" example:"lsd.geojson"`
	FileSize    int64     `json:"fileSize" doc:"File size in bytes"`
	CreatedBy   string    `json:"createdBy" doc:"Creating user identifier"`
	CreatedAt   time.Time `json:"createdAt" doc:"Creation timestamp"`
	IsActive    bool      `json:"isActive" doc:"False once the layer has been deactivated"`
	Metadata    Metadata  `json:"metadata" doc:"Values extracted from the GeoJSON at upload time"`
}

// Metadata holds the values computed from the uploaded FeatureCollection.
type Metadata struct {
	FeatureCount int     `json:"featureCount" doc:"Number of features in the collection"`
	Bounds       *Bounds `json:"bounds" doc:"Bounding box, null when no coordinates were found"`
}

// Bounds is the bounding box and dominant geometry type of a collection.
type Bounds struct {
	Type string     `json:"type" doc:"Geometry type of the first feature" example:"Polygon"`
	BBox [4]float64 `json:"bbox" doc:"[minLng, minLat, maxLng, maxLat]"`
}

// Bound converts the box into an orb.Bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.BBox[0], b.BBox[1]},
		Max: orb.Point{b.BBox[2], b.BBox[3]},
	}
}

// Fields are the user-editable parts of a layer.
type Fields struct {
	Type        Type    `json:"type" rule:"required,layertype"`
	Year        *int    `json:"tahun,omitempty" rule:"omitempty,gte=2016,lte=2019"`
	Description *string `json:"description,omitempty"`
}
