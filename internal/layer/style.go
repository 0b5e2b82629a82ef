package layer

// Style is the map rendering style of a layer type.
type Style struct {
	Color       string  `json:"color" doc:"Stroke color (CSS)" example:"#FFFF00"`
	FillColor   string  `json:"fillColor" doc:"Fill color (CSS)" example:"#FFFF00"`
	FillOpacity float64 `json:"fillOpacity" doc:"Fill opacity (0-1)" example:"0.4"`
	Weight      float64 `json:"weight,omitempty" doc:"Stroke width in pixels"`
}

// DefaultStyle is used for values outside the enumeration.
var DefaultStyle = Style{Color: "#888888", FillColor: "#888888", FillOpacity: 0.2}

// StyleFor returns the base style of t.
func StyleFor(t Type) Style {
	switch t {
	case TypeLSD:
		return solid("#FFFF00", 0.4)
	case TypeLP2B:
		return solid("#00FF00", 0.4)
	case TypeRTRW:
		return solid("#FF00FF", 0.3)
	case TypeRDTR:
		return solid("#8B00FF", 0.3)
	case TypeZNT:
		return solid("#FF8800", 0.4)
	case TypeGarisPantai:
		return solid("#0000FF", 0.4)
	case TypeKawasanHutan:
		return solid("#006400", 0.4)
	case TypeBatasDesa:
		return solid("#FF0000", 0.2)
	case TypePetaPendaftaran:
		return solid("#3388FF", 0.3)
	case TypePetaAjudikasi:
		return solid("#00FFFF", 0.3)
	case TypePetaRutin:
		return solid("#FFFFFF", 0.4)
	}
	return DefaultStyle
}

// HighlightStyle is the style of a hovered or selected feature.
func HighlightStyle(t Type) Style {
	s := StyleFor(t)
	s.Weight = 4
	s.FillOpacity = 0.6
	return s
}

func solid(color string, opacity float64) Style {
	return Style{Color: color, FillColor: color, FillOpacity: opacity}
}
