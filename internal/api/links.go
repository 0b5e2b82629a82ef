package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
var links = map[string][]string{
	"/health": {
		`</api/info>; rel="info"`,
		`</api/layers>; rel="layers"`,
		`</api/types>; rel="types"`,
		`</api/styles>; rel="styles"`,
	},
	"/api/info": {
		`</health>; rel="health"`,
		`</api/layers>; rel="layers"`,
	},
	"/api/layers": {
		`</api/layers/{id}>; rel="item"`,
		`</api/types>; rel="types"`,
		`</api/styles>; rel="styles"`,
		`</api/search>; rel="search"`,
	},
	"/api/layers/{id}": {
		`</api/layers>; rel="collection"`,
	},
	"/api/geodata/{id}": {
		`</api/layers>; rel="collection"`,
	},
	"/api/types": {
		`</api/layers>; rel="layers"`,
		`</api/styles>; rel="styles"`,
	},
	"/api/styles": {
		`</api/types>; rel="types"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link
// headers: static links per operation, a self link on item routes, and the
// actions of bodies implementing humastar.Actor.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if a, ok := v.(humastar.Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}
