package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-forest/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/datasets>; rel="datasets"`,
		`</api/v1/style>; rel="style"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/datasets>; rel="datasets"`,
	},
	"/api/v1/datasets": {
		`</api/v1/snapshots>; rel="snapshots"`,
		`</api/v1/style>; rel="style"`,
	},
	"/api/v1/datasets/{name}/aggregate": {
		`</api/v1/datasets>; rel="collection"`,
	},
	"/api/v1/datasets/{name}/features": {
		`</api/v1/datasets>; rel="collection"`,
	},
	"/api/v1/datasets/{name}/bounds": {
		`</api/v1/datasets>; rel="collection"`,
	},
	"/api/v1/snapshots": {
		`</api/v1/datasets>; rel="datasets"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="query"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if p, ok := v.(humastar.Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}

		return v, nil
	}
}
