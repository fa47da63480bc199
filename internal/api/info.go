package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-forest/internal/config"
)

type InfoHandler struct {
	dataDir string
	dbOK    bool
	profile *config.Profile
}

func NewInfoHandler(dataDir string, dbOK bool, profile *config.Profile) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, profile: profile}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether database is available"`
	Unranked string   `json:"unranked" enum:"include,exclude" doc:"Default unranked policy"`
	Locale   string   `json:"locale" doc:"Locale used for KPI formatting"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"aggregate", "dashboard", "style"}
	if h.dbOK {
		features = append(features, "snapshots", "duckdb")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-forest",
		Version:  Version,
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		Unranked: h.profile.Policy().String(),
		Locale:   h.profile.Locale,
		Features: features,
	}}, nil
}
