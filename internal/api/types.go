package api

import (
	"github.com/goccy/go-json"
)

// RecipeSource selects a recipe: a built-in family, optionally with the
// checkpoint's config.json, or an inline YAML recipe.
type RecipeSource struct {
	Family string          `json:"family,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
	Recipe string          `json:"recipe,omitempty"`
}

type PlanRequest struct {
	RecipeSource
	Keys []string `json:"keys"`
}

type PlanResponse struct {
	ID         string         `json:"id"`
	Object     string         `json:"object"`
	CreatedAt  int64          `json:"created_at"`
	Recipe     string         `json:"recipe"`
	Units      int            `json:"units"`
	PerSpec    map[string]int `json:"per_spec"`
	Targets    []string       `json:"targets"`
	Unclaimed  []string       `json:"unclaimed,omitempty"`
	Missing    []string       `json:"missing,omitempty"`
	Unexpected []string       `json:"unexpected,omitempty"`
}

// Complete reports whether converting the planned keys would pass the
// audit.
func (p PlanResponse) Complete() bool {
	return len(p.Unclaimed) == 0 && len(p.Missing) == 0 && len(p.Unexpected) == 0
}

type SchemaRequest struct {
	RecipeSource
}

type SchemaResponse struct {
	Object  string   `json:"object"`
	Recipe  string   `json:"recipe"`
	Layers  int      `json:"layers"`
	Experts int      `json:"experts"`
	Targets []string `json:"targets"`
}

type FamilyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	NeedsConfig bool   `json:"needs_config"`
}

type FamilyList struct {
	Object string       `json:"object"`
	Data   []FamilyInfo `json:"data"`
}

type DeletePlanResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ErrorBody struct {
	Message string   `json:"message"`
	Type    string   `json:"type"`
	Code    string   `json:"code,omitempty"`
	Phase   string   `json:"phase,omitempty"`
	Keys    []string `json:"keys,omitempty"`
}
