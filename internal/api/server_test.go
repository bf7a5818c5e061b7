package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

const toyRecipe = `name: toy
layers: [dense, moe]
rules:
  - {source: layer.*.a.w, target: layer.*.dense_a.w, kind: dense}
  - {source: layer.*.b.w, target: layer.*.dense_b.w, kind: dense}
specs:
  - name: fc1
    sources: [layer.*.dense_a.w, layer.*.dense_b.w]
    targets: [layer.*.fc1.w]
    transform: merge_concat
  - {sources: [layer.*.a.w], targets: [layer.*.experts.a.w]}
  - {sources: [layer.*.b.w], targets: [layer.*.experts.b.w]}
expect:
  - {pattern: layer.*.fc1.w, kinds: [dense]}
  - {pattern: layer.*.experts.a.w, kinds: [moe]}
  - {pattern: layer.*.experts.b.w, kinds: [moe]}
`

func newTestEcho() (*echo.Echo, *PlanStore) {
	store := NewPlanStore(2)
	server := NewServer(store, nil)
	e := echo.New()
	server.Register(e)
	return e, store
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload string
	switch v := body.(type) {
	case nil:
	case string:
		payload = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = string(b)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func TestListFamilies(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho()

	rec := doJSON(t, e, http.MethodGet, "/v1/families", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	list := decode[FamilyList](t, rec)
	if len(list.Data) == 0 || list.Data[0].Name != "deepseek" || !list.Data[0].NeedsConfig {
		t.Fatalf("unexpected families: %+v", list)
	}
}

func TestPlanLifecycle(t *testing.T) {
	t.Parallel()
	e, store := newTestEcho()

	req := PlanRequest{
		RecipeSource: RecipeSource{Recipe: toyRecipe},
		Keys:         []string{"layer.0.a.w", "layer.0.b.w", "layer.1.a.w", "layer.1.b.w"},
	}
	rec := doJSON(t, e, http.MethodPost, "/v1/plan", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status: got %d body=%s", rec.Code, rec.Body.String())
	}
	plan := decode[PlanResponse](t, rec)
	if !strings.HasPrefix(plan.ID, "plan_") {
		t.Fatalf("unexpected id %q", plan.ID)
	}
	if plan.Units != 3 || !plan.Complete() {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.PerSpec["fc1"] != 1 {
		t.Fatalf("expected one fc1 unit, got %v", plan.PerSpec)
	}

	got := decode[PlanResponse](t, doJSON(t, e, http.MethodGet, "/v1/plan/"+plan.ID, nil))
	if got.ID != plan.ID || len(got.Targets) != 3 {
		t.Fatalf("unexpected stored plan: %+v", got)
	}

	del := doJSON(t, e, http.MethodDelete, "/v1/plan/"+plan.ID, nil)
	if del.Code != http.StatusOK {
		t.Fatalf("delete status: got %d", del.Code)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/plan/"+plan.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestPlanReportsGaps(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho()

	req := PlanRequest{
		RecipeSource: RecipeSource{Recipe: toyRecipe},
		Keys:         []string{"layer.0.a.w", "layer.0.b.w", "layer.1.a.w", "stray.w"},
	}
	rec := doJSON(t, e, http.MethodPost, "/v1/plan", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	plan := decode[PlanResponse](t, rec)
	if plan.Complete() {
		t.Fatal("expected incomplete plan")
	}
	if len(plan.Unclaimed) != 1 || plan.Unclaimed[0] != "stray.w" {
		t.Fatalf("unexpected unclaimed: %v", plan.Unclaimed)
	}
	if len(plan.Missing) != 1 || plan.Missing[0] != "layer.1.experts.b.w" {
		t.Fatalf("unexpected missing: %v", plan.Missing)
	}
}

func TestPlanErrors(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho()

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{name: "bad json", body: `{"keys": [`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"keys": ["a"], "bogus": 1}`, status: http.StatusBadRequest},
		{name: "no keys", body: PlanRequest{RecipeSource: RecipeSource{Family: "deepseek-v2"}}, status: http.StatusBadRequest},
		{name: "no recipe", body: PlanRequest{Keys: []string{"a"}}, status: http.StatusBadRequest},
		{
			name:   "unknown family",
			body:   PlanRequest{RecipeSource: RecipeSource{Family: "gpt2"}, Keys: []string{"a"}},
			status: http.StatusBadRequest,
			code:   "unknown_family",
		},
		{
			name:   "family needs config",
			body:   PlanRequest{RecipeSource: RecipeSource{Family: "deepseek"}, Keys: []string{"a"}},
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "incomplete group",
			body:   PlanRequest{RecipeSource: RecipeSource{Recipe: toyRecipe}, Keys: []string{"layer.0.a.w", "layer.0.b.w", "layer.1.a.w", "layer.1.b.w", "layer.2.dense_a.w"}},
			status: http.StatusUnprocessableEntity,
			code:   "incomplete_source_group",
		},
		{
			name:   "layout mismatch",
			body:   PlanRequest{RecipeSource: RecipeSource{Recipe: toyRecipe}, Keys: []string{"layer.1.a.w"}},
			status: http.StatusUnprocessableEntity,
			code:   "key_not_found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, e, http.MethodPost, "/v1/plan", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status: got %d want %d body=%s", rec.Code, tt.status, rec.Body.String())
			}
			body := decode[map[string]ErrorBody](t, rec)
			if body["error"].Message == "" {
				t.Fatalf("expected error message, got %s", rec.Body.String())
			}
			if tt.code != "" && body["error"].Code != tt.code {
				t.Fatalf("code: got %q want %q", body["error"].Code, tt.code)
			}
		})
	}
}

func TestSchemaFromConfig(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho()

	cfg := `{"num_hidden_layers": 2, "first_k_dense_replace": 1, "n_routed_experts": 2, "n_shared_experts": 1, "q_lora_rank": null}`
	body := `{"family": "deepseek", "config": ` + cfg + `}`
	rec := doJSON(t, e, http.MethodPost, "/v1/schema", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	schema := decode[SchemaResponse](t, rec)
	if schema.Layers != 2 || schema.Experts != 2 {
		t.Fatalf("unexpected schema header: %+v", schema)
	}
	// 3 globals, 6 attention keys per layer, 3 dense keys,
	// 4 + 2*2 expert-layer keys.
	if want := 3 + 2*6 + 3 + 4 + 4; len(schema.Targets) != want {
		t.Fatalf("expected %d targets, got %d: %v", want, len(schema.Targets), schema.Targets)
	}
	found := false
	for _, name := range schema.Targets {
		if name == "decoder.layers.0.self_attention.linear_q_proj.weight" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected q_proj mapping for a config without q_lora_rank")
	}
}

func TestPlanStoreEviction(t *testing.T) {
	t.Parallel()
	store := NewPlanStore(2)
	a := store.Save(PlanResponse{Recipe: "a"})
	store.Save(PlanResponse{Recipe: "b"})
	store.Save(PlanResponse{Recipe: "c"})
	if store.Len() != 2 {
		t.Fatalf("expected 2 plans, got %d", store.Len())
	}
	if _, ok := store.Get(a.ID); ok {
		t.Fatal("expected oldest plan to be evicted")
	}
	if store.Delete(a.ID) {
		t.Fatal("deleting an evicted plan must report false")
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	e := echo.New()
	e.Use(RateLimit(NewLimiter(1)))
	NewServer(nil, nil).Register(e)

	if rec := doJSON(t, e, http.MethodGet, "/v1/families", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rec.Code)
	}
	rec := doJSON(t, e, http.MethodGet, "/v1/families", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d want 429", rec.Code)
	}
	if body := decode[ErrorBody](t, rec); body.Type != "rate_limit_error" {
		t.Fatalf("deny body type: got %q", body.Type)
	}
	if NewLimiter(0) != nil {
		t.Fatal("expected nil limiter for zero rate")
	}

	open := echo.New()
	open.Use(RateLimit(nil))
	NewServer(nil, nil).Register(open)
	for i := range 5 {
		if rec := doJSON(t, open, http.MethodGet, "/v1/families", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d without a limiter: got %d", i, rec.Code)
		}
	}
}
