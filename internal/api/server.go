package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/statemap/internal/convert"
	"github.com/samcharles93/statemap/internal/family"
	"github.com/samcharles93/statemap/internal/logger"
)

// Server exposes planning and schema queries. Only parameter names cross
// the wire; tensor data never does.
type Server struct {
	store *PlanStore
	clock func() time.Time
	log   logger.Logger
}

func NewServer(store *PlanStore, log logger.Logger) *Server {
	if store == nil {
		store = NewPlanStore(0)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		store: store,
		clock: time.Now,
		log:   log.With("component", "api"),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/families", s.handleFamilies)
	e.POST("/v1/plan", s.handleCreatePlan)
	e.GET("/v1/plan/:id", s.handleGetPlan)
	e.DELETE("/v1/plan/:id", s.handleDeletePlan)
	e.POST("/v1/schema", s.handleSchema)
}

func (s *Server) handleFamilies(c *echo.Context) error {
	list := FamilyList{Object: "list"}
	for _, f := range family.Families() {
		list.Data = append(list.Data, FamilyInfo{Name: f.Name, Description: f.Description, NeedsConfig: f.NeedsConfig})
	}
	return c.JSON(http.StatusOK, list)
}

// resolveRecipe builds the recipe a request asks for.
func resolveRecipe(src RecipeSource) (*family.Recipe, error) {
	switch {
	case src.Recipe != "" && src.Family != "":
		return nil, newInvalidRequest("family and recipe are mutually exclusive")
	case src.Recipe != "":
		return family.LoadRecipe(strings.NewReader(src.Recipe))
	case src.Family != "":
		f, err := family.Lookup(src.Family)
		if err != nil {
			return nil, err
		}
		var cfg []byte
		if len(src.Config) > 0 && string(src.Config) != "null" {
			cfg = src.Config
		}
		return f.Recipe(cfg)
	}
	return nil, newInvalidRequest("one of family or recipe is required")
}

func (s *Server) handleCreatePlan(c *echo.Context) error {
	req, err := decodeJSON[PlanRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Keys) == 0 {
		return writeBadRequest(c, "keys is required and must not be empty")
	}
	rec, err := resolveRecipe(req.RecipeSource)
	if err != nil {
		return writeFailure(c, err)
	}

	ctx := logger.WithContext(c.Request().Context(), s.log)
	resp, err := s.plan(ctx, rec, req.Keys)
	if err != nil {
		return writeFailure(c, err)
	}
	resp = s.store.Save(resp)
	s.log.Info("plan created", "id", resp.ID, "recipe", rec.Name, "units", resp.Units, "complete", resp.Complete())
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) plan(ctx context.Context, rec *family.Recipe, keys []string) (PlanResponse, error) {
	p, err := rec.Plan(ctx, keys, convert.Options{})
	if err != nil {
		return PlanResponse{}, err
	}
	missing, unexpected, err := rec.Check(p)
	if err != nil {
		return PlanResponse{}, err
	}

	resp := PlanResponse{
		Object:     "plan",
		CreatedAt:  s.clock().Unix(),
		Recipe:     rec.Name,
		Units:      len(p.Units),
		PerSpec:    make(map[string]int),
		Targets:    p.Targets(),
		Unclaimed:  p.Unclaimed,
		Missing:    missing,
		Unexpected: unexpected,
	}
	for _, u := range p.Units {
		resp.PerSpec[u.Spec]++
	}
	return resp, nil
}

func (s *Server) handleGetPlan(c *echo.Context) error {
	p, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "plan not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleDeletePlan(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "plan not found")
	}
	return c.JSON(http.StatusOK, DeletePlanResponse{ID: id, Object: "plan", Deleted: true})
}

func (s *Server) handleSchema(c *echo.Context) error {
	req, err := decodeJSON[SchemaRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	rec, err := resolveRecipe(req.RecipeSource)
	if err != nil {
		return writeFailure(c, err)
	}
	targets, err := rec.ExpectedTargets()
	if err != nil {
		return writeFailure(c, err)
	}
	if targets == nil {
		targets = []string{}
	}
	return c.JSON(http.StatusOK, SchemaResponse{
		Object:  "schema",
		Recipe:  rec.Name,
		Layers:  len(rec.Layers),
		Experts: rec.Experts,
		Targets: targets,
	})
}
