package mapping

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/codemap/codemap/pkg/pagination"
)

// Handler provides the REST endpoints for the resolution engine.
type Handler struct {
	svc *Service
}

// NewHandler creates a new mapping handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the mapper routes on the API group. Middleware
// passed as admin guards the mutating endpoints (stats reset, mapper
// removal); the read surface stays open.
func (h *Handler) RegisterRoutes(api *echo.Group, admin ...echo.MiddlewareFunc) {
	api.GET("/mappers", h.ListMappers)
	api.GET("/mappers/:name", h.GetMapper)
	api.GET("/mappers/:name/codes", h.ListCodes)
	api.GET("/mappers/:name/codes/:code", h.LookupCode)
	api.GET("/mappers/:name/search", h.Search)
	api.POST("/mappers/:name/descriptions", h.BatchLookup)
	api.POST("/resolve", h.Resolve)
	api.GET("/stats", h.Stats)

	api.POST("/stats/reset", h.ResetStats, admin...)
	api.DELETE("/mappers/:name", h.RemoveMapper, admin...)
}

// ListMappers handles GET /api/v1/mappers
func (h *Handler) ListMappers(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.ListMappers())
}

// GetMapper handles GET /api/v1/mappers/:name
func (h *Handler) GetMapper(c echo.Context) error {
	info, err := h.svc.GetMapperInfo(c.Param("name"))
	if err != nil {
		if errors.Is(err, ErrMapperNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, info)
}

// ListCodes handles GET /api/v1/mappers/:name/codes?limit=&offset=
func (h *Handler) ListCodes(c echo.Context) error {
	params := pagination.FromContext(c)
	codes, total, err := h.svc.Codes(c.Param("name"), params.Limit, params.Offset)
	if err != nil {
		if errors.Is(err, ErrMapperNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := pagination.NewResponse(codes, total, params.Limit, params.Offset)
	resp.Links = params.Links(c.Path(), total)
	return c.JSON(http.StatusOK, resp)
}

// LookupCode handles GET /api/v1/mappers/:name/codes/:code?default=
//
// Composite codes work here too when the delimiter is percent-encoded;
// POST /resolve is the friendlier surface for those.
func (h *Handler) LookupCode(c echo.Context) error {
	var def *string
	if c.QueryParams().Has("default") {
		v := c.QueryParam("default")
		def = &v
	}
	result, err := h.svc.Lookup(c.Param("name"), c.Param("code"), def)
	if err != nil {
		if errors.Is(err, ErrMapperNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// Search handles GET /api/v1/mappers/:name/search?q=&limit=
func (h *Handler) Search(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	results, err := h.svc.Search(c.Param("name"), query, limit)
	if err != nil {
		if errors.Is(err, ErrMapperNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if results == nil {
		results = []CodeEntry{}
	}
	return c.JSON(http.StatusOK, results)
}

// BatchLookup handles POST /api/v1/mappers/:name/descriptions
func (h *Handler) BatchLookup(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	descriptions, err := h.svc.BatchLookup(c.Param("name"), req)
	if err != nil {
		if errors.Is(err, ErrMapperNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"descriptions": descriptions,
	})
}

// Resolve handles POST /api/v1/resolve
func (h *Handler) Resolve(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.Resolve(req))
}

// Stats handles GET /api/v1/stats
func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Stats())
}

// ResetStats handles POST /api/v1/stats/reset
func (h *Handler) ResetStats(c echo.Context) error {
	h.svc.ResetStats()
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

// RemoveMapper handles DELETE /api/v1/mappers/:name
func (h *Handler) RemoveMapper(c echo.Context) error {
	if err := h.svc.RemoveMapper(c.Param("name")); err != nil {
		if errors.Is(err, ErrMapperNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
