package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gridkit/internal/dto"
	"github.com/noah-isme/gridkit/internal/middleware"
	"github.com/noah-isme/gridkit/internal/models"
	"github.com/noah-isme/gridkit/internal/service"
	appErrors "github.com/noah-isme/gridkit/pkg/errors"
	"github.com/noah-isme/gridkit/pkg/response"
)

type gridService interface {
	List() []dto.GridInfo
	Rows(ctx context.Context, name string, req dto.GridQuery) (*dto.GridRowsResponse, *models.Pagination, error)
}

// GridHandler exposes registered grids over HTTP.
type GridHandler struct {
	grids gridService
}

// NewGridHandler constructs the handler.
func NewGridHandler(grids gridService) *GridHandler {
	return &GridHandler{grids: grids}
}

// List godoc
// @Summary List grids
// @Tags Grids
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /grids [get]
func (h *GridHandler) List(c *gin.Context) {
	grids := h.grids.List()
	response.JSON(c, http.StatusOK, grids, nil, map[string]interface{}{"count": len(grids)})
}

// Rows godoc
// @Summary Fetch one page of a grid
// @Tags Grids
// @Produce json
// @Param name path string true "Grid name"
// @Param page query int false "Page (1-based)"
// @Param page_size query int false "Rows per page"
// @Param search query string false "Search text"
// @Param mode query string false "contains|starts_with|equals|regex"
// @Param case_sensitive query bool false "Case sensitive search"
// @Param accent_insensitive query bool false "Ignore diacritics (default true)"
// @Param sort query string false "Comma separated fields, '-' for descending"
// @Param filter query []string false "field:op:value, repeatable"
// @Param fields query string false "Comma separated searchable fields"
// @Success 200 {object} response.Envelope
// @Router /grids/{name}/rows [get]
func (h *GridHandler) Rows(c *gin.Context) {
	var params dto.GridQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query parameters"))
		return
	}
	query, err := service.ParseParams(params)
	if err != nil {
		response.Error(c, err)
		return
	}
	rows, pagination, err := h.grids.Rows(c.Request.Context(), c.Param("name"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination, middleware.ExtractMeta(c))
}
