package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/vaultgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"

	"github.com/labstack/echo/v4"
)

func GetStatsHandler(c echo.Context) error {
	g := c.(*middleware.AppContext).App.Graph
	stats, err := g.Stats(c.Request().Context())
	if err != nil {
		logger.Error("[Server] Failed to read stats", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read graph"})
	}
	return c.JSON(http.StatusOK, stats)
}

func GetEntitiesHandler(c echo.Context) error {
	type getEntitiesParams struct {
		Category string `query:"category" validate:"omitempty,oneof=Person Company"`
	}

	params := new(getEntitiesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	g := c.(*middleware.AppContext).App.Graph
	entities, err := g.Entities(c.Request().Context(), common.Category(params.Category))
	if err != nil {
		logger.Error("[Server] Failed to list entities", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read graph"})
	}
	if entities == nil {
		entities = []common.Entity{}
	}
	return c.JSON(http.StatusOK, entities)
}

type entityParams struct {
	ID string `param:"id" validate:"required"`
}

func GetEntityRelationshipsHandler(c echo.Context) error {
	params := new(entityParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	g := c.(*middleware.AppContext).App.Graph
	rels, err := g.Relationships(c.Request().Context(), params.ID)
	if err != nil {
		logger.Error("[Server] Failed to read relationships", "id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read graph"})
	}
	if rels == nil {
		rels = []common.CanonicalRelationship{}
	}
	return c.JSON(http.StatusOK, rels)
}

func GetEntityDocumentsHandler(c echo.Context) error {
	params := new(entityParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	g := c.(*middleware.AppContext).App.Graph
	docs, err := g.Documents(c.Request().Context(), params.ID)
	if err != nil {
		logger.Error("[Server] Failed to read documents", "id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read graph"})
	}
	if docs == nil {
		docs = []common.DocumentNode{}
	}
	return c.JSON(http.StatusOK, docs)
}
