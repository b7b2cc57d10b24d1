package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/vaultgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
	"github.com/OFFIS-RIT/vaultgraph/pkg/tracker"

	"github.com/labstack/echo/v4"
)

func GetDocumentStatusHandler(c echo.Context) error {
	type getDocumentStatusParams struct {
		State string `query:"state" validate:"omitempty,oneof=processed partial failed"`
	}

	params := new(getDocumentStatusParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	t := c.(*middleware.AppContext).App.Tracker
	if t == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Tracker not available"})
	}
	statuses, err := t.Statuses(c.Request().Context(), common.DocumentState(params.State))
	if err != nil {
		logger.Error("[Server] Failed to read document status", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read document status"})
	}
	if statuses == nil {
		statuses = []common.DocumentStatus{}
	}
	return c.JSON(http.StatusOK, statuses)
}

func GetDocumentChangesHandler(c echo.Context) error {
	type getDocumentChangesParams struct {
		Limit int `query:"limit" validate:"omitempty,min=1,max=1000"`
	}

	params := new(getDocumentChangesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if params.Limit == 0 {
		params.Limit = 100
	}

	t := c.(*middleware.AppContext).App.Tracker
	if t == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Tracker not available"})
	}
	changes, err := t.Changes(c.Request().Context(), params.Limit)
	if err != nil {
		logger.Error("[Server] Failed to read changes", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read changes"})
	}
	if changes == nil {
		changes = []tracker.Change{}
	}
	return c.JSON(http.StatusOK, changes)
}
