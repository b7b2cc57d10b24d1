package server

import (
	"github.com/OFFIS-RIT/vaultgraph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	apiRoutes.GET("/stats", routes.GetStatsHandler)

	// Entity routes
	apiRoutes.GET("/entities", routes.GetEntitiesHandler)
	apiRoutes.GET("/entities/:id/relationships", routes.GetEntityRelationshipsHandler)
	apiRoutes.GET("/entities/:id/documents", routes.GetEntityDocumentsHandler)

	// Document audit routes
	apiRoutes.GET("/documents/status", routes.GetDocumentStatusHandler)
	apiRoutes.GET("/documents/changes", routes.GetDocumentChangesHandler)
}
