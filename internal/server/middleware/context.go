package middleware

import (
	"context"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store"
	"github.com/OFFIS-RIT/vaultgraph/pkg/tracker"

	"github.com/labstack/echo/v4"
)

// StatusReader exposes the processing audit of the tracker.
type StatusReader interface {
	Statuses(ctx context.Context, state common.DocumentState) ([]common.DocumentStatus, error)
	Changes(ctx context.Context, limit int) ([]tracker.Change, error)
}

type App struct {
	Graph   store.GraphStore
	Tracker StatusReader
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
