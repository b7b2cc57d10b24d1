package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/vaultgraph/internal/config"
	"github.com/OFFIS-RIT/vaultgraph/internal/server"
	mid "github.com/OFFIS-RIT/vaultgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/vaultgraph/internal/util"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger/console"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store/neo4j"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store/sqlite"
	"github.com/OFFIS-RIT/vaultgraph/pkg/tracker"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	cfg, err := config.LoadServer()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	var graphStore store.GraphStore
	if cfg.GraphAdapter == "neo4j" {
		graphStore, err = neo4j.NewGraphStore(ctx, neo4j.NewGraphStoreParams{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
	} else {
		graphStore, err = sqlite.Open(ctx, cfg.GraphPath())
	}
	if err != nil {
		logger.Fatal("Could not open graph store", "adapter", cfg.GraphAdapter, "err", err)
	}
	defer graphStore.Close()

	app := &mid.App{Graph: graphStore}
	if _, err := os.Stat(cfg.TrackerPath()); err == nil {
		tr, err := tracker.Open(ctx, cfg.TrackerPath())
		if err != nil {
			logger.Fatal("Could not open tracker", "err", err)
		}
		defer tr.Close()
		app.Tracker = tr
	} else {
		logger.Warn("No tracker database, document status routes are disabled", "path", cfg.TrackerPath())
	}

	if err := server.Serve(ctx, app, cfg.Port); err != nil {
		logger.Fatal("Server failed", "err", err)
	}
}
