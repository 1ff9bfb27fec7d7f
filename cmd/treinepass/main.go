package main

import (
	"github.com/kersonpank/treinepass-core/internal/clock"
	"github.com/kersonpank/treinepass-core/internal/config"
	"github.com/kersonpank/treinepass-core/internal/migration"
	"github.com/kersonpank/treinepass-core/internal/observability"
	"github.com/kersonpank/treinepass-core/internal/server"
	"github.com/kersonpank/treinepass-core/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,

		// Webhooks, reconciliation, checkout and the HTTP surface
		server.Module,
	)
	app.Run()
}
