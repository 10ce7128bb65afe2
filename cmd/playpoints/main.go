package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/playpoints/internal/clock"
	"github.com/smallbiznis/playpoints/internal/config"
	"github.com/smallbiznis/playpoints/internal/ledger"
	"github.com/smallbiznis/playpoints/internal/logger"
	"github.com/smallbiznis/playpoints/internal/migration"
	"github.com/smallbiznis/playpoints/internal/observability"
	"github.com/smallbiznis/playpoints/internal/ratelimit"
	"github.com/smallbiznis/playpoints/internal/reconciler"
	"github.com/smallbiznis/playpoints/internal/rule"
	"github.com/smallbiznis/playpoints/internal/server"
	"github.com/smallbiznis/playpoints/internal/velocity"
	"github.com/smallbiznis/playpoints/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,
		migration.Module,

		// Functional domains
		rule.Module,
		ledger.Module,
		velocity.Module,

		// Expiration runs in-process too; the distributed lock keeps
		// this instance and apps/reconciler from overlapping.
		reconciler.Module,
		fx.Invoke(reconciler.Run),

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
