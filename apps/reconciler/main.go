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
	"github.com/smallbiznis/playpoints/pkg/db"
	"go.uber.org/fx"
)

// Standalone expiration reconciler. Deployed as a singleton alongside
// the API; the redis lock keeps accidental double-deploys harmless.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,
		migration.Module,

		// The reconciler writes ledger entries, so it shares the ledger
		// module rather than talking to raw tables.
		rule.Module,
		ledger.Module,

		// No server module!
		reconciler.Module,
		fx.Invoke(reconciler.Run),
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
