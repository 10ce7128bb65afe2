package migration

import (
	"github.com/smallbiznis/playpoints/internal/config"
	ledgerdomain "github.com/smallbiznis/playpoints/internal/ledger/domain"
	velocitydomain "github.com/smallbiznis/playpoints/internal/velocity/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The versioned SQL migrations target postgres. sqlite and mysql
		// deployments (and tests) fall back to schema sync.
		if cfg.DBType != "postgres" {
			return conn.AutoMigrate(
				&ledgerdomain.UserBalance{},
				&ledgerdomain.LedgerEntry{},
				&velocitydomain.FraudSignal{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
