package ledger

import (
	"github.com/smallbiznis/playpoints/internal/ledger/repository"
	"github.com/smallbiznis/playpoints/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
)
