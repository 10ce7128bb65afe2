package velocity

import (
	"github.com/smallbiznis/playpoints/internal/velocity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("velocity.guard",
	fx.Provide(service.ProvideConfig),
	fx.Provide(service.NewService),
)
