package rule

import "go.uber.org/fx"

var Module = fx.Module("rule.table",
	fx.Provide(NewHolder),
	fx.Provide(NewRegistry),
)
