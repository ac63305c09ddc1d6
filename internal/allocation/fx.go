package allocation

import "go.uber.org/fx"

var Module = fx.Module("allocation",
	fx.Provide(NewEngine),
)
