package retrypass

import "go.uber.org/fx"

var Module = fx.Module("retrypass",
	fx.Provide(NewService),
)
