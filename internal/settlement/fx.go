package settlement

import (
	"go.uber.org/fx"

	"github.com/k95foods/payoutbridge/internal/settlement/repository"
	"github.com/k95foods/payoutbridge/internal/settlement/service"
)

var Module = fx.Module("settlement",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewFinalizer),
	fx.Provide(service.NewWriter),
)
