package paymentrequest

import (
	"go.uber.org/fx"

	"github.com/k95foods/payoutbridge/internal/paymentrequest/repository"
)

var Module = fx.Module("paymentrequest",
	fx.Provide(repository.Provide),
)
