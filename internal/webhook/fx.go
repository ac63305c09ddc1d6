package webhook

import (
	"go.uber.org/fx"

	"github.com/k95foods/payoutbridge/internal/webhook/repository"
	"github.com/k95foods/payoutbridge/internal/webhook/service"
	"github.com/k95foods/payoutbridge/internal/webhook/signature"
)

var Module = fx.Module("webhook",
	fx.Provide(repository.Provide),
	fx.Provide(signature.NewVerifier),
	fx.Provide(service.NewService),
)
