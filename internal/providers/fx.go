package providers

import (
	"go.uber.org/fx"

	"github.com/k95foods/payoutbridge/internal/providers/email"
	"github.com/k95foods/payoutbridge/internal/providers/slack"
)

var Module = fx.Module("providers",
	email.Module,
	slack.Module,
)
