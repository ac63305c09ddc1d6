package main

import (
	"context"
	"flag"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/k95foods/payoutbridge/internal/allocation"
	"github.com/k95foods/payoutbridge/internal/clock"
	"github.com/k95foods/payoutbridge/internal/config"
	"github.com/k95foods/payoutbridge/internal/migration"
	"github.com/k95foods/payoutbridge/internal/observability"
	"github.com/k95foods/payoutbridge/internal/paymentrequest"
	"github.com/k95foods/payoutbridge/internal/retrypass"
	"github.com/k95foods/payoutbridge/internal/settlement"
	"github.com/k95foods/payoutbridge/pkg/db"
)

func main() {
	limit := flag.Int("limit", retrypass.DefaultBatchLimit, "maximum stranded requests to settle in one pass")
	flag.Parse()

	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		paymentrequest.Module,
		allocation.Module,
		settlement.Module,
		retrypass.Module,
		fx.Invoke(func(lc fx.Lifecycle, svc *retrypass.Service, shutdowner fx.Shutdowner) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						_, _ = svc.Run(context.Background(), *limit)
						_ = shutdowner.Shutdown()
					}()
					return nil
				},
			})
		}),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
