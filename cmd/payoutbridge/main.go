package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/k95foods/payoutbridge/internal/clock"
	"github.com/k95foods/payoutbridge/internal/config"
	"github.com/k95foods/payoutbridge/internal/migration"
	"github.com/k95foods/payoutbridge/internal/observability"
	"github.com/k95foods/payoutbridge/internal/server"
	"github.com/k95foods/payoutbridge/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
