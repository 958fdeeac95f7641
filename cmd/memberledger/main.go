package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberledger/internal/clock"
	"github.com/smallbiznis/memberledger/internal/config"
	"github.com/smallbiznis/memberledger/internal/migration"
	"github.com/smallbiznis/memberledger/internal/observability"
	"github.com/smallbiznis/memberledger/internal/reconcile"
	"github.com/smallbiznis/memberledger/internal/server"
	"github.com/smallbiznis/memberledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services and HTTP surface
		server.Module,

		// Background recovery of stuck pending requests
		reconcile.Module,
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
