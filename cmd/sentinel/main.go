package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sentinel/internal/clock"
	"github.com/smallbiznis/sentinel/internal/migration"
	"github.com/smallbiznis/sentinel/internal/observability"
	"github.com/smallbiznis/sentinel/internal/server"
	"github.com/smallbiznis/sentinel/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
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
