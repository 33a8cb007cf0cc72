package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderbilling/internal/audit"
	"github.com/smallbiznis/orderbilling/internal/billing"
	"github.com/smallbiznis/orderbilling/internal/cache"
	"github.com/smallbiznis/orderbilling/internal/clock"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/smallbiznis/orderbilling/internal/events"
	"github.com/smallbiznis/orderbilling/internal/identity"
	"github.com/smallbiznis/orderbilling/internal/migration"
	"github.com/smallbiznis/orderbilling/internal/observability"
	"github.com/smallbiznis/orderbilling/internal/payment/stripe"
	"github.com/smallbiznis/orderbilling/internal/ratelimit"
	"github.com/smallbiznis/orderbilling/internal/receipt"
	"github.com/smallbiznis/orderbilling/internal/server"
	"github.com/smallbiznis/orderbilling/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		config.PricingModule,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		events.Module,

		// Billing
		audit.Module,
		stripe.Module,
		billing.Module,
		receipt.Module,

		// HTTP
		identity.Module,
		ratelimit.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
