package main

import (
	"github.com/smallbiznis/orderbilling/internal/cache"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/smallbiznis/orderbilling/internal/events"
	"github.com/smallbiznis/orderbilling/internal/notifier"
	"github.com/smallbiznis/orderbilling/internal/observability"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		cache.Module,
		events.SubscriberModule,
		notifier.Module,
	)
	app.Run()
}
