package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Load),
)

var PricingModule = fx.Module("config.pricing",
	fx.Provide(NewPricingHolder),
)
