package stripe

import (
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.stripe",
	fx.Provide(NewGateway),
	fx.Provide(func(g *Gateway) domain.PaymentGateway { return g }),
	fx.Provide(func(g *Gateway) domain.WebhookVerifier { return g }),
)
