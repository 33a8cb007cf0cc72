package service

import (
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/orderbilling/internal/audit/domain"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/clock"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/smallbiznis/orderbilling/internal/events"
	"github.com/smallbiznis/orderbilling/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Pricing   *config.PricingHolder
	Orders    domain.OrderRepository
	Webhooks  domain.WebhookRepository
	Audit     auditdomain.Service
	Gateway   domain.PaymentGateway
	Publisher events.Publisher
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	pricing   *config.PricingHolder
	orders    domain.OrderRepository
	webhooks  domain.WebhookRepository
	audit     auditdomain.Service
	gateway   domain.PaymentGateway
	publisher events.Publisher
	metrics   *metrics.Metrics

	processingLease time.Duration
}

func NewService(p Params) domain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	lease := p.Config.Webhook.ProcessingLease
	if lease <= 0 {
		lease = defaultProcessingLease
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("billing.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		pricing:         p.Pricing,
		orders:          p.Orders,
		webhooks:        p.Webhooks,
		audit:           p.Audit,
		gateway:         p.Gateway,
		publisher:       p.Publisher,
		metrics:         p.Metrics,
		processingLease: lease,
	}
}
