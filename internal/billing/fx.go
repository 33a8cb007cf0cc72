package billing

import (
	"context"
	"time"

	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/billing/repository"
	"github.com/smallbiznis/orderbilling/internal/billing/service"
	"github.com/smallbiznis/orderbilling/internal/cache"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/smallbiznis/orderbilling/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.ProvideOrders),
	fx.Provide(repository.ProvideWebhooks),
	fx.Provide(service.NewService),
	fx.Provide(newWebhookMonitor),
	fx.Invoke(runWebhookMonitor),
)

type monitorParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Webhooks domain.WebhookRepository
	Metrics  *metrics.Metrics `optional:"true"`
}

func newWebhookMonitor(p monitorParams) *service.WebhookMonitor {
	return service.NewWebhookMonitor(service.MonitorParams{
		DB:       p.DB,
		Log:      p.Log,
		Config:   p.Config,
		Webhooks: p.Webhooks,
		Metrics:  p.Metrics,
	})
}

const monitorLockKey = "billing:webhook-monitor"

type runParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Monitor   *service.WebhookMonitor
	Log       *zap.Logger
	Locker    *cache.Locker `optional:"true"`
}

// pollOnce skips the poll while another replica holds the lease for this interval.
func pollOnce(ctx context.Context, p runParams) {
	if p.Locker != nil {
		_, ok, err := p.Locker.TryLock(ctx, monitorLockKey, p.Monitor.Interval())
		if err != nil {
			p.Log.Warn("webhook monitor lock failed", zap.Error(err))
		} else if !ok {
			return
		}
	}
	if _, err := p.Monitor.Check(ctx); err != nil && ctx.Err() == nil {
		p.Log.Error("webhook monitor poll failed", zap.Error(err))
	}
}

func runWebhookMonitor(p runParams) {
	lc, monitor := p.Lifecycle, p.Monitor
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(monitor.Interval())
				defer ticker.Stop()

				for {
					pollOnce(ctx, p)
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
