package service

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/smallbiznis/orderbilling/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMonitorInterval = time.Minute
	monitorSampleSize      = 5
)

// WebhookMonitor periodically surfaces webhook rows that were processed with an error.
type WebhookMonitor struct {
	db       *gorm.DB
	log      *zap.Logger
	webhooks domain.WebhookRepository
	metrics  *metrics.Metrics
	interval time.Duration

	mu       sync.Mutex
	lastSeen int64
}

type MonitorParams struct {
	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Webhooks domain.WebhookRepository
	Metrics  *metrics.Metrics
}

func NewWebhookMonitor(p MonitorParams) *WebhookMonitor {
	interval := p.Config.Webhook.MonitorInterval
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &WebhookMonitor{
		db:       p.DB,
		log:      p.Log.Named("billing.webhook_monitor"),
		webhooks: p.Webhooks,
		metrics:  p.Metrics,
		interval: interval,
	}
}

func (m *WebhookMonitor) Interval() time.Duration { return m.interval }

// Check counts failed rows, publishes the gauge and logs newly failed events.
func (m *WebhookMonitor) Check(ctx context.Context) (int64, error) {
	count, err := m.webhooks.CountFailed(ctx, m.db)
	if err != nil {
		return 0, err
	}
	m.metrics.RecordWebhookFailedRows(ctx, count)

	m.mu.Lock()
	previous := m.lastSeen
	m.lastSeen = count
	m.mu.Unlock()

	if count <= previous {
		return count, nil
	}

	recent, err := m.webhooks.List(ctx, m.db, true, monitorSampleSize)
	if err != nil {
		return count, err
	}
	for _, ev := range recent {
		fields := []zap.Field{
			zap.String("provider_event_id", ev.ProviderEventID),
			zap.String("event_type", ev.EventType),
			zap.Int("retry_count", ev.RetryCount),
		}
		if ev.OrderID != nil {
			fields = append(fields, zap.String("order_id", ev.OrderID.String()))
		}
		if ev.ErrorMessage != nil {
			fields = append(fields, zap.String("error", *ev.ErrorMessage))
		}
		m.log.Warn("webhook event processed with error", fields...)
	}
	m.log.Warn("failed webhook events increased", zap.Int64("failed", count), zap.Int64("previous", previous))
	return count, nil
}
