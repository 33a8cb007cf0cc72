package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/orderbilling/internal/cache"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/smallbiznis/orderbilling/internal/events"
	"github.com/smallbiznis/orderbilling/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	OutcomeSent      = "sent"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"

	dedupeKeyPrefix  = "notifier:event:"
	defaultDedupeTTL = 24 * time.Hour
)

// deduper claims an envelope id before delivery.
type deduper interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Handler struct {
	provider Provider
	dedupe   deduper
	ttl      time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
}

type HandlerParams struct {
	fx.In

	Provider Provider
	Config   config.Config
	Log      *zap.Logger
	Locker   *cache.Locker    `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	h := &Handler{
		provider: p.Provider,
		ttl:      p.Config.Notifier.DedupeTTL,
		metrics:  p.Metrics,
		log:      p.Log.Named("notifier.handler"),
	}
	if h.ttl <= 0 {
		h.ttl = defaultDedupeTTL
	}
	if p.Locker != nil {
		h.dedupe = p.Locker
	}
	return h
}

// Handle delivers one envelope. Redelivered envelopes are sent once.
func (h *Handler) Handle(ctx context.Context, env events.Envelope) error {
	event, err := env.Decode()
	if err != nil {
		h.log.Warn("skipping undecodable event", zap.String("event_id", env.ID), zap.Error(err))
		h.metrics.RecordNotification(ctx, env.Type, OutcomeSkipped)
		return nil
	}
	text, err := Format(event)
	if err != nil {
		h.metrics.RecordNotification(ctx, env.Type, OutcomeSkipped)
		return nil
	}

	key := dedupeKeyPrefix + env.ID
	var token string
	if h.dedupe != nil {
		var claimed bool
		token, claimed, err = h.dedupe.TryLock(ctx, key, h.ttl)
		switch {
		case err != nil:
			h.log.Warn("dedupe unavailable, delivering anyway", zap.String("event_id", env.ID), zap.Error(err))
		case !claimed:
			h.log.Info("duplicate event ignored", zap.String("event_id", env.ID), zap.String("routing_key", env.Type))
			h.metrics.RecordNotification(ctx, env.Type, OutcomeDuplicate)
			return nil
		}
	}

	if err := h.provider.Send(ctx, text); err != nil {
		if token != "" {
			if relErr := h.dedupe.Release(context.WithoutCancel(ctx), key, token); relErr != nil {
				h.log.Warn("dedupe release failed", zap.String("event_id", env.ID), zap.Error(relErr))
			}
		}
		h.metrics.RecordNotification(ctx, env.Type, OutcomeFailed)
		return err
	}

	h.log.Info("notification sent",
		zap.String("event_id", env.ID),
		zap.String("routing_key", env.Type),
		zap.String("provider", h.provider.Name()),
	)
	h.metrics.RecordNotification(ctx, env.Type, OutcomeSent)
	return nil
}

var errStopped = errors.New("subscriber stopped")

// run consumes until ctx is cancelled, restarting after broker errors.
func run(ctx context.Context, sub events.Subscriber, h *Handler, log *zap.Logger, backoff time.Duration) error {
	for {
		err := sub.Run(ctx, h.Handle)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errStopped
		}
		log.Error("subscriber exited, restarting", zap.String("broker", sub.Name()), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}
