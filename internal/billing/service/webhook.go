package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/orderbilling/internal/audit/domain"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/events"
	"github.com/smallbiznis/orderbilling/internal/observability/logger"
	"github.com/smallbiznis/orderbilling/internal/observability/metrics"
	"github.com/smallbiznis/orderbilling/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultProcessingLease = 2 * time.Minute
	unknownFailureReason   = "Unknown error"
)

func (s *Service) ProcessWebhook(ctx context.Context, event domain.ProviderEvent, payload []byte) error {
	if event.ID == "" || event.Type == "" {
		return domain.ErrInvalidEvent
	}

	ctx, span := tracing.StartSpan(ctx, "billing.process_webhook",
		attribute.String("event_id", event.ID),
		attribute.String("event_type", event.Type),
	)
	defer span.End()
	log := logger.WithContext(ctx, s.log).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
	)

	row, proceed, err := s.claimEvent(ctx, event, payload)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	orderID, handleErr := s.dispatch(ctx, log, event)

	var errMsg *string
	if handleErr != nil {
		msg := fmt.Sprintf("Error processing webhook: %s", handleErr.Error())
		errMsg = &msg
	}
	if err := s.webhooks.MarkProcessed(ctx, s.db, row.ID, orderID, errMsg, s.clock.Now()); err != nil {
		log.Error("failed to mark webhook processed", zap.Error(err))
		if handleErr == nil {
			return err
		}
	}

	if handleErr != nil {
		s.metrics.RecordWebhookEvent(ctx, event.Type, metrics.WebhookOutcomeFailed)
		log.Error("webhook processing failed", zap.Error(handleErr))
		return handleErr
	}
	s.metrics.RecordWebhookEvent(ctx, event.Type, metrics.WebhookOutcomeProcessed)
	log.Info("webhook processed")
	return nil
}

// claimEvent records the event and reports whether this call owns its processing.
func (s *Service) claimEvent(ctx context.Context, event domain.ProviderEvent, payload []byte) (*domain.WebhookEvent, bool, error) {
	now := s.clock.Now()
	row := &domain.WebhookEvent{
		ID:                  s.genID.Generate(),
		ProviderEventID:     event.ID,
		EventType:           event.Type,
		ProcessingStartedAt: &now,
		Payload:             datatypes.JSON(payload),
		CreatedAt:           now,
	}
	if orderID, ok := s.gateway.ExtractOrderID(event); ok {
		row.OrderID = &orderID
	}
	if len(row.Payload) == 0 {
		row.Payload = datatypes.JSON("{}")
	}

	inserted, err := s.webhooks.Insert(ctx, s.db, row)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return row, true, nil
	}

	existing, err := s.webhooks.FindByProviderEventID(ctx, s.db, event.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("webhook event %s vanished after conflict", event.ID)
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("event_id", event.ID))
	if existing.Processed {
		s.metrics.RecordWebhookEvent(ctx, event.Type, metrics.WebhookOutcomeDuplicate)
		log.Info("webhook already processed, skipping")
		return existing, false, nil
	}

	claimed, err := s.webhooks.Claim(ctx, s.db, existing.ID, now, now.Add(-s.processingLease))
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		s.metrics.RecordWebhookEvent(ctx, event.Type, metrics.WebhookOutcomeInFlight)
		log.Info("webhook is being processed by another delivery, skipping")
		return existing, false, nil
	}
	log.Info("webhook is being reprocessed", zap.Int("retry_count", existing.RetryCount+1))
	return existing, true, nil
}

// dispatch applies the event and returns the order it resolved to, if any.
func (s *Service) dispatch(ctx context.Context, log *zap.Logger, event domain.ProviderEvent) (*uuid.UUID, error) {
	switch event.Kind {
	case domain.EventKindPaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, log, event)
	case domain.EventKindPaymentFailed:
		return s.handlePaymentFailed(ctx, log, event)
	case domain.EventKindPaymentCanceled:
		return s.handlePaymentCanceled(ctx, log, event)
	case domain.EventKindUnhandled:
		log.Info("unhandled webhook event type")
		return nil, nil
	default:
		log.Warn("unknown webhook event kind", zap.Stringer("kind", event.Kind))
		return nil, nil
	}
}

func (s *Service) orderForIntent(ctx context.Context, log *zap.Logger, event domain.ProviderEvent) (*domain.Order, error) {
	order, err := s.orders.FindByPaymentIntentID(ctx, s.db, event.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		log.Error("order not found for payment intent", zap.String("payment_intent_id", event.PaymentIntentID))
	}
	return order, nil
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, log *zap.Logger, event domain.ProviderEvent) (*uuid.UUID, error) {
	order, err := s.orderForIntent(ctx, log, event)
	if err != nil || order == nil {
		return nil, err
	}
	orderID := order.ID
	log = log.With(zap.String("order_id", orderID.String()))

	if order.Status == domain.OrderStatusPaid {
		log.Info("order already paid, skipping")
		return &orderID, nil
	}
	if !domain.CanTransition(order.Status, domain.OrderStatusPaid) {
		return &orderID, fmt.Errorf("%w: payment succeeded for %s order", domain.ErrInvalidStateTransition, order.Status)
	}

	oldStatus := order.Status
	paidAt := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.transition(ctx, tx, order, domain.OrderStatusPaid, &paidAt, paidAt, auditdomain.Entry{
			Action:          auditdomain.ActionPaymentSucceeded,
			ProviderEventID: event.ID,
			Details:         fmt.Sprintf("Payment Intent: %s", event.PaymentIntentID),
		})
	})
	if err != nil {
		return &orderID, err
	}
	s.metrics.RecordOrderTransition(ctx, string(oldStatus), string(domain.OrderStatusPaid))

	if _, err := s.publisher.Publish(ctx, events.OrderPaid{
		OrderID:               order.ID,
		UserID:                order.UserID,
		PackageType:           string(order.PackageType),
		Amount:                order.Amount,
		Currency:              order.Currency,
		PaidAt:                paidAt,
		StripePaymentIntentID: event.PaymentIntentID,
	}); err != nil {
		return &orderID, fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	log.Info("order marked as paid")
	return &orderID, nil
}

func (s *Service) handlePaymentFailed(ctx context.Context, log *zap.Logger, event domain.ProviderEvent) (*uuid.UUID, error) {
	order, err := s.orderForIntent(ctx, log, event)
	if err != nil || order == nil {
		return nil, err
	}
	orderID := order.ID
	log = log.With(zap.String("order_id", orderID.String()))

	if order.Status.Terminal() {
		log.Info("payment failure for terminal order ignored", zap.String("status", string(order.Status)))
		return &orderID, nil
	}

	reason := event.FailureReason
	if reason == "" {
		reason = unknownFailureReason
	}
	oldStatus := order.Status
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.transition(ctx, tx, order, domain.OrderStatusFailed, nil, now, auditdomain.Entry{
			Action:          auditdomain.ActionPaymentFailed,
			ProviderEventID: event.ID,
			Details:         fmt.Sprintf("Error: %s", reason),
		})
	})
	if err != nil {
		return &orderID, err
	}
	s.metrics.RecordOrderTransition(ctx, string(oldStatus), string(domain.OrderStatusFailed))

	if _, err := s.publisher.Publish(ctx, events.OrderFailed{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Reason:   reason,
		FailedAt: now,
	}); err != nil {
		return &orderID, fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	log.Info("order marked as failed", zap.String("reason", reason))
	return &orderID, nil
}

func (s *Service) handlePaymentCanceled(ctx context.Context, log *zap.Logger, event domain.ProviderEvent) (*uuid.UUID, error) {
	order, err := s.orderForIntent(ctx, log, event)
	if err != nil || order == nil {
		return nil, err
	}
	orderID := order.ID
	log = log.With(zap.String("order_id", orderID.String()))

	if order.Status.Terminal() {
		log.Info("payment cancellation for terminal order ignored", zap.String("status", string(order.Status)))
		return &orderID, nil
	}

	oldStatus := order.Status
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.transition(ctx, tx, order, domain.OrderStatusCancelled, nil, now, auditdomain.Entry{
			Action:          auditdomain.ActionPaymentCanceled,
			ProviderEventID: event.ID,
		})
	})
	if err != nil {
		return &orderID, err
	}
	s.metrics.RecordOrderTransition(ctx, string(oldStatus), string(domain.OrderStatusCancelled))

	log.Info("order marked as cancelled")
	return &orderID, nil
}
