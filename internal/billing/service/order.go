package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/orderbilling/internal/audit/domain"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/events"
	"github.com/smallbiznis/orderbilling/internal/observability/logger"
	"github.com/smallbiznis/orderbilling/internal/observability/tracing"
	"github.com/smallbiznis/orderbilling/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.CreateOrderResponse, error) {
	if req.UserID == uuid.Nil {
		return domain.CreateOrderResponse{}, domain.ErrInvalidUser
	}
	packageType := domain.PackageType(strings.ToLower(strings.TrimSpace(req.PackageType)))
	if !packageType.Valid() {
		return domain.CreateOrderResponse{}, domain.ErrInvalidPackage
	}
	pkg, ok := s.pricing.Lookup(string(packageType))
	if !ok {
		return domain.CreateOrderResponse{}, domain.ErrInvalidPackage
	}

	ctx, span := tracing.StartSpan(ctx, "billing.create_order",
		attribute.String("package_type", string(packageType)),
	)
	defer span.End()
	log := logger.WithContext(ctx, s.log)

	now := s.clock.Now()
	description := pkg.Name
	order := domain.Order{
		ID:          uuid.New(),
		UserID:      req.UserID,
		PackageType: packageType,
		Amount:      pkg.PriceDecimal(),
		Currency:    pkg.Currency,
		Status:      domain.OrderStatusCreated,
		Description: &description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(req.Metadata) > 0 {
		order.Metadata = datatypes.JSONMap(req.Metadata)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orders.Insert(ctx, tx, &order); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, auditdomain.Entry{
			OrderID:   order.ID,
			Action:    auditdomain.ActionOrderCreated,
			NewStatus: string(domain.OrderStatusCreated),
			Details:   fmt.Sprintf("Package: %s", packageType),
		})
		return err
	})
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}
	s.metrics.RecordOrderCreated(ctx, string(packageType))

	intent, err := s.gateway.CreatePaymentIntent(ctx, domain.PaymentIntentRequest{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Metadata: map[string]string{
			"order_id":     order.ID.String(),
			"package_type": string(packageType),
		},
	})
	if err != nil {
		log.Error("failed to create payment intent",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrGateway) {
			return domain.CreateOrderResponse{}, err
		}
		return domain.CreateOrderResponse{}, fmt.Errorf("%w: %w", domain.ErrGateway, err)
	}

	updatedAt := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.orders.AssignPaymentIntent(ctx, tx, order.ID, intent.ID, intent.ClientSecret, updatedAt)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidStateTransition
		}
		_, err = s.audit.Record(ctx, tx, auditdomain.Entry{
			OrderID:   order.ID,
			Action:    auditdomain.ActionPaymentIntentCreated,
			OldStatus: string(domain.OrderStatusCreated),
			NewStatus: string(domain.OrderStatusPendingPayment),
			Details:   fmt.Sprintf("Payment Intent ID: %s", intent.ID),
		})
		return err
	})
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}
	s.metrics.RecordOrderTransition(ctx, string(domain.OrderStatusCreated), string(domain.OrderStatusPendingPayment))

	order.Status = domain.OrderStatusPendingPayment
	order.StripePaymentIntentID = &intent.ID
	order.StripeClientSecret = &intent.ClientSecret
	order.UpdatedAt = updatedAt

	if _, err := s.publisher.Publish(ctx, events.OrderCreated{
		OrderID:     order.ID,
		UserID:      order.UserID,
		PackageType: string(order.PackageType),
		Amount:      order.Amount,
		Currency:    order.Currency,
		CreatedAt:   order.CreatedAt,
	}); err != nil {
		return domain.CreateOrderResponse{}, fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("package_type", string(packageType)),
		zap.String("payment_intent_id", intent.ID),
	)

	return domain.CreateOrderResponse{
		Order: order,
		Payment: domain.PaymentHandle{
			OrderID:      order.ID,
			ClientSecret: intent.ClientSecret,
			Amount:       order.Amount,
			Currency:     order.Currency,
			Status:       order.Status,
		},
	}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (domain.Order, error) {
	order, err := s.loadOwned(ctx, s.db, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, req domain.ListOrdersRequest) (domain.ListOrdersResponse, error) {
	if req.UserID == uuid.Nil {
		return domain.ListOrdersResponse{}, domain.ErrInvalidUser
	}
	page := pagination.Pagination{Page: req.Page, PageSize: req.PageSize}
	if page.PageSize == 0 {
		page.PageSize = pagination.DefaultPageSize
	}
	if err := page.Validate(); err != nil {
		return domain.ListOrdersResponse{}, err
	}
	if req.Status != nil && !req.Status.Valid() {
		return domain.ListOrdersResponse{}, domain.ErrInvalidStatus
	}

	orders, total, err := s.orders.ListByUser(ctx, s.db, req.UserID, req.Status, page)
	if err != nil {
		return domain.ListOrdersResponse{}, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return domain.ListOrdersResponse{
		PageInfo: pagination.BuildPageInfo(page, total),
		Orders:   orders,
	}, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (domain.Order, error) {
	order, err := s.loadOwned(ctx, s.db, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	if !domain.CanTransition(order.Status, domain.OrderStatusCancelled) {
		return domain.Order{}, fmt.Errorf("%w: cannot cancel order with status %s", domain.ErrInvalidStateTransition, order.Status)
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("order_id", order.ID.String()))
	if order.StripePaymentIntentID != nil && *order.StripePaymentIntentID != "" {
		if err := s.gateway.CancelPaymentIntent(ctx, *order.StripePaymentIntentID); err != nil {
			log.Warn("failed to cancel payment intent", zap.Error(err))
		}
	}

	oldStatus := order.Status
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.transition(ctx, tx, order, domain.OrderStatusCancelled, nil, now, auditdomain.Entry{
			Action: auditdomain.ActionOrderCancelled,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.metrics.RecordOrderTransition(ctx, string(oldStatus), string(domain.OrderStatusCancelled))

	log.Info("order cancelled", zap.String("old_status", string(oldStatus)))
	return *order, nil
}

func (s *Service) OrderHistory(ctx context.Context, orderID, userID uuid.UUID) ([]auditdomain.PaymentAudit, error) {
	if _, err := s.loadOwned(ctx, s.db, orderID, userID); err != nil {
		return nil, err
	}
	items, err := s.audit.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []auditdomain.PaymentAudit{}
	}
	return items, nil
}

func (s *Service) loadOwned(ctx context.Context, db *gorm.DB, orderID, userID uuid.UUID) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	if !order.Owned(userID) {
		return nil, domain.ErrAccessDenied
	}
	return order, nil
}
