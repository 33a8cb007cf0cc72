package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/orderbilling/internal/audit/domain"
	"github.com/smallbiznis/orderbilling/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateOrderRequest struct {
	UserID      uuid.UUID
	PackageType string
	Metadata    map[string]any
}

// PaymentHandle is what a client needs to complete payment on its side.
type PaymentHandle struct {
	OrderID      uuid.UUID       `json:"order_id"`
	ClientSecret string          `json:"client_secret"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       OrderStatus     `json:"status"`
}

type CreateOrderResponse struct {
	Order   Order         `json:"order"`
	Payment PaymentHandle `json:"payment"`
}

type ListOrdersRequest struct {
	UserID   uuid.UUID
	Page     int
	PageSize int
	Status   *OrderStatus
}

type ListOrdersResponse struct {
	pagination.PageInfo
	Orders []Order `json:"orders"`
}

type Service interface {
	ListPackages(ctx context.Context) []Package
	GetPackage(ctx context.Context, packageType string) (Package, error)

	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	GetOrder(ctx context.Context, orderID, userID uuid.UUID) (Order, error)
	ListOrders(ctx context.Context, req ListOrdersRequest) (ListOrdersResponse, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (Order, error)
	OrderHistory(ctx context.Context, orderID, userID uuid.UUID) ([]auditdomain.PaymentAudit, error)

	ProcessWebhook(ctx context.Context, event ProviderEvent, payload []byte) error
	ListWebhookEvents(ctx context.Context, req ListWebhookEventsRequest) ([]WebhookEvent, error)
	Stats(ctx context.Context) (Stats, error)
}

type OrderRepository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Order, error)
	FindByPaymentIntentID(ctx context.Context, db *gorm.DB, intentID string) (*Order, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID uuid.UUID, status *OrderStatus, page pagination.Pagination) ([]Order, int64, error)
	// AssignPaymentIntent stores the intent on a created order and moves it to pending_payment.
	AssignPaymentIntent(ctx context.Context, db *gorm.DB, id uuid.UUID, intentID, clientSecret string, at time.Time) (bool, error)
	// UpdateStatus moves the order to status only if it is currently in one of from.
	UpdateStatus(ctx context.Context, db *gorm.DB, id uuid.UUID, status OrderStatus, from []OrderStatus, paidAt *time.Time, at time.Time) (bool, error)
	Stats(ctx context.Context, db *gorm.DB) (Stats, error)
}

type WebhookRepository interface {
	// Insert returns false when the provider event id is already recorded.
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindByProviderEventID(ctx context.Context, db *gorm.DB, providerEventID string) (*WebhookEvent, error)
	// Claim starts a reprocessing attempt unless the row is processed or another
	// attempt started after staleBefore.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now, staleBefore time.Time) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, orderID *uuid.UUID, errMsg *string, at time.Time) error
	List(ctx context.Context, db *gorm.DB, onlyFailed bool, limit int) ([]WebhookEvent, error)
	CountFailed(ctx context.Context, db *gorm.DB) (int64, error)
}

var (
	ErrNotFound               = errors.New("not_found")
	ErrAccessDenied           = errors.New("access_denied")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrGateway                = errors.New("payment_gateway_error")
	ErrSignatureVerification  = errors.New("signature_verification_failed")
	ErrPublish                = errors.New("event_publish_failed")
	ErrInvalidPackage         = errors.New("invalid_package_type")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrInvalidUser            = errors.New("invalid_user")
	ErrInvalidEvent           = errors.New("invalid_event")
)
