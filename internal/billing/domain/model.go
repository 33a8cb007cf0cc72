package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "created"
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPendingPayment, OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves the status.
func (s OrderStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:        {OrderStatusPendingPayment, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusPendingPayment: {OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled},
}

func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourceStatuses lists every status that may move into to.
func SourceStatuses(to OrderStatus) []OrderStatus {
	var out []OrderStatus
	for _, from := range []OrderStatus{OrderStatusCreated, OrderStatusPendingPayment} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

type PackageType string

const (
	PackageBasic    PackageType = "basic"
	PackageStandard PackageType = "standard"
	PackagePremium  PackageType = "premium"
)

func (p PackageType) Valid() bool {
	switch p {
	case PackageBasic, PackageStandard, PackagePremium:
		return true
	default:
		return false
	}
}

type Order struct {
	ID                    uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID                uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	PackageType           PackageType       `gorm:"type:text;not null" json:"package_type"`
	Amount                decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency              string            `gorm:"type:text;not null" json:"currency"`
	Status                OrderStatus       `gorm:"type:text;not null;index" json:"status"`
	StripePaymentIntentID *string           `gorm:"column:stripe_payment_intent_id;uniqueIndex" json:"stripe_payment_intent_id"`
	StripeClientSecret    *string           `gorm:"column:stripe_client_secret" json:"stripe_client_secret"`
	Description           *string           `gorm:"type:text" json:"description"`
	Metadata              datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt             time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time         `gorm:"not null" json:"updated_at"`
	PaidAt                *time.Time        `json:"paid_at"`
}

func (Order) TableName() string { return "orders" }

// Owned reports whether the order belongs to userID.
func (o Order) Owned(userID uuid.UUID) bool {
	return o.UserID == userID
}

type Package struct {
	Type        PackageType     `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Features    []string        `json:"features"`
}

type CurrencyRevenue struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type Stats struct {
	TotalOrders  int64             `json:"total_orders"`
	PaidOrders   int64             `json:"paid_orders"`
	FailedOrders int64             `json:"failed_orders"`
	Revenue      []CurrencyRevenue `json:"revenue"`
}
