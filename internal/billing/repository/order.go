package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/pkg/db/pagination"
	"gorm.io/gorm"
)

const orderColumns = `id, user_id, package_type, amount, currency, status, stripe_payment_intent_id,
	stripe_client_secret, description, metadata, created_at, updated_at, paid_at`

type orderRepo struct{}

func ProvideOrders() domain.OrderRepository {
	return &orderRepo{}
}

func (r *orderRepo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.UserID,
		order.PackageType,
		order.Amount,
		order.Currency,
		order.Status,
		order.StripePaymentIntentID,
		order.StripeClientSecret,
		order.Description,
		order.Metadata,
		order.CreatedAt,
		order.UpdatedAt,
		order.PaidAt,
	).Error
}

func (r *orderRepo) FindByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == uuid.Nil {
		return nil, nil
	}
	return &order, nil
}

func (r *orderRepo) FindByPaymentIntentID(ctx context.Context, db *gorm.DB, intentID string) (*domain.Order, error) {
	if intentID == "" {
		return nil, nil
	}
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE stripe_payment_intent_id = ?`,
		intentID,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == uuid.Nil {
		return nil, nil
	}
	return &order, nil
}

func (r *orderRepo) ListByUser(ctx context.Context, db *gorm.DB, userID uuid.UUID, status *domain.OrderStatus, page pagination.Pagination) ([]domain.Order, int64, error) {
	var (
		orders []domain.Order
		total  int64
	)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := func() *gorm.DB {
			stmt := tx.Model(&domain.Order{}).Where("user_id = ?", userID)
			if status != nil {
				stmt = stmt.Where("status = ?", *status)
			}
			return stmt
		}
		if err := scope().Count(&total).Error; err != nil {
			return err
		}
		return scope().
			Order("created_at desc, id desc").
			Offset(page.Offset()).
			Limit(page.Limit()).
			Find(&orders).Error
	})
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *orderRepo) AssignPaymentIntent(ctx context.Context, db *gorm.DB, id uuid.UUID, intentID, clientSecret string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET stripe_payment_intent_id = ?, stripe_client_secret = ?, status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND stripe_payment_intent_id IS NULL`,
		intentID,
		clientSecret,
		domain.OrderStatusPendingPayment,
		at,
		id,
		domain.OrderStatusCreated,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *orderRepo) UpdateStatus(ctx context.Context, db *gorm.DB, id uuid.UUID, status domain.OrderStatus, from []domain.OrderStatus, paidAt *time.Time, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": at,
	}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *orderRepo) Stats(ctx context.Context, db *gorm.DB) (domain.Stats, error) {
	var counts struct {
		TotalOrders  int64
		PaidOrders   int64
		FailedOrders int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(1) AS total_orders,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS paid_orders,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed_orders
		 FROM orders`,
		domain.OrderStatusPaid,
		domain.OrderStatusFailed,
	).Scan(&counts).Error
	if err != nil {
		return domain.Stats{}, err
	}

	var revenue []domain.CurrencyRevenue
	err = db.WithContext(ctx).Raw(
		`SELECT currency, SUM(amount) AS amount
		 FROM orders
		 WHERE status = ?
		 GROUP BY currency
		 ORDER BY currency`,
		domain.OrderStatusPaid,
	).Scan(&revenue).Error
	if err != nil {
		return domain.Stats{}, err
	}
	if revenue == nil {
		revenue = []domain.CurrencyRevenue{}
	}
	return domain.Stats{
		TotalOrders:  counts.TotalOrders,
		PaidOrders:   counts.PaidOrders,
		FailedOrders: counts.FailedOrders,
		Revenue:      revenue,
	}, nil
}
