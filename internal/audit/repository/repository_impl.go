package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/smallbiznis/orderbilling/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.PaymentAudit) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_audits (
			id, order_id, action, old_status, new_status, provider_event_id, details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OrderID,
		entry.Action,
		entry.OldStatus,
		entry.NewStatus,
		entry.ProviderEventID,
		entry.Details,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListByOrder(ctx context.Context, db *gorm.DB, orderID uuid.UUID) ([]domain.PaymentAudit, error) {
	var items []domain.PaymentAudit
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, action, old_status, new_status, provider_event_id, details, created_at
		 FROM payment_audits
		 WHERE order_id = ?
		 ORDER BY created_at ASC, id ASC`,
		orderID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountByOrderAndAction(ctx context.Context, db *gorm.DB, orderID uuid.UUID, action string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payment_audits WHERE order_id = ? AND action = ?`,
		orderID,
		action,
	).Scan(&count).Error
	return count, err
}
