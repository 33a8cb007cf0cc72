package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type webhookRepo struct{}

func ProvideWebhooks() domain.WebhookRepository {
	return &webhookRepo{}
}

func (r *webhookRepo) Insert(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	if event == nil {
		return false, errors.New("nil webhook event")
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *webhookRepo) FindByProviderEventID(ctx context.Context, db *gorm.DB, providerEventID string) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider_event_id, event_type, order_id, processed, processing_started_at,
			processed_at, error_message, retry_count, payload, created_at
		 FROM webhook_events WHERE provider_event_id = ?`,
		providerEventID,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *webhookRepo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now, staleBefore time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET retry_count = retry_count + 1, processing_started_at = ?
		 WHERE id = ? AND processed = ?
		   AND (processing_started_at IS NULL OR processing_started_at < ?)`,
		now,
		id,
		false,
		staleBefore,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *webhookRepo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, orderID *uuid.UUID, errMsg *string, at time.Time) error {
	updates := map[string]any{
		"processed":     true,
		"processed_at":  at,
		"error_message": errMsg,
	}
	if orderID != nil {
		updates["order_id"] = gorm.Expr("COALESCE(order_id, ?)", *orderID)
	}
	return db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *webhookRepo) List(ctx context.Context, db *gorm.DB, onlyFailed bool, limit int) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	stmt := db.WithContext(ctx).Model(&domain.WebhookEvent{})
	if onlyFailed {
		stmt = stmt.Where("processed = ? AND error_message IS NOT NULL", true)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Order("created_at desc, id desc").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *webhookRepo) CountFailed(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("processed = ? AND error_message IS NOT NULL", true).
		Count(&count).Error
	return count, err
}
