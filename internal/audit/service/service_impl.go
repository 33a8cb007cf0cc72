package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/orderbilling/internal/audit/domain"
	"github.com/smallbiznis/orderbilling/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, db *gorm.DB, entry auditdomain.Entry) (auditdomain.PaymentAudit, error) {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.PaymentAudit{}, auditdomain.ErrInvalidAction
	}
	if entry.OrderID == uuid.Nil {
		return auditdomain.PaymentAudit{}, auditdomain.ErrInvalidOrder
	}
	if db == nil {
		db = s.db
	}

	record := auditdomain.PaymentAudit{
		ID:              s.genID.Generate(),
		OrderID:         entry.OrderID,
		Action:          action,
		OldStatus:       optional(entry.OldStatus),
		NewStatus:       strings.TrimSpace(entry.NewStatus),
		ProviderEventID: optional(entry.ProviderEventID),
		Details:         optional(entry.Details),
		CreatedAt:       s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, db, &record); err != nil {
		s.log.Warn("failed to write payment audit",
			zap.String("action", action),
			zap.String("order_id", entry.OrderID.String()),
			zap.Error(err),
		)
		return auditdomain.PaymentAudit{}, err
	}
	return record, nil
}

func (s *Service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]auditdomain.PaymentAudit, error) {
	if orderID == uuid.Nil {
		return nil, auditdomain.ErrInvalidOrder
	}
	return s.repo.ListByOrder(ctx, s.db, orderID)
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
