package service

import (
	"context"
	"fmt"
	"time"

	auditdomain "github.com/smallbiznis/orderbilling/internal/audit/domain"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"gorm.io/gorm"
)

// transition moves order to status and appends the audit entry on the same handle.
// The update is conditional on the allowed source statuses, so a concurrent change
// surfaces as ErrInvalidStateTransition instead of being overwritten.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, order *domain.Order, to domain.OrderStatus, paidAt *time.Time, now time.Time, entry auditdomain.Entry) error {
	from := order.Status
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStateTransition, from, to)
	}
	ok, err := s.orders.UpdateStatus(ctx, tx, order.ID, to, domain.SourceStatuses(to), paidAt, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order %s changed concurrently", domain.ErrInvalidStateTransition, order.ID)
	}

	entry.OrderID = order.ID
	entry.OldStatus = string(from)
	entry.NewStatus = string(to)
	if _, err := s.audit.Record(ctx, tx, entry); err != nil {
		return err
	}

	order.Status = to
	order.UpdatedAt = now
	if paidAt != nil {
		order.PaidAt = paidAt
	}
	return nil
}
