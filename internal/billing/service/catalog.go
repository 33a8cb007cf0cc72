package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/config"
)

func (s *Service) ListPackages(ctx context.Context) []domain.Package {
	cfg := s.pricing.Get()
	out := make([]domain.Package, 0, len(cfg.Packages))
	for _, pkg := range cfg.Packages {
		out = append(out, toPackage(pkg))
	}
	return out
}

func (s *Service) GetPackage(ctx context.Context, packageType string) (domain.Package, error) {
	if !domain.PackageType(strings.ToLower(strings.TrimSpace(packageType))).Valid() {
		return domain.Package{}, domain.ErrInvalidPackage
	}
	pkg, ok := s.pricing.Lookup(packageType)
	if !ok {
		return domain.Package{}, domain.ErrInvalidPackage
	}
	return toPackage(pkg), nil
}

func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	return s.orders.Stats(ctx, s.db)
}

func (s *Service) ListWebhookEvents(ctx context.Context, req domain.ListWebhookEventsRequest) ([]domain.WebhookEvent, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.webhooks.List(ctx, s.db, req.OnlyFailed, limit)
}

func toPackage(pkg config.PackageConfig) domain.Package {
	features := make([]string, len(pkg.Features))
	copy(features, pkg.Features)
	return domain.Package{
		Type:        domain.PackageType(pkg.Type),
		Name:        pkg.Name,
		Description: pkg.Description,
		Price:       pkg.PriceDecimal(),
		Currency:    pkg.Currency,
		Features:    features,
	}
}
