package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
)

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalStatus(value string) (*domain.OrderStatus, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return nil, nil
	}
	status := domain.OrderStatus(trimmed)
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	return &status, nil
}

func parseOrderID(value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errors.New("invalid_order_id")
	}
	return id, nil
}
