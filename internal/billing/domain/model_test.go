package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusCreated, OrderStatusPendingPayment, true},
		{OrderStatusCreated, OrderStatusCancelled, true},
		{OrderStatusCreated, OrderStatusFailed, true},
		{OrderStatusCreated, OrderStatusPaid, false},
		{OrderStatusPendingPayment, OrderStatusPaid, true},
		{OrderStatusPendingPayment, OrderStatusCreated, false},
		{OrderStatusPaid, OrderStatusCancelled, false},
		{OrderStatusPaid, OrderStatusFailed, false},
		{OrderStatusFailed, OrderStatusPaid, false},
		{OrderStatusCancelled, OrderStatusPendingPayment, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusCreated, OrderStatusPendingPayment} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestSourceStatuses(t *testing.T) {
	got := SourceStatuses(OrderStatusCancelled)
	if len(got) != 2 || got[0] != OrderStatusCreated || got[1] != OrderStatusPendingPayment {
		t.Fatalf("unexpected cancel sources: %v", got)
	}
	got = SourceStatuses(OrderStatusPaid)
	if len(got) != 1 || got[0] != OrderStatusPendingPayment {
		t.Fatalf("unexpected paid sources: %v", got)
	}
}

func TestEventKindString(t *testing.T) {
	if EventKindPaymentSucceeded.String() != "payment_succeeded" {
		t.Fatalf("unexpected name %s", EventKindPaymentSucceeded)
	}
	if EventKind(42).String() != "unhandled" {
		t.Fatalf("unknown kinds must report unhandled")
	}
}
