package policy

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeRefundFull(t *testing.T) {
	amount, err := ComputeRefund(RefundFull, 12.50, 300, 1000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(amount, 12.50) {
		t.Errorf("expected full refund 12.50, got %v", amount)
	}
}

func TestComputeRefundNone(t *testing.T) {
	amount, err := ComputeRefund(RefundNone, 12.50, 300, 1000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 0 {
		t.Errorf("expected zero refund, got %v", amount)
	}
}

func TestComputeRefundPartialProrated(t *testing.T) {
	// 10.00 * 250 / 1000 = 2.50
	amount, err := ComputeRefund(RefundPartial, 10.00, 250, 1000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(amount, 2.50) {
		t.Errorf("expected 2.50, got %v", amount)
	}
}

func TestComputeRefundPartialRoundsToCents(t *testing.T) {
	// 10.00 * 1 / 3 = 3.333... -> 3.33
	amount, err := ComputeRefund(RefundPartial, 10.00, 1, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(amount, 3.33) {
		t.Errorf("expected 3.33, got %v", amount)
	}
}

func TestComputeRefundPartialZeroQuantity(t *testing.T) {
	if _, err := ComputeRefund(RefundPartial, 10.00, 5, 0, 0); err == nil {
		t.Error("expected error for zero quantity")
	}
}

func TestComputeRefundPartialNothingRemaining(t *testing.T) {
	amount, err := ComputeRefund(RefundPartial, 10.00, 0, 1000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 0 {
		t.Errorf("expected zero refund when fully delivered, got %v", amount)
	}
}

func TestComputeRefundPartialRemainsExceedsQuantity(t *testing.T) {
	amount, err := ComputeRefund(RefundPartial, 10.00, 1500, 1000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(amount, 10.00) {
		t.Errorf("expected refund capped at price, got %v", amount)
	}
}

func TestComputeRefundCustomAbovePriceRejected(t *testing.T) {
	if _, err := ComputeRefund(RefundCustom, 10.00, 0, 0, 25.00); err == nil {
		t.Error("expected error for custom amount above order price")
	}
}

func TestComputeRefundCustomExactlyPrice(t *testing.T) {
	amount, err := ComputeRefund(RefundCustom, 10.00, 0, 0, 10.00)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(amount, 10.00) {
		t.Errorf("expected custom refund of exactly the price, got %v", amount)
	}
}

func TestComputeRefundCustomNegative(t *testing.T) {
	if _, err := ComputeRefund(RefundCustom, 10.00, 0, 0, -5.00); err == nil {
		t.Error("expected error for negative custom amount")
	}
}

func TestComputeRefundUnknownType(t *testing.T) {
	if _, err := ComputeRefund("half", 10.00, 0, 0, 0); err == nil {
		t.Error("expected error for unknown refund type")
	}
}
