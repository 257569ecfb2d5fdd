package engine

import (
	"errors"
	"testing"
)

func TestInterlockPanicBlocksOrders(t *testing.T) {
	il := NewInterlock(10)

	if err := il.Authorize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !il.EngagePanic() {
		t.Fatal("EngagePanic must succeed on first call")
	}
	if il.EngagePanic() {
		t.Error("second EngagePanic must report already engaged")
	}
	if !il.PanicActive() {
		t.Error("PanicActive must be true")
	}

	if err := il.Authorize(); !errors.Is(err, ErrPanicActive) {
		t.Errorf("expected ErrPanicActive, got %v", err)
	}

	if !il.ReleasePanic() {
		t.Fatal("ReleasePanic must succeed")
	}
	if err := il.Authorize(); err != nil {
		t.Errorf("orders must flow after release: %v", err)
	}
}

func TestInterlockOrderLimit(t *testing.T) {
	il := NewInterlock(2)

	if err := il.Authorize(); err != nil {
		t.Fatalf("first order: %v", err)
	}
	if err := il.Authorize(); err != nil {
		t.Fatalf("second order: %v", err)
	}
	if err := il.Authorize(); !errors.Is(err, ErrOrderLimitExceeded) {
		t.Errorf("expected ErrOrderLimitExceeded, got %v", err)
	}
	if il.SlotsRemaining() != 0 {
		t.Errorf("expected 0 slots, got %d", il.SlotsRemaining())
	}
}

func TestInterlockPanicDoesNotBurnSlots(t *testing.T) {
	il := NewInterlock(1)
	il.EngagePanic()

	// Отказ по panic не должен занимать слот минуты
	for i := 0; i < 5; i++ {
		if err := il.Authorize(); !errors.Is(err, ErrPanicActive) {
			t.Fatalf("expected ErrPanicActive, got %v", err)
		}
	}

	il.ReleasePanic()
	if err := il.Authorize(); err != nil {
		t.Errorf("slot must still be available after panic release: %v", err)
	}
}

func TestInterlockSetOrderLimit(t *testing.T) {
	il := NewInterlock(1)
	il.Authorize()

	if err := il.Authorize(); !errors.Is(err, ErrOrderLimitExceeded) {
		t.Fatal("limit must be exhausted")
	}

	il.SetOrderLimit(5)
	if il.OrderLimit() != 5 {
		t.Errorf("unexpected limit: %d", il.OrderLimit())
	}
	if err := il.Authorize(); err != nil {
		t.Errorf("raised limit must grant a slot: %v", err)
	}
}

func TestInterlockUnlimited(t *testing.T) {
	il := NewInterlock(0)

	for i := 0; i < 100; i++ {
		if err := il.Authorize(); err != nil {
			t.Fatalf("unlimited interlock must always authorize: %v", err)
		}
	}
	if il.SlotsRemaining() != -1 {
		t.Errorf("expected -1 for unlimited, got %d", il.SlotsRemaining())
	}
}
