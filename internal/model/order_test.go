package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderCreated, OrderPaid, true},
		{OrderPaid, OrderPrinting, true},
		{OrderPrinting, OrderCompleted, true},
		{OrderPrinting, OrderFailed, true},
		{OrderPrinting, OrderCancelled, true},
		{OrderCreated, OrderPrinting, false},
		{OrderCreated, OrderCompleted, false},
		{OrderPaid, OrderCreated, false},
		{OrderPaid, OrderFailed, false},
		{OrderPrinting, OrderPaid, false},
		{OrderCompleted, OrderFailed, false},
		{OrderFailed, OrderPrinting, false},
		{OrderPaid, OrderPaid, false},
		{OrderStatus("bogus"), OrderPaid, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestOrderStatusPredicates(t *testing.T) {
	for _, s := range []OrderStatus{OrderCompleted, OrderFailed, OrderCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderCreated, OrderPaid, OrderPrinting, OrderStatus("x")} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if !OrderPrinting.Settled() || OrderCreated.Settled() || OrderFailed.Settled() {
		t.Error("unexpected Settled result")
	}
}

func TestPrintSettingsNormalize(t *testing.T) {
	s := PrintSettings{Color: ColorBW, Copies: 1}.Normalize()
	if s.Sides != SidesSingle || s.PaperSize != PaperA4 {
		t.Errorf("unexpected defaults: %+v", s)
	}
	s = PrintSettings{Sides: SidesDouble, PaperSize: PaperLetter}.Normalize()
	if s.Sides != SidesDouble || s.PaperSize != PaperLetter {
		t.Errorf("explicit values overwritten: %+v", s)
	}
}
