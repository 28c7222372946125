package domain

import (
	"testing"
	"time"
)

func TestReservation_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ReservationStatus
		to   ReservationStatus
		want bool
	}{
		{name: "active to fulfilled", from: ReservationStatusActive, to: ReservationStatusFulfilled, want: true},
		{name: "active to cancelled", from: ReservationStatusActive, to: ReservationStatusCancelled, want: true},
		{name: "active to expired", from: ReservationStatusActive, to: ReservationStatusExpired, want: true},
		{name: "active to active", from: ReservationStatusActive, to: ReservationStatusActive, want: false},
		{name: "fulfilled is immutable", from: ReservationStatusFulfilled, to: ReservationStatusCancelled, want: false},
		{name: "cancelled is immutable", from: ReservationStatusCancelled, to: ReservationStatusFulfilled, want: false},
		{name: "expired is immutable", from: ReservationStatusExpired, to: ReservationStatusFulfilled, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Reservation{Status: tt.from}
			if got := r.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s→%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestReservationStatus_Terminal(t *testing.T) {
	if ReservationStatusActive.Terminal() {
		t.Error("active must not be terminal")
	}
	for _, s := range []ReservationStatus{
		ReservationStatusFulfilled, ReservationStatusCancelled, ReservationStatusExpired,
	} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestReservation_Expired(t *testing.T) {
	now := time.Now().UTC()

	r := &Reservation{ExpiresAt: now.Add(-time.Minute)}
	if !r.Expired(now) {
		t.Error("reservation past its deadline must report expired")
	}

	r = &Reservation{ExpiresAt: now.Add(time.Minute)}
	if r.Expired(now) {
		t.Error("reservation before its deadline must not report expired")
	}

	// Нулевой дедлайн — бессрочный резерв.
	r = &Reservation{}
	if r.Expired(now) {
		t.Error("zero deadline must never expire")
	}
}

func TestReservation_Validate(t *testing.T) {
	tests := []struct {
		name        string
		reservation *Reservation
		errCount    int
	}{
		{
			name: "valid reservation",
			reservation: &Reservation{
				ProductID: "prod-1",
				OrderID:   "order-1",
				Qty:       3,
				Status:    ReservationStatusActive,
			},
			errCount: 0,
		},
		{
			name: "missing order id",
			reservation: &Reservation{
				ProductID: "prod-1",
				Qty:       3,
				Status:    ReservationStatusActive,
			},
			errCount: 1,
		},
		{
			name: "zero quantity",
			reservation: &Reservation{
				ProductID: "prod-1",
				OrderID:   "order-1",
				Qty:       0,
				Status:    ReservationStatusActive,
			},
			errCount: 1,
		},
		{
			name:        "everything missing",
			reservation: &Reservation{},
			errCount:    4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.reservation.Validate()
			if len(errs) != tt.errCount {
				t.Errorf("expected %d errors, got %d: %v", tt.errCount, len(errs), errs)
			}
		})
	}
}
