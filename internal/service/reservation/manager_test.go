package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/storage/memory"
)

func newTestManager(t *testing.T) (*Manager, *memory.Engine, domain.OutboxRepository) {
	t.Helper()

	engine := memory.NewEngine(domain.EngineConfig{ReservationTTL: time.Hour})
	outbox := memory.NewOutboxRepository()
	manager := NewManagerWithoutMetrics(engine, engine.Stocks(), engine.Reservations(), outbox, nil)
	return manager, engine, outbox
}

func seedStock(t *testing.T, engine *memory.Engine, productID string, physical, reorderPoint int64) {
	t.Helper()

	_, err := engine.Stocks().Create(domain.StockRecord{
		ProductID:     productID,
		SKU:           "SKU-" + productID,
		Name:          "Product " + productID,
		PhysicalStock: physical,
		ReorderPoint:  reorderPoint,
	})
	if err != nil {
		t.Fatalf("seed stock %s: %v", productID, err)
	}
}

func pendingEvents(t *testing.T, outbox domain.OutboxRepository, eventType string) []domain.OutboxMessage {
	t.Helper()

	msgs, err := outbox.PullPending(100)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	var matched []domain.OutboxMessage
	for _, msg := range msgs {
		if msg.EventType == eventType {
			matched = append(matched, msg)
		}
	}
	return matched
}

func TestManager_ReservePublishesEvent(t *testing.T) {
	manager, engine, outbox := newTestManager(t)
	seedStock(t, engine, "p-1", 10, 0)

	result, err := manager.Reserve(context.Background(), domain.ReserveCommand{
		ProductID: "p-1",
		OrderID:   "o-1",
		Qty:       4,
		Actor:     "api",
	})
	if err != nil {
		t.Fatalf("unexpected reserve error: %v", err)
	}
	if result.AvailableAfter != 6 {
		t.Fatalf("available after = %d, want 6", result.AvailableAfter)
	}
	if result.Reservation.Status != domain.ReservationStatusActive {
		t.Fatalf("reservation status = %s, want active", result.Reservation.Status)
	}

	events := pendingEvents(t, outbox, "stock.reserved")
	if len(events) != 1 {
		t.Fatalf("stock.reserved events = %d, want 1", len(events))
	}
	if events[0].AggregateID != "p-1" {
		t.Errorf("aggregate id = %s, want p-1", events[0].AggregateID)
	}
}

func TestManager_ReserveValidation(t *testing.T) {
	manager, engine, _ := newTestManager(t)
	seedStock(t, engine, "p-1", 10, 0)

	cases := []struct {
		name    string
		cmd     domain.ReserveCommand
		wantErr error
	}{
		{"missing product", domain.ReserveCommand{OrderID: "o-1", Qty: 1}, domain.ErrProductIDRequired},
		{"missing order", domain.ReserveCommand{ProductID: "p-1", Qty: 1}, domain.ErrOrderIDRequired},
		{"zero qty", domain.ReserveCommand{ProductID: "p-1", OrderID: "o-1"}, domain.ErrReservationQtyInvalid},
		{"negative qty", domain.ReserveCommand{ProductID: "p-1", OrderID: "o-1", Qty: -3}, domain.ErrReservationQtyInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := manager.Reserve(context.Background(), tc.cmd); !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestManager_ReserveInsufficientStock(t *testing.T) {
	manager, engine, outbox := newTestManager(t)
	seedStock(t, engine, "p-1", 3, 0)

	_, err := manager.Reserve(context.Background(), domain.ReserveCommand{
		ProductID: "p-1",
		OrderID:   "o-1",
		Qty:       5,
	})
	if !domain.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	if events := pendingEvents(t, outbox, "stock.reserved"); len(events) != 0 {
		t.Fatalf("failed reserve must not publish events, got %d", len(events))
	}
}

func TestManager_ReserveEmitsLowStockAlert(t *testing.T) {
	manager, engine, outbox := newTestManager(t)
	seedStock(t, engine, "p-1", 10, 8)

	_, err := manager.Reserve(context.Background(), domain.ReserveCommand{
		ProductID: "p-1",
		OrderID:   "o-1",
		Qty:       5,
	})
	if err != nil {
		t.Fatalf("unexpected reserve error: %v", err)
	}

	// Доступно 5 при точке перезаказа 8 — сигнал обязателен.
	if events := pendingEvents(t, outbox, "stock.low"); len(events) != 1 {
		t.Fatalf("stock.low events = %d, want 1", len(events))
	}
}

func TestManager_FulfillIsIdempotent(t *testing.T) {
	manager, engine, outbox := newTestManager(t)
	seedStock(t, engine, "p-1", 10, 0)

	if _, err := manager.Reserve(context.Background(), domain.ReserveCommand{
		ProductID: "p-1", OrderID: "o-1", Qty: 4,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	first, err := manager.Fulfill(context.Background(), domain.FulfillCommand{
		ProductID: "p-1", OrderID: "o-1", Qty: 4, Actor: "api",
	})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if first.AlreadyTerminal {
		t.Fatal("first fulfill must not be terminal replay")
	}
	if first.PhysicalAfter != 6 {
		t.Fatalf("physical after = %d, want 6", first.PhysicalAfter)
	}

	second, err := manager.Fulfill(context.Background(), domain.FulfillCommand{
		ProductID: "p-1", OrderID: "o-1", Qty: 4, Actor: "api",
	})
	if err != nil {
		t.Fatalf("repeat fulfill: %v", err)
	}
	if !second.AlreadyTerminal {
		t.Fatal("repeat fulfill must report terminal replay")
	}

	if events := pendingEvents(t, outbox, "stock.fulfilled"); len(events) != 1 {
		t.Fatalf("stock.fulfilled events = %d, want 1", len(events))
	}
}

func TestManager_ReleaseDefaultsToCancellation(t *testing.T) {
	manager, engine, outbox := newTestManager(t)
	seedStock(t, engine, "p-1", 10, 0)

	if _, err := manager.Reserve(context.Background(), domain.ReserveCommand{
		ProductID: "p-1", OrderID: "o-1", Qty: 4,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	result, err := manager.Release(context.Background(), domain.ReleaseCommand{
		ProductID: "p-1", OrderID: "o-1", Actor: "api",
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if result.AvailableAfter != 10 {
		t.Fatalf("available after = %d, want 10", result.AvailableAfter)
	}
	if result.Reservation.Status != domain.ReservationStatusCancelled {
		t.Fatalf("reservation status = %s, want cancelled", result.Reservation.Status)
	}

	entries, _, err := engine.Audits().Query(domain.AuditFilter{ProductID: "p-1"})
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	found := false
	for _, entry := range entries {
		if entry.Operation == domain.AuditOpRelease && entry.Reason == domain.AuditReasonOrderCancellation {
			found = true
		}
	}
	if !found {
		t.Fatal("release without explicit reason must be audited as order_cancellation")
	}

	if events := pendingEvents(t, outbox, "stock.released"); len(events) != 1 {
		t.Fatalf("stock.released events = %d, want 1", len(events))
	}
}

func TestManager_ReleaseOrderSkipsTerminalReservations(t *testing.T) {
	manager, engine, outbox := newTestManager(t)
	seedStock(t, engine, "p-1", 10, 0)
	seedStock(t, engine, "p-2", 10, 0)

	ctx := context.Background()
	for _, productID := range []string{"p-1", "p-2"} {
		if _, err := manager.Reserve(ctx, domain.ReserveCommand{
			ProductID: productID, OrderID: "o-1", Qty: 2,
		}); err != nil {
			t.Fatalf("reserve %s: %v", productID, err)
		}
	}

	// Одна позиция уже исполнена: отмена заказа не должна её трогать.
	if _, err := manager.Fulfill(ctx, domain.FulfillCommand{
		ProductID: "p-1", OrderID: "o-1", Qty: 2, Actor: "api",
	}); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	released, err := manager.ReleaseOrder(ctx, "o-1", "kafka-consumer")
	if err != nil {
		t.Fatalf("release order: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	rec, err := engine.Stocks().Get("p-2")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if rec.ReservedStock != 0 {
		t.Fatalf("p-2 reserved = %d, want 0", rec.ReservedStock)
	}

	if events := pendingEvents(t, outbox, "stock.released"); len(events) != 1 {
		t.Fatalf("stock.released events = %d, want 1", len(events))
	}
}

func TestManager_ReleaseOrderRequiresOrderID(t *testing.T) {
	manager, _, _ := newTestManager(t)

	if _, err := manager.ReleaseOrder(context.Background(), "", "api"); !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("err = %v, want %v", err, domain.ErrOrderIDRequired)
	}
}
