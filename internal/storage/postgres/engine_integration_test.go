package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

func newEngineForIntegrationTest(t *testing.T) (domain.StockEngine, domain.StockRepository) {
	t.Helper()

	store := openPostgresStoreForIntegrationTest(t)
	eng := NewEngine(store, domain.EngineConfig{
		ReservationTTL: time.Hour,
		LockTimeout:    2 * time.Second,
	})
	return eng, NewStockRepository(store)
}

func seedStock(t *testing.T, stocks domain.StockRepository, productID string, physical int64) {
	t.Helper()

	_, err := stocks.Create(domain.StockRecord{
		ProductID:     productID,
		SKU:           "SKU-" + productID,
		Name:          "product " + productID,
		PhysicalStock: physical,
		Status:        domain.StockStatusActive,
	})
	if err != nil {
		t.Fatalf("seed stock %s: %v", productID, err)
	}
}

func TestEngine_PostgresReserveFulfillRoundTrip(t *testing.T) {
	eng, stocks := newEngineForIntegrationTest(t)
	ctx := context.Background()

	seedStock(t, stocks, "prod-rt", 10)

	reserved, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-rt",
		OrderID:   "order-rt",
		Qty:       4,
		Actor:     "tester",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserved.AvailableAfter != 6 {
		t.Fatalf("unexpected available after reserve: %d", reserved.AvailableAfter)
	}

	rec, err := stocks.Get("prod-rt")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if rec.PhysicalStock != 10 || rec.ReservedStock != 4 {
		t.Fatalf("unexpected stock after reserve: physical=%d reserved=%d", rec.PhysicalStock, rec.ReservedStock)
	}

	fulfilled, err := eng.Fulfill(ctx, domain.FulfillCommand{
		ProductID: "prod-rt",
		OrderID:   "order-rt",
		Qty:       4,
		Actor:     "tester",
	})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if fulfilled.PhysicalAfter != 6 || fulfilled.AvailableAfter != 6 {
		t.Fatalf("unexpected fulfill result: %+v", fulfilled)
	}
	if fulfilled.Reservation.Status != domain.ReservationStatusFulfilled {
		t.Fatalf("unexpected reservation status: %s", fulfilled.Reservation.Status)
	}

	// Повтор исполнения — идемпотентный no-op.
	again, err := eng.Fulfill(ctx, domain.FulfillCommand{
		ProductID: "prod-rt",
		OrderID:   "order-rt",
		Qty:       4,
		Actor:     "tester",
	})
	if err != nil {
		t.Fatalf("repeat fulfill: %v", err)
	}
	if !again.AlreadyTerminal {
		t.Fatal("expected AlreadyTerminal on repeated fulfill")
	}
	if again.PhysicalAfter != 6 {
		t.Fatalf("repeated fulfill must not change stock: %d", again.PhysicalAfter)
	}
}

func TestEngine_PostgresReserveRejectsOverCommit(t *testing.T) {
	eng, stocks := newEngineForIntegrationTest(t)
	ctx := context.Background()

	seedStock(t, stocks, "prod-over", 5)

	if _, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-over", OrderID: "order-a", Qty: 3, Actor: "tester",
	}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	_, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-over", OrderID: "order-b", Qty: 3, Actor: "tester",
	})
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Requested != 3 || insufficient.Available != 2 {
		t.Fatalf("unexpected error payload: %+v", insufficient)
	}

	if _, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "missing", OrderID: "order-c", Qty: 1, Actor: "tester",
	}); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestEngine_PostgresConcurrentReservesNeverOversell(t *testing.T) {
	eng, stocks := newEngineForIntegrationTest(t)
	ctx := context.Background()

	seedStock(t, stocks, "prod-race", 10)

	const workers = 20
	var wg sync.WaitGroup
	successes := make(chan domain.ReserveResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := eng.Reserve(ctx, domain.ReserveCommand{
				ProductID: "prod-race",
				OrderID:   uuid.NewString(),
				Qty:       1,
				Actor:     "tester",
			})
			if err == nil {
				successes <- result
			}
		}()
	}
	wg.Wait()
	close(successes)

	var granted int64
	for range successes {
		granted++
	}
	if granted != 10 {
		t.Fatalf("expected exactly 10 successful reserves, got %d", granted)
	}

	rec, err := stocks.Get("prod-race")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if rec.ReservedStock != 10 || rec.PhysicalStock != 10 {
		t.Fatalf("unexpected stock after race: physical=%d reserved=%d", rec.PhysicalStock, rec.ReservedStock)
	}
}

func TestEngine_PostgresReleaseAndTransitions(t *testing.T) {
	eng, stocks := newEngineForIntegrationTest(t)
	ctx := context.Background()

	seedStock(t, stocks, "prod-rel", 8)

	if _, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-rel", OrderID: "order-rel", Qty: 5, Actor: "tester",
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	released, err := eng.Release(ctx, domain.ReleaseCommand{
		ProductID: "prod-rel",
		OrderID:   "order-rel",
		Reason:    domain.AuditReasonOrderCancellation,
		Actor:     "tester",
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.AvailableAfter != 8 {
		t.Fatalf("unexpected available after release: %d", released.AvailableAfter)
	}

	// Повторная отмена — no-op.
	again, err := eng.Release(ctx, domain.ReleaseCommand{
		ProductID: "prod-rel",
		OrderID:   "order-rel",
		Reason:    domain.AuditReasonOrderCancellation,
		Actor:     "tester",
	})
	if err != nil {
		t.Fatalf("repeat release: %v", err)
	}
	if !again.AlreadyTerminal {
		t.Fatal("expected AlreadyTerminal on repeated release")
	}

	// Исполнить отменённый резерв нельзя.
	_, err = eng.Fulfill(ctx, domain.FulfillCommand{
		ProductID: "prod-rel", OrderID: "order-rel", Qty: 5, Actor: "tester",
	})
	if !domain.IsInvalidTransition(err) {
		t.Fatalf("expected TransitionError on fulfill after release, got %v", err)
	}
}

func TestEngine_PostgresAdjustRespectsReservations(t *testing.T) {
	eng, stocks := newEngineForIntegrationTest(t)
	ctx := context.Background()

	seedStock(t, stocks, "prod-adj", 10)

	if _, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-adj", OrderID: "order-adj", Qty: 6, Actor: "tester",
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := eng.Adjust(ctx, domain.AdjustmentCommand{
		ProductID: "prod-adj",
		Type:      domain.AdjustmentSet,
		Quantity:  4,
		Reason:    domain.AuditReasonCorrection,
		Actor:     "tester",
	})
	if !domain.IsInsufficientUnreservedStock(err) {
		t.Fatalf("expected InsufficientUnreservedStockError, got %v", err)
	}

	result, err := eng.Adjust(ctx, domain.AdjustmentCommand{
		ProductID: "prod-adj",
		Type:      domain.AdjustmentIncrease,
		Quantity:  5,
		Reason:    domain.AuditReasonReceived,
		Actor:     "tester",
	})
	if err != nil {
		t.Fatalf("adjust increase: %v", err)
	}
	if result.NewPhysicalStock != 15 || result.AvailableAfter != 9 {
		t.Fatalf("unexpected adjust result: %+v", result)
	}
}

func TestEngine_PostgresCreateOrderAtomicity(t *testing.T) {
	eng, stocks := newEngineForIntegrationTest(t)
	ctx := context.Background()

	seedStock(t, stocks, "prod-ord-a", 10)
	seedStock(t, stocks, "prod-ord-b", 1)

	order := domain.Order{
		ID:         uuid.NewString(),
		Number:     "IMS-20260831-test1",
		CustomerID: "customer-1",
		Currency:   "USD",
		TotalMinor: 700,
		Items: []domain.OrderItem{
			{ProductID: "prod-ord-a", Qty: 2, PriceMinor: 100, LineTotalMinor: 200},
			{ProductID: "prod-ord-b", Qty: 5, PriceMinor: 100, LineTotalMinor: 500},
		},
	}

	_, err := eng.CreateOrder(ctx, order)
	var rejected *domain.OrderRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected OrderRejectedError, got %v", err)
	}
	if len(rejected.Failed) != 1 || rejected.Failed[0].ProductID != "prod-ord-b" {
		t.Fatalf("unexpected failed products: %+v", rejected.Failed)
	}

	// Отказ одной позиции не должен тронуть остаток другой.
	recA, err := stocks.Get("prod-ord-a")
	if err != nil {
		t.Fatalf("get prod-ord-a: %v", err)
	}
	if recA.PhysicalStock != 10 || recA.ReservedStock != 0 {
		t.Fatalf("rejected order must not mutate stock: %+v", recA)
	}

	order.Items[1].Qty = 1
	order.Items[1].LineTotalMinor = 100
	order.TotalMinor = 300
	created, err := eng.CreateOrder(ctx, order)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if created.Status != domain.OrderStatusCreated {
		t.Fatalf("unexpected order status: %s", created.Status)
	}

	recA, _ = stocks.Get("prod-ord-a")
	recB, _ := stocks.Get("prod-ord-b")
	if recA.PhysicalStock != 8 || recB.PhysicalStock != 0 {
		t.Fatalf("unexpected stock after order: a=%d b=%d", recA.PhysicalStock, recB.PhysicalStock)
	}
}

func TestEngine_PostgresCreateOrderConsumesReservations(t *testing.T) {
	eng, stocks := newEngineForIntegrationTest(t)
	ctx := context.Background()

	seedStock(t, stocks, "prod-held", 3)

	reserved, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-held", OrderID: "order-held", Qty: 3, Actor: "tester",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Весь остаток удержан, но заказ-владелец резерва проходит.
	order := domain.Order{
		ID:             "order-held",
		Number:         "IMS-20260831-test2",
		CustomerID:     "customer-2",
		Currency:       "USD",
		TotalMinor:     300,
		ReservationIDs: []string{reserved.Reservation.ID},
		Items: []domain.OrderItem{
			{ProductID: "prod-held", Qty: 3, PriceMinor: 100, LineTotalMinor: 300},
		},
	}
	if _, err := eng.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order with reservation: %v", err)
	}

	rec, err := stocks.Get("prod-held")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if rec.PhysicalStock != 0 || rec.ReservedStock != 0 {
		t.Fatalf("unexpected stock after consuming reservation: %+v", rec)
	}
}

func TestEngine_PostgresExpireBatch(t *testing.T) {
	eng, stocks := newEngineForIntegrationTest(t)
	ctx := context.Background()

	seedStock(t, stocks, "prod-exp", 10)

	if _, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-exp",
		OrderID:   "order-exp",
		Qty:       4,
		TTL:       time.Millisecond,
		Actor:     "tester",
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	expired, err := eng.ExpireBatch(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("expire batch: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired reservation, got %d", len(expired))
	}
	if expired[0].Reservation.Status != domain.ReservationStatusExpired {
		t.Fatalf("unexpected status: %s", expired[0].Reservation.Status)
	}
	if expired[0].AvailableAfter != 10 {
		t.Fatalf("unexpected available after expiry: %d", expired[0].AvailableAfter)
	}

	// Повторный запуск ничего не находит.
	expired, err = eng.ExpireBatch(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("second expire batch: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected no expired reservations, got %d", len(expired))
	}
}

func TestEngine_PostgresAuditTrailComplete(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	eng := NewEngine(store, domain.EngineConfig{})
	stocks := NewStockRepository(store)
	audits := NewAuditRepository(store)
	ctx := context.Background()

	seedStock(t, stocks, "prod-audit", 10)

	if _, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-audit", OrderID: "order-audit", Qty: 2, Actor: "tester",
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := eng.Fulfill(ctx, domain.FulfillCommand{
		ProductID: "prod-audit", OrderID: "order-audit", Qty: 2, Actor: "tester",
	}); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if _, err := eng.Adjust(ctx, domain.AdjustmentCommand{
		ProductID: "prod-audit", Type: domain.AdjustmentIncrease, Quantity: 3,
		Reason: domain.AuditReasonReceived, Actor: "tester",
	}); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	entries, total, err := audits.Query(domain.AuditFilter{ProductID: "prod-audit"})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if total != 3 || len(entries) != 3 {
		t.Fatalf("expected 3 audit entries, got total=%d len=%d", total, len(entries))
	}
	for _, entry := range entries {
		if !entry.Consistent() {
			t.Fatalf("inconsistent audit entry: %+v", entry)
		}
	}
	if entries[0].Operation != domain.AuditOpReserve ||
		entries[1].Operation != domain.AuditOpFulfill ||
		entries[2].Operation != domain.AuditOpIncrease {
		t.Fatalf("unexpected audit sequence: %+v", entries)
	}
}

func TestEngine_PostgresDuplicateReserveForPairConflicts(t *testing.T) {
	eng, stocks := newEngineForIntegrationTest(t)
	ctx := context.Background()

	seedStock(t, stocks, "prod-dup", 10)

	if _, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-dup", OrderID: "order-dup", Qty: 2, Actor: "tester",
	}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	// Второй активный резерв той же пары упирается в частичный
	// уникальный индекс reservations_active_pair_uidx.
	if _, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-dup", OrderID: "order-dup", Qty: 1, Actor: "tester",
	}); !errors.Is(err, domain.ErrReservationExists) {
		t.Fatalf("expected ErrReservationExists, got %v", err)
	}

	// После снятия резерва пара снова свободна.
	if _, err := eng.Release(ctx, domain.ReleaseCommand{
		ProductID: "prod-dup", OrderID: "order-dup",
		Reason: domain.AuditReasonOther, Actor: "tester",
	}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-dup", OrderID: "order-dup", Qty: 2, Actor: "tester",
	}); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestEngine_PostgresCreateOrderRejectsUncoveredReservation(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	eng := NewEngine(store, domain.EngineConfig{
		ReservationTTL: time.Hour,
		LockTimeout:    2 * time.Second,
	})
	stocks := NewStockRepository(store)
	reservations := NewReservationRepository(store)
	ctx := context.Background()

	seedStock(t, stocks, "prod-in", 5)
	seedStock(t, stocks, "prod-out", 5)

	reserved, err := eng.Reserve(ctx, domain.ReserveCommand{
		ProductID: "prod-out", OrderID: "order-cov", Qty: 3, Actor: "tester",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Резерв держит товар, которого нет в позициях заказа.
	_, err = eng.CreateOrder(ctx, domain.Order{
		ID:             "order-cov",
		Number:         "IMS-20260831-cov",
		CustomerID:     "customer-3",
		Currency:       "USD",
		TotalMinor:     100,
		ReservationIDs: []string{reserved.Reservation.ID},
		Items: []domain.OrderItem{
			{ProductID: "prod-in", Qty: 1, PriceMinor: 100, LineTotalMinor: 100},
		},
	})
	if !errors.Is(err, domain.ErrReservationNotInOrder) {
		t.Fatalf("expected ErrReservationNotInOrder, got %v", err)
	}

	// Откат полный: остаток по-прежнему удержан, резерв активен.
	rec, err := stocks.Get("prod-out")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if rec.ReservedStock != 3 {
		t.Fatalf("reserved stock must stay held, got %d", rec.ReservedStock)
	}
	res, err := reservations.Get(reserved.Reservation.ID)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if res.Status != domain.ReservationStatusActive {
		t.Fatalf("reservation must stay active, got %s", res.Status)
	}

	// Резерв на большее количество, чем покупает заказ, тоже не проходит.
	_, err = eng.CreateOrder(ctx, domain.Order{
		ID:             "order-cov",
		Number:         "IMS-20260831-cov",
		CustomerID:     "customer-3",
		Currency:       "USD",
		TotalMinor:     200,
		ReservationIDs: []string{reserved.Reservation.ID},
		Items: []domain.OrderItem{
			{ProductID: "prod-out", Qty: 2, PriceMinor: 100, LineTotalMinor: 200},
		},
	})
	if !errors.Is(err, domain.ErrReservationNotInOrder) {
		t.Fatalf("expected ErrReservationNotInOrder for over-held qty, got %v", err)
	}
}
