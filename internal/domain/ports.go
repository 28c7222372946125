package domain

import (
	"context"
	"time"
)

// ReserveCommand — запрос на удержание остатка под заказ.
type ReserveCommand struct {
	ProductID string
	OrderID   string
	Qty       int64
	// TTL задаёт срок жизни резерва; нулевое значение заменяется
	// значением из конфигурации движка.
	TTL   time.Duration
	Notes string
	Actor string
}

// ReserveResult — итог успешного резервирования.
type ReserveResult struct {
	Reservation    Reservation
	AvailableAfter int64
}

// FulfillCommand — запрос на исполнение активного резерва.
type FulfillCommand struct {
	ProductID string
	OrderID   string
	Qty       int64
	Actor     string
}

// FulfillResult — итог исполнения резерва.
// AlreadyTerminal=true означает идемпотентный повтор: состояние не менялось,
// вторая запись аудита не создавалась.
type FulfillResult struct {
	Reservation     Reservation
	PhysicalAfter   int64
	AvailableAfter  int64
	AlreadyTerminal bool
}

// ReleaseCommand — запрос на снятие активного резерва.
type ReleaseCommand struct {
	ProductID string
	OrderID   string
	// Reason отличает явную отмену (order_cancellation) от системного
	// снятия по истечении срока (other).
	Reason AuditReason
	Notes  string
	Actor  string
}

// ReleaseResult — итог снятия резерва.
type ReleaseResult struct {
	Reservation     Reservation
	AvailableAfter  int64
	AlreadyTerminal bool
}

// ExpiredReservation описывает один резерв, снятый reaper-ом.
type ExpiredReservation struct {
	Reservation    Reservation
	AvailableAfter int64
}

// StockEngine — транзакционное ядро движка. Каждый вызов выполняется как одна
// неделимая единица работы: либо все изменения остатка, резервов, заказов и
// аудита фиксируются вместе, либо не фиксируется ничего. Конкурентная
// корректность обеспечивается изоляцией хранилища (блокировка строк),
// а не мьютексами уровня приложения.
type StockEngine interface {
	// Reserve удерживает qty единиц под заказ. Физический остаток не меняется.
	Reserve(ctx context.Context, cmd ReserveCommand) (ReserveResult, error)
	// Fulfill исполняет активный резерв: списывает физический и
	// зарезервированный остаток, переводит резерв в fulfilled.
	Fulfill(ctx context.Context, cmd FulfillCommand) (FulfillResult, error)
	// Release снимает активный резерв, возвращая остаток в доступный.
	Release(ctx context.Context, cmd ReleaseCommand) (ReleaseResult, error)
	// Adjust применяет административную корректировку физического остатка.
	Adjust(ctx context.Context, cmd AdjustmentCommand) (AdjustmentResult, error)
	// CreateOrder атомарно создаёт заказ: проверяет все позиции, списывает
	// остаток, потребляет привязанные резервы, сохраняет заказ и пишет аудит.
	// При отказе хотя бы одной позиции возвращает OrderRejectedError со
	// списком всех проблемных товаров, не фиксируя никаких изменений.
	CreateOrder(ctx context.Context, order Order) (Order, error)
	// ExpireBatch снимает до limit активных резервов с истёкшим сроком.
	ExpireBatch(ctx context.Context, before time.Time, limit int) ([]ExpiredReservation, error)
}

// StockRepository — чтение и заведение складских записей.
// Мутации остатка проходят только через StockEngine.
type StockRepository interface {
	// Create заводит складскую запись. Возвращает ErrProductExists при повторе.
	Create(rec StockRecord) (StockRecord, error)
	// Get возвращает запись по товару или ErrProductNotFound.
	Get(productID string) (StockRecord, error)
	// SetStatus активирует либо деактивирует товар (soft-deactivate вместо удаления).
	SetStatus(productID string, status StockStatus) error
}

// ReservationRepository — read-only доступ к резервам.
type ReservationRepository interface {
	// Get возвращает резерв по идентификатору или ErrReservationNotFound.
	Get(id string) (Reservation, error)
	// FindActive возвращает активный резерв по паре товар/заказ.
	FindActive(productID, orderID string) (Reservation, error)
	// ListByOrder возвращает все резервы заказа.
	ListByOrder(orderID string) ([]Reservation, error)
}

// AuditRepository — read-only доступ к журналу аудита.
// Единственная мутация журнала — вставка внутри транзакций StockEngine.
type AuditRepository interface {
	// Query возвращает страницу журнала и общее число записей под фильтром.
	Query(filter AuditFilter) ([]AuditEntry, int, error)
}

// OrderRepository — чтение заказов, созданных движком.
type OrderRepository interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
