package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

type flakyEngine struct {
	domain.StockEngine

	failuresLeft int
	failWith     error
	calls        int
}

func (f *flakyEngine) Reserve(_ context.Context, cmd domain.ReserveCommand) (domain.ReserveResult, error) {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return domain.ReserveResult{}, f.failWith
	}
	return domain.ReserveResult{AvailableAfter: 42}, nil
}

func (f *flakyEngine) Adjust(_ context.Context, cmd domain.AdjustmentCommand) (domain.AdjustmentResult, error) {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return domain.AdjustmentResult{}, f.failWith
	}
	return domain.AdjustmentResult{ProductID: cmd.ProductID}, nil
}

func fastConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestEngine_RetriesRetryableFailures(t *testing.T) {
	retryable := domain.ErrFulfillmentFailed
	inner := &flakyEngine{failuresLeft: 2, failWith: retryable}
	engine := New(inner, fastConfig(), nil)

	result, err := engine.Reserve(context.Background(), domain.ReserveCommand{ProductID: "p-1", OrderID: "o-1", Qty: 1})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if result.AvailableAfter != 42 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestEngine_GivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyEngine{failuresLeft: 10, failWith: domain.ErrFulfillmentFailed}
	engine := New(inner, fastConfig(), nil)

	_, err := engine.Reserve(context.Background(), domain.ReserveCommand{ProductID: "p-1", OrderID: "o-1", Qty: 1})
	if !errors.Is(err, domain.ErrFulfillmentFailed) {
		t.Fatalf("expected retryable error surfaced, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected exactly MaxAttempts calls, got %d", inner.calls)
	}
}

func TestEngine_DoesNotRetryBusinessErrors(t *testing.T) {
	businessErr := &domain.InsufficientStockError{ProductID: "p-1", Requested: 5, Available: 1}
	inner := &flakyEngine{failuresLeft: 10, failWith: businessErr}
	engine := New(inner, fastConfig(), nil)

	_, err := engine.Reserve(context.Background(), domain.ReserveCommand{ProductID: "p-1", OrderID: "o-1", Qty: 5})
	if !domain.IsInsufficientStock(err) {
		t.Fatalf("expected business error surfaced as-is, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("business errors must not be retried, got %d calls", inner.calls)
	}
}

func TestEngine_StopsOnContextCancel(t *testing.T) {
	inner := &flakyEngine{failuresLeft: 10, failWith: domain.ErrFulfillmentFailed}
	cfg := fastConfig()
	cfg.InitialDelay = 100 * time.Millisecond
	engine := New(inner, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := engine.Adjust(ctx, domain.AdjustmentCommand{ProductID: "p-1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected single attempt before cancel, got %d", inner.calls)
	}
}

func TestNew_NormalizesConfig(t *testing.T) {
	engine := New(&flakyEngine{}, Config{}, nil)

	if engine.config.MaxAttempts != DefaultConfig().MaxAttempts {
		t.Fatalf("unexpected MaxAttempts: %d", engine.config.MaxAttempts)
	}
	if engine.config.InitialDelay != DefaultConfig().InitialDelay {
		t.Fatalf("unexpected InitialDelay: %s", engine.config.InitialDelay)
	}
	if engine.config.BackoffFactor != DefaultConfig().BackoffFactor {
		t.Fatalf("unexpected BackoffFactor: %f", engine.config.BackoffFactor)
	}
}
