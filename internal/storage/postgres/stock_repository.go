package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) Create(rec domain.StockRecord) (domain.StockRecord, error) {
	if rec.Status == "" {
		rec.Status = domain.StockStatusActive
	}
	if errs := rec.ValidateInvariants(); len(errs) > 0 {
		return domain.StockRecord{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_records (
			product_id, sku, name, physical_stock, reserved_stock,
			reorder_point, reorder_qty, max_stock_level,
			status, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		rec.ProductID, rec.SKU, rec.Name, rec.PhysicalStock, rec.ReservedStock,
		rec.ReorderPoint, rec.ReorderQty, rec.MaxStockLevel,
		string(rec.Status), rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.StockRecord{}, domain.ErrProductExists
		}
		return domain.StockRecord{}, fmt.Errorf("insert stock record: %w", err)
	}

	return rec, nil
}

func (r *stockRepository) Get(productID string) (domain.StockRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		rec    domain.StockRecord
		status string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, sku, name, physical_stock, reserved_stock,
		       reorder_point, reorder_qty, max_stock_level,
		       status, version, created_at, updated_at
		FROM stock_records
		WHERE product_id = $1
	`, productID).Scan(
		&rec.ProductID, &rec.SKU, &rec.Name, &rec.PhysicalStock, &rec.ReservedStock,
		&rec.ReorderPoint, &rec.ReorderQty, &rec.MaxStockLevel,
		&status, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockRecord{}, domain.ErrProductNotFound
		}
		return domain.StockRecord{}, fmt.Errorf("get stock record: %w", err)
	}

	rec.Status = domain.StockStatus(status)
	return rec, nil
}

func (r *stockRepository) SetStatus(productID string, status domain.StockStatus) error {
	if !status.Valid() {
		return domain.ErrStockStatusInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE stock_records
		SET status = $2, version = version + 1, updated_at = $3
		WHERE product_id = $1
	`, productID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set stock status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stock status rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ domain.StockRepository = (*stockRepository)(nil)
