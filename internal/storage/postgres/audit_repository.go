package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository создаёт PostgreSQL-реализацию AuditRepository.
// Журнал пишется только внутри транзакций движка; здесь — только чтение.
func NewAuditRepository(store *Store) domain.AuditRepository {
	return &auditRepository{db: store.DB()}
}

func (r *auditRepository) Query(filter domain.AuditFilter) ([]domain.AuditEntry, int, error) {
	filter = filter.Normalize()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	where, args := buildAuditWhere(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_entries" + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	orderBy := "occurred_at"
	if filter.SortBy == domain.AuditSortByChange {
		orderBy = "physical_change"
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	offset := (filter.Page - 1) * filter.PerPage
	query := fmt.Sprintf(`
		SELECT id, product_id, operation, physical_before, physical_after, physical_change,
		       reserved_before, reserved_after, reason, notes, order_id, actor, occurred_at
		FROM audit_entries%s
		ORDER BY %s %s, id %s
		LIMIT $%d OFFSET $%d
	`, where, orderBy, direction, direction, len(args)+1, len(args)+2)
	args = append(args, filter.PerPage, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0, filter.PerPage)
	for rows.Next() {
		var (
			entry     domain.AuditEntry
			operation string
			reason    string
		)
		if err := rows.Scan(
			&entry.ID, &entry.ProductID, &operation,
			&entry.PhysicalBefore, &entry.PhysicalAfter, &entry.PhysicalChange,
			&entry.ReservedBefore, &entry.ReservedAfter,
			&reason, &entry.Notes, &entry.OrderID, &entry.Actor, &entry.OccurredAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Operation = domain.AuditOperation(operation)
		entry.Reason = domain.AuditReason(reason)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit rows: %w", err)
	}

	return entries, total, nil
}

func buildAuditWhere(filter domain.AuditFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.ProductID != "" {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.OrderID != "" {
		add("order_id = $%d", filter.OrderID)
	}
	if filter.Operation != "" {
		add("operation = $%d", string(filter.Operation))
	}
	if filter.Reason != "" {
		add("reason = $%d", string(filter.Reason))
	}
	if !filter.DateFrom.IsZero() {
		add("occurred_at >= $%d", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		add("occurred_at <= $%d", filter.DateTo)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var _ domain.AuditRepository = (*auditRepository)(nil)
