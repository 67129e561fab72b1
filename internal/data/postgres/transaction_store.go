// Package postgres provides the PostgreSQL implementation of the remote
// transaction store. It maps database failures onto the domain error types so
// the sync layers can tell rejected writes apart from an unreachable backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/moneybrain/syncd/internal/domain/transaction"
	"github.com/moneybrain/syncd/internal/platform/persistence"
)

// TransactionStore implements transaction.Store on top of pgx.
type TransactionStore struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewTransactionStore creates a PostgreSQL-backed transaction store using the
// pool from db.
func NewTransactionStore(logger *slog.Logger, db *persistence.PostgresDB) transaction.Store {
	return &TransactionStore{
		querier: db.Pool(),
		logger:  logger,
	}
}

const transactionColumns = "id, amount, title, type, category, occurred_at"

// List returns one page of the user's transactions, newest first, together
// with the total row count for the active filter.
func (s *TransactionStore) List(ctx context.Context, userID string, page, pageSize int, f transaction.Filter) ([]transaction.Transaction, int64, error) {
	where, args := buildFilter(userID, f)

	countQuery := "SELECT COUNT(*) FROM transactions WHERE " + where
	var total int64
	if err := s.querier.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		s.logger.Error("Failed to count transactions", "userID", userID, "error", err)
		return nil, 0, s.classify("list", err)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM transactions WHERE %s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d",
		transactionColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.querier.Query(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to list transactions", "userID", userID, "error", err)
		return nil, 0, s.classify("list", err)
	}
	defer rows.Close()

	list := make([]transaction.Transaction, 0, pageSize)
	for rows.Next() {
		var t transaction.Transaction
		if err := rows.Scan(&t.ID, &t.Amount, &t.Title, &t.Type, &t.Category, &t.Date); err != nil {
			return nil, 0, s.classify("list", err)
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, s.classify("list", err)
	}

	return list, total, nil
}

// aggregatesQuery sums the credit and debit buckets server-side. Bucket
// membership is generated from the domain sign rule so the SQL cannot drift
// from local aggregation.
var aggregatesQuery = fmt.Sprintf(`
	SELECT
		COALESCE(SUM(CASE WHEN type IN (%s) THEN amount ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN type IN (%s) THEN amount ELSE 0 END), 0)
	FROM transactions
	WHERE user_id = $1
`, typeBucket(true), typeBucket(false))

// typeBucket quotes the types whose Credits() matches credits, for an IN list.
func typeBucket(credits bool) string {
	names := make([]string, 0, 2)
	for _, t := range transaction.Types() {
		if t.Credits() == credits {
			names = append(names, "'"+string(t)+"'")
		}
	}
	return strings.Join(names, ", ")
}

// Aggregates computes the income, expense and balance totals for all of the
// user's transactions. Income and borrowed amounts credit, expense and lent
// amounts debit.
func (s *TransactionStore) Aggregates(ctx context.Context, userID string) (transaction.Aggregates, error) {
	var agg transaction.Aggregates
	if err := s.querier.QueryRow(ctx, aggregatesQuery, userID).Scan(&agg.Income, &agg.Expense); err != nil {
		s.logger.Error("Failed to compute aggregates", "userID", userID, "error", err)
		return transaction.Aggregates{}, s.classify("aggregates", err)
	}
	agg.Balance = agg.Income - agg.Expense

	return agg, nil
}

// Create inserts a transaction and returns it with the server-assigned id.
func (s *TransactionStore) Create(ctx context.Context, userID string, t transaction.Transaction) (transaction.Transaction, error) {
	query := `
		INSERT INTO transactions (id, user_id, amount, title, type, category, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	t.ID = uuid.New().String()
	_, err := s.querier.Exec(ctx, query,
		t.ID,
		userID,
		t.Amount,
		t.Title,
		t.Type,
		t.Category,
		t.Date,
	)
	if err != nil {
		s.logger.Error("Failed to create transaction", "userID", userID, "error", err)
		return transaction.Transaction{}, s.classify("create", err)
	}

	return t, nil
}

// Update applies the patch to the user's transaction. Only fields present in
// the patch change.
func (s *TransactionStore) Update(ctx context.Context, userID, id string, p transaction.Patch) error {
	if p.IsZero() {
		return nil
	}

	sets := make([]string, 0, 5)
	args := []interface{}{userID, id}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.Amount != nil {
		add("amount", *p.Amount)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Type != nil {
		add("type", *p.Type)
	}
	if p.Category != nil {
		add("category", *p.Category)
	}
	if p.Date != nil {
		add("occurred_at", *p.Date)
	}

	query := fmt.Sprintf(
		"UPDATE transactions SET %s, updated_at = NOW() WHERE user_id = $1 AND id = $2",
		strings.Join(sets, ", "),
	)

	result, err := s.querier.Exec(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to update transaction", "id", id, "error", err)
		return s.classify("update", err)
	}
	if result.RowsAffected() == 0 {
		return &transaction.ErrNotFound{ID: id}
	}

	return nil
}

// Delete removes the user's transaction by id.
func (s *TransactionStore) Delete(ctx context.Context, userID, id string) error {
	result, err := s.querier.Exec(ctx, "DELETE FROM transactions WHERE user_id = $1 AND id = $2", userID, id)
	if err != nil {
		s.logger.Error("Failed to delete transaction", "id", id, "error", err)
		return s.classify("delete", err)
	}
	if result.RowsAffected() == 0 {
		return &transaction.ErrNotFound{ID: id}
	}

	return nil
}

// Ping verifies the database is reachable.
func (s *TransactionStore) Ping(ctx context.Context) error {
	if _, err := s.querier.Exec(ctx, "SELECT 1"); err != nil {
		return &transaction.ErrUnavailable{Op: "ping", Err: err}
	}
	return nil
}

// buildFilter translates the filter into a WHERE clause scoped to the user.
func buildFilter(userID string, f transaction.Filter) (string, []interface{}) {
	conditions := []string{"user_id = $1"}
	args := []interface{}{userID}

	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR category ILIKE $%d)", len(args), len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}

	return strings.Join(conditions, " AND "), args
}

// classify maps a pgx error onto the domain error types. Constraint
// violations (class 23) mean the data was rejected and retrying is pointless;
// everything else is treated as the backend being unavailable.
func (s *TransactionStore) classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &transaction.ErrNotFound{ID: ""}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return &transaction.ErrValidation{Field: pgErr.ColumnName, Message: pgErr.Message}
	}

	return &transaction.ErrUnavailable{Op: op, Err: err}
}
