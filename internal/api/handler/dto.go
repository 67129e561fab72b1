package handler

import (
	"time"

	"github.com/moneybrain/syncd/internal/domain/transaction"
)

// CreateTransactionRequest is the body for POST /transactions.
type CreateTransactionRequest struct {
	Amount   int64  `json:"amount" binding:"min=0"`
	Title    string `json:"title" binding:"required"`
	Type     string `json:"type" binding:"required,oneof=income expense lent borrowed"`
	Category string `json:"category" binding:"required"`
	Date     string `json:"date,omitempty"`
}

// UpdateTransactionRequest is the body for PATCH /transactions/:id. Absent
// fields stay untouched.
type UpdateTransactionRequest struct {
	Amount   *int64  `json:"amount,omitempty"`
	Title    *string `json:"title,omitempty"`
	Type     *string `json:"type,omitempty"`
	Category *string `json:"category,omitempty"`
	Date     *string `json:"date,omitempty"`
}

// ListParams are the query parameters for GET /transactions.
type ListParams struct {
	Page    int    `form:"page,default=1" binding:"min=1"`
	PerPage int    `form:"per_page,default=20" binding:"min=1,max=100"`
	Search  string `form:"search"`
	Type    string `form:"type" binding:"omitempty,oneof=income expense lent borrowed"`
}

// TransactionResponse is one transaction in API responses.
type TransactionResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	Category string `json:"category"`
	Date     string `json:"date"`
	Pending  bool   `json:"pending,omitempty"`
}

// SummaryResponse carries the reconciled totals.
type SummaryResponse struct {
	Income    int64 `json:"income"`
	Expense   int64 `json:"expense"`
	Balance   int64 `json:"balance"`
	FromCache bool  `json:"from_cache,omitempty"`
}

func mapTransactionToResponse(t transaction.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:       t.ID,
		Amount:   t.Amount,
		Title:    t.Title,
		Type:     string(t.Type),
		Category: t.Category,
		Date:     t.Date.Format(time.RFC3339),
		Pending:  transaction.IsLocalID(t.ID),
	}
}

// parseDate accepts RFC 3339 or a bare date, defaulting to now.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", raw)
}
