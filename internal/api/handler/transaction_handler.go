package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/moneybrain/syncd/internal/domain/transaction"
	"github.com/moneybrain/syncd/internal/sync/coordinator"
)

// Coordinator is the sync façade the transaction endpoints drive.
type Coordinator interface {
	FetchPage(ctx context.Context, page, pageSize int, f transaction.Filter) (coordinator.Page, error)
	Summary(ctx context.Context) (transaction.Aggregates, bool, error)
	Add(ctx context.Context, t transaction.Transaction) (transaction.Transaction, error)
	Update(ctx context.Context, id string, p transaction.Patch) error
	Delete(ctx context.Context, id string) error
}

// TransactionHandler handles HTTP requests for transaction operations.
type TransactionHandler struct {
	coordinator Coordinator
	logger      *slog.Logger
}

// NewTransactionHandler creates a new transaction handler.
func NewTransactionHandler(logger *slog.Logger, coordinator Coordinator) *TransactionHandler {
	return &TransactionHandler{
		coordinator: coordinator,
		logger:      logger,
	}
}

// List returns one reconciled page of transactions.
func (h *TransactionHandler) List(c *gin.Context) {
	var params ListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		h.logger.Error("Invalid list parameters", "error", err)
		RespondBadRequest(c, "Invalid list parameters: "+err.Error())
		return
	}

	filter := transaction.Filter{
		Search: params.Search,
		Type:   transaction.Type(params.Type),
	}

	page, err := h.coordinator.FetchPage(c.Request.Context(), params.Page, params.PerPage, filter)
	if err != nil {
		h.logger.Error("Failed to fetch transactions", "error", err)
		RespondInternalError(c)
		return
	}

	list := make([]TransactionResponse, 0, len(page.Transactions))
	for _, t := range page.Transactions {
		list = append(list, mapTransactionToResponse(t))
	}

	RespondWithPaginatedData(c, list, MetaInfo{
		Page:       page.Page,
		PerPage:    page.PageSize,
		TotalItems: page.Total,
		HasMore:    page.HasMore,
		FromCache:  page.FromCache,
	})
}

// Create records a new transaction, optimistically when offline.
func (h *TransactionHandler) Create(c *gin.Context) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		RespondBadRequest(c, "Invalid date: "+req.Date)
		return
	}

	created, err := h.coordinator.Add(c.Request.Context(), transaction.Transaction{
		Amount:   req.Amount,
		Title:    req.Title,
		Type:     transaction.Type(req.Type),
		Category: req.Category,
		Date:     date,
	})
	if err != nil {
		h.respondOperationError(c, err)
		return
	}

	resp := mapTransactionToResponse(created)
	if resp.Pending {
		// Queued for replay rather than confirmed by the backend.
		RespondAccepted(c, resp)
		return
	}
	RespondCreated(c, resp)
}

// Update patches an existing transaction.
func (h *TransactionHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var req UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "id", id, "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	patch := transaction.Patch{
		Amount:   req.Amount,
		Title:    req.Title,
		Category: req.Category,
	}
	if req.Type != nil {
		typ := transaction.Type(*req.Type)
		patch.Type = &typ
	}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			RespondBadRequest(c, "Invalid date: "+*req.Date)
			return
		}
		patch.Date = &date
	}

	if err := h.coordinator.Update(c.Request.Context(), id, patch); err != nil {
		h.respondOperationError(c, err)
		return
	}

	RespondNoContent(c)
}

// Delete removes a transaction.
func (h *TransactionHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.coordinator.Delete(c.Request.Context(), id); err != nil {
		h.respondOperationError(c, err)
		return
	}

	RespondNoContent(c)
}

// Summary returns the reconciled income, expense and balance totals.
func (h *TransactionHandler) Summary(c *gin.Context) {
	agg, fromCache, err := h.coordinator.Summary(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to compute summary", "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, SummaryResponse{
		Income:    agg.Income,
		Expense:   agg.Expense,
		Balance:   agg.Balance,
		FromCache: fromCache,
	})
}

func (h *TransactionHandler) respondOperationError(c *gin.Context, err error) {
	var notFound *transaction.ErrNotFound
	switch {
	case transaction.IsValidation(err):
		RespondUnprocessable(c, err.Error())
	case errors.As(err, &notFound):
		RespondNotFound(c, err.Error())
	default:
		h.logger.Error("Transaction operation failed", "error", err)
		RespondInternalError(c)
	}
}
