package handler

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/moneybrain/syncd/internal/sync/orchestrator"
)

// SyncEngine is the part of the orchestrator the sync endpoints expose.
type SyncEngine interface {
	Status(ctx context.Context) orchestrator.Status
	DeadLetters() []orchestrator.DeadLetter
	Kick()
}

// SyncHandler exposes the sync engine over HTTP.
type SyncHandler struct {
	engine SyncEngine
	logger *slog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(logger *slog.Logger, engine SyncEngine) *SyncHandler {
	return &SyncHandler{
		engine: engine,
		logger: logger,
	}
}

// Status reports pending work, connectivity and the last run's outcome.
func (h *SyncHandler) Status(c *gin.Context) {
	RespondOK(c, h.engine.Status(c.Request.Context()))
}

// Run schedules a sync run and returns immediately.
func (h *SyncHandler) Run(c *gin.Context) {
	h.engine.Kick()
	RespondAccepted(c, gin.H{"status": "scheduled"})
}

// DeadLetters lists the mutations the engine gave up on.
func (h *SyncHandler) DeadLetters(c *gin.Context) {
	letters := h.engine.DeadLetters()
	if letters == nil {
		letters = []orchestrator.DeadLetter{}
	}
	RespondOK(c, letters)
}
