package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moneybrain/syncd/internal/api/handler"
	"github.com/moneybrain/syncd/internal/api/middleware"
)

// setupRouter configures API routes and middleware.
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	transactionHandler *handler.TransactionHandler,
	syncHandler *handler.SyncHandler,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	v1 := r.Group("/api/v1")
	{
		transactions := v1.Group("/transactions")
		{
			transactions.GET("", transactionHandler.List)
			transactions.POST("", transactionHandler.Create)
			transactions.PATCH("/:id", transactionHandler.Update)
			transactions.DELETE("/:id", transactionHandler.Delete)
		}

		v1.GET("/summary", transactionHandler.Summary)

		sync := v1.Group("/sync")
		{
			sync.GET("/status", syncHandler.Status)
			sync.POST("/run", syncHandler.Run)
			sync.GET("/dead-letters", syncHandler.DeadLetters)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
