package mongo

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/moneybrain/syncd/internal/domain/transaction"
)

func newTestStore() *TransactionStore {
	return &TransactionStore{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestBuildFilter(t *testing.T) {
	t.Run("user scope only", func(t *testing.T) {
		filter := buildFilter("user-1", transaction.Filter{})
		assert.Equal(t, bson.M{"user_id": "user-1"}, filter)
	})

	t.Run("search matches title or category case-insensitively", func(t *testing.T) {
		filter := buildFilter("user-1", transaction.Filter{Search: "caf(e)"})
		or, ok := filter["$or"].(bson.A)
		assert.True(t, ok)
		assert.Len(t, or, 2)

		pattern := or[0].(bson.M)["title"].(primitive.Regex)
		assert.Equal(t, `caf\(e\)`, pattern.Pattern) // regex metacharacters are quoted
		assert.Equal(t, "i", pattern.Options)
	})

	t.Run("type filter", func(t *testing.T) {
		filter := buildFilter("user-1", transaction.Filter{Type: transaction.TypeLent})
		assert.Equal(t, transaction.TypeLent, filter["type"])
	})
}

func TestTransactionDoc_ToDomain(t *testing.T) {
	now := time.Now()
	doc := transactionDoc{
		ID:       "txn-1",
		UserID:   "user-1",
		Amount:   4200,
		Title:    "Rent",
		Type:     transaction.TypeExpense,
		Category: "Housing",
		Date:     now,
	}

	got := doc.toDomain()
	assert.Equal(t, transaction.Transaction{
		ID:       "txn-1",
		Amount:   4200,
		Title:    "Rent",
		Type:     transaction.TypeExpense,
		Category: "Housing",
		Date:     now,
	}, got)
}

func TestClassify(t *testing.T) {
	store := newTestStore()

	t.Run("no documents maps to not found", func(t *testing.T) {
		var notFound *transaction.ErrNotFound
		assert.ErrorAs(t, store.classify("list", mongo.ErrNoDocuments), &notFound)
	})

	t.Run("driver failure maps to unavailable", func(t *testing.T) {
		err := store.classify("list", errors.New("server selection timeout"))
		assert.True(t, transaction.IsUnavailable(err))
	})
}
