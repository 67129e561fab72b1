// Package mongo provides the MongoDB implementation of the remote
// transaction store.
package mongo

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/moneybrain/syncd/internal/domain/transaction"
)

const (
	// TransactionCollectionName is the name of the transactions collection.
	TransactionCollectionName = "transactions"
)

// transactionDoc is the persisted shape of a transaction. The user id lives
// on the document rather than the domain type, so stores stay multi-tenant
// without the sync layers carrying it around.
type transactionDoc struct {
	ID        string           `bson:"_id"`
	UserID    string           `bson:"user_id"`
	Amount    int64            `bson:"amount"`
	Title     string           `bson:"title"`
	Type      transaction.Type `bson:"type"`
	Category  string           `bson:"category"`
	Date      time.Time        `bson:"occurred_at"`
	UpdatedAt time.Time        `bson:"updated_at"`
}

func (d transactionDoc) toDomain() transaction.Transaction {
	return transaction.Transaction{
		ID:       d.ID,
		Amount:   d.Amount,
		Title:    d.Title,
		Type:     d.Type,
		Category: d.Category,
		Date:     d.Date,
	}
}

// TransactionStore implements transaction.Store for MongoDB.
type TransactionStore struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewTransactionStore creates a MongoDB-backed transaction store.
func NewTransactionStore(logger *slog.Logger, db *mongo.Database) transaction.Store {
	return &TransactionStore{
		db:     db,
		logger: logger,
	}
}

// List returns one page of the user's transactions, newest first, together
// with the total document count for the active filter.
func (s *TransactionStore) List(ctx context.Context, userID string, page, pageSize int, f transaction.Filter) ([]transaction.Transaction, int64, error) {
	collection := s.db.Collection(TransactionCollectionName)
	filter := buildFilter(userID, f)

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to count transactions", "user_id", userID, "error", err)
		return nil, 0, s.classify("list", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		s.logger.Error("Failed to list transactions", "user_id", userID, "error", err)
		return nil, 0, s.classify("list", err)
	}
	defer cursor.Close(ctx)

	var docs []transactionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		s.logger.Error("Failed to decode transactions", "user_id", userID, "error", err)
		return nil, 0, s.classify("list", err)
	}

	list := make([]transaction.Transaction, 0, len(docs))
	for _, d := range docs {
		list = append(list, d.toDomain())
	}

	return list, total, nil
}

// Aggregates computes the user's totals by grouping amounts per type and
// folding them through the shared sign rule.
func (s *TransactionStore) Aggregates(ctx context.Context, userID string) (transaction.Aggregates, error) {
	collection := s.db.Collection(TransactionCollectionName)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$type",
			"total": bson.M{"$sum": "$amount"},
		}}},
	}

	cursor, err := collection.Aggregate(ctx, pipeline)
	if err != nil {
		s.logger.Error("Failed to aggregate transactions", "user_id", userID, "error", err)
		return transaction.Aggregates{}, s.classify("aggregates", err)
	}
	defer cursor.Close(ctx)

	var groups []struct {
		Type  transaction.Type `bson:"_id"`
		Total int64            `bson:"total"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		s.logger.Error("Failed to decode aggregates", "user_id", userID, "error", err)
		return transaction.Aggregates{}, s.classify("aggregates", err)
	}

	var agg transaction.Aggregates
	for _, g := range groups {
		agg.Apply(g.Type, g.Total)
	}

	return agg, nil
}

// Create inserts a transaction and returns it with the server-assigned id.
func (s *TransactionStore) Create(ctx context.Context, userID string, t transaction.Transaction) (transaction.Transaction, error) {
	collection := s.db.Collection(TransactionCollectionName)

	t.ID = uuid.New().String()
	doc := transactionDoc{
		ID:        t.ID,
		UserID:    userID,
		Amount:    t.Amount,
		Title:     t.Title,
		Type:      t.Type,
		Category:  t.Category,
		Date:      t.Date,
		UpdatedAt: time.Now(),
	}

	if _, err := collection.InsertOne(ctx, doc); err != nil {
		s.logger.Error("Failed to create transaction", "user_id", userID, "error", err)
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

	collection := s.db.Collection(TransactionCollectionName)

	set := bson.M{"updated_at": time.Now()}
	if p.Amount != nil {
		set["amount"] = *p.Amount
	}
	if p.Title != nil {
		set["title"] = *p.Title
	}
	if p.Type != nil {
		set["type"] = *p.Type
	}
	if p.Category != nil {
		set["category"] = *p.Category
	}
	if p.Date != nil {
		set["occurred_at"] = *p.Date
	}

	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": set},
	)
	if err != nil {
		s.logger.Error("Failed to update transaction", "id", id, "error", err)
		return s.classify("update", err)
	}
	if result.MatchedCount == 0 {
		return &transaction.ErrNotFound{ID: id}
	}

	return nil
}

// Delete removes the user's transaction by id.
func (s *TransactionStore) Delete(ctx context.Context, userID, id string) error {
	collection := s.db.Collection(TransactionCollectionName)

	result, err := collection.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		s.logger.Error("Failed to delete transaction", "id", id, "error", err)
		return s.classify("delete", err)
	}
	if result.DeletedCount == 0 {
		return &transaction.ErrNotFound{ID: id}
	}

	return nil
}

// Ping verifies the MongoDB primary is reachable.
func (s *TransactionStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return &transaction.ErrUnavailable{Op: "ping", Err: err}
	}
	return nil
}

func buildFilter(userID string, f transaction.Filter) bson.M {
	filter := bson.M{"user_id": userID}

	if f.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"category": pattern},
		}
	}
	if f.Type != "" {
		filter["type"] = f.Type
	}

	return filter
}

// classify maps driver errors onto the domain error types. Duplicate keys
// mean the write was rejected and retrying is pointless; everything else is
// treated as the backend being unavailable.
func (s *TransactionStore) classify(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &transaction.ErrNotFound{ID: ""}
	}
	if mongo.IsDuplicateKeyError(err) {
		return &transaction.ErrValidation{Field: "id", Message: "duplicate transaction id"}
	}
	return &transaction.ErrUnavailable{Op: op, Err: err}
}
