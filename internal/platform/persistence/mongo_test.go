package persistence

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestMongoDB_Accessors(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	// mongo.Connect does not dial until an operation runs, so a disconnected
	// client is enough to exercise the accessors.
	client, err := mongo.Connect(context.TODO(), options.Client().ApplyURI("mongodb://localhost:27017"))
	assert.NoError(t, err)
	db := client.Database("syncd_test")

	mdb := &MongoDB{logger: logger, database: db}
	assert.Equal(t, db, mdb.Database())
	assert.Equal(t, db.Collection("transactions").Name(), mdb.Collection("transactions").Name())
}
