package database

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// Indexer is implemented by every repository owning a collection.
type Indexer interface {
	CreateIndexes() error
}

// Connect establishes a connection to MongoDB. The database named in the URI
// wins over defaultDB.
func Connect(mongoURI, defaultDB string) (*mongo.Database, error) {
	cs, err := connstring.ParseAndValidate(mongoURI)
	if err != nil {
		return nil, errors.Wrap(err, "invalid MongoDB URI")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to MongoDB")
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "failed to ping MongoDB")
	}

	dbName := cs.Database
	if dbName == "" {
		dbName = defaultDB
	}

	logrus.WithField("database", dbName).Info("Successfully connected to MongoDB")
	return client.Database(dbName), nil
}

// EnsureIndexes creates indexes for every collection. Failures are logged so a
// partially indexed database does not prevent startup.
func EnsureIndexes(indexers ...Indexer) {
	failed := 0
	for _, idx := range indexers {
		if err := idx.CreateIndexes(); err != nil {
			failed++
			logrus.WithError(err).WithField("repository", fmt.Sprintf("%T", idx)).Warn("Failed to create indexes")
		}
	}
	if failed == 0 {
		logrus.Info("Database indexes created successfully")
	}
}

// Disconnect closes the MongoDB connection
func Disconnect(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "failed to disconnect from MongoDB")
	}

	logrus.Info("Disconnected from MongoDB")
	return nil
}

// Health checks the database connection health
func Health(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return db.Client().Ping(ctx, nil)
}
