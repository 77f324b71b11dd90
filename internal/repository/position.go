package repository

import (
	"context"

	"atypik-backend/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PositionRepository is append-only: it exposes no update or delete.
type PositionRepository struct {
	collection *mongo.Collection
}

func NewPositionRepository(db *mongo.Database) *PositionRepository {
	return &PositionRepository{
		collection: db.Collection("gps_positions"),
	}
}

func (r *PositionRepository) Append(ctx context.Context, position *models.GPSPosition) (*models.GPSPosition, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.collection.InsertOne(ctx, position)
	if err != nil {
		return nil, err
	}

	position.ID = result.InsertedID.(primitive.ObjectID)
	return position, nil
}

func (r *PositionRepository) FindByMission(ctx context.Context, missionID string, limit int64) ([]*models.GPSPosition, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order := 1
	opts := options.Find()
	if limit > 0 {
		order = -1
		opts.SetLimit(limit)
	}
	opts.SetSort(bson.D{{Key: "timestamp", Value: order}, {Key: "_id", Value: order}})

	cursor, err := r.collection.Find(ctx, bson.M{"mission_id": missionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	positions := make([]*models.GPSPosition, 0)
	if err := cursor.All(ctx, &positions); err != nil {
		return nil, err
	}
	if order < 0 {
		for i, j := 0, len(positions)-1; i < j; i, j = i+1, j-1 {
			positions[i], positions[j] = positions[j], positions[i]
		}
	}
	return positions, nil
}

// CreateIndexes creates necessary indexes for the gps_positions collection
func (r *PositionRepository) CreateIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "mission_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "driver_id", Value: 1}}},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}
