package repository

import (
	"context"
	"time"

	"atypik-backend/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type TransportRepository struct {
	collection *mongo.Collection
}

func NewTransportRepository(db *mongo.Database) *TransportRepository {
	return &TransportRepository{
		collection: db.Collection("transports"),
	}
}

func (r *TransportRepository) Create(ctx context.Context, transport *models.Transport) (*models.Transport, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.collection.InsertOne(ctx, transport)
	if err != nil {
		return nil, err
	}

	transport.ID = result.InsertedID.(primitive.ObjectID)
	return transport, nil
}

func (r *TransportRepository) FindByID(ctx context.Context, id string) (*models.Transport, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}

	var transport models.Transport
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&transport)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &transport, nil
}

func (r *TransportRepository) FindUpcomingByOwner(ctx context.Context, ownerID string, from time.Time, limit int64) ([]*models.Transport, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time", Value: 1}}).
		SetLimit(limit)
	filter := bson.M{
		"owner_id": ownerID,
		"date":     bson.M{"$gte": from},
		"status":   bson.M{"$nin": []models.TransportStatus{models.TransportCompleted, models.TransportCancelled}},
	}
	return r.find(ctx, filter, opts)
}

func (r *TransportRepository) FindByOwnerBetween(ctx context.Context, ownerID string, from, to time.Time) ([]*models.Transport, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time", Value: 1}})
	filter := bson.M{
		"owner_id": ownerID,
		"date":     bson.M{"$gte": from, "$lt": to},
	}
	return r.find(ctx, filter, opts)
}

func (r *TransportRepository) FindByDriverBetween(ctx context.Context, driverID string, from, to time.Time) ([]*models.Transport, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time", Value: 1}})
	filter := bson.M{
		"driver_id": driverID,
		"date":      bson.M{"$gte": from, "$lt": to},
	}
	return r.find(ctx, filter, opts)
}

func (r *TransportRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Transport, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	transports := make([]*models.Transport, 0)
	if err := cursor.All(ctx, &transports); err != nil {
		return nil, err
	}
	return transports, nil
}

func (r *TransportRepository) CountByOwner(ctx context.Context, ownerID string) (map[models.TransportStatus]int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"owner_id": ownerID}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status models.TransportStatus `bson:"_id"`
		Count  int64                  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[models.TransportStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *TransportRepository) CountBetween(ctx context.Context, from, to time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return r.collection.CountDocuments(ctx, bson.M{"date": bson.M{"$gte": from, "$lt": to}})
}

func (r *TransportRepository) TransitionStatus(ctx context.Context, id string, to models.TransportStatus, from ...models.TransportStatus) error {
	filter := bson.M{}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": from}
	}
	return r.updateOne(ctx, id, filter, bson.M{"status": to})
}

func (r *TransportRepository) AssignDriver(ctx context.Context, id, driverID string) error {
	return r.updateOne(ctx, id, bson.M{}, bson.M{"driver_id": driverID})
}

func (r *TransportRepository) AddComment(ctx context.Context, id string, comment models.Comment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	oid, err := objectID(id)
	if err != nil {
		return err
	}

	update := bson.M{
		"$push": bson.M{"comments": comment},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// updateOne applies set to the document matching id and the extra filter. A miss is
// reported as ErrNotFound when the document is absent, ErrConditionFailed otherwise.
func (r *TransportRepository) updateOne(ctx context.Context, id string, filter bson.M, set bson.M) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	oid, err := objectID(id)
	if err != nil {
		return err
	}

	filter["_id"] = oid
	set["updated_at"] = time.Now()

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount > 0 {
		return nil
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConditionFailed
}

// CreateIndexes creates necessary indexes for the transports collection
func (r *TransportRepository) CreateIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "date", Value: 1}}},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}
