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

// MissionRepository persists active missions. The open flag backs a partial unique
// index on transport_id, so two open missions for one transport cannot coexist.
type MissionRepository struct {
	collection *mongo.Collection
}

func NewMissionRepository(db *mongo.Database) *MissionRepository {
	return &MissionRepository{
		collection: db.Collection("active_missions"),
	}
}

func (r *MissionRepository) CreateOpen(ctx context.Context, mission *models.ActiveMission) (*models.ActiveMission, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	mission.Open = true
	result, err := r.collection.InsertOne(ctx, mission)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	mission.ID = result.InsertedID.(primitive.ObjectID)
	return mission, nil
}

func (r *MissionRepository) FindByID(ctx context.Context, id string) (*models.ActiveMission, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *MissionRepository) FindOpenByTransport(ctx context.Context, transportID string) (*models.ActiveMission, error) {
	return r.findOne(ctx, bson.M{"transport_id": transportID, "open": true})
}

func (r *MissionRepository) FindOpenByOwner(ctx context.Context, ownerID string) ([]*models.ActiveMission, error) {
	return r.find(ctx, bson.M{
		"owner_id": ownerID,
		"status":   bson.M{"$in": models.OpenMissionStatuses},
	})
}

func (r *MissionRepository) FindOpenByDriver(ctx context.Context, driverID string) ([]*models.ActiveMission, error) {
	return r.find(ctx, bson.M{
		"driver_id": driverID,
		"status":    bson.M{"$in": models.OpenMissionStatuses},
	})
}

func (r *MissionRepository) CountOpen(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return r.collection.CountDocuments(ctx, bson.M{"status": bson.M{"$in": models.OpenMissionStatuses}})
}

func (r *MissionRepository) UpdatePosition(ctx context.Context, id string, pos models.Position) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	oid, err := objectID(id)
	if err != nil {
		return false, err
	}

	filter := bson.M{
		"_id":  oid,
		"open": true,
		"$or": bson.A{
			bson.M{"current_position": bson.M{"$exists": false}},
			bson.M{"current_position": nil},
			bson.M{"current_position.timestamp": bson.M{"$lt": pos.Timestamp}},
		},
	}
	update := bson.M{"$set": bson.M{
		"current_position": pos,
		"updated_at":       time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}

func (r *MissionRepository) AdvanceStatus(ctx context.Context, id string, from, to models.MissionStatus) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	oid, err := objectID(id)
	if err != nil {
		return err
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": oid, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (r *MissionRepository) Complete(ctx context.Context, id string, endTime time.Time) (*models.ActiveMission, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}

	filter := bson.M{"_id": oid, "status": bson.M{"$ne": models.MissionCompleted}}
	update := bson.M{"$set": bson.M{
		"status":     models.MissionCompleted,
		"open":       false,
		"end_time":   endTime,
		"updated_at": time.Now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var mission models.ActiveMission
	err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&mission)
	if err == nil {
		return &mission, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrConditionFailed
}

func (r *MissionRepository) SetTraceURL(ctx context.Context, id, url string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	oid, err := objectID(id)
	if err != nil {
		return err
	}

	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"trace_url": url}})
	return err
}

func (r *MissionRepository) findOne(ctx context.Context, filter bson.M) (*models.ActiveMission, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var mission models.ActiveMission
	err := r.collection.FindOne(ctx, filter).Decode(&mission)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &mission, nil
}

func (r *MissionRepository) find(ctx context.Context, filter bson.M) ([]*models.ActiveMission, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	missions := make([]*models.ActiveMission, 0)
	if err := cursor.All(ctx, &missions); err != nil {
		return nil, err
	}
	return missions, nil
}

// CreateIndexes creates necessary indexes for the active_missions collection
func (r *MissionRepository) CreateIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "transport_id", Value: 1}},
			Options: options.Index().
				SetName("one_open_mission_per_transport").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"open": true}),
		},
		{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "status", Value: 1}}},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}
