package repository

import (
	"context"

	"atypik-backend/internal/models"
	"atypik-backend/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RegionRepository struct {
	collection *mongo.Collection
}

func NewRegionRepository(db *mongo.Database) *RegionRepository {
	return &RegionRepository{
		collection: db.Collection("regions"),
	}
}

func (r *RegionRepository) Create(ctx context.Context, region *models.Region) (*models.Region, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.collection.InsertOne(ctx, region)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	region.ID = result.InsertedID.(primitive.ObjectID)
	return region, nil
}

func (r *RegionRepository) FindByID(ctx context.Context, id string) (*models.Region, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}

	var region models.Region
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&region); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &region, nil
}

func (r *RegionRepository) FindAll(ctx context.Context) ([]*models.Region, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	regions := make([]*models.Region, 0)
	if err := cursor.All(ctx, &regions); err != nil {
		return nil, err
	}
	return regions, nil
}

// CreateIndexes creates necessary indexes for the regions collection
func (r *RegionRepository) CreateIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// NewMongoStores wires every collection repository against db.
func NewMongoStores(db *mongo.Database) (*Stores, []database.Indexer) {
	transports := NewTransportRepository(db)
	missions := NewMissionRepository(db)
	positions := NewPositionRepository(db)
	users := NewUserRepository(db)
	regions := NewRegionRepository(db)

	stores := &Stores{
		Transports: transports,
		Missions:   missions,
		Positions:  positions,
		Users:      users,
		Regions:    regions,
	}
	return stores, []database.Indexer{transports, missions, positions, users, regions}
}
