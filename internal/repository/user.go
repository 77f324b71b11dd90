package repository

import (
	"context"
	"strings"
	"time"

	"atypik-backend/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type UserRepository struct {
	collection *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		collection: db.Collection("users"),
	}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	user.Email = strings.ToLower(user.Email)
	result, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	user.ID = result.InsertedID.(primitive.ObjectID)
	return user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": strings.ToLower(email)})
}

func (r *UserRepository) FindByRole(ctx context.Context, role models.Role) ([]*models.User, error) {
	return r.find(ctx, bson.M{"role": role})
}

func (r *UserRepository) FindDrivers(ctx context.Context, regionID string, status models.DriverStatus) ([]*models.User, error) {
	filter := bson.M{"role": models.RoleDriver}
	if regionID != "" {
		filter["region_id"] = regionID
	}
	if status != "" {
		filter["status"] = status
	}
	return r.find(ctx, filter)
}

func (r *UserRepository) UpdateDriverStatus(ctx context.Context, id string, status models.DriverStatus) error {
	return r.set(ctx, id, bson.M{"role": models.RoleDriver}, bson.M{"status": status})
}

func (r *UserRepository) UpdateRole(ctx context.Context, id string, role models.Role) error {
	return r.set(ctx, id, bson.M{}, bson.M{"role": role})
}

func (r *UserRepository) UpdateRegion(ctx context.Context, id, regionID string) error {
	return r.set(ctx, id, bson.M{}, bson.M{"region_id": regionID})
}

func (r *UserRepository) SetSelectedDriver(ctx context.Context, parentID, driverID string) error {
	return r.set(ctx, parentID, bson.M{"role": models.RoleParent}, bson.M{"selected_driver_id": driverID})
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, id string) error {
	return r.set(ctx, id, bson.M{}, bson.M{"last_login": time.Now()})
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return r.collection.CountDocuments(ctx, bson.M{})
}

func (r *UserRepository) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return r.collection.CountDocuments(ctx, bson.M{"created_at": bson.M{"$gte": since}})
}

func (r *UserRepository) CountDrivers(ctx context.Context, status models.DriverStatus) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return r.collection.CountDocuments(ctx, bson.M{"role": models.RoleDriver, "status": status})
}

func (r *UserRepository) set(ctx context.Context, id string, filter bson.M, fields bson.M) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	oid, err := objectID(id)
	if err != nil {
		return err
	}

	filter["_id"] = oid
	fields["updated_at"] = time.Now()

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var user models.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) find(ctx context.Context, filter bson.M) ([]*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "display_name", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := make([]*models.User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateIndexes creates necessary indexes for the users collection
func (r *UserRepository) CreateIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "role", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "region_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}
