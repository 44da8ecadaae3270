package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microvolunteer/platform/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const UsersCollection = "users"

// MongoUserStore keeps users in a Mongo collection with a unique email index.
type MongoUserStore struct {
	collection *mongo.Collection
}

func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	return &MongoUserStore{collection: db.Collection(UsersCollection)}
}

// EnsureIndexes creates the unique email index. Safe to call on every start.
func (s *MongoUserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	return nil
}

func (s *MongoUserStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if _, err := s.collection.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *MongoUserStore) GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoUserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *MongoUserStore) UpdateProfile(ctx context.Context, id primitive.ObjectID, update models.ProfileUpdate, at time.Time) (*models.User, error) {
	set := bson.M{"updated_at": at}
	unset := bson.M{}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Gender != nil {
		if *update.Gender == "" {
			unset["gender"] = ""
		} else {
			set["gender"] = *update.Gender
		}
	}
	if update.About != nil {
		if *update.About == "" {
			unset["about"] = ""
		} else {
			set["about"] = *update.About
		}
	}

	doc := bson.M{"$set": set}
	if len(unset) > 0 {
		doc["$unset"] = unset
	}
	return s.findOneAndUpdate(ctx, bson.M{"_id": id}, doc)
}

func (s *MongoUserStore) SetProfilePicture(ctx context.Context, id primitive.ObjectID, ref string, at time.Time) (*models.User, error) {
	return s.findOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"profile_picture": ref, "updated_at": at},
	})
}

func (s *MongoUserStore) SetResetCode(ctx context.Context, id primitive.ObjectID, codeHash string, expiresAt, at time.Time) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"reset_code_hash":       codeHash,
			"reset_code_expires_at": expiresAt,
			"updated_at":            at,
		},
		"$unset": bson.M{"reset_attempts": ""},
	})
	if err != nil {
		return fmt.Errorf("failed to store reset code: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) RecordResetAttempt(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"reset_attempts": 1},
	})
	if err != nil {
		return fmt.Errorf("failed to record reset attempt: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) ResetPassword(ctx context.Context, id primitive.ObjectID, codeHash, passwordHash string, at time.Time) error {
	filter := bson.M{
		"_id":                   id,
		"reset_code_hash":       codeHash,
		"reset_code_expires_at": bson.M{"$gt": at},
		"reset_attempts":        bson.M{"$not": bson.M{"$gte": models.MaxResetAttempts}},
	}
	res, err := s.collection.UpdateOne(ctx, filter, bson.M{
		"$set":   bson.M{"password": passwordHash, "updated_at": at},
		"$unset": bson.M{"reset_code_hash": "", "reset_code_expires_at": "", "reset_attempts": ""},
	})
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (s *MongoUserStore) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := s.collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

func (s *MongoUserStore) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*models.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return &user, nil
}
