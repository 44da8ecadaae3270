package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/microvolunteer/platform/models"
	"github.com/microvolunteer/platform/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const TasksCollection = "tasks"

// MongoTaskStore keeps tasks in a Mongo collection. State transitions are
// FindOneAndUpdate calls whose filter carries the precondition.
type MongoTaskStore struct {
	collection *mongo.Collection
}

func NewMongoTaskStore(db *mongo.Database) *MongoTaskStore {
	return &MongoTaskStore{collection: db.Collection(TasksCollection)}
}

// EnsureIndexes creates the listing and geo indexes.
func (s *MongoTaskStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "creator_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "claimed_by_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "geo", Value: "2dsphere"}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create task indexes: %w", err)
	}
	return nil
}

func (s *MongoTaskStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID.IsZero() {
		task.ID = primitive.NewObjectID()
	}
	task.Geo = models.NewGeoPoint(task.Location)
	if _, err := s.collection.InsertOne(ctx, task); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *MongoTaskStore) GetTask(ctx context.Context, id primitive.ObjectID) (*models.Task, error) {
	var task models.Task
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return &task, nil
}

func (s *MongoTaskStore) ListTasks(ctx context.Context, f TaskFilter) iter.Seq2[*models.Task, error] {
	return func(yield func(*models.Task, error) bool) {
		findOptions := options.Find()
		findOptions.SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}) // Show latest first
		if f.Skip > 0 {
			findOptions.SetSkip(f.Skip)
		}
		if f.Limit > 0 {
			findOptions.SetLimit(f.Limit)
		}

		cursor, err := s.collection.Find(ctx, taskQuery(f), findOptions)
		if err != nil {
			yield(nil, fmt.Errorf("failed to query tasks: %w", err))
			return
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var task models.Task
			if err := cursor.Decode(&task); err != nil {
				yield(nil, fmt.Errorf("failed to decode task: %w", err))
				return
			}
			if !yield(&task, nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(nil, fmt.Errorf("task cursor failed: %w", err))
		}
	}
}

func taskQuery(f TaskFilter) bson.M {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.CreatorID != nil {
		filter["creator_id"] = *f.CreatorID
	}
	if f.ClaimedByID != nil {
		filter["claimed_by_id"] = *f.ClaimedByID
	}
	if f.Near != nil {
		filter["geo"] = bson.M{"$geoWithin": bson.M{
			"$centerSphere": bson.A{
				bson.A{f.Near.Lng, f.Near.Lat},
				f.Near.RadiusKm / utils.EarthRadiusKm,
			},
		}}
	}
	return filter
}

func (s *MongoTaskStore) ClaimTask(ctx context.Context, id, claimant primitive.ObjectID, allowCreator bool, at time.Time) (*models.Task, error) {
	filter := bson.M{"_id": id, "status": models.TaskStatusOpen}
	if !allowCreator {
		filter["creator_id"] = bson.M{"$ne": claimant}
	}
	return s.conditionalUpdate(ctx, id, filter, bson.M{"$set": bson.M{
		"status":        models.TaskStatusClaimed,
		"claimed_by_id": claimant,
		"claimed_at":    at,
		"updated_at":    at,
	}})
}

func (s *MongoTaskStore) CompleteTask(ctx context.Context, id, actor primitive.ObjectID, at time.Time) (*models.Task, error) {
	filter := bson.M{
		"_id":    id,
		"status": models.TaskStatusClaimed,
		"$or": bson.A{
			bson.M{"creator_id": actor},
			bson.M{"claimed_by_id": actor},
		},
	}
	return s.conditionalUpdate(ctx, id, filter, bson.M{"$set": bson.M{
		"status":       models.TaskStatusCompleted,
		"completed_at": at,
		"updated_at":   at,
	}})
}

func (s *MongoTaskStore) UpdateOpenTask(ctx context.Context, id, creator primitive.ObjectID, edit models.TaskEdit, at time.Time) (*models.Task, error) {
	set := bson.M{"updated_at": at}
	update := bson.M{"$set": set}
	if edit.Title != nil {
		set["title"] = *edit.Title
	}
	if edit.Description != nil {
		set["description"] = *edit.Description
	}
	if edit.Location != nil {
		set["location"] = *edit.Location
		if geo := models.NewGeoPoint(*edit.Location); geo != nil {
			set["geo"] = geo
		} else {
			update["$unset"] = bson.M{"geo": ""}
		}
	}

	filter := bson.M{"_id": id, "status": models.TaskStatusOpen, "creator_id": creator}
	return s.conditionalUpdate(ctx, id, filter, update)
}

func (s *MongoTaskStore) DeleteOpenTask(ctx context.Context, id, creator primitive.ObjectID) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id, "status": models.TaskStatusOpen, "creator_id": creator})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

func (s *MongoTaskStore) conditionalUpdate(ctx context.Context, id primitive.ObjectID, filter, update bson.M) (*models.Task, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var task models.Task
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&task)
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return nil, s.missOrConflict(ctx, id)
}

// missOrConflict tells apart a missing task from one whose precondition failed.
func (s *MongoTaskStore) missOrConflict(ctx context.Context, id primitive.ObjectID) error {
	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to check task: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}
