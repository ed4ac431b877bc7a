package directory

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "directory"

type mongoRepo struct {
	coll *mongo.Collection
}

// NewMongoRepository stores entries in the "directory" collection of db and
// creates the unique indexes on username and address.
func NewMongoRepository(ctx context.Context, db *mongo.Database) (Repository, error) {
	coll := db.Collection(collectionName)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "address", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("create directory indexes: %w", err)
	}
	return &mongoRepo{coll: coll}, nil
}

func (r *mongoRepo) Publish(ctx context.Context, e *Entry) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"address": e.Address},
		bson.M{"$set": bson.M{"username": e.Username, "published_at": e.PublishedAt}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("publish directory entry: %w", err)
	}
	return nil
}

func (r *mongoRepo) Get(ctx context.Context, username string) (*Entry, error) {
	var e Entry
	err := r.coll.FindOne(ctx, bson.M{"username": username}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find directory entry: %w", err)
	}
	return &e, nil
}

func (r *mongoRepo) List(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	total, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count directory entries: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "username", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list directory entries: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*Entry
	if err := cursor.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("decode directory entries: %w", err)
	}
	return out, int(total), nil
}
