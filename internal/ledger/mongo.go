package ledger

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists transactions in a MongoDB collection: every
// call wraps a 5s context.WithTimeout, filters are bson.M, and
// mongo.ErrNoDocuments translates to the package's domain ErrNotFound.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore wraps an existing database handle and ensures indexes.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	collection := db.Collection("transactions")
	s := &MongoStore{collection: collection}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "payment_mandate_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "intent_mandate_id", Value: 1}}},
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, tx *Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := s.collection.InsertOne(ctx, tx)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tx Transaction
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *MongoStore) Update(ctx context.Context, tx *Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx.UpdatedAt = time.Now().UTC()
	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": tx.ID}, tx)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CountByIntent(ctx context.Context, intentMandateID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := s.collection.CountDocuments(ctx, bson.M{
		"intent_mandate_id": intentMandateID,
		"status":            bson.M{"$ne": StateFailed},
	})
	return int(count), err
}
