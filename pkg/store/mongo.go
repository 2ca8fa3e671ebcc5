package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	walletsCollection   = "wallets"
	responsesCollection = "responses"
)

// MongoStore keeps wallets and responses in MongoDB
type MongoStore struct {
	client    *mongo.Client
	wallets   *mongo.Collection
	responses *mongo.Collection
}

// NewMongoStore connects to uri and checks the primary is reachable
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	return &MongoStore{
		client:    client,
		wallets:   db.Collection(walletsCollection),
		responses: db.Collection(responsesCollection),
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, userID string) (*Wallet, error) {
	var w Wallet
	err := s.wallets.FindOne(ctx, bson.M{"userId": userID}).Decode(&w)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading wallet: %w", err)
	}
	return &w, nil
}

func (s *MongoStore) Save(ctx context.Context, wallet *Wallet) error {
	_, err := s.wallets.UpdateOne(ctx,
		bson.M{"userId": wallet.UserID},
		bson.M{"$set": wallet},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("error saving wallet: %w", err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.wallets.DeleteOne(ctx, bson.M{"userId": userID}); err != nil {
		return fmt.Errorf("error deleting wallet: %w", err)
	}
	return nil
}

func (s *MongoStore) Record(ctx context.Context, resp *Response) error {
	if _, err := s.responses.InsertOne(ctx, resp); err != nil {
		return fmt.Errorf("error recording response: %w", err)
	}
	return nil
}

// Close disconnects from the server
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
