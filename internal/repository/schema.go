package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	UserIndexName    = "uniq_user_id"
	SessionIndexName = "uniq_session_id"
	UpdatedIndexName = "updated_at_1"

	codeNamespaceExists = 48
)

// cartValidator rejects any cart document that does not carry exactly one
// owner field, or that holds a line with a quantity below 1.
func cartValidator() bson.M {
	ownerID := bson.M{"bsonType": "string", "minLength": 1}
	return bson.M{"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": bson.A{"items"},
		"oneOf": bson.A{
			bson.M{"required": bson.A{"user_id"}, "not": bson.M{"required": bson.A{"session_id"}}},
			bson.M{"required": bson.A{"session_id"}, "not": bson.M{"required": bson.A{"user_id"}}},
		},
		"properties": bson.M{
			"user_id":    ownerID,
			"session_id": ownerID,
			"items": bson.M{
				"bsonType": "array",
				"items": bson.M{
					"bsonType": "object",
					"required": bson.A{"product_id", "quantity"},
					"properties": bson.M{
						"product_id": bson.M{"bsonType": "string"},
						"quantity":   bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 1},
					},
				},
			},
		},
	}}
}

// ownerIndexes are unique only over documents where the field is a string, so
// any number of session carts can coexist without a user_id and vice versa.
func ownerIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetName(UserIndexName).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"user_id": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().
				SetName(SessionIndexName).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"session_id": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetName(UpdatedIndexName),
		},
	}
}

// EnsureSchema installs the owner validator and the partial unique indexes on
// the carts collection. Safe to call on every start.
func EnsureSchema(ctx context.Context, db *mongo.Database) error {
	validator := cartValidator()

	err := db.CreateCollection(ctx, CartsCollection, options.CreateCollection().SetValidator(validator))
	if err != nil {
		var cmdErr mongo.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.Code != codeNamespaceExists {
			return fmt.Errorf("failed to create carts collection: %w", err)
		}
		collMod := bson.D{
			{Key: "collMod", Value: CartsCollection},
			{Key: "validator", Value: validator},
		}
		if err := db.RunCommand(ctx, collMod).Err(); err != nil {
			return fmt.Errorf("failed to update carts validator: %w", err)
		}
	}

	_, err = db.Collection(CartsCollection).Indexes().CreateMany(ctx, ownerIndexes())
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
