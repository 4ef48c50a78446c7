package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InvalidCart is a stored cart that violates the one-owner rule. Only legacy
// data written before the validator existed can look like this.
type InvalidCart struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Items     int       `json:"items"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RepairReport struct {
	DeletedOwnerless int64    `json:"deletedOwnerless"`
	DetachedSessions int64    `json:"detachedSessions"`
	Conflicts        []string `json:"conflicts,omitempty"`
}

// Maintenance holds the operator-only operations used by cartctl.
type Maintenance struct {
	collection *mongo.Collection
}

func NewMaintenance(db *mongo.Database) *Maintenance {
	return &Maintenance{collection: db.Collection(CartsCollection)}
}

// EnsureSchema installs the validator and owner indexes; see EnsureSchema.
func (m *Maintenance) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, m.collection.Database())
}

func isString(field string) bson.D {
	return bson.D{{Key: field, Value: bson.D{{Key: "$type", Value: "string"}}}}
}

func notString(field string) bson.D {
	return bson.D{{Key: field, Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$type", Value: "string"}}}}}}
}

func bothOwnersFilter() bson.D {
	return append(isString("user_id"), isString("session_id")...)
}

func noOwnerFilter() bson.D {
	return append(notString("user_id"), notString("session_id")...)
}

// DropLegacyIndexes drops every index on user_id or session_id that is not one
// of the partial unique indexes installed by EnsureSchema.
func (m *Maintenance) DropLegacyIndexes(ctx context.Context) ([]string, error) {
	cursor, err := m.collection.Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	defer cursor.Close(ctx)

	var specs []struct {
		Name string `bson:"name"`
		Key  bson.D `bson:"key"`
	}
	if err := cursor.All(ctx, &specs); err != nil {
		return nil, fmt.Errorf("failed to decode indexes: %w", err)
	}

	var dropped []string
	for _, spec := range specs {
		if spec.Name == UserIndexName || spec.Name == SessionIndexName {
			continue
		}
		touchesOwner := false
		for _, k := range spec.Key {
			if k.Key == "user_id" || k.Key == "session_id" {
				touchesOwner = true
			}
		}
		if !touchesOwner {
			continue
		}
		if _, err := m.collection.Indexes().DropOne(ctx, spec.Name); err != nil {
			return dropped, fmt.Errorf("failed to drop index %s: %w", spec.Name, err)
		}
		dropped = append(dropped, spec.Name)
	}

	return dropped, nil
}

// FindInvalidOwners lists carts that carry both owner fields or neither.
func (m *Maintenance) FindInvalidOwners(ctx context.Context, limit int64) ([]InvalidCart, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{bothOwnersFilter(), noOwnerFilter()}}}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find invalid carts: %w", err)
	}
	defer cursor.Close(ctx)

	var result []InvalidCart
	for cursor.Next(ctx) {
		var doc struct {
			ID        primitive.ObjectID `bson:"_id"`
			UserID    interface{}        `bson:"user_id"`
			SessionID interface{}        `bson:"session_id"`
			Items     bson.A             `bson:"items"`
			UpdatedAt time.Time          `bson:"updated_at"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode cart: %w", err)
		}
		result = append(result, InvalidCart{
			ID:        doc.ID.Hex(),
			UserID:    stringOrEmpty(doc.UserID),
			SessionID: stringOrEmpty(doc.SessionID),
			Items:     len(doc.Items),
			UpdatedAt: doc.UpdatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return result, nil
}

// RepairInvalidOwners deletes carts without any owner and strips session_id
// from carts that carry both, leaving them owned by the user. A cart whose
// user already owns another cart is reported as a conflict and left alone.
func (m *Maintenance) RepairInvalidOwners(ctx context.Context) (*RepairReport, error) {
	report := &RepairReport{}

	res, err := m.collection.DeleteMany(ctx, noOwnerFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to delete ownerless carts: %w", err)
	}
	report.DeletedOwnerless = res.DeletedCount

	cursor, err := m.collection.Find(ctx, bothOwnersFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to find dual-owner carts: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc struct {
			ID     primitive.ObjectID `bson:"_id"`
			UserID string             `bson:"user_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode cart: %w", err)
		}

		others, err := m.collection.CountDocuments(ctx, bson.D{
			{Key: "_id", Value: bson.D{{Key: "$ne", Value: doc.ID}}},
			{Key: "user_id", Value: doc.UserID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to count carts for user %s: %w", doc.UserID, err)
		}
		if others > 0 {
			report.Conflicts = append(report.Conflicts, doc.ID.Hex())
			continue
		}

		update := bson.D{{Key: "$unset", Value: bson.D{{Key: "session_id", Value: ""}}}}
		if _, err := m.collection.UpdateByID(ctx, doc.ID, update); err != nil {
			return nil, fmt.Errorf("failed to detach session from cart %s: %w", doc.ID.Hex(), err)
		}
		report.DetachedSessions++
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return report, nil
}

// PurgeAbandonedSessions deletes anonymous carts untouched for olderThan.
func (m *Maintenance) PurgeAbandonedSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	filter := append(isString("session_id"),
		bson.E{Key: "updated_at", Value: bson.D{{Key: "$lt", Value: cutoff}}})

	res, err := m.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to purge session carts: %w", err)
	}
	return res.DeletedCount, nil
}

func stringOrEmpty(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
