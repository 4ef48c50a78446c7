package repository

import (
	"context"
	"time"

	"github.com/fjod/go_cart/techstore-cart/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// legacyCollection recreates carts the way it looked before the validator
// and partial indexes existed.
func (s *cartRepositorySuite) legacyCollection() {
	ctx := context.Background()
	s.Require().NoError(s.db.Collection(CartsCollection).Drop(ctx))
	s.Require().NoError(s.db.CreateCollection(ctx, CartsCollection))
}

func (s *cartRepositorySuite) indexNames() []string {
	ctx := context.Background()
	specs, err := s.db.Collection(CartsCollection).Indexes().ListSpecifications(ctx)
	s.Require().NoError(err)
	var names []string
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names
}

func (s *cartRepositorySuite) TestDropLegacyIndexes() {
	ctx := context.Background()
	s.legacyCollection()

	_, err := s.db.Collection(CartsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetName("user_id_1")},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "updated_at", Value: -1}}, Options: options.Index().SetName("session_recent")},
		{Keys: bson.D{{Key: "items.product_id", Value: 1}}, Options: options.Index().SetName("items_product")},
	})
	s.Require().NoError(err)

	m := NewMaintenance(s.db)
	dropped, err := m.DropLegacyIndexes(ctx)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"user_id_1", "session_recent"}, dropped)
	s.ElementsMatch([]string{"_id_", "items_product"}, s.indexNames())

	s.Require().NoError(m.EnsureSchema(ctx))
	s.Subset(s.indexNames(), []string{UserIndexName, SessionIndexName, UpdatedIndexName})

	// the installed indexes are never dropped
	dropped, err = m.DropLegacyIndexes(ctx)
	s.Require().NoError(err)
	s.Empty(dropped)
}

func (s *cartRepositorySuite) TestFindAndRepairInvalidOwners() {
	ctx := context.Background()
	s.legacyCollection()
	now := time.Now().UTC()

	dual := primitive.NewObjectID()
	conflicting := primitive.NewObjectID()
	ownerless := primitive.NewObjectID()
	s.insertRaw(bson.M{"_id": dual, "user_id": "u1", "session_id": "s1", "items": bson.A{}, "updated_at": now})
	s.insertRaw(bson.M{"_id": conflicting, "user_id": "u2", "session_id": "s2", "items": bson.A{}, "updated_at": now})
	s.insertRaw(bson.M{"user_id": "u2", "items": bson.A{}, "updated_at": now})
	s.insertRaw(bson.M{"_id": ownerless, "user_id": nil, "items": bson.A{bson.M{"product_id": "p1", "quantity": 1}}, "updated_at": now.Add(-time.Hour)})
	s.insertRaw(bson.M{"session_id": "s3", "items": bson.A{}, "updated_at": now})

	m := NewMaintenance(s.db)
	invalid, err := m.FindInvalidOwners(ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(invalid, 3)
	// oldest first
	s.Equal(ownerless.Hex(), invalid[0].ID)
	s.Equal(1, invalid[0].Items)

	limited, err := m.FindInvalidOwners(ctx, 1)
	s.Require().NoError(err)
	s.Len(limited, 1)

	report, err := m.RepairInvalidOwners(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), report.DeletedOwnerless)
	s.Equal(int64(1), report.DetachedSessions)
	s.Equal([]string{conflicting.Hex()}, report.Conflicts)

	invalid, err = m.FindInvalidOwners(ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(invalid, 1)
	s.Equal(conflicting.Hex(), invalid[0].ID)

	cart, err := s.repo.FindByOwner(ctx, domain.UserOwner("u1"))
	s.Require().NoError(err)
	s.Equal(dual.Hex(), cart.ID)
}

func (s *cartRepositorySuite) TestPurgeAbandonedSessions() {
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	s.insertRaw(bson.M{"session_id": "stale", "items": bson.A{}, "created_at": old, "updated_at": old})
	s.insertRaw(bson.M{"user_id": "u-old", "items": bson.A{}, "created_at": old, "updated_at": old})
	s.Require().NoError(s.repo.IncrementItem(ctx, domain.SessionOwner("fresh"), "p1", 1, 5))

	n, err := NewMaintenance(s.db).PurgeAbandonedSessions(ctx, 24*time.Hour)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	s.Equal(int64(0), s.countCarts(bson.M{"session_id": "stale"}))
	s.Equal(int64(1), s.countCarts(bson.M{"session_id": "fresh"}))
	s.Equal(int64(1), s.countCarts(bson.M{"user_id": "u-old"}), "user carts are never purged")
}
