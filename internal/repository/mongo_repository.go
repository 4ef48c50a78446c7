package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/techstore-cart/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CartsCollection = "carts"

	// concurrent first-adds and merges can race on the partial unique indexes
	maxWriteAttempts = 3
)

type cartDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    string             `bson:"user_id,omitempty"`
	SessionID string             `bson:"session_id,omitempty"`
	Items     []itemDocument     `bson:"items"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type itemDocument struct {
	ProductID string    `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	AddedAt   time.Time `bson:"added_at"`
}

func (d cartDocument) toDomain() (*domain.Cart, error) {
	hasUser, hasSession := d.UserID != "", d.SessionID != ""
	if hasUser == hasSession {
		return nil, &domain.InvalidOwnerStateError{
			CartID:     d.ID.Hex(),
			HasUser:    hasUser,
			HasSession: hasSession,
		}
	}

	owner := domain.UserOwner(d.UserID)
	if hasSession {
		owner = domain.SessionOwner(d.SessionID)
	}

	items := make([]domain.CartItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, domain.CartItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			AddedAt:   it.AddedAt,
		})
	}

	return &domain.Cart{
		ID:        d.ID.Hex(),
		Owner:     owner,
		Items:     items,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func toItemDocuments(items []domain.CartItem) []itemDocument {
	docs := make([]itemDocument, 0, len(items))
	for _, it := range items {
		docs = append(docs, itemDocument{ProductID: it.ProductID, Quantity: it.Quantity, AddedAt: it.AddedAt})
	}
	return docs
}

// ownerFilter is the only place an owner turns into a query, so every write
// path matches (and on upsert, seeds) exactly one owner field.
func ownerFilter(owner domain.Owner) (bson.D, error) {
	switch {
	case owner.IsUser():
		return bson.D{{Key: "user_id", Value: owner.ID()}}, nil
	case owner.IsSession():
		return bson.D{{Key: "session_id", Value: owner.ID()}}, nil
	default:
		return nil, domain.ErrMissingIdentity
	}
}

func withItem(filter bson.D, productID string) bson.D {
	return append(filter, bson.E{Key: "items.product_id", Value: productID})
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection(CartsCollection),
	}
}

func (m *mongoRepository) FindByOwner(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	filter, err := ownerFilter(owner)
	if err != nil {
		return nil, err
	}

	var doc cartDocument
	err = m.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return doc.toDomain()
}

func (m *mongoRepository) IncrementItem(ctx context.Context, owner domain.Owner, productID string, delta, stock int) error {
	filter, err := ownerFilter(owner)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		now := time.Now().UTC()

		// Existing line: bump it in place, capped at stock.
		bump := mongo.Pipeline{{{Key: "$set", Value: bson.D{
			{Key: "items", Value: bson.D{{Key: "$map", Value: bson.D{
				{Key: "input", Value: "$items"},
				{Key: "as", Value: "it"},
				{Key: "in", Value: bson.D{{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$$it.product_id", productID}}},
					bson.D{{Key: "$mergeObjects", Value: bson.A{
						"$$it",
						bson.D{{Key: "quantity", Value: bson.D{{Key: "$min", Value: bson.A{
							bson.D{{Key: "$add", Value: bson.A{"$$it.quantity", delta}}},
							stock,
						}}}}},
					}}},
					"$$it",
				}}}},
			}}}},
			{Key: "updated_at", Value: now},
		}}}}

		res, err := m.collection.UpdateOne(ctx, withItem(filter, productID), bump)
		if err != nil {
			return fmt.Errorf("failed to update existing item: %w", err)
		}
		if res.MatchedCount > 0 {
			return nil
		}

		// New line; creates the cart when the owner has none yet.
		quantity, _ := domain.ClampQuantity(delta, stock)
		pushFilter := append(filter, bson.E{Key: "items.product_id", Value: bson.D{{Key: "$ne", Value: productID}}})
		push := bson.D{
			{Key: "$push", Value: bson.D{{Key: "items", Value: itemDocument{
				ProductID: productID,
				Quantity:  quantity,
				AddedAt:   now,
			}}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: now}}},
			{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: now}}},
		}

		_, err = m.collection.UpdateOne(ctx, pushFilter, push, options.Update().SetUpsert(true))
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) || attempt >= maxWriteAttempts {
			return fmt.Errorf("failed to add new item: %w", err)
		}
		// Lost a race with a concurrent add for the same owner; retry against the stored cart.
	}
}

func (m *mongoRepository) SetItemQuantity(ctx context.Context, owner domain.Owner, productID string, quantity int) error {
	filter, err := ownerFilter(owner)
	if err != nil {
		return err
	}

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "items.$[elem].quantity", Value: quantity},
		{Key: "updated_at", Value: time.Now().UTC()},
	}}}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"elem.product_id": productID},
		},
	})

	result, err := m.collection.UpdateOne(ctx, withItem(filter, productID), update, arrayFilters)
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}

	if result.MatchedCount == 0 {
		return domain.ErrItemNotInCart
	}
	return nil
}

func (m *mongoRepository) RemoveItem(ctx context.Context, owner domain.Owner, productID string) error {
	filter, err := ownerFilter(owner)
	if err != nil {
		return err
	}

	update := bson.D{
		{Key: "$pull", Value: bson.D{{Key: "items", Value: bson.D{{Key: "product_id", Value: productID}}}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
	}

	if _, err := m.collection.UpdateOne(ctx, withItem(filter, productID), update); err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return nil
}

func (m *mongoRepository) ClearItems(ctx context.Context, owner domain.Owner) error {
	filter, err := ownerFilter(owner)
	if err != nil {
		return err
	}
	filter = append(filter, bson.E{Key: "items.0", Value: bson.D{{Key: "$exists", Value: true}}})

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "items", Value: bson.A{}},
		{Key: "updated_at", Value: time.Now().UTC()},
	}}}

	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

func (m *mongoRepository) DeleteByOwner(ctx context.Context, owner domain.Owner) error {
	filter, err := ownerFilter(owner)
	if err != nil {
		return err
	}

	result, err := m.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	if result.DeletedCount == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) Merge(ctx context.Context, sessionID, userID string, combine MergeFunc) (*domain.Cart, error) {
	if sessionID == "" || userID == "" {
		return nil, domain.ErrMissingIdentity
	}

	session, err := m.collection.Database().Client().StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	for attempt := 1; ; attempt++ {
		result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return m.mergeTx(sc, sessionID, userID, combine)
		})
		if err == nil {
			return result.(*domain.Cart), nil
		}
		if errors.Is(err, domain.ErrCartNotFound) {
			return nil, err
		}
		if !mongo.IsDuplicateKeyError(err) || attempt >= maxWriteAttempts {
			return nil, fmt.Errorf("failed to merge carts: %w", err)
		}
		// A first add for the user created their cart while we adopted the
		// session cart; rerun so the two get merged instead.
	}
}

func (m *mongoRepository) mergeTx(ctx context.Context, sessionID, userID string, combine MergeFunc) (*domain.Cart, error) {
	sessionCart, err := m.findOptional(ctx, domain.SessionOwner(sessionID))
	if err != nil {
		return nil, err
	}
	userCart, err := m.findOptional(ctx, domain.UserOwner(userID))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch {
	case sessionCart == nil && userCart == nil:
		return nil, domain.ErrCartNotFound

	case sessionCart == nil:
		return userCart, nil

	case userCart == nil:
		id, err := primitive.ObjectIDFromHex(sessionCart.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid cart id %q: %w", sessionCart.ID, err)
		}
		filter := bson.D{{Key: "_id", Value: id}, {Key: "session_id", Value: sessionID}}
		update := bson.D{
			{Key: "$set", Value: bson.D{{Key: "user_id", Value: userID}, {Key: "updated_at", Value: now}}},
			{Key: "$unset", Value: bson.D{{Key: "session_id", Value: ""}}},
		}
		res, err := m.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return nil, fmt.Errorf("failed to reassign session cart: %w", err)
		}
		if res.MatchedCount == 0 {
			return nil, domain.ErrCartNotFound
		}
		sessionCart.Owner = domain.UserOwner(userID)
		sessionCart.UpdatedAt = now
		return sessionCart, nil

	default:
		items, err := combine(ctx, sessionCart, userCart)
		if err != nil {
			return nil, err
		}
		userOID, err := primitive.ObjectIDFromHex(userCart.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid cart id %q: %w", userCart.ID, err)
		}
		sessionOID, err := primitive.ObjectIDFromHex(sessionCart.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid cart id %q: %w", sessionCart.ID, err)
		}

		update := bson.D{{Key: "$set", Value: bson.D{
			{Key: "items", Value: toItemDocuments(items)},
			{Key: "updated_at", Value: now},
		}}}
		if _, err := m.collection.UpdateByID(ctx, userOID, update); err != nil {
			return nil, fmt.Errorf("failed to write merged cart: %w", err)
		}
		if _, err := m.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: sessionOID}}); err != nil {
			return nil, fmt.Errorf("failed to delete session cart: %w", err)
		}

		userCart.Items = items
		userCart.UpdatedAt = now
		return userCart, nil
	}
}

func (m *mongoRepository) findOptional(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	cart, err := m.FindByOwner(ctx, owner)
	if errors.Is(err, domain.ErrCartNotFound) {
		return nil, nil
	}
	return cart, err
}
