// Package catalog reads product price and stock for the cart. It never writes;
// stock is decremented by order placement elsewhere.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/techstore-cart/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ProductsCollection = "products"

type Catalog interface {
	// GetProduct returns domain.ErrProductNotFound for unknown or malformed ids.
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// GetProducts returns the products that exist, keyed by id. Unknown ids are skipped.
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

type productDocument struct {
	ID    primitive.ObjectID `bson:"_id"`
	Name  string             `bson:"name"`
	Price bson.RawValue      `bson:"price"`
	Stock int                `bson:"stock"`
}

func (d productDocument) toDomain() (domain.Product, error) {
	price, err := decodePrice(d.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", d.ID.Hex(), err)
	}
	return domain.Product{
		ID:    d.ID.Hex(),
		Name:  d.Name,
		Price: price,
		Stock: d.Stock,
	}, nil
}

// decodePrice accepts the numeric shapes the storefront admin has written over
// time: doubles, integers and Decimal128.
func decodePrice(v bson.RawValue) (decimal.Decimal, error) {
	switch v.Type {
	case bsontype.Double:
		return decimal.NewFromFloat(v.Double()), nil
	case bsontype.Int32:
		return decimal.NewFromInt32(v.Int32()), nil
	case bsontype.Int64:
		return decimal.NewFromInt(v.Int64()), nil
	case bsontype.Decimal128:
		return decimal.NewFromString(v.Decimal128().String())
	case 0, bsontype.Null:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported price type %s", v.Type)
	}
}

type MongoCatalog struct {
	collection *mongo.Collection
}

func NewMongoCatalog(db *mongo.Database) *MongoCatalog {
	return &MongoCatalog{collection: db.Collection(ProductsCollection)}
}

var projection = bson.D{
	{Key: "name", Value: 1},
	{Key: "price", Value: 1},
	{Key: "stock", Value: 1},
}

func (c *MongoCatalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrProductNotFound
	}

	var doc productDocument
	opts := options.FindOne().SetProjection(projection)
	err = c.collection.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	p, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *MongoCatalog) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))

	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return result, nil
	}

	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: oids}}}}
	cursor, err := c.collection.Find(ctx, filter, options.Find().SetProjection(projection))
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc productDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		p, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return result, nil
}
