package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	cartsCollection = "carts"
	// addLineAttempts ограничивает перезапуски AddLine после гонки на вставке корзины.
	addLineAttempts = 5
)

type cartDocument struct {
	OwnerID   string             `bson:"owner_id"`
	Items     []cartItemDocument `bson:"items"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type cartItemDocument struct {
	ProductID string `bson:"product_id"`
	Quantity  int32  `bson:"quantity"`
}

// CartRepository хранит корзину одним документом на владельца.
type CartRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewCartRepository создаёт репозиторий корзин в коллекции carts.
func NewCartRepository(db *mongo.Database) *CartRepository {
	return &CartRepository{collection: db.Collection(cartsCollection), now: time.Now}
}

// CreateIndexes создаёт уникальный индекс по владельцу и, если retention > 0,
// TTL-индекс, которым MongoDB сама вычищает брошенные корзины.
func (r *CartRepository) CreateIndexes(ctx context.Context, retention time.Duration) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if retention > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention / time.Second)),
		})
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create cart indexes: %w", err)
	}
	return nil
}

func (r *CartRepository) Get(ctx context.Context, ownerID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc cartDocument
	err := r.collection.FindOne(ctx, bson.M{"owner_id": ownerID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.EmptyCart(ownerID), nil
		}
		return domain.Cart{}, storageError("find cart", err)
	}
	return doc.toDomain(), nil
}

// AddLine прибавляет количество атомарным $inc по совпавшему элементу массива;
// фильтр по quantity не даёт сумме выйти за MaxLineQuantity.
// Если строки нет, добавляет её $push с upsert; проигравший гонку за вставку
// документа получает duplicate key и повторяет попытку.
func (r *CartRepository) AddLine(ctx context.Context, ownerID, productID string, quantity int32) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	limit := int64(domain.MaxLineQuantity) - int64(quantity)
	for attempt := 0; attempt < addLineAttempts; attempt++ {
		now := r.now().UTC()

		res, err := r.collection.UpdateOne(ctx,
			bson.M{"owner_id": ownerID, "items": bson.M{"$elemMatch": bson.M{
				"product_id": productID,
				"quantity":   bson.M{"$lte": limit},
			}}},
			bson.M{
				"$inc": bson.M{"items.$.quantity": quantity},
				"$set": bson.M{"updated_at": now},
			},
		)
		if err != nil {
			return storageError("increment cart line", err)
		}
		if res.MatchedCount > 0 {
			return nil
		}

		_, err = r.collection.UpdateOne(ctx,
			bson.M{"owner_id": ownerID, "items.product_id": bson.M{"$ne": productID}},
			bson.M{
				"$push":        bson.M{"items": cartItemDocument{ProductID: productID, Quantity: quantity}},
				"$set":         bson.M{"updated_at": now},
				"$setOnInsert": bson.M{"created_at": now},
			},
			options.Update().SetUpsert(true),
		)
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return storageError("push cart line", err)
		}

		full, err := r.collection.CountDocuments(ctx, bson.M{"owner_id": ownerID, "items": bson.M{"$elemMatch": bson.M{
			"product_id": productID,
			"quantity":   bson.M{"$gt": limit},
		}}})
		if err != nil {
			return storageError("check cart line quantity", err)
		}
		if full > 0 {
			return fmt.Errorf("%w: quantity of %s would exceed %d", domain.ErrInvalidInput, productID, domain.MaxLineQuantity)
		}
	}
	return storageError("add cart line", errors.New("too many concurrent modifications"))
}

// RemoveLines вычитает каждую строку отдельно: $inc, если остаётся больше нуля,
// иначе $pull. Если между шагами строку увеличил параллельный AddLine, шаги повторяются.
func (r *CartRepository) RemoveLines(ctx context.Context, ownerID string, lines []domain.CartLine) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	for _, line := range lines {
		if err := r.removeLine(ctx, ownerID, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *CartRepository) removeLine(ctx context.Context, ownerID string, line domain.CartLine) error {
	for attempt := 0; attempt < addLineAttempts; attempt++ {
		now := r.now().UTC()

		res, err := r.collection.UpdateOne(ctx,
			bson.M{"owner_id": ownerID, "items": bson.M{"$elemMatch": bson.M{
				"product_id": line.ProductID,
				"quantity":   bson.M{"$gt": line.Quantity},
			}}},
			bson.M{
				"$inc": bson.M{"items.$.quantity": -line.Quantity},
				"$set": bson.M{"updated_at": now},
			},
		)
		if err != nil {
			return storageError("decrement cart line", err)
		}
		if res.MatchedCount > 0 {
			return nil
		}

		res, err = r.collection.UpdateOne(ctx,
			bson.M{"owner_id": ownerID, "items": bson.M{"$elemMatch": bson.M{
				"product_id": line.ProductID,
				"quantity":   bson.M{"$lte": line.Quantity},
			}}},
			bson.M{
				"$pull": bson.M{"items": bson.M{"product_id": line.ProductID}},
				"$set":  bson.M{"updated_at": now},
			},
		)
		if err != nil {
			return storageError("pull cart line", err)
		}
		if res.MatchedCount > 0 {
			return nil
		}

		left, err := r.collection.CountDocuments(ctx, bson.M{"owner_id": ownerID, "items.product_id": line.ProductID})
		if err != nil {
			return storageError("check cart line", err)
		}
		if left == 0 {
			return nil
		}
	}
	return storageError("remove cart line", errors.New("too many concurrent modifications"))
}

func (r *CartRepository) Delete(ctx context.Context, ownerID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.collection.DeleteOne(ctx, bson.M{"owner_id": ownerID}); err != nil {
		return storageError("delete cart", err)
	}
	return nil
}

func (r *CartRepository) DeleteIdleBefore(ctx context.Context, before time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.collection.DeleteMany(ctx, bson.M{"updated_at": bson.M{"$lt": before.UTC()}})
	if err != nil {
		return 0, storageError("sweep idle carts", err)
	}
	return int(res.DeletedCount), nil
}

func (d cartDocument) toDomain() domain.Cart {
	cart := domain.EmptyCart(d.OwnerID)
	cart.UpdatedAt = d.UpdatedAt.UTC()
	for _, item := range d.Items {
		cart.Lines = append(cart.Lines, domain.CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return cart
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}

var (
	_ domain.CartRepository = (*CartRepository)(nil)
	_ domain.CartSweeper    = (*CartRepository)(nil)
)
