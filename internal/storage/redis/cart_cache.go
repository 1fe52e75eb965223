package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultCartTTL = 15 * time.Minute
	maxJitter      = 5 * time.Minute
)

// setIfGeneration пишет корзину, только если поколение записи не менялось.
// KEYS: корзина, поколение. ARGV: ожидаемое поколение, данные, TTL в миллисекундах.
var setIfGeneration = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
if current ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

type cachedCart struct {
	OwnerID   string       `json:"owner_id"`
	Lines     []cachedLine `json:"lines"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type cachedLine struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

// CartCache кэширует корзины в Redis с TTL и случайным разбросом,
// чтобы записи не истекали одновременно.
type CartCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
	jitter  func() time.Duration
}

// NewCartCache создаёт кэш; ttl<=0 означает TTL по умолчанию.
func NewCartCache(client redis.UniversalClient, ttl time.Duration) *CartCache {
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	return &CartCache{
		client:  client,
		baseTTL: ttl,
		jitter:  func() time.Duration { return time.Duration(rand.Int63n(int64(maxJitter))) },
	}
}

// Get возвращает корзину или domain.ErrCacheMiss.
func (c *CartCache) Get(ctx context.Context, ownerID string) (domain.Cart, error) {
	data, err := c.client.Get(ctx, cacheKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, domain.ErrCacheMiss
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("redis get cart: %w", err)
	}

	var cached cachedCart
	if err := json.Unmarshal(data, &cached); err != nil {
		return domain.Cart{}, fmt.Errorf("unmarshal cached cart: %w", err)
	}

	cart := domain.EmptyCart(cached.OwnerID)
	cart.UpdatedAt = cached.UpdatedAt
	for _, l := range cached.Lines {
		cart.Lines = append(cart.Lines, domain.CartLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return cart, nil
}

// Generation возвращает поколение записи владельца; отсутствующее поколение равно нулю.
func (c *CartCache) Generation(ctx context.Context, ownerID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get cart generation: %w", err)
	}
	return gen, nil
}

// Set кладёт корзину в кэш, если поколение всё ещё равно generation.
func (c *CartCache) Set(ctx context.Context, cart domain.Cart, generation int64) (bool, error) {
	cached := cachedCart{OwnerID: cart.OwnerID, UpdatedAt: cart.UpdatedAt, Lines: make([]cachedLine, 0, len(cart.Lines))}
	for _, l := range cart.Lines {
		cached.Lines = append(cached.Lines, cachedLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return false, fmt.Errorf("marshal cart: %w", err)
	}
	ttl := c.baseTTL + c.jitter()
	stored, err := setIfGeneration.Run(ctx, c.client,
		[]string{cacheKey(cart.OwnerID), generationKey(cart.OwnerID)},
		generation, data, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis set cart: %w", err)
	}
	return stored == 1, nil
}

// Delete сбрасывает запись и увеличивает поколение. Поколение живёт дольше
// любой записи, чтобы запоздавший Set не прошёл после его истечения.
func (c *CartCache) Delete(ctx context.Context, ownerID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cacheKey(ownerID))
		pipe.Incr(ctx, generationKey(ownerID))
		pipe.Expire(ctx, generationKey(ownerID), c.baseTTL+maxJitter)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

// Ping используется readiness-проверкой.
func (c *CartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Ключи корзины и поколения делят hash tag, чтобы скрипт и MULTI работали в Redis Cluster.
func cacheKey(ownerID string) string {
	return "storefront:cart:{" + ownerID + "}"
}

func generationKey(ownerID string) string {
	return "storefront:cart-generation:{" + ownerID + "}"
}

var _ domain.CartCache = (*CartCache)(nil)
