package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/port"
)

const (
	orderKeyPrefix    = "order:"
	stockKeyPrefix    = "stock:"
	idempotencyPrefix = "idem:"

	orderCacheTTL     = 10 * time.Minute
	stockCacheTTL     = 1 * time.Minute
	idempotencyKeyTTL = 24 * time.Hour
)

var _ port.CacheRepository = (*RedisAdapter)(nil)

// setStockScript writes a stock snapshot only if no newer version is
// cached, so a delayed writer can never clobber fresher counters.
var setStockScript = redis.NewScript(`
local key = KEYS[1]
local version = tonumber(ARGV[1])
local payload = ARGV[2]
local ttl = tonumber(ARGV[3])

local current = redis.call('GET', key)
if current then
	local decoded = cjson.decode(current)
	if tonumber(decoded.version) >= version then
		return 0
	end
end

redis.call('SET', key, payload, 'EX', ttl)
return 1
`)

// RedisAdapter is the read-through, invalidate-on-command cache. It is
// never the source of truth; every error path degrades to a miss.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) GetOrder(ctx context.Context, id string) (*domain.ServiceOrder, error) {
	data, err := r.client.Get(ctx, orderKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached order: %w", err)
	}

	var order domain.ServiceOrder
	if err := json.Unmarshal(data, &order); err != nil {
		// Treat a corrupt entry as a miss; the store is authoritative.
		r.client.Del(ctx, orderKeyPrefix+id)
		return nil, nil
	}
	return &order, nil
}

func (r *RedisAdapter) SetOrder(ctx context.Context, order *domain.ServiceOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	return r.client.Set(ctx, orderKeyPrefix+order.ID, data, orderCacheTTL).Err()
}

func (r *RedisAdapter) InvalidateOrder(ctx context.Context, id string) error {
	return r.client.Del(ctx, orderKeyPrefix+id).Err()
}

func (r *RedisAdapter) GetStock(ctx context.Context, sku string) (*port.StockSnapshot, error) {
	data, err := r.client.Get(ctx, stockKeyPrefix+sku).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached stock: %w", err)
	}

	var snap port.StockSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		r.client.Del(ctx, stockKeyPrefix+sku)
		return nil, nil
	}
	return &snap, nil
}

func (r *RedisAdapter) SetStock(ctx context.Context, snap port.StockSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal stock snapshot: %w", err)
	}
	return setStockScript.Run(ctx, r.client, []string{stockKeyPrefix + snap.SKU},
		snap.Version, payload, int(stockCacheTTL.Seconds())).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
