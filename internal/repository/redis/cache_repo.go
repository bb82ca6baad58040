package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jimlawless/whereami"
	"github.com/snapshop-tech/go-backend/internal/cfg"
	"github.com/snapshop-tech/go-backend/internal/repository/redis/converter"
	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/clients"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
)

const productKeyPrefix = "catalog:product:"

// CacheRepo кэширует карточки товаров, которыми поисковая выдача обогащает
// результаты ранжирования. Кэш вспомогательный: любой сбой Redis трактуется
// как промах и деградирует до похода в PostgreSQL.
type CacheRepo struct {
	client *clients.RedisClient
	conv   converter.ProductInfoConverter
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewCacheRepo(client *clients.RedisClient, conv converter.ProductInfoConverter,
	cfg *cfg.RedisCfg, logger logger.Logger) *CacheRepo {
	return &CacheRepo{
		client: client,
		conv:   conv,
		cfg:    cfg,
		logger: logger,
	}
}

// GetProducts возвращает закэшированные карточки по ID. Промахи и битые
// записи не попадают в результат, недостающее добирается из БД вызывающим.
func (r *CacheRepo) GetProducts(ctx context.Context, ids []int64) (map[int64]usecase.ProductInfo, error) {
	keys := r.buildProductCacheKeys(ids)

	values, err := r.client.Client.MGet(ctx, keys...).Result()
	if err != nil {
		r.logger.Warnf("Redis MGET failed: %v", e.Wrap(whereami.WhereAmI(), err))
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	result := make(map[int64]usecase.ProductInfo, len(values))
	for i, val := range values {
		info, ok := r.decodeCached(val, ids[i], keys[i])
		if !ok {
			continue
		}
		result[ids[i]] = *info
	}

	return result, nil
}

// decodeCached разбирает одно значение из MGET. Запись под чужим ключом
// (ID внутри не совпадает с ID ключа) удаляется как повреждённая, чтобы
// кэш самоизлечивался без внешнего вмешательства.
func (r *CacheRepo) decodeCached(val interface{}, wantID int64, key string) (*usecase.ProductInfo, bool) {
	data, err := redisValueToBytes(val, key)
	if err != nil {
		r.logger.Warnf("%v", e.Wrap(whereami.WhereAmI(), err))
		return nil, false
	}
	if data == nil {
		return nil, false // cache miss
	}

	var model converter.ProductInfoRedisModel
	if err := json.Unmarshal(data, &model); err != nil {
		r.logger.Warnf("cached product decode failed, key=%s: %v", key, e.Wrap(whereami.WhereAmI(), err))
		return nil, false
	}

	if model.ID != wantID {
		r.logger.Warnf("cache key/value ID mismatch: key_id=%d, model_id=%d", wantID, model.ID)
		if err := r.client.Client.Del(context.Background(), key).Err(); err != nil {
			r.logger.Warnf("Redis DEL failed: %v", e.Wrap(whereami.WhereAmI(), err))
		}
		return nil, false
	}

	return r.conv.ToUseCase(&model), true
}

// SetProducts пишет карточки в кэш одним pipeline с TTL из конфигурации.
// Ошибки записи только логируются: источником истины остаётся БД.
func (r *CacheRepo) SetProducts(ctx context.Context, products []usecase.ProductInfo) error {
	models := r.conv.ToArrRedisModel(products)

	pipeline := r.client.Client.Pipeline()
	for _, model := range models {
		data, err := json.Marshal(model)
		if err != nil {
			r.logger.Warnf("product %d cache encode failed: %v", model.ID, e.Wrap(whereami.WhereAmI(), err))
			continue
		}

		pipeline.Set(ctx, r.productKey(model.ID), data, r.cfg.ProductTTL)
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		r.logger.Warnf("cache pipeline failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}

	return nil
}

// DeleteProducts инвалидирует карточки по ID после синхронизации или
// регенерации. Сбой удаления не фатален: TTL добьёт запись сам.
func (r *CacheRepo) DeleteProducts(ctx context.Context, ids []int64) error {
	keys := r.buildProductCacheKeys(ids)

	if err := r.client.Client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warnf("Redis DEL failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}

	return nil
}

func (r *CacheRepo) buildProductCacheKeys(ids []int64) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.productKey(id)
	}

	return keys
}

func (r *CacheRepo) productKey(id int64) string {
	return productKeyPrefix + strconv.FormatInt(id, 10)
}

// redisValueToBytes конвертирует значение из MGET в []byte.
// nil означает промах; неизвестный тип — ошибку.
func redisValueToBytes(val interface{}, key string) ([]byte, error) {
	switch v := val.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected Redis value type for key %s: %T", key, val)
	}
}
