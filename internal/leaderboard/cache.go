package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const genKey = "leaderboard:gen"

// Cache Redis 分頁快取
//
// 以世代號做失效：每次寫入分數遞增 leaderboard:gen，
// 分頁鍵帶上世代號，舊世代的鍵由 TTL 自然過期。
// 讀取與回填必須使用查詢資料庫之前取得的同一個世代號，
// 期間若有寫入，回填的頁面只會落在已失效的舊世代。
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache 創建快取，ttl <= 0 時使用 10 秒
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

// Generation 目前的世代號，尚未寫入過時為 0
func (c *Cache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get generation: %w", err)
	}
	return gen, nil
}

// Get 讀取 gen 世代的分頁，未命中時返回 (nil, nil)
func (c *Cache) Get(ctx context.Context, gen int64, page, size int) (*PageResult, error) {
	data, err := c.client.Get(ctx, pageKey(gen, page, size)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached page: %w", err)
	}

	var result PageResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode cached page: %w", err)
	}
	return &result, nil
}

// Set 把分頁寫入 gen 世代
func (c *Cache) Set(ctx context.Context, gen int64, result *PageResult) error {
	key := pageKey(gen, result.Page, result.PageSize)

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode page: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached page: %w", err)
	}
	return nil
}

// Invalidate 遞增世代號，所有舊分頁立即失效
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, genKey).Err(); err != nil {
		return fmt.Errorf("bump generation: %w", err)
	}
	return nil
}

func pageKey(gen int64, page, size int) string {
	return fmt.Sprintf("leaderboard:v%d:p%d:s%d", gen, page, size)
}
