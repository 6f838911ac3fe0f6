// Package dedup 抑制短时间内对同一笔记的重复抓取请求。
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "xhs:dedup:feed:"

// Deduplicator 基于 SETNX 的窗口去重，窗口内同一 key 只放行一次。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsDuplicate 标记并检查 feedID 是否在窗口内已被请求过。
// 未配置 Redis 时总是放行。
func (d *Deduplicator) IsDuplicate(ctx context.Context, feedID string) (bool, error) {
	if d == nil || d.rdb == nil || feedID == "" {
		return false, nil
	}
	ok, err := d.rdb.SetNX(ctx, key(feedID), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Release 提前释放占位，例如投递失败时允许立即重试。
func (d *Deduplicator) Release(ctx context.Context, feedID string) error {
	if d == nil || d.rdb == nil || feedID == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, key(feedID)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func key(feedID string) string {
	return keyPrefix + strings.TrimSpace(feedID)
}
