package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"certigraph_backend/internal/model"
	"certigraph_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AnalysisCache 分析结果缓存抽象
// 显式注入编排器，掌握度更新时按用户整体失效（同一用户的任何概念变动
// 都可能改变其分析结论）。
type AnalysisCache interface {
	Get(ctx context.Context, userID, questionID, studySetID uint) (*model.AnalysisResult, bool)
	Set(ctx context.Context, result *model.AnalysisResult)
	InvalidateUser(userID uint)
}

// RedisAnalysisCache 基于 Redis 的实现，key 按用户分组便于整体失效
type RedisAnalysisCache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewRedisAnalysisCache(rdb *redis.Client, ttl time.Duration) *RedisAnalysisCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisAnalysisCache{Redis: rdb, TTL: ttl}
}

func (c *RedisAnalysisCache) userSetKey(userID uint) string {
	return fmt.Sprintf("analysis:user:%d", userID)
}

func (c *RedisAnalysisCache) resultKey(userID, questionID, studySetID uint) string {
	return fmt.Sprintf("analysis:result:%d:%d:%d", userID, questionID, studySetID)
}

func (c *RedisAnalysisCache) Get(ctx context.Context, userID, questionID, studySetID uint) (*model.AnalysisResult, bool) {
	data, err := c.Redis.Get(ctx, c.resultKey(userID, questionID, studySetID)).Bytes()
	if err != nil {
		return nil, false
	}
	var result model.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (c *RedisAnalysisCache) Set(ctx context.Context, result *model.AnalysisResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	key := c.resultKey(result.UserID, result.QuestionID, result.StudySetID)
	pipe := c.Redis.Pipeline()
	pipe.Set(ctx, key, data, c.TTL)
	pipe.SAdd(ctx, c.userSetKey(result.UserID), key)
	pipe.Expire(ctx, c.userSetKey(result.UserID), c.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Log.Warn("analysis cache set failed", zap.Error(err))
	}
}

func (c *RedisAnalysisCache) InvalidateUser(userID uint) {
	ctx := context.Background()
	setKey := c.userSetKey(userID)
	keys, err := c.Redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return
	}
	keys = append(keys, setKey)
	if err := c.Redis.Del(ctx, keys...).Err(); err != nil {
		logger.Log.Warn("analysis cache invalidation failed",
			zap.Uint("userID", userID), zap.Error(err))
	}
}

// NoopAnalysisCache 空实现，测试和无 Redis 部署时使用
type NoopAnalysisCache struct{}

func (NoopAnalysisCache) Get(ctx context.Context, userID, questionID, studySetID uint) (*model.AnalysisResult, bool) {
	return nil, false
}

func (NoopAnalysisCache) Set(ctx context.Context, result *model.AnalysisResult) {}

func (NoopAnalysisCache) InvalidateUser(userID uint) {}
