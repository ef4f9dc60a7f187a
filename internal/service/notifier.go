package service

import (
	"context"
	"encoding/json"

	"certigraph_backend/internal/model"
	"certigraph_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AnalysisCompletedChannel 分析完成事件的发布频道
const AnalysisCompletedChannel = "analysis:completed"

// AnalysisEvent 完成事件载荷，外部通知方（邮件/推送）自行订阅消费，
// 引擎本身不做任何投递。
type AnalysisEvent struct {
	AnalysisResultID string               `json:"analysisResultId"`
	UserID           uint                 `json:"userId"`
	QuestionID       uint                 `json:"questionId"`
	StudySetID       uint                 `json:"studySetId"`
	Status           model.AnalysisStatus `json:"status"`
	ErrorType        model.ErrorType      `json:"errorType,omitempty"`
	ErrorMessage     string               `json:"errorMessage,omitempty"`
}

// Notifier 完成事件发布抽象
type Notifier interface {
	NotifyCompletion(ctx context.Context, event AnalysisEvent)
}

// RedisNotifier 通过 Redis Pub/Sub 发布完成事件
type RedisNotifier struct {
	Redis *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{Redis: rdb}
}

func (n *RedisNotifier) NotifyCompletion(ctx context.Context, event AnalysisEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := n.Redis.Publish(ctx, AnalysisCompletedChannel, data).Err(); err != nil {
		// 通知失败不影响分析结果本身
		logger.Log.Warn("failed to publish analysis completion event",
			zap.String("analysisID", event.AnalysisResultID), zap.Error(err))
	}
}

// NoopNotifier 空实现
type NoopNotifier struct{}

func (NoopNotifier) NotifyCompletion(ctx context.Context, event AnalysisEvent) {}
