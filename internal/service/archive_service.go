package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"certigraph_backend/internal/config"
	"certigraph_backend/internal/model"
	"certigraph_backend/pkg/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ReportArchiver 把完成的分析报告快照归档到对象存储，供离线审计与回放。
// 归档失败只记日志，不影响分析流程。
type ReportArchiver interface {
	ArchiveReport(ctx context.Context, result *model.AnalysisResult, recs []model.LearningRecommendation)
}

// MinioArchiver MinIO 实现
type MinioArchiver struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioArchiver(cfg config.ArchiveConfig) (*MinioArchiver, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	return &MinioArchiver{client: client, bucket: cfg.MinioBucket, prefix: cfg.ObjectPrefix}, nil
}

type analysisReport struct {
	Result          *model.AnalysisResult          `json:"result"`
	Recommendations []model.LearningRecommendation `json:"recommendations"`
	ArchivedAt      time.Time                      `json:"archivedAt"`
}

func (a *MinioArchiver) ArchiveReport(ctx context.Context, result *model.AnalysisResult, recs []model.LearningRecommendation) {
	report := analysisReport{
		Result:          result,
		Recommendations: recs,
		ArchivedAt:      time.Now(),
	}
	data, err := json.Marshal(report)
	if err != nil {
		return
	}

	objectName := fmt.Sprintf("%s%d/%s.json", a.prefix, result.UserID, result.ID)
	_, err = a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		logger.Log.Warn("failed to archive analysis report",
			zap.String("analysisID", result.ID), zap.Error(err))
	}
}

// NoopArchiver 空实现，归档未启用时使用
type NoopArchiver struct{}

func (NoopArchiver) ArchiveReport(ctx context.Context, result *model.AnalysisResult, recs []model.LearningRecommendation) {
}
