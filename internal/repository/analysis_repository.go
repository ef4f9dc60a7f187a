package repository

import (
	"errors"
	"time"

	"certigraph_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AnalysisRepository struct {
	DB *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{DB: db}
}

// Claim 以 (user, question, study_set) 唯一键认领一次分析。
// 条件插入：键已存在时不产生新行，返回已有记录和 created=false。
// 唯一索引是幂等性的最终保证，并发提交也只会有一行。
func (r *AnalysisRepository) Claim(result *model.AnalysisResult) (*model.AnalysisResult, bool, error) {
	res := r.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(result)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return result, true, nil
	}
	existing, err := r.FindByKey(result.UserID, result.QuestionID, result.StudySetID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *AnalysisRepository) FindByID(id string) (*model.AnalysisResult, error) {
	var a model.AnalysisResult
	err := r.DB.Where("id = ?", id).First(&a).Error
	return &a, err
}

func (r *AnalysisRepository) FindByKey(userID, questionID, studySetID uint) (*model.AnalysisResult, error) {
	var a model.AnalysisResult
	err := r.DB.Where("user_id = ? AND question_id = ? AND study_set_id = ?", userID, questionID, studySetID).First(&a).Error
	return &a, err
}

// TransitionStatus 条件状态迁移，只有处于 from 状态的记录才会被更新
func (r *AnalysisRepository) TransitionStatus(id string, from, to model.AnalysisStatus) (bool, error) {
	res := r.DB.Model(&model.AnalysisResult{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

// ResetForRetry 把已完结的记录重置回 pending，重算时复用同一行（幂等更新而非新建）
func (r *AnalysisRepository) ResetForRetry(id string) (bool, error) {
	res := r.DB.Model(&model.AnalysisResult{}).
		Where("id = ? AND status IN ?", id, []model.AnalysisStatus{model.AnalysisCompleted, model.AnalysisFailed}).
		Updates(map[string]interface{}{
			"status":        model.AnalysisPending,
			"error_message": "",
			"retry_count":   0,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *AnalysisRepository) Update(result *model.AnalysisResult) error {
	return r.DB.Save(result).Error
}

func (r *AnalysisRepository) ListRecent(userID uint, limit int) ([]model.AnalysisResult, error) {
	var as []model.AnalysisResult
	err := r.DB.Where("user_id = ?", userID).
		Order("updated_at desc").Limit(limit).Find(&as).Error
	return as, err
}

// ListStuck 找出停留在非终态超过 cutoff 的记录：
// processing 对应 worker 异常退出，pending 对应队列溢出时被丢弃的入队请求
func (r *AnalysisRepository) ListStuck(olderThan time.Duration, limit int) ([]model.AnalysisResult, error) {
	cutoff := time.Now().Add(-olderThan)
	var as []model.AnalysisResult
	err := r.DB.Where("status IN ? AND updated_at < ?",
		[]model.AnalysisStatus{model.AnalysisPending, model.AnalysisProcessing}, cutoff).
		Limit(limit).Find(&as).Error
	return as, err
}

// IsNotFound gorm 记录不存在判断
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
