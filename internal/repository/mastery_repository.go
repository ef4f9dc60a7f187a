package repository

import (
	"time"

	"certigraph_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MasteryRepository struct {
	DB *gorm.DB
}

func NewMasteryRepository(db *gorm.DB) *MasteryRepository {
	return &MasteryRepository{DB: db}
}

func (r *MasteryRepository) FindRecord(userID, conceptID uint) (*model.MasteryRecord, error) {
	var m model.MasteryRecord
	err := r.DB.Where("user_id = ? AND concept_node_id = ?", userID, conceptID).First(&m).Error
	return &m, err
}

// FindRecords 批量获取掌握度快照，返回 conceptID -> record
func (r *MasteryRepository) FindRecords(userID uint, conceptIDs []uint) (map[uint]*model.MasteryRecord, error) {
	var ms []model.MasteryRecord
	if err := r.DB.Where("user_id = ? AND concept_node_id IN ?", userID, conceptIDs).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]*model.MasteryRecord, len(ms))
	for i := range ms {
		out[ms[i].ConceptNodeID] = &ms[i]
	}
	return out, nil
}

func (r *MasteryRepository) ListRecordsForUser(userID uint, studySetID uint) ([]model.MasteryRecord, error) {
	var ms []model.MasteryRecord
	query := r.DB.Where("user_id = ?", userID)
	if studySetID > 0 {
		query = query.Where("study_set_id = ?", studySetID)
	}
	err := query.Order("current_level asc, concept_node_id asc").Find(&ms).Error
	return ms, err
}

// UpsertRecord 按 (user, concept) 唯一键写入重算后的掌握度
func (r *MasteryRepository) UpsertRecord(tx *gorm.DB, record *model.MasteryRecord) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "concept_node_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"attempts", "correct_attempts", "mastery_level", "current_level", "last_tested_at", "updated_at",
		}),
	}).Create(record).Error
}

func (r *MasteryRepository) AppendAttempt(tx *gorm.DB, attempt *model.ConceptAttempt) error {
	return tx.Create(attempt).Error
}

// ListAttempts 某用户在某概念上的全部答题历史，按时间升序
func (r *MasteryRepository) ListAttempts(tx *gorm.DB, userID, conceptID uint) ([]model.ConceptAttempt, error) {
	var as []model.ConceptAttempt
	err := tx.Where("user_id = ? AND concept_node_id = ?", userID, conceptID).
		Order("created_at asc, id asc").Find(&as).Error
	return as, err
}

// RecentAttempts 用户近期 N 条答题记录（跨概念），用于自适应难度
func (r *MasteryRepository) RecentAttempts(userID uint, limit int) ([]model.ConceptAttempt, error) {
	var as []model.ConceptAttempt
	err := r.DB.Where("user_id = ?", userID).
		Order("created_at desc, id desc").Limit(limit).Find(&as).Error
	return as, err
}

// StaleRecords 超过 olderThanDays 未测试的概念
func (r *MasteryRepository) StaleRecords(userID uint, olderThanDays int) ([]model.MasteryRecord, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	var ms []model.MasteryRecord
	err := r.DB.Where("user_id = ? AND last_tested_at < ?", userID, cutoff).
		Order("last_tested_at asc").Find(&ms).Error
	return ms, err
}
