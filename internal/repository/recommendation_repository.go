package repository

import (
	"certigraph_backend/internal/model"

	"gorm.io/gorm"
)

type RecommendationRepository struct {
	DB *gorm.DB
}

func NewRecommendationRepository(db *gorm.DB) *RecommendationRepository {
	return &RecommendationRepository{DB: db}
}

func (r *RecommendationRepository) Create(rec *model.LearningRecommendation) error {
	return r.DB.Create(rec).Error
}

func (r *RecommendationRepository) FindByID(id string) (*model.LearningRecommendation, error) {
	var rec model.LearningRecommendation
	err := r.DB.Where("id = ?", id).First(&rec).Error
	return &rec, err
}

func (r *RecommendationRepository) ListForUser(userID uint, status model.RecommendationStatus, page, limit int) ([]model.LearningRecommendation, int64, error) {
	var recs []model.LearningRecommendation
	var total int64
	query := r.DB.Model(&model.LearningRecommendation{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("priority_level desc, created_at desc").Offset(offset).Limit(limit).Find(&recs).Error
	return recs, total, err
}

func (r *RecommendationRepository) ListByAnalysis(analysisID string) ([]model.LearningRecommendation, error) {
	var recs []model.LearningRecommendation
	err := r.DB.Where("analysis_result_id = ?", analysisID).Order("created_at asc").Find(&recs).Error
	return recs, err
}

func (r *RecommendationRepository) UpdateStatus(id string, status model.RecommendationStatus) error {
	return r.DB.Model(&model.LearningRecommendation{}).
		Where("id = ?", id).Update("status", status).Error
}
