package repository

import (
	"certigraph_backend/internal/model"

	"gorm.io/gorm"
)

type StudySetRepository struct {
	DB *gorm.DB
}

func NewStudySetRepository(db *gorm.DB) *StudySetRepository {
	return &StudySetRepository{DB: db}
}

func (r *StudySetRepository) Create(set *model.StudySet) error {
	return r.DB.Create(set).Error
}

func (r *StudySetRepository) FindByID(id uint) (*model.StudySet, error) {
	var s model.StudySet
	err := r.DB.Where("id = ?", id).First(&s).Error
	return &s, err
}

func (r *StudySetRepository) List(page, limit int) ([]model.StudySet, int64, error) {
	var sets []model.StudySet
	var total int64
	query := r.DB.Model(&model.StudySet{}).Where("active = ?", true)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&sets).Error
	return sets, total, err
}
