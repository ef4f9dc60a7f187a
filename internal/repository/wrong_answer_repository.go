package repository

import (
	"certigraph_backend/internal/model"

	"gorm.io/gorm"
)

type WrongAnswerRepository struct {
	DB *gorm.DB
}

func NewWrongAnswerRepository(db *gorm.DB) *WrongAnswerRepository {
	return &WrongAnswerRepository{DB: db}
}

func (r *WrongAnswerRepository) Create(event *model.WrongAnswerEvent) error {
	return r.DB.Create(event).Error
}

// CountForQuestion 用户在某题上的累计错误次数
func (r *WrongAnswerRepository) CountForQuestion(userID, questionID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.WrongAnswerEvent{}).
		Where("user_id = ? AND question_id = ?", userID, questionID).
		Count(&count).Error
	return count, err
}

// FindLatest 用户在某题上最近一次的错题事件
func (r *WrongAnswerRepository) FindLatest(userID, questionID uint) (*model.WrongAnswerEvent, error) {
	var event model.WrongAnswerEvent
	err := r.DB.Where("user_id = ? AND question_id = ?", userID, questionID).
		Order("id desc").First(&event).Error
	return &event, err
}

func (r *WrongAnswerRepository) ListForUser(userID uint, limit int) ([]model.WrongAnswerEvent, error) {
	var es []model.WrongAnswerEvent
	err := r.DB.Where("user_id = ?", userID).
		Order("created_at desc, id desc").Limit(limit).Find(&es).Error
	return es, err
}
