package repository

import (
	"time"

	"certigraph_backend/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) FindByID(id uint) (*model.User, error) {
	var u model.User
	err := r.DB.Where("id = ?", id).First(&u).Error
	return &u, err
}

func (r *UserRepository) UpdateLastSeen(userID uint) error {
	now := time.Now()
	return r.DB.Model(&model.User{}).Where("id = ?", userID).Update("last_seen_at", &now).Error
}
