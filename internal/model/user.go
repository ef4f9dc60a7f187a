package model

import "time"

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)

// User 用户镜像记录
// 账号体系由外部认证服务负责，这里只保留分析引擎需要的最小字段。
type User struct {
	BaseModel
	Name       string     `gorm:"size:100" json:"name"`
	Email      string     `gorm:"size:255;uniqueIndex" json:"email"`
	Role       UserRole   `gorm:"size:20;default:student" json:"role"`
	LastSeenAt *time.Time `json:"lastSeenAt"`
}

func (User) TableName() string {
	return "users"
}
