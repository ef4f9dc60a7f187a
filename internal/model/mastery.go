package model

import "time"

// MasteryRecord 用户对单个概念的掌握度状态
// (UserID, ConceptNodeID) 联合唯一。MasteryLevel 只能由完整答题历史重算得出，
// 不允许增量漂移或外部直接写入。
type MasteryRecord struct {
	BaseModel
	UserID        uint `gorm:"index:idx_mastery_user_concept,unique" json:"userId"`
	ConceptNodeID uint `gorm:"index:idx_mastery_user_concept,unique" json:"conceptNodeId"`
	StudySetID    uint `gorm:"index" json:"studySetId"`

	Attempts        int `gorm:"default:0" json:"attempts"`
	CorrectAttempts int `gorm:"default:0" json:"correctAttempts"`

	// MasteryLevel 全时段掌握度；CurrentLevel 按近期窗口降权后的当前掌握度。
	// 错误分类用 CurrentLevel，看板汇总用 MasteryLevel。
	MasteryLevel float64 `gorm:"default:0" json:"masteryLevel"`
	CurrentLevel float64 `gorm:"default:0" json:"currentLevel"`

	LastTestedAt *time.Time `json:"lastTestedAt"`
}

func (MasteryRecord) TableName() string {
	return "mastery_records"
}

// Accuracy 全时段正确率
func (m *MasteryRecord) Accuracy() float64 {
	if m.Attempts == 0 {
		return 0
	}
	return float64(m.CorrectAttempts) / float64(m.Attempts)
}

// ConceptAttempt 单次答题记录，只追加不删除，供趋势判断与掌握度重算使用
type ConceptAttempt struct {
	BaseModel
	UserID           uint    `gorm:"index:idx_attempt_user_concept" json:"userId"`
	ConceptNodeID    uint    `gorm:"index:idx_attempt_user_concept" json:"conceptNodeId"`
	QuestionID       uint    `gorm:"index" json:"questionId"`
	Correct          bool    `json:"correct"`
	TimeSpentMinutes float64 `gorm:"default:0" json:"timeSpentMinutes"`
}

func (ConceptAttempt) TableName() string {
	return "concept_attempts"
}
