package model

// WrongAnswerEvent 错题事件，创建后不可变
// AttemptCount 是该用户在这道题上的累计错误次数（含本次）。
type WrongAnswerEvent struct {
	BaseModel
	UserID         uint   `gorm:"index:idx_wrong_user_question" json:"userId"`
	QuestionID     uint   `gorm:"index:idx_wrong_user_question" json:"questionId"`
	StudySetID     uint   `gorm:"index" json:"studySetId"`
	SelectedAnswer string `gorm:"size:255" json:"selectedAnswer"`
	AttemptCount   int    `gorm:"default:1" json:"attemptCount"`

	// ConceptNodeIDs 该题考查的概念，冗余存储为 CSV 以保持事件自包含
	ConceptNodeIDs string `gorm:"size:512" json:"conceptNodeIds"`
}

func (WrongAnswerEvent) TableName() string {
	return "wrong_answer_events"
}
