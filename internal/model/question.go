package model

// StudySet 学习集：一份学习资料（PDF/题库）解析出的概念图与题目集合
// 解析与 OCR 由内容摄取子系统负责，这里只消费结果。
type StudySet struct {
	BaseModel
	Title     string `gorm:"size:255;not null" json:"title"`
	Subject   string `gorm:"size:100" json:"subject"`
	CreatorID uint   `gorm:"index" json:"creatorId"`
	Active    bool   `gorm:"default:true" json:"active"`
}

func (StudySet) TableName() string {
	return "study_sets"
}

// Question 题目元数据（内容摄取子系统所有，分析引擎只读）
type Question struct {
	BaseModel
	StudySetID uint   `gorm:"index" json:"studySetId"`
	Content    string `gorm:"type:text" json:"content"`
	Answer     string `gorm:"size:255" json:"answer"`
	Topic      string `gorm:"size:255" json:"topic"`
	Difficulty int    `gorm:"default:3" json:"difficulty"` // 1-5
	Popularity int    `gorm:"default:0" json:"popularity"` // 被练习次数

	Concepts []QuestionConcept `gorm:"foreignKey:QuestionID" json:"concepts,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}

// QuestionConcept 题目与概念的关联（tests 关系）
type QuestionConcept struct {
	BaseModel
	QuestionID    uint    `gorm:"index:idx_question_concept,unique" json:"questionId"`
	ConceptNodeID uint    `gorm:"index:idx_question_concept,unique" json:"conceptNodeId"`
	Weight        float64 `gorm:"default:1" json:"weight"`
}

func (QuestionConcept) TableName() string {
	return "question_concepts"
}
