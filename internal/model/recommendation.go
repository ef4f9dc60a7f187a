package model

import "encoding/json"

// RecommendationType 推荐类型
type RecommendationType string

const (
	RecommendRemedial      RecommendationType = "remedial"      // 存在掌握度 < 0.3 的根因概念
	RecommendProgressive   RecommendationType = "progressive"   // 前置已掌握，可以进阶
	RecommendComprehensive RecommendationType = "comprehensive" // 其余情况
)

// RecommendationStatus 推荐生命周期
type RecommendationStatus string

const (
	RecommendationPending   RecommendationStatus = "pending"
	RecommendationAccepted  RecommendationStatus = "accepted"
	RecommendationDismissed RecommendationStatus = "dismissed"
	RecommendationCompleted RecommendationStatus = "completed"
)

// LearningPathStep 学习路径中的一步（推荐自有的值对象，不共享引用）
type LearningPathStep struct {
	Order            int     `json:"order"`
	ConceptNodeID    uint    `json:"conceptNodeId"`
	ConceptName      string  `json:"conceptName"`
	Action           string  `json:"action"` // review / practice / advance
	EstimatedMinutes float64 `json:"estimatedMinutes"`
}

// LearningRecommendation 学习建议记录，由 AnalysisResult 派生
type LearningRecommendation struct {
	UUIDBase
	AnalysisResultID string `gorm:"type:varchar(36);index" json:"analysisResultId"`
	UserID           uint   `gorm:"index" json:"userId"`
	StudySetID       uint   `gorm:"index" json:"studySetId"`

	Type          RecommendationType   `gorm:"size:20" json:"type"`
	Status        RecommendationStatus `gorm:"size:20;default:pending" json:"status"`
	PriorityLevel int                  `gorm:"default:5" json:"priorityLevel"` // 1-10

	LearningPath         string  `gorm:"type:text" json:"learningPath"`        // []LearningPathStep JSON
	RecommendedQuestions string  `gorm:"size:1024" json:"recommendedQuestions"` // 题目 ID CSV
	EstimatedHours       float64 `gorm:"default:0" json:"estimatedHours"`
}

func (LearningRecommendation) TableName() string {
	return "learning_recommendations"
}

// SetLearningPath 序列化学习路径
func (r *LearningRecommendation) SetLearningPath(steps []LearningPathStep) {
	data, err := json.Marshal(steps)
	if err != nil {
		return
	}
	r.LearningPath = string(data)
}

// GetLearningPath 反序列化学习路径
func (r *LearningRecommendation) GetLearningPath() []LearningPathStep {
	if r.LearningPath == "" {
		return nil
	}
	var steps []LearningPathStep
	if err := json.Unmarshal([]byte(r.LearningPath), &steps); err != nil {
		return nil
	}
	return steps
}
