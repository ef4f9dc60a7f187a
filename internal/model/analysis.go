package model

import "encoding/json"

// AnalysisStatus 分析请求状态机：pending → processing → completed | failed
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// ErrorType 错误归因类型
type ErrorType string

const (
	ErrorCareless         ErrorType = "careless"
	ErrorConceptGap       ErrorType = "concept_gap"
	ErrorMixed            ErrorType = "mixed"
	ErrorPersistentGap    ErrorType = "persistent_gap"
	ErrorDifficultContent ErrorType = "difficult_content"
)

// Severity 严重程度
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Classification 错误分类结果（值对象，不落库，字段冗余进 AnalysisResult）
type Classification struct {
	Type       ErrorType `json:"type"`
	Severity   Severity  `json:"severity"`
	Confidence float64   `json:"confidence"`
	Indicators []string  `json:"indicators"`
}

// TraversalStep BFS 访问路径中的一步
type TraversalStep struct {
	ConceptNodeID uint    `json:"conceptNodeId"`
	FromNodeID    uint    `json:"fromNodeId"` // 0 表示起点
	Depth         int     `json:"depth"`
	EdgeWeight    float64 `json:"edgeWeight"`
	MasteryLevel  float64 `json:"masteryLevel"`
}

// AnalysisResult 一次弱点分析的结果记录
// (UserID, QuestionID, StudySetID) 联合唯一，重复提交复用同一行，保证幂等。
type AnalysisResult struct {
	UUIDBase
	UserID     uint `gorm:"index:idx_analysis_key,unique" json:"userId"`
	QuestionID uint `gorm:"index:idx_analysis_key,unique" json:"questionId"`
	StudySetID uint `gorm:"index:idx_analysis_key,unique" json:"studySetId"`

	Status       AnalysisStatus `gorm:"size:20;default:pending;index" json:"status"`
	ErrorType    ErrorType      `gorm:"size:30" json:"errorType"`
	Severity     Severity       `gorm:"size:10" json:"severity"`
	Indicators   string         `gorm:"size:1024" json:"indicators"` // JSON 数组
	ErrorMessage string         `gorm:"size:1024" json:"errorMessage,omitempty"`

	ConceptGapScore float64 `gorm:"default:0" json:"conceptGapScore"`
	ConfidenceScore float64 `gorm:"default:0" json:"confidenceScore"`

	// 遍历元数据
	DepthReached  int    `gorm:"default:0" json:"depthReached"`
	NodesVisited  int    `gorm:"default:0" json:"nodesVisited"`
	TraversalPath string `gorm:"type:text" json:"traversalPath"` // []TraversalStep JSON
	RootCauseIDs  string `gorm:"size:512" json:"rootCauseIds"`   // 根因概念 ID CSV

	// 推理解释文本（外部 LLM 协作方生成，仅展示用，不参与控制流）
	Reasoning string `gorm:"type:text" json:"reasoning"`

	ProcessingTimeMs int64 `gorm:"default:0" json:"processingTimeMs"`
	RetryCount       int   `gorm:"default:0" json:"retryCount"`
}

func (AnalysisResult) TableName() string {
	return "analysis_results"
}

// SetTraversalPath 序列化遍历路径
func (a *AnalysisResult) SetTraversalPath(steps []TraversalStep) {
	data, err := json.Marshal(steps)
	if err != nil {
		return
	}
	a.TraversalPath = string(data)
}

// GetTraversalPath 反序列化遍历路径
func (a *AnalysisResult) GetTraversalPath() []TraversalStep {
	if a.TraversalPath == "" {
		return nil
	}
	var steps []TraversalStep
	if err := json.Unmarshal([]byte(a.TraversalPath), &steps); err != nil {
		return nil
	}
	return steps
}
