package model

// NodeLevel 概念层级：科目 > 章节 > 概念
type NodeLevel string

const (
	LevelSubject NodeLevel = "subject"
	LevelChapter NodeLevel = "chapter"
	LevelConcept NodeLevel = "concept"
)

// RelationshipType 概念边类型
type RelationshipType string

const (
	RelPrerequisite RelationshipType = "prerequisite" // 指向的概念是前置知识
	RelPartOf       RelationshipType = "part_of"
	RelRelatedTo    RelationshipType = "related_to"
	RelTests        RelationshipType = "tests"
)

// EdgeStrength 边的强度等级
type EdgeStrength string

const (
	StrengthMandatory   EdgeStrength = "mandatory"
	StrengthRecommended EdgeStrength = "recommended"
	StrengthOptional    EdgeStrength = "optional"
)

// ConceptNode 知识图谱节点
// NormalizedName 在同一学习集的活跃节点中唯一，重复节点按频次合并后软删除。
type ConceptNode struct {
	BaseModel
	StudySetID     uint      `gorm:"index:idx_concept_set_name" json:"studySetId"`
	Name           string    `gorm:"size:255;not null" json:"name"`
	NormalizedName string    `gorm:"size:255;not null;index:idx_concept_set_name" json:"normalizedName"`
	Level          NodeLevel `gorm:"size:20;default:concept" json:"level"`
	Difficulty     int       `gorm:"default:3" json:"difficulty"` // 1-5
	Importance     int       `gorm:"default:5" json:"importance"` // 1-10
	Frequency      int       `gorm:"default:1" json:"frequency"`  // 出题频次，合并时累加
	Active         bool      `gorm:"default:true" json:"active"`
	MergedIntoID   *uint     `json:"mergedIntoId,omitempty"` // 被合并后指向存活节点
}

func (ConceptNode) TableName() string {
	return "concept_nodes"
}

// ConceptEdge 有向概念边，weight ∈ [0,1]
// prerequisite 子图必须无环，插入前由图服务做环检测。
type ConceptEdge struct {
	BaseModel
	StudySetID       uint             `gorm:"index" json:"studySetId"`
	FromNodeID       uint             `gorm:"index:idx_edge_from_type" json:"fromNodeId"`
	ToNodeID         uint             `gorm:"index" json:"toNodeId"`
	RelationshipType RelationshipType `gorm:"size:20;index:idx_edge_from_type" json:"relationshipType"`
	Weight           float64          `gorm:"default:1" json:"weight"`
	Strength         EdgeStrength     `gorm:"size:20;default:recommended" json:"strength"`
}

func (ConceptEdge) TableName() string {
	return "concept_edges"
}

// Cycle 检测到的环，按遍历顺序记录节点序列（首尾同一节点）
type Cycle struct {
	RelationshipType RelationshipType `json:"relationshipType"`
	NodeIDs          []uint           `json:"nodeIds"`
}
