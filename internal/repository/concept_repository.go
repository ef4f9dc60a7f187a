package repository

import (
	"certigraph_backend/internal/model"

	"gorm.io/gorm"
)

type ConceptRepository struct {
	DB *gorm.DB
}

func NewConceptRepository(db *gorm.DB) *ConceptRepository {
	return &ConceptRepository{DB: db}
}

func (r *ConceptRepository) CreateNode(node *model.ConceptNode) error {
	return r.DB.Create(node).Error
}

func (r *ConceptRepository) FindNodeByID(id uint) (*model.ConceptNode, error) {
	var n model.ConceptNode
	err := r.DB.Where("id = ?", id).First(&n).Error
	return &n, err
}

// FindActiveByNormalizedName 按归一化名称查找活跃节点，用于去重
func (r *ConceptRepository) FindActiveByNormalizedName(studySetID uint, normalized string) (*model.ConceptNode, error) {
	var n model.ConceptNode
	err := r.DB.Where("study_set_id = ? AND normalized_name = ? AND active = ?", studySetID, normalized, true).First(&n).Error
	return &n, err
}

func (r *ConceptRepository) ListNodes(studySetID uint, activeOnly bool) ([]model.ConceptNode, error) {
	var ns []model.ConceptNode
	query := r.DB.Where("study_set_id = ?", studySetID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	err := query.Order("id asc").Find(&ns).Error
	return ns, err
}

func (r *ConceptRepository) UpdateNode(node *model.ConceptNode) error {
	return r.DB.Save(node).Error
}

func (r *ConceptRepository) CreateEdge(edge *model.ConceptEdge) error {
	return r.DB.Create(edge).Error
}

func (r *ConceptRepository) ListEdges(studySetID uint) ([]model.ConceptEdge, error) {
	var es []model.ConceptEdge
	err := r.DB.Where("study_set_id = ?", studySetID).Order("id asc").Find(&es).Error
	return es, err
}

func (r *ConceptRepository) DeleteEdge(id uint) error {
	return r.DB.Delete(&model.ConceptEdge{}, "id = ?", id).Error
}

// MergeNodes 把 loser 合并进 primary：改指所有边与题目关联、累加频次、软停用 loser。
// 整个迁移在一个事务内完成，保证历史可溯且不会出现半迁移状态。
func (r *ConceptRepository) MergeNodes(primary, loser *model.ConceptNode) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		// 1. 边改指（两个方向），指向自身的合并边直接删除
		if err := tx.Model(&model.ConceptEdge{}).
			Where("from_node_id = ?", loser.ID).
			Update("from_node_id", primary.ID).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.ConceptEdge{}).
			Where("to_node_id = ?", loser.ID).
			Update("to_node_id", primary.ID).Error; err != nil {
			return err
		}
		if err := tx.Where("from_node_id = ? AND to_node_id = ?", primary.ID, primary.ID).
			Delete(&model.ConceptEdge{}).Error; err != nil {
			return err
		}

		// 2. 题目关联改指
		if err := tx.Model(&model.QuestionConcept{}).
			Where("concept_node_id = ?", loser.ID).
			Update("concept_node_id", primary.ID).Error; err != nil {
			return err
		}

		// 3. 频次累加到存活节点
		if err := tx.Model(&model.ConceptNode{}).
			Where("id = ?", primary.ID).
			Update("frequency", gorm.Expr("frequency + ?", loser.Frequency)).Error; err != nil {
			return err
		}

		// 4. 软停用 loser 并记录去向（不物理删除，保留历史分析可溯性）
		return tx.Model(&model.ConceptNode{}).
			Where("id = ?", loser.ID).
			Updates(map[string]interface{}{
				"active":         false,
				"merged_into_id": primary.ID,
			}).Error
	})
}
