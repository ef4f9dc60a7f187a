package repository

import (
	"certigraph_backend/internal/model"

	"gorm.io/gorm"
)

type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

func (r *QuestionRepository) FindByID(id uint) (*model.Question, error) {
	var q model.Question
	err := r.DB.Preload("Concepts").Where("id = ?", id).First(&q).Error
	return &q, err
}

// ConceptIDsForQuestion 题目考查的概念 ID 列表，按 ID 升序保证确定性
func (r *QuestionRepository) ConceptIDsForQuestion(questionID uint) ([]uint, error) {
	var ids []uint
	err := r.DB.Model(&model.QuestionConcept{}).
		Where("question_id = ?", questionID).
		Order("concept_node_id asc").
		Pluck("concept_node_id", &ids).Error
	return ids, err
}

// CandidatesForConcepts 关联到给定概念的候选题目，按 ID 升序
func (r *QuestionRepository) CandidatesForConcepts(conceptIDs []uint) ([]model.Question, error) {
	if len(conceptIDs) == 0 {
		return nil, nil
	}
	var qs []model.Question
	err := r.DB.Preload("Concepts").
		Where("id IN (?)", r.DB.Model(&model.QuestionConcept{}).
			Select("question_id").Where("concept_node_id IN ?", conceptIDs)).
		Order("id asc").Find(&qs).Error
	return qs, err
}

// CorrectlyAnsweredIDs 用户已答对过的题目 ID 集合
func (r *QuestionRepository) CorrectlyAnsweredIDs(userID uint) (map[uint]bool, error) {
	var ids []uint
	err := r.DB.Model(&model.ConceptAttempt{}).
		Where("user_id = ? AND correct = ? AND question_id > 0", userID, true).
		Distinct().Pluck("question_id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
