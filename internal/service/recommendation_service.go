package service

import (
	"fmt"
	"math"
	"sort"

	"certigraph_backend/internal/model"
	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/util"

	"github.com/samber/lo"
)

// RankInput 排序器输入：根因结果 + 掌握度快照 + 候选题目
type RankInput struct {
	UserID          uint
	StudySetID      uint
	RootCause       *RootCauseResult
	Snapshot        map[uint]*model.MasteryRecord
	Candidates      []model.Question
	AnsweredOK      map[uint]bool // 已答对过的题目，直接排除
	RecentAccuracy  float64
	HasRecentWindow bool
	PaceFactor      float64
	Limit           int
}

// RankOutput 排序器输出
type RankOutput struct {
	Type                 model.RecommendationType
	Path                 []model.LearningPathStep
	RecommendedQuestions []uint
	PriorityLevel        int
	EstimatedHours       float64
}

// RecommendationService 学习建议排序器
// 把根因遍历、掌握度与内容信号合成为一条拓扑有序的学习路径和一组练习题，
// 全过程确定：并列名次一律按题目/概念 ID 升序打破。
type RecommendationService struct {
	Graph        *ConceptGraphService
	Mastery      *MasteryService
	QuestionRepo *repository.QuestionRepository
	Repo         *repository.RecommendationRepository
}

func NewRecommendationService(graph *ConceptGraphService, mastery *MasteryService, questionRepo *repository.QuestionRepository, repo *repository.RecommendationRepository) *RecommendationService {
	return &RecommendationService{
		Graph:        graph,
		Mastery:      mastery,
		QuestionRepo: questionRepo,
		Repo:         repo,
	}
}

// 每难度点的基准学习分钟数
const minutesPerDifficultyPoint = 10.0

// Rank 纯排序逻辑，不触库：同等输入必得逐位一致的输出
func (s *RecommendationService) Rank(input RankInput) (*RankOutput, error) {
	out := &RankOutput{}

	// 1. 路径概念集合 = 根因前置 + 错题概念自身，拓扑排序保证前置在先
	pathSet := lo.Uniq(append(append([]uint{}, input.RootCause.Prerequisites...), input.RootCause.ConceptNodeID))
	order, err := s.Graph.TopologicalOrder(input.StudySetID, pathSet)
	if err != nil {
		return nil, err
	}

	// 2. 推荐类型选择
	out.Type = s.selectType(input, order)

	// 3. 构建学习路径，每步带按难度与个人节奏估算的时长
	pace := input.PaceFactor
	if pace <= 0 {
		pace = 1
	}
	var totalMinutes float64
	for i, conceptID := range order {
		node, err := s.Graph.GetNode(input.StudySetID, conceptID)
		if err != nil {
			return nil, err
		}
		mastery := masteryOf(input.Snapshot, conceptID)

		action := "advance"
		switch {
		case mastery < util.MasteryGapThreshold:
			action = "review"
		case mastery < util.MasteryHighThreshold:
			action = "practice"
		}

		minutes := roundTo(float64(node.Difficulty)*minutesPerDifficultyPoint*pace, 1)
		totalMinutes += minutes
		out.Path = append(out.Path, model.LearningPathStep{
			Order:            i + 1,
			ConceptNodeID:    conceptID,
			ConceptName:      node.Name,
			Action:           action,
			EstimatedMinutes: minutes,
		})
	}
	out.EstimatedHours = roundTo(totalMinutes/60, 2)

	// 4. 题目选择与复合打分
	targetDifficulty := s.targetDifficulty(input)
	pathConcepts := lo.SliceToMap(order, func(id uint) (uint, bool) { return id, true })

	type scored struct {
		id    uint
		score float64
	}
	var candidates []scored

	seen := map[uint]bool{}
	for _, q := range input.Candidates {
		if seen[q.ID] || input.AnsweredOK[q.ID] {
			continue
		}
		seen[q.ID] = true

		// 题目关联的路径概念里取重要度最高、掌握度最低者作为打分依据
		bestImportance := 0
		lowestMastery := 1.0
		touchesPath := false
		for _, qc := range q.Concepts {
			if !pathConcepts[qc.ConceptNodeID] {
				continue
			}
			touchesPath = true
			node, err := s.Graph.GetNode(input.StudySetID, qc.ConceptNodeID)
			if err != nil {
				return nil, err
			}
			if node.Importance > bestImportance {
				bestImportance = node.Importance
			}
			if m := masteryOf(input.Snapshot, qc.ConceptNodeID); m < lowestMastery {
				lowestMastery = m
			}
		}
		if !touchesPath {
			continue
		}

		// 复合分 = 概念重要度 × 掌握度倒数 × 难度匹配度
		importance := float64(bestImportance) / 10.0
		inverseMastery := 1.0 - lowestMastery
		difficultyFit := 1.0 / (1.0 + math.Abs(float64(q.Difficulty)-targetDifficulty))
		candidates = append(candidates, scored{id: q.ID, score: importance * inverseMastery * difficultyFit})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}
	topScore := 0.0
	for i, c := range candidates {
		if i >= limit {
			break
		}
		if c.score > topScore {
			topScore = c.score
		}
		out.RecommendedQuestions = append(out.RecommendedQuestions, c.id)
	}

	// 5. 优先级：复合分按十分位分桶（纯函数）
	out.PriorityLevel = PriorityFromScore(math.Max(topScore, input.RootCause.GapScore))

	return out, nil
}

// selectType 推荐类型选择
//   - remedial：根因概念中存在掌握度 < 0.3 者
//   - progressive：直接前置都 ≥ 0.7 且下游概念尚未测过
//   - comprehensive：其余情况
func (s *RecommendationService) selectType(input RankInput, order []uint) model.RecommendationType {
	for _, id := range order {
		if masteryOf(input.Snapshot, id) < util.MasteryRemedialCeiling {
			return model.RecommendRemedial
		}
	}

	prereqsReady := true
	for _, id := range input.RootCause.Prerequisites {
		if masteryOf(input.Snapshot, id) < util.MasteryHighThreshold {
			prereqsReady = false
			break
		}
	}
	if prereqsReady && len(input.RootCause.Dependents) > 0 {
		untested := true
		for _, id := range input.RootCause.Dependents {
			if record, ok := input.Snapshot[id]; ok && record.Attempts > 0 {
				untested = false
				break
			}
		}
		if untested {
			return model.RecommendProgressive
		}
	}

	return model.RecommendComprehensive
}

// targetDifficulty 自适应目标难度：近期正确率 ≥ 0.8 上调、≤ 0.4 下调，否则持平
func (s *RecommendationService) targetDifficulty(input RankInput) float64 {
	base := 3.0
	if input.RootCause != nil {
		if node, err := s.Graph.GetNode(input.StudySetID, input.RootCause.ConceptNodeID); err == nil {
			base = float64(node.Difficulty)
		}
	}
	if !input.HasRecentWindow {
		return base
	}
	switch {
	case input.RecentAccuracy >= util.AccuracyRaiseThreshold:
		base++
	case input.RecentAccuracy <= util.AccuracyLowerThreshold:
		base--
	}
	return clampFloat(base, 1, 5)
}

// PriorityFromScore 复合分 → 1-10 优先级（十分位分桶，纯函数）
func PriorityFromScore(score float64) int {
	p := int(math.Floor(score*10)) + 1
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

// BuildForAnalysis 为一次分析结果生成并持久化推荐记录
func (s *RecommendationService) BuildForAnalysis(result *model.AnalysisResult, rootCause *RootCauseResult, snapshot map[uint]*model.MasteryRecord) (*model.LearningRecommendation, error) {
	pathSet := append(append([]uint{}, rootCause.Prerequisites...), rootCause.ConceptNodeID)
	candidates, err := s.QuestionRepo.CandidatesForConcepts(pathSet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	answered, err := s.QuestionRepo.CorrectlyAnsweredIDs(result.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	accuracy, hasWindow, err := s.Mastery.RecentAccuracy(result.UserID, 20)
	if err != nil {
		return nil, err
	}
	pace, err := s.Mastery.AveragePaceFactor(result.UserID, 50)
	if err != nil {
		return nil, err
	}

	ranked, err := s.Rank(RankInput{
		UserID:          result.UserID,
		StudySetID:      result.StudySetID,
		RootCause:       rootCause,
		Snapshot:        snapshot,
		Candidates:      candidates,
		AnsweredOK:      answered,
		RecentAccuracy:  accuracy,
		HasRecentWindow: hasWindow,
		PaceFactor:      pace,
		Limit:           10,
	})
	if err != nil {
		return nil, err
	}

	rec := &model.LearningRecommendation{
		AnalysisResultID:     result.ID,
		UserID:               result.UserID,
		StudySetID:           result.StudySetID,
		Type:                 ranked.Type,
		Status:               model.RecommendationPending,
		PriorityLevel:        ranked.PriorityLevel,
		RecommendedQuestions: util.JoinUints(ranked.RecommendedQuestions),
		EstimatedHours:       ranked.EstimatedHours,
	}
	rec.SetLearningPath(ranked.Path)

	if err := s.Repo.Create(rec); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	return rec, nil
}

// UpdateStatus 推荐生命周期流转
func (s *RecommendationService) UpdateStatus(id string, userID uint, status model.RecommendationStatus) error {
	rec, err := s.Repo.FindByID(id)
	if err != nil {
		if repository.IsNotFound(err) {
			return util.ErrAnalysisNotFound
		}
		return fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	if rec.UserID != userID {
		return util.ErrPermissionDenied
	}
	return s.Repo.UpdateStatus(id, status)
}

func (s *RecommendationService) ListForUser(userID uint, status model.RecommendationStatus, page, limit int) ([]model.LearningRecommendation, int64, error) {
	return s.Repo.ListForUser(userID, status, page, limit)
}

func masteryOf(snapshot map[uint]*model.MasteryRecord, conceptID uint) float64 {
	if record, ok := snapshot[conceptID]; ok {
		return record.CurrentLevel
	}
	return 0
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
