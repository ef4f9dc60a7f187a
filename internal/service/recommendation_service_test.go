package service

import (
	"context"
	"testing"

	"certigraph_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotLevels(levels map[uint]float64) map[uint]*model.MasteryRecord {
	snapshot := make(map[uint]*model.MasteryRecord, len(levels))
	for id, level := range levels {
		snapshot[id] = &model.MasteryRecord{ConceptNodeID: id, CurrentLevel: level, Attempts: 5}
	}
	return snapshot
}

func TestRankPathFollowsTopologicalOrder(t *testing.T) {
	env := newTestEnv(t)
	setID, relational, functional, normalization := normalizationGraph(t, env)

	out, err := env.recommendation.Rank(RankInput{
		StudySetID: setID,
		RootCause: &RootCauseResult{
			ConceptNodeID: normalization,
			Prerequisites: []uint{functional, relational},
		},
		Snapshot: snapshotLevels(map[uint]float64{relational: 0.4, functional: 0.6, normalization: 0.2}),
	})
	require.NoError(t, err)

	require.Len(t, out.Path, 3)
	assert.Equal(t, relational, out.Path[0].ConceptNodeID)
	assert.Equal(t, functional, out.Path[1].ConceptNodeID)
	assert.Equal(t, normalization, out.Path[2].ConceptNodeID)
	assert.Equal(t, "关系模型", out.Path[0].ConceptName)
	for i, step := range out.Path {
		assert.Equal(t, i+1, step.Order)
	}
}

func TestRankStepActionsAndEstimatedTime(t *testing.T) {
	env := newTestEnv(t)
	setID, relational, functional, normalization := normalizationGraph(t, env)

	out, err := env.recommendation.Rank(RankInput{
		StudySetID: setID,
		RootCause: &RootCauseResult{
			ConceptNodeID: normalization,
			Prerequisites: []uint{functional, relational},
		},
		Snapshot:   snapshotLevels(map[uint]float64{relational: 0.4, functional: 0.6, normalization: 0.8}),
		PaceFactor: 1.5,
	})
	require.NoError(t, err)

	require.Len(t, out.Path, 3)
	assert.Equal(t, "review", out.Path[0].Action)   // 0.4 < 0.5
	assert.Equal(t, "practice", out.Path[1].Action) // 0.5 ≤ 0.6 < 0.7
	assert.Equal(t, "advance", out.Path[2].Action)  // ≥ 0.7

	// 关系模型难度 2：2 × 10 × 1.5 = 30 分钟
	assert.InDelta(t, 30.0, out.Path[0].EstimatedMinutes, 1e-9)
	// 总时长 = (2+3+4) × 10 × 1.5 / 60 = 2.25 小时
	assert.InDelta(t, 2.25, out.EstimatedHours, 1e-9)
}

func TestRankTypeSelection(t *testing.T) {
	env := newTestEnv(t)
	setID, relational, functional, normalization := normalizationGraph(t, env)

	rank := func(levels map[uint]float64, dependents []uint, dependentAttempts int) model.RecommendationType {
		snapshot := snapshotLevels(levels)
		for _, id := range dependents {
			snapshot[id] = &model.MasteryRecord{ConceptNodeID: id, Attempts: dependentAttempts}
		}
		out, err := env.recommendation.Rank(RankInput{
			StudySetID: setID,
			RootCause: &RootCauseResult{
				ConceptNodeID: functional,
				Prerequisites: []uint{relational},
				Dependents:    dependents,
			},
			Snapshot: snapshot,
		})
		require.NoError(t, err)
		return out.Type
	}

	// 存在掌握度 < 0.3 的路径概念 → 补救型
	assert.Equal(t, model.RecommendRemedial,
		rank(map[uint]float64{relational: 0.2, functional: 0.6}, nil, 0))

	// 前置都 ≥ 0.7 且下游未测过 → 进阶型
	assert.Equal(t, model.RecommendProgressive,
		rank(map[uint]float64{relational: 0.8, functional: 0.75}, []uint{normalization}, 0))

	// 下游已测过 → 综合型
	assert.Equal(t, model.RecommendComprehensive,
		rank(map[uint]float64{relational: 0.8, functional: 0.75}, []uint{normalization}, 3))

	// 前置未达标但也不到补救线 → 综合型
	assert.Equal(t, model.RecommendComprehensive,
		rank(map[uint]float64{relational: 0.5, functional: 0.6}, nil, 0))
}

func TestRankQuestionScoringAndTieBreak(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "选题")
	concept := env.createConcept(t, set.ID, "索引", 3, 8)
	other := env.createConcept(t, set.ID, "无关概念", 3, 8)

	link := func(conceptID uint) model.Question {
		return model.Question{
			StudySetID: set.ID,
			Difficulty: 3,
			Concepts:   []model.QuestionConcept{{ConceptNodeID: conceptID, Weight: 1}},
		}
	}
	q1 := link(concept)
	q1.ID = 1
	q2 := link(concept)
	q2.ID = 2
	offPath := link(other)
	offPath.ID = 3
	answered := link(concept)
	answered.ID = 4
	mismatch := link(concept)
	mismatch.ID = 5
	mismatch.Difficulty = 5 // 难度失配降分

	out, err := env.recommendation.Rank(RankInput{
		StudySetID: set.ID,
		RootCause:  &RootCauseResult{ConceptNodeID: concept},
		Snapshot:   snapshotLevels(map[uint]float64{concept: 0.3}),
		Candidates: []model.Question{mismatch, q2, offPath, answered, q1},
		AnsweredOK: map[uint]bool{4: true},
	})
	require.NoError(t, err)

	// 同分按 ID 升序；路径外与已答对的题目被排除；难度失配排最后
	assert.Equal(t, []uint{1, 2, 5}, out.RecommendedQuestions)
}

func TestRankRespectsLimit(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "截断")
	concept := env.createConcept(t, set.ID, "事务", 3, 8)

	var candidates []model.Question
	for i := uint(1); i <= 6; i++ {
		q := model.Question{
			StudySetID: set.ID,
			Difficulty: 3,
			Concepts:   []model.QuestionConcept{{ConceptNodeID: concept, Weight: 1}},
		}
		q.ID = i
		candidates = append(candidates, q)
	}

	out, err := env.recommendation.Rank(RankInput{
		StudySetID: set.ID,
		RootCause:  &RootCauseResult{ConceptNodeID: concept},
		Snapshot:   snapshotLevels(map[uint]float64{concept: 0.3}),
		Candidates: candidates,
		Limit:      3,
	})
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3}, out.RecommendedQuestions)
}

func TestRankAdaptiveTargetDifficulty(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "自适应难度")
	concept := env.createConcept(t, set.ID, "连接查询", 3, 8)

	question := func(id uint, difficulty int) model.Question {
		q := model.Question{
			StudySetID: set.ID,
			Difficulty: difficulty,
			Concepts:   []model.QuestionConcept{{ConceptNodeID: concept, Weight: 1}},
		}
		q.ID = id
		return q
	}
	candidates := []model.Question{question(1, 2), question(2, 3), question(3, 4)}

	top := func(accuracy float64, hasWindow bool) uint {
		out, err := env.recommendation.Rank(RankInput{
			StudySetID:      set.ID,
			RootCause:       &RootCauseResult{ConceptNodeID: concept},
			Snapshot:        snapshotLevels(map[uint]float64{concept: 0.3}),
			Candidates:      candidates,
			RecentAccuracy:  accuracy,
			HasRecentWindow: hasWindow,
		})
		require.NoError(t, err)
		require.NotEmpty(t, out.RecommendedQuestions)
		return out.RecommendedQuestions[0]
	}

	assert.Equal(t, uint(2), top(0.6, true), "正确率居中，目标难度持平概念难度 3")
	assert.Equal(t, uint(3), top(0.9, true), "正确率 ≥ 0.8 上调目标难度到 4")
	assert.Equal(t, uint(1), top(0.3, true), "正确率 ≤ 0.4 下调目标难度到 2")
	assert.Equal(t, uint(2), top(0.9, false), "无近期答题窗口不做自适应")
}

func TestPriorityFromScore(t *testing.T) {
	cases := []struct {
		score float64
		want  int
	}{
		{0, 1},
		{0.05, 1},
		{0.1, 2},
		{0.55, 6},
		{0.95, 10},
		{1.0, 10},
		{-0.2, 1},
		{3.0, 10},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, PriorityFromScore(c.score), "score=%v", c.score)
	}
}

func TestBuildForAnalysisPersistsRecommendation(t *testing.T) {
	env := newTestEnv(t)
	setID, relational, functional, normalization := normalizationGraph(t, env)

	env.recordAttempts(t, 1, relational, 1, 4)
	env.recordAttempts(t, 1, functional, 1, 4)
	env.createQuestion(t, setID, "范式化判断题", 4, normalization)
	env.createQuestion(t, setID, "函数依赖推导题", 3, functional)

	rootCause, err := env.rootCause.AnalyzeRootCause(context.Background(), 1, setID, normalization, 3)
	require.NoError(t, err)
	snapshot, err := env.mastery.MasterySnapshot(1, []uint{relational, functional, normalization})
	require.NoError(t, err)

	result := &model.AnalysisResult{UserID: 1, StudySetID: setID}
	result.ID = "a9f1c1de-0000-4000-8000-000000000042"

	rec, err := env.recommendation.BuildForAnalysis(result, rootCause, snapshot)
	require.NoError(t, err)

	assert.Equal(t, model.RecommendRemedial, rec.Type)
	assert.Equal(t, model.RecommendationPending, rec.Status)
	assert.NotEmpty(t, rec.RecommendedQuestions)
	assert.Greater(t, rec.PriorityLevel, 5, "缺口分数 1.0 对应最高档优先级")
	assert.Len(t, rec.GetLearningPath(), 3)

	stored, err := env.recommendation.Repo.FindByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.RecommendedQuestions, stored.RecommendedQuestions)
}

func TestUpdateStatusOwnership(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "归属校验")

	rec := &model.LearningRecommendation{
		UserID:     1,
		StudySetID: set.ID,
		Type:       model.RecommendComprehensive,
		Status:     model.RecommendationPending,
	}
	require.NoError(t, env.recommendation.Repo.Create(rec))

	err := env.recommendation.UpdateStatus(rec.ID, 2, model.RecommendationAccepted)
	assert.Error(t, err)

	require.NoError(t, env.recommendation.UpdateStatus(rec.ID, 1, model.RecommendationAccepted))
	stored, err := env.recommendation.Repo.FindByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecommendationAccepted, stored.Status)
}
