package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"certigraph_backend/internal/model"
	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type analysisEnv struct {
	*testEnv
	svc          *AnalysisService
	analysisRepo *repository.AnalysisRepository
}

func newAnalysisEnv(t *testing.T) *analysisEnv {
	t.Helper()
	env := newTestEnv(t)
	analysisRepo := repository.NewAnalysisRepository(env.db)
	svc := NewAnalysisService(
		analysisRepo,
		repository.NewWrongAnswerRepository(env.db),
		env.questionRepo,
		repository.NewUserRepository(env.db),
		repository.NewStudySetRepository(env.db),
		env.classifier,
		env.rootCause,
		env.mastery,
		env.recommendation,
		NoopAnalysisCache{},
		NoopNotifier{},
		NoopArchiver{},
		nil,
		testAnalysisConfig(),
	)
	return &analysisEnv{testEnv: env, svc: svc, analysisRepo: analysisRepo}
}

func (e *analysisEnv) createUser(t *testing.T, name string) uint {
	t.Helper()
	user := &model.User{Name: name, Email: name + "@example.com", Role: model.Student}
	require.NoError(t, e.db.Create(user).Error)
	return user.ID
}

func TestSubmitWrongAnswerFullPipeline(t *testing.T) {
	env := newAnalysisEnv(t)
	setID, relational, functional, normalization := normalizationGraph(t, env.testEnv)
	userID := env.createUser(t, "学生甲")

	// 前置薄弱，本题概念未测过
	env.recordAttempts(t, userID, relational, 1, 4)
	env.recordAttempts(t, userID, functional, 1, 4)
	question := env.createQuestion(t, setID, "下列关于第三范式的说法哪个正确", 3, normalization)
	env.createQuestion(t, setID, "函数依赖练习", 3, functional)

	result, created, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID:     userID,
		QuestionID: question.ID,
		StudySetID: setID,
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, model.AnalysisPending, result.Status)

	env.svc.process(context.Background(), result.ID)

	stored, err := env.analysisRepo.FindByID(result.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisCompleted, stored.Status)
	assert.Equal(t, model.ErrorConceptGap, stored.ErrorType)
	assert.Equal(t, model.SeverityHigh, stored.Severity, "两个前置全部薄弱，缺口分数 1.0")
	assert.InDelta(t, 1.0, stored.ConceptGapScore, 1e-9)
	assert.Equal(t, 2, stored.DepthReached)
	assert.Equal(t, 3, stored.NodesVisited)
	assert.Equal(t, util.JoinUints([]uint{relational, functional}), stored.RootCauseIDs,
		"掌握度并列时按 ID 升序")
	assert.NotEmpty(t, stored.GetTraversalPath())
	assert.Greater(t, stored.ProcessingTimeMs, int64(-1))

	// 派生出待处理推荐
	recs, total, err := env.recommendation.ListForUser(userID, model.RecommendationPending, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, stored.ID, recs[0].AnalysisResultID)
	assert.Equal(t, model.RecommendRemedial, recs[0].Type)

	// 错题事件带累计次数与概念关联
	event, err := env.svc.WrongAnswerRepo.FindLatest(userID, question.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, event.AttemptCount)
	assert.Equal(t, util.JoinUints([]uint{normalization}), event.ConceptNodeIDs)
}

func TestSubmitWrongAnswerCarelessShortCircuits(t *testing.T) {
	env := newAnalysisEnv(t)
	set := env.createStudySet(t, "粗心场景")
	concept := env.createConcept(t, set.ID, "索引", 2, 6)
	userID := env.createUser(t, "学生乙")

	// 掌握度很高：提交再记一次错后仍 > 0.7
	env.recordAttempts(t, userID, concept, 19, 0)
	question := env.createQuestion(t, set.ID, "关于聚簇索引哪项不正确", 2, concept)

	result, created, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID:     userID,
		QuestionID: question.ID,
		StudySetID: set.ID,
	})
	require.NoError(t, err)
	require.True(t, created)

	env.svc.process(context.Background(), result.ID)

	stored, err := env.analysisRepo.FindByID(result.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisCompleted, stored.Status)
	assert.Equal(t, model.ErrorCareless, stored.ErrorType)
	assert.InDelta(t, 0.95, stored.ConfidenceScore, 1e-9, "题干含否定词，置信度上调")
	// careless 不做根因遍历也不产生推荐
	assert.Equal(t, 0, stored.DepthReached)
	assert.Empty(t, stored.RootCauseIDs)
	_, total, err := env.recommendation.ListForUser(userID, model.RecommendationPending, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestSubmitWrongAnswerIdempotentWhilePending(t *testing.T) {
	env := newAnalysisEnv(t)
	set := env.createStudySet(t, "幂等")
	concept := env.createConcept(t, set.ID, "事务", 3, 7)
	userID := env.createUser(t, "学生丙")
	question := env.createQuestion(t, set.ID, "事务隔离级别", 3, concept)

	first, created, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: set.ID,
	})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: set.ID,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, env.db.Model(&model.AnalysisResult{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "同一业务键只有一条分析记录")

	// 错题事件照常累计
	event, err := env.svc.WrongAnswerRepo.FindLatest(userID, question.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, event.AttemptCount)
}

func TestResubmitAfterCompletionResetsAnalysis(t *testing.T) {
	env := newAnalysisEnv(t)
	set := env.createStudySet(t, "重分析")
	concept := env.createConcept(t, set.ID, "连接查询", 3, 7)
	userID := env.createUser(t, "学生丁")
	question := env.createQuestion(t, set.ID, "左外连接结果集", 3, concept)

	first, _, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: set.ID,
	})
	require.NoError(t, err)
	env.svc.process(context.Background(), first.ID)

	stored, err := env.analysisRepo.FindByID(first.ID)
	require.NoError(t, err)
	require.Equal(t, model.AnalysisCompleted, stored.Status)

	// 再错一次：输入变了，同一条记录重置回 pending
	again, created, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: set.ID,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, model.AnalysisPending, again.Status)
}

func TestSubmitWrongAnswerValidation(t *testing.T) {
	env := newAnalysisEnv(t)
	set := env.createStudySet(t, "校验")
	other := env.createStudySet(t, "另一个学习集")
	concept := env.createConcept(t, set.ID, "范式化", 3, 7)
	userID := env.createUser(t, "学生戊")
	question := env.createQuestion(t, set.ID, "BCNF 判定", 3, concept)

	_, _, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: 9999, QuestionID: question.ID, StudySetID: set.ID,
	})
	assert.ErrorIs(t, err, util.ErrUserNotFound)

	_, _, err = env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: 9999, StudySetID: set.ID,
	})
	assert.ErrorIs(t, err, util.ErrQuestionNotFound)

	_, _, err = env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: 9999,
	})
	assert.ErrorIs(t, err, util.ErrStudySetNotFound)

	// 题目属于别的学习集
	_, _, err = env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: other.ID,
	})
	assert.ErrorIs(t, err, util.ErrQuestionNotFound)
}

func TestProcessMarksFailedOnDeterministicError(t *testing.T) {
	env := newAnalysisEnv(t)
	set := env.createStudySet(t, "失败路径")
	concept := env.createConcept(t, set.ID, "游标", 3, 6)
	userID := env.createUser(t, "学生己")
	question := env.createQuestion(t, set.ID, "游标使用", 3, concept)

	result, _, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: set.ID,
	})
	require.NoError(t, err)

	// 声称之后题目被删除，分析在管线内确定性失败
	require.NoError(t, env.db.Unscoped().Delete(&model.Question{}, question.ID).Error)

	env.svc.process(context.Background(), result.ID)

	stored, err := env.analysisRepo.FindByID(result.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
	assert.Equal(t, 0, stored.RetryCount, "确定性错误不计重试")
}

func TestRetryAnalysisLifecycle(t *testing.T) {
	env := newAnalysisEnv(t)
	set := env.createStudySet(t, "手动重试")
	concept := env.createConcept(t, set.ID, "触发器", 3, 6)
	userID := env.createUser(t, "学生庚")
	question := env.createQuestion(t, set.ID, "触发器时机", 3, concept)

	result, _, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: set.ID,
	})
	require.NoError(t, err)

	// pending 状态不允许手动重试
	_, err = env.svc.RetryAnalysis(result.ID, userID)
	assert.ErrorIs(t, err, util.ErrAnalysisInFlight)

	// 制造失败后重试成功
	require.NoError(t, env.db.Unscoped().Delete(&model.Question{}, question.ID).Error)
	env.svc.process(context.Background(), result.ID)

	_, err = env.svc.RetryAnalysis(result.ID, 9999)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	retried, err := env.svc.RetryAnalysis(result.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisPending, retried.Status)
}

func TestConcurrentSubmitClaimsSingleSlot(t *testing.T) {
	env := newAnalysisEnv(t)
	set := env.createStudySet(t, "并发声称")
	concept := env.createConcept(t, set.ID, "视图", 3, 6)
	userID := env.createUser(t, "学生辛")
	question := env.createQuestion(t, set.ID, "物化视图刷新", 3, concept)

	const submitters = 8
	type submitOutcome struct {
		id      string
		created bool
		err     error
	}
	var wg sync.WaitGroup
	outcomes := make(chan submitOutcome, submitters)

	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, created, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
				UserID: userID, QuestionID: question.ID, StudySetID: set.ID,
			})
			outcome := submitOutcome{created: created, err: err}
			if result != nil {
				outcome.id = result.ID
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	created := 0
	var firstID string
	for o := range outcomes {
		require.NoError(t, o.err)
		if o.created {
			created++
		}
		if firstID == "" {
			firstID = o.id
		}
		assert.Equal(t, firstID, o.id)
	}
	assert.Equal(t, 1, created, "唯一索引保证只有一方创建")
}

func TestGetAnalysisOwnershipAndLookup(t *testing.T) {
	env := newAnalysisEnv(t)
	set := env.createStudySet(t, "归属")
	concept := env.createConcept(t, set.ID, "存储过程", 3, 6)
	userID := env.createUser(t, "学生壬")
	question := env.createQuestion(t, set.ID, "存储过程参数", 3, concept)

	result, _, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: set.ID,
	})
	require.NoError(t, err)

	_, err = env.svc.GetAnalysis(result.ID, 9999)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	_, err = env.svc.GetAnalysis("ffffffff-0000-4000-8000-000000000000", userID)
	assert.ErrorIs(t, err, util.ErrAnalysisNotFound)

	byKey, err := env.svc.GetByKey(context.Background(), userID, question.ID, set.ID)
	require.NoError(t, err)
	assert.Equal(t, result.ID, byKey.ID)

	recent, err := env.svc.ListRecent(userID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, result.ID, recent[0].ID)
}

func TestTimeBudgetSurfacesAsTimeout(t *testing.T) {
	env := newAnalysisEnv(t)
	setID, _, _, normalization := normalizationGraph(t, env.testEnv)
	userID := env.createUser(t, "学生癸")
	question := env.createQuestion(t, setID, "范式化综合题", 3, normalization)

	result, _, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: setID,
	})
	require.NoError(t, err)

	// 预算压到最小，process 内派生的超时上下文立即过期
	env.svc.Cfg.TimeBudget = time.Nanosecond
	env.svc.process(context.Background(), result.ID)

	stored, err := env.analysisRepo.FindByID(result.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisFailed, stored.Status)
	assert.Equal(t, util.ErrAnalysisTimeout.Error(), stored.ErrorMessage)
}

type stubReasoner struct {
	input GapReasoningInput
	text  string
	err   error
}

func (r *stubReasoner) ReasonAboutGap(ctx context.Context, input GapReasoningInput) (string, error) {
	r.input = input
	return r.text, r.err
}

func TestReasoningCarriesClassificationContext(t *testing.T) {
	env := newAnalysisEnv(t)
	reasoner := &stubReasoner{text: "先补函数依赖，再回到范式化练习。"}
	env.svc.Reasoner = reasoner

	setID, relational, functional, normalization := normalizationGraph(t, env.testEnv)
	userID := env.createUser(t, "学生子")
	env.recordAttempts(t, userID, relational, 1, 4)
	env.recordAttempts(t, userID, functional, 1, 4)
	question := env.createQuestion(t, setID, "范式分解保持依赖吗", 3, normalization)

	result, _, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: setID,
	})
	require.NoError(t, err)
	env.svc.process(context.Background(), result.ID)

	stored, err := env.analysisRepo.FindByID(result.ID)
	require.NoError(t, err)
	require.Equal(t, model.AnalysisCompleted, stored.Status)
	assert.Equal(t, reasoner.text, stored.Reasoning)
	// 推理输入带的是分类结果本身，不是转义后的副本
	assert.Equal(t, stored.ErrorType, reasoner.input.ErrorType)
	assert.InDelta(t, stored.ConceptGapScore, reasoner.input.GapScore, 1e-9)
	assert.Equal(t, []string{"关系模型", "函数依赖"}, reasoner.input.RootCauseNames)
}

func TestReasoningFailureFallsBackToTemplate(t *testing.T) {
	env := newAnalysisEnv(t)
	env.svc.Reasoner = &stubReasoner{err: errors.New("llm unavailable")}

	setID, _, _, normalization := normalizationGraph(t, env.testEnv)
	userID := env.createUser(t, "学生丑")
	question := env.createQuestion(t, setID, "范式化判断", 3, normalization)

	result, _, err := env.svc.SubmitWrongAnswer(context.Background(), SubmitWrongAnswerRequest{
		UserID: userID, QuestionID: question.ID, StudySetID: setID,
	})
	require.NoError(t, err)
	env.svc.process(context.Background(), result.ID)

	stored, err := env.analysisRepo.FindByID(result.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisCompleted, stored.Status)
	assert.NotEmpty(t, stored.Reasoning, "外部推理失败时降级为模板解释")
	assert.Contains(t, stored.Reasoning, "前置概念")
}

func TestListStuckRecoversOverflowedPending(t *testing.T) {
	env := newAnalysisEnv(t)
	set := env.createStudySet(t, "回收")
	concept := env.createConcept(t, set.ID, "子查询", 3, 6)
	userID := env.createUser(t, "学生寅")

	makeAnalysis := func(content string, status model.AnalysisStatus, aged bool) string {
		question := env.createQuestion(t, set.ID, content, 3, concept)
		result, _, err := env.analysisRepo.Claim(&model.AnalysisResult{
			UserID: userID, QuestionID: question.ID, StudySetID: set.ID,
			Status: model.AnalysisPending,
		})
		require.NoError(t, err)
		require.NoError(t, env.db.Model(&model.AnalysisResult{}).
			Where("id = ?", result.ID).
			UpdateColumn("status", status).Error)
		if aged {
			require.NoError(t, env.db.Model(&model.AnalysisResult{}).
				Where("id = ?", result.ID).
				UpdateColumn("updated_at", time.Now().Add(-24*time.Hour)).Error)
		}
		return result.ID
	}

	// 队列溢出被丢弃的 pending、worker 宕机遗留的 processing 都要被捞回；
	// 新鲜的 pending 和已完结的记录不动
	droppedPending := makeAnalysis("被丢弃的入队", model.AnalysisPending, true)
	orphanProcessing := makeAnalysis("宕机遗留", model.AnalysisProcessing, true)
	makeAnalysis("刚入队", model.AnalysisPending, false)
	makeAnalysis("已完成", model.AnalysisCompleted, true)

	stuck, err := env.analysisRepo.ListStuck(time.Minute, 100)
	require.NoError(t, err)

	ids := make([]string, 0, len(stuck))
	for _, result := range stuck {
		ids = append(ids, result.ID)
	}
	assert.ElementsMatch(t, []string{droppedPending, orphanProcessing}, ids)
}

func TestWeakestConceptSeedSelection(t *testing.T) {
	snapshot := map[uint]*model.MasteryRecord{
		1: {ConceptNodeID: 1, CurrentLevel: 0.6},
		2: {ConceptNodeID: 2, CurrentLevel: 0.2},
		3: {ConceptNodeID: 3, CurrentLevel: 0.2},
	}
	assert.Equal(t, uint(2), weakestConcept([]uint{3, 1, 2}, snapshot), "并列最低取最小 ID")
	assert.Equal(t, uint(5), weakestConcept([]uint{7, 5}, map[uint]*model.MasteryRecord{}),
		"无快照时全部视为 0，取最小 ID")
}
