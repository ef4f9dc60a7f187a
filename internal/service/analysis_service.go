package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"certigraph_backend/internal/config"
	"certigraph_backend/internal/model"
	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/util"
	"certigraph_backend/pkg/logger"
	"certigraph_backend/pkg/monitoring"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SubmitWrongAnswerRequest 错题提交请求
type SubmitWrongAnswerRequest struct {
	UserID           uint    `json:"userId"`
	QuestionID       uint    `json:"questionId" binding:"required"`
	StudySetID       uint    `json:"studySetId" binding:"required"`
	SelectedAnswer   string  `json:"selectedAnswer"`
	TimeSpentMinutes float64 `json:"timeSpentMinutes"`
}

// AnalysisService 弱点分析编排器
// 负责错题摄入、分析生命周期（pending → processing → completed | failed）、
// 工作池调度、瞬时错误重试与结果缓存。每个 (用户, 题目, 学习集) 组合
// 靠数据库唯一索引保证最多一条在途分析。
type AnalysisService struct {
	Repo            *repository.AnalysisRepository
	WrongAnswerRepo *repository.WrongAnswerRepository
	QuestionRepo    *repository.QuestionRepository
	UserRepo        *repository.UserRepository
	StudySetRepo    *repository.StudySetRepository

	Classifier      *ErrorClassifierService
	RootCause       *RootCauseService
	Mastery         *MasteryService
	Recommendations *RecommendationService

	Cache    AnalysisCache
	Notifier Notifier
	Archiver ReportArchiver
	Reasoner GapReasoner

	Cfg   config.AnalysisConfig
	queue chan string
}

func NewAnalysisService(
	repo *repository.AnalysisRepository,
	wrongAnswerRepo *repository.WrongAnswerRepository,
	questionRepo *repository.QuestionRepository,
	userRepo *repository.UserRepository,
	studySetRepo *repository.StudySetRepository,
	classifier *ErrorClassifierService,
	rootCause *RootCauseService,
	mastery *MasteryService,
	recommendations *RecommendationService,
	cache AnalysisCache,
	notifier Notifier,
	archiver ReportArchiver,
	reasoner GapReasoner,
	cfg config.AnalysisConfig,
) *AnalysisService {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &AnalysisService{
		Repo:            repo,
		WrongAnswerRepo: wrongAnswerRepo,
		QuestionRepo:    questionRepo,
		UserRepo:        userRepo,
		StudySetRepo:    studySetRepo,
		Classifier:      classifier,
		RootCause:       rootCause,
		Mastery:         mastery,
		Recommendations: recommendations,
		Cache:           cache,
		Notifier:        notifier,
		Archiver:        archiver,
		Reasoner:        reasoner,
		Cfg:             cfg,
		queue:           make(chan string, queueSize),
	}
}

// Start 启动分析工作池与卡死记录回收器，ctx 取消后全部退出
func (s *AnalysisService) Start(ctx context.Context) {
	workers := s.Cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case id := <-s.queue:
					monitoring.AnalysisQueueDepth.Set(float64(len(s.queue)))
					s.process(gctx, id)
				}
			}
		})
	}

	if s.Cfg.StuckSweepEnabled {
		g.Go(func() error {
			return s.sweepStuck(gctx)
		})
	}

	go func() {
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Error("analysis worker pool exited", zap.Error(err))
		}
	}()
	logger.Log.Info("analysis worker pool started",
		zap.Int("workers", workers), zap.Int("queueSize", cap(s.queue)))
}

// SubmitWrongAnswer 错题摄入入口。
// 记录事件、更新掌握度、声称（claim）分析槽位并入队。重复提交返回既有
// 结果而不是新建：created 为 false 时调用方应按 200 而非 202 响应。
func (s *AnalysisService) SubmitWrongAnswer(ctx context.Context, req SubmitWrongAnswerRequest) (*model.AnalysisResult, bool, error) {
	// 1. 校验实体存在性
	if _, err := s.UserRepo.FindByID(req.UserID); err != nil {
		if repository.IsNotFound(err) {
			return nil, false, util.ErrUserNotFound
		}
		return nil, false, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	if _, err := s.StudySetRepo.FindByID(req.StudySetID); err != nil {
		if repository.IsNotFound(err) {
			return nil, false, util.ErrStudySetNotFound
		}
		return nil, false, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	question, err := s.QuestionRepo.FindByID(req.QuestionID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, false, util.ErrQuestionNotFound
		}
		return nil, false, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	if question.StudySetID != req.StudySetID {
		return nil, false, util.ErrQuestionNotFound
	}

	// 2. 记录错题事件（累计错误次数含本次）
	previous, err := s.WrongAnswerRepo.CountForQuestion(req.UserID, req.QuestionID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	conceptIDs, err := s.QuestionRepo.ConceptIDsForQuestion(req.QuestionID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	event := &model.WrongAnswerEvent{
		UserID:         req.UserID,
		QuestionID:     req.QuestionID,
		StudySetID:     req.StudySetID,
		SelectedAnswer: req.SelectedAnswer,
		AttemptCount:   int(previous) + 1,
		ConceptNodeIDs: util.JoinUints(conceptIDs),
	}
	if err := s.WrongAnswerRepo.Create(event); err != nil {
		return nil, false, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}

	// 3. 按概念记一次错误尝试，掌握度全量重算
	for _, conceptID := range conceptIDs {
		if _, err := s.Mastery.RecordAttempt(req.UserID, conceptID, req.QuestionID, false, req.TimeSpentMinutes); err != nil {
			return nil, false, err
		}
	}

	// 4. 声称分析槽位：唯一索引保证并发提交只有一方创建
	result, created, err := s.Repo.Claim(&model.AnalysisResult{
		UserID:     req.UserID,
		QuestionID: req.QuestionID,
		StudySetID: req.StudySetID,
		Status:     model.AnalysisPending,
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}

	if !created {
		switch result.Status {
		case model.AnalysisPending, model.AnalysisProcessing:
			// 在途分析：不重复入队，直接返回当前状态
			return result, false, nil
		default:
			// 已有终态：再错一次意味着输入变了，重置后重新分析
			reset, err := s.Repo.ResetForRetry(result.ID)
			if err != nil {
				return nil, false, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
			}
			if !reset {
				return result, false, nil
			}
			result.Status = model.AnalysisPending
		}
	}

	s.enqueue(result.ID)
	return result, created, nil
}

func (s *AnalysisService) enqueue(id string) {
	select {
	case s.queue <- id:
		monitoring.AnalysisQueueDepth.Set(float64(len(s.queue)))
	default:
		// 队列满：记录不丢，留给回收器按 pending 捞回
		logger.Log.Warn("analysis queue full, deferring to sweeper", zap.String("analysisID", id))
	}
}

// process 占有并执行一次分析，整体受时钟预算约束
func (s *AnalysisService) process(ctx context.Context, id string) {
	ok, err := s.Repo.TransitionStatus(id, model.AnalysisPending, model.AnalysisProcessing)
	if err != nil {
		logger.Log.Error("failed to transition analysis to processing",
			zap.String("analysisID", id), zap.Error(err))
		return
	}
	if !ok {
		// 已被别的 worker 占有或已终态
		return
	}

	budget := s.Cfg.TimeBudget
	if budget <= 0 {
		budget = 2 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	err = s.runWithRetry(runCtx, id)
	elapsed := time.Since(start)
	monitoring.AnalysisDuration.Observe(elapsed.Seconds())

	if err != nil {
		s.markFailed(id, err, elapsed)
		return
	}
	monitoring.AnalysisCounter.WithLabelValues(string(model.AnalysisCompleted), s.completedErrorType(id)).Inc()
}

// runWithRetry 对瞬时存储错误做指数退避重试，确定性错误直接失败
func (s *AnalysisService) runWithRetry(ctx context.Context, id string) error {
	maxRetries := s.Cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := s.Cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return util.ErrAnalysisTimeout
			case <-time.After(backoff):
			}
			backoff *= 2
			s.bumpRetryCount(id)
			logger.Log.Warn("retrying analysis after transient failure",
				zap.String("analysisID", id), zap.Int("attempt", attempt), zap.Error(lastErr))
		}

		lastErr = s.runAnalysis(ctx, id)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, util.ErrTransientStore) {
			return lastErr
		}
	}
	return lastErr
}

// runAnalysis 单次分析管线：分类 → 根因遍历 → 推荐 →（尽力）解释 → 落库
func (s *AnalysisService) runAnalysis(ctx context.Context, id string) error {
	start := time.Now()

	result, err := s.Repo.FindByID(id)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}

	event, err := s.WrongAnswerRepo.FindLatest(result.UserID, result.QuestionID)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	question, err := s.QuestionRepo.FindByID(result.QuestionID)
	if err != nil {
		if repository.IsNotFound(err) {
			return util.ErrQuestionNotFound
		}
		return fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}

	conceptIDs := util.SplitUints(event.ConceptNodeIDs)
	snapshot, err := s.Mastery.MasterySnapshot(result.UserID, conceptIDs)
	if err != nil {
		return err
	}

	// 1. 错误分类
	classification := s.Classifier.Classify(event, question, snapshot)
	result.ErrorType = classification.Type
	result.Severity = classification.Severity
	result.ConfidenceScore = classification.Confidence
	result.Indicators = util.MarshalIndicators(classification.Indicators)

	// 2. 根因遍历（careless 不需要）
	var rootCause *RootCauseResult
	if NeedsTraversal(classification.Type) && len(conceptIDs) > 0 {
		seedID := weakestConcept(conceptIDs, snapshot)
		rootCause, err = s.RootCause.AnalyzeRootCause(ctx, result.UserID, result.StudySetID, seedID, s.Cfg.MaxDepth)
		if err != nil {
			return err
		}
		result.ConceptGapScore = rootCause.GapScore
		result.Severity = s.Classifier.SeverityFor(rootCause.GapScore)
		result.DepthReached = rootCause.DepthReached
		result.NodesVisited = len(rootCause.TraversalPath)
		result.RootCauseIDs = util.JoinUints(rootCause.Prerequisites)
		result.SetTraversalPath(rootCause.TraversalPath)
	}

	// 3. 学习推荐
	var recommendation *model.LearningRecommendation
	if rootCause != nil {
		pathSet := append(append([]uint{}, rootCause.Prerequisites...), rootCause.ConceptNodeID)
		pathSnapshot, err := s.Mastery.MasterySnapshot(result.UserID, pathSet)
		if err != nil {
			return err
		}
		recommendation, err = s.Recommendations.BuildForAnalysis(result, rootCause, pathSnapshot)
		if err != nil {
			return err
		}
	}

	// 4. 解释文本：外部协作方，失败降级到模板解释，不阻塞
	if rootCause != nil {
		rootCauseNames := s.conceptNames(result.StudySetID, rootCause.Prerequisites)
		result.Reasoning = heuristicReasoning(result.ConceptGapScore, rootCauseNames)
		if s.Reasoner != nil {
			reasoning, err := s.Reasoner.ReasonAboutGap(ctx, GapReasoningInput{
				QuestionContent: question.Content,
				ErrorType:       result.ErrorType,
				GapScore:        result.ConceptGapScore,
				RootCauseNames:  rootCauseNames,
			})
			if err != nil {
				logger.Log.Warn("gap reasoning unavailable, falling back to template explanation",
					zap.String("analysisID", id), zap.Error(err))
			} else {
				result.Reasoning = reasoning
			}
		}
	}

	// 5. 完成落库
	result.Status = model.AnalysisCompleted
	result.ErrorMessage = ""
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	if err := s.Repo.Update(result); err != nil {
		return fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}

	s.Cache.Set(ctx, result)
	s.Notifier.NotifyCompletion(ctx, AnalysisEvent{
		AnalysisResultID: result.ID,
		UserID:           result.UserID,
		QuestionID:       result.QuestionID,
		StudySetID:       result.StudySetID,
		Status:           result.Status,
		ErrorType:        result.ErrorType,
	})
	if s.Archiver != nil {
		var recs []model.LearningRecommendation
		if recommendation != nil {
			recs = append(recs, *recommendation)
		}
		s.Archiver.ArchiveReport(ctx, result, recs)
	}

	logger.Log.Info("analysis completed",
		zap.String("analysisID", id),
		zap.String("errorType", string(result.ErrorType)),
		zap.Float64("gapScore", result.ConceptGapScore),
		zap.Int64("processingTimeMs", result.ProcessingTimeMs))
	return nil
}

func (s *AnalysisService) markFailed(id string, cause error, elapsed time.Duration) {
	message := cause.Error()
	if errors.Is(cause, util.ErrAnalysisTimeout) {
		message = util.ErrAnalysisTimeout.Error()
	}

	ok, err := s.Repo.TransitionStatus(id, model.AnalysisProcessing, model.AnalysisFailed)
	if err != nil || !ok {
		logger.Log.Error("failed to mark analysis as failed",
			zap.String("analysisID", id), zap.Bool("transitioned", ok), zap.Error(err))
		return
	}
	if result, err := s.Repo.FindByID(id); err == nil {
		result.ErrorMessage = message
		result.ProcessingTimeMs = elapsed.Milliseconds()
		if err := s.Repo.Update(result); err != nil {
			logger.Log.Error("failed to persist analysis failure detail",
				zap.String("analysisID", id), zap.Error(err))
		}
		s.Notifier.NotifyCompletion(context.Background(), AnalysisEvent{
			AnalysisResultID: result.ID,
			UserID:           result.UserID,
			QuestionID:       result.QuestionID,
			StudySetID:       result.StudySetID,
			Status:           model.AnalysisFailed,
			ErrorMessage:     message,
		})
	}
	monitoring.AnalysisCounter.WithLabelValues(string(model.AnalysisFailed), "").Inc()
	logger.Log.Warn("analysis failed", zap.String("analysisID", id), zap.String("reason", message))
}

func (s *AnalysisService) bumpRetryCount(id string) {
	if result, err := s.Repo.FindByID(id); err == nil {
		result.RetryCount++
		_ = s.Repo.Update(result)
	}
}

func (s *AnalysisService) completedErrorType(id string) string {
	result, err := s.Repo.FindByID(id)
	if err != nil {
		return ""
	}
	return string(result.ErrorType)
}

// heuristicReasoning 无外部推理服务时的模板化解释
func heuristicReasoning(gapScore float64, rootCauseNames []string) string {
	if len(rootCauseNames) == 0 {
		return "该知识点没有前置概念，建议围绕知识点本身加强练习。"
	}
	return fmt.Sprintf("本题涉及 %d 个前置概念（%s），前置缺口分数 %.2f，建议按推荐的学习路径先补齐前置概念再回到本题。",
		len(rootCauseNames), strings.Join(rootCauseNames, "、"), gapScore)
}

func (s *AnalysisService) conceptNames(studySetID uint, conceptIDs []uint) []string {
	names := make([]string, 0, len(conceptIDs))
	for _, conceptID := range conceptIDs {
		node, err := s.RootCause.Graph.GetNode(studySetID, conceptID)
		if err != nil {
			continue
		}
		names = append(names, node.Name)
	}
	return names
}

// sweepStuck 周期回收卡住的非终态记录：processing 是 worker 宕机或进程
// 重启的遗留，pending 是队列溢出时被丢弃的入队请求，都重新入队
func (s *AnalysisService) sweepStuck(ctx context.Context) error {
	interval := time.Minute
	cutoff := 5 * s.Cfg.TimeBudget
	if cutoff < time.Minute {
		cutoff = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stuck, err := s.Repo.ListStuck(cutoff, 100)
			if err != nil {
				logger.Log.Error("failed to list stuck analyses", zap.Error(err))
				continue
			}
			for _, result := range stuck {
				// pending 是队列溢出被丢弃的入队请求，直接重新入队；
				// processing 先抢回 pending，抢失败说明有 worker 正在处理
				if result.Status == model.AnalysisProcessing {
					ok, err := s.Repo.TransitionStatus(result.ID, model.AnalysisProcessing, model.AnalysisPending)
					if err != nil || !ok {
						continue
					}
				}
				logger.Log.Warn("requeued stuck analysis",
					zap.String("analysisID", result.ID), zap.String("status", string(result.Status)))
				s.enqueue(result.ID)
			}
		}
	}
}

// GetAnalysis 按 ID 查询，带归属校验
func (s *AnalysisService) GetAnalysis(id string, userID uint) (*model.AnalysisResult, error) {
	result, err := s.Repo.FindByID(id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, util.ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	if result.UserID != userID {
		return nil, util.ErrPermissionDenied
	}
	return result, nil
}

// GetByKey 按业务键查询，完成态走缓存快路径
func (s *AnalysisService) GetByKey(ctx context.Context, userID, questionID, studySetID uint) (*model.AnalysisResult, error) {
	if cached, ok := s.Cache.Get(ctx, userID, questionID, studySetID); ok {
		return cached, nil
	}
	result, err := s.Repo.FindByKey(userID, questionID, studySetID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, util.ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	if result.Status == model.AnalysisCompleted {
		s.Cache.Set(ctx, result)
	}
	return result, nil
}

// RetryAnalysis 手动重试一条失败的分析
func (s *AnalysisService) RetryAnalysis(id string, userID uint) (*model.AnalysisResult, error) {
	result, err := s.GetAnalysis(id, userID)
	if err != nil {
		return nil, err
	}
	if result.Status != model.AnalysisFailed {
		return nil, util.ErrAnalysisInFlight
	}
	ok, err := s.Repo.ResetForRetry(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	if !ok {
		return result, nil
	}
	result.Status = model.AnalysisPending
	s.enqueue(id)
	return result, nil
}

func (s *AnalysisService) ListRecent(userID uint, limit int) ([]model.AnalysisResult, error) {
	return s.Repo.ListRecent(userID, limit)
}

// weakestConcept 选掌握度最低的概念作为遍历种子，并列取最小 ID
func weakestConcept(conceptIDs []uint, snapshot map[uint]*model.MasteryRecord) uint {
	sorted := append([]uint{}, conceptIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	seed := sorted[0]
	lowest := masteryOf(snapshot, seed)
	for _, id := range sorted[1:] {
		if m := masteryOf(snapshot, id); m < lowest {
			seed, lowest = id, m
		}
	}
	return seed
}
