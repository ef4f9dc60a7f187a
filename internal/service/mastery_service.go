package service

import (
	"fmt"
	"sync"
	"time"

	"certigraph_backend/internal/config"
	"certigraph_backend/internal/model"
	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/util"

	"gorm.io/gorm"
)

// MasteryService 掌握度追踪
// 每次答题都追加历史并从完整历史重算掌握度，绝不在旧值上增量漂移，
// 因此并发竞争下后写方也会基于全量历史得到正确结果。
type MasteryService struct {
	Repo        *repository.MasteryRepository
	ConceptRepo *repository.ConceptRepository
	Cfg         config.AnalysisConfig
	Cache       AnalysisCache
	DB          *gorm.DB

	// 同一 (user, concept) 的写入需要串行；不同键互不阻塞
	keyLocks sync.Map
}

func NewMasteryService(repo *repository.MasteryRepository, conceptRepo *repository.ConceptRepository, cfg config.AnalysisConfig, cache AnalysisCache, db *gorm.DB) *MasteryService {
	return &MasteryService{
		Repo:        repo,
		ConceptRepo: conceptRepo,
		Cfg:         cfg,
		Cache:       cache,
		DB:          db,
	}
}

func (s *MasteryService) lockKey(userID, conceptID uint) *sync.Mutex {
	key := fmt.Sprintf("%d:%d", userID, conceptID)
	mu, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// RecordAttempt 记录一次答题并重算该概念的掌握度
func (s *MasteryService) RecordAttempt(userID, conceptID, questionID uint, correct bool, timeSpentMinutes float64) (*model.MasteryRecord, error) {
	concept, err := s.ConceptRepo.FindNodeByID(conceptID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, util.ErrConceptNotFound
		}
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}

	mu := s.lockKey(userID, conceptID)
	mu.Lock()
	defer mu.Unlock()

	var record *model.MasteryRecord
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		attempt := &model.ConceptAttempt{
			UserID:           userID,
			ConceptNodeID:    conceptID,
			QuestionID:       questionID,
			Correct:          correct,
			TimeSpentMinutes: timeSpentMinutes,
		}
		if err := s.Repo.AppendAttempt(tx, attempt); err != nil {
			return err
		}

		// 从完整历史重算，不做增量更新
		history, err := s.Repo.ListAttempts(tx, userID, conceptID)
		if err != nil {
			return err
		}

		record = s.recompute(userID, conceptID, concept.StudySetID, history)
		return s.Repo.UpsertRecord(tx, record)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}

	// 掌握度变化会使既有分析结论过期，主动失效该用户的缓存
	if s.Cache != nil {
		s.Cache.InvalidateUser(userID)
	}
	return record, nil
}

// recompute 由答题历史计算全时段与当前掌握度。
// 当前掌握度对窗口外的记录按 DecayWeight 降权，近期表现占主导。
func (s *MasteryService) recompute(userID, conceptID, studySetID uint, history []model.ConceptAttempt) *model.MasteryRecord {
	record := &model.MasteryRecord{
		UserID:        userID,
		ConceptNodeID: conceptID,
		StudySetID:    studySetID,
	}
	if len(history) == 0 {
		return record
	}

	cutoff := time.Now().AddDate(0, 0, -s.Cfg.DecayWindowDays)
	decay := s.Cfg.DecayWeight
	if decay <= 0 || decay > 1 {
		decay = 0.5
	}

	var weightedCorrect, weightedTotal float64
	for _, a := range history {
		record.Attempts++
		if a.Correct {
			record.CorrectAttempts++
		}

		w := 1.0
		if a.CreatedAt.Before(cutoff) {
			w = decay
		}
		weightedTotal += w
		if a.Correct {
			weightedCorrect += w
		}
	}

	record.MasteryLevel = float64(record.CorrectAttempts) / float64(record.Attempts)
	if weightedTotal > 0 {
		record.CurrentLevel = weightedCorrect / weightedTotal
	}

	last := history[len(history)-1].CreatedAt
	record.LastTestedAt = &last
	return record
}

// GetMastery 读取掌握度快照，无记录时返回零值记录（level = 0）
func (s *MasteryService) GetMastery(userID, conceptID uint) (*model.MasteryRecord, error) {
	record, err := s.Repo.FindRecord(userID, conceptID)
	if err != nil {
		if repository.IsNotFound(err) {
			return &model.MasteryRecord{UserID: userID, ConceptNodeID: conceptID}, nil
		}
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	return record, nil
}

// MasterySnapshot 批量掌握度快照，缺失的概念填零值记录
func (s *MasteryService) MasterySnapshot(userID uint, conceptIDs []uint) (map[uint]*model.MasteryRecord, error) {
	if len(conceptIDs) == 0 {
		return map[uint]*model.MasteryRecord{}, nil
	}
	records, err := s.Repo.FindRecords(userID, conceptIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	for _, id := range conceptIDs {
		if _, ok := records[id]; !ok {
			records[id] = &model.MasteryRecord{UserID: userID, ConceptNodeID: id}
		}
	}
	return records, nil
}

// StaleMasteries 超过 olderThanDays 未测试的概念 ID 列表
func (s *MasteryService) StaleMasteries(userID uint, olderThanDays int) ([]uint, error) {
	records, err := s.Repo.StaleRecords(userID, olderThanDays)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	ids := make([]uint, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ConceptNodeID)
	}
	return ids, nil
}

// RecentAccuracy 用户近期 sampleSize 次答题的正确率，answered=false 表示没有历史
func (s *MasteryService) RecentAccuracy(userID uint, sampleSize int) (float64, bool, error) {
	attempts, err := s.Repo.RecentAttempts(userID, sampleSize)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	if len(attempts) == 0 {
		return 0, false, nil
	}
	correct := 0
	for _, a := range attempts {
		if a.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(attempts)), true, nil
}

// AveragePaceFactor 用户历史答题速度相对基准的比值（>1 偏慢），用于学习路径时长估算
func (s *MasteryService) AveragePaceFactor(userID uint, sampleSize int) (float64, error) {
	attempts, err := s.Repo.RecentAttempts(userID, sampleSize)
	if err != nil {
		return 1, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}

	var total float64
	var counted int
	for _, a := range attempts {
		if a.TimeSpentMinutes > 0 {
			total += a.TimeSpentMinutes
			counted++
		}
	}
	if counted == 0 {
		return 1, nil
	}

	const baselineMinutes = 2.0
	factor := (total / float64(counted)) / baselineMinutes
	if factor < 0.5 {
		factor = 0.5
	}
	if factor > 3 {
		factor = 3
	}
	return factor, nil
}
