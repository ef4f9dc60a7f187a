package service

import (
	"fmt"
	"testing"

	"certigraph_backend/internal/config"
	"certigraph_backend/internal/model"
	"certigraph_backend/internal/repository"
	"certigraph_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.StudySet{},
		&model.Question{},
		&model.QuestionConcept{},
		&model.ConceptNode{},
		&model.ConceptEdge{},
		&model.MasteryRecord{},
		&model.ConceptAttempt{},
		&model.WrongAnswerEvent{},
		&model.AnalysisResult{},
		&model.LearningRecommendation{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// 单连接：共享缓存内存库在并发写下会报 table locked，池收到 1 即可规避
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return db
}

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		MaxDepth:        3,
		Workers:         2,
		QueueSize:       16,
		TimeBudget:      2_000_000_000,
		MaxRetries:      2,
		RetryBackoff:    1_000_000,
		DecayWindowDays: 30,
		DecayWeight:     0.5,
	}
}

type testEnv struct {
	db             *gorm.DB
	conceptRepo    *repository.ConceptRepository
	masteryRepo    *repository.MasteryRepository
	questionRepo   *repository.QuestionRepository
	graph          *ConceptGraphService
	mastery        *MasteryService
	classifier     *ErrorClassifierService
	rootCause      *RootCauseService
	recommendation *RecommendationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	conceptRepo := repository.NewConceptRepository(db)
	masteryRepo := repository.NewMasteryRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	recommendationRepo := repository.NewRecommendationRepository(db)

	graph := NewConceptGraphService(conceptRepo)
	mastery := NewMasteryService(masteryRepo, conceptRepo, testAnalysisConfig(), NoopAnalysisCache{}, db)
	recommendation := NewRecommendationService(graph, mastery, questionRepo, recommendationRepo)

	return &testEnv{
		db:             db,
		conceptRepo:    conceptRepo,
		masteryRepo:    masteryRepo,
		questionRepo:   questionRepo,
		graph:          graph,
		mastery:        mastery,
		classifier:     NewErrorClassifierService(),
		rootCause:      NewRootCauseService(graph, mastery),
		recommendation: recommendation,
	}
}

func (e *testEnv) createStudySet(t *testing.T, title string) *model.StudySet {
	t.Helper()
	set := &model.StudySet{Title: title, Subject: "test", Active: true}
	if err := e.db.Create(set).Error; err != nil {
		t.Fatalf("create study set: %v", err)
	}
	return set
}

func (e *testEnv) createConcept(t *testing.T, studySetID uint, name string, difficulty, importance int) uint {
	t.Helper()
	id, err := e.graph.AddNode(&model.ConceptNode{
		StudySetID: studySetID,
		Name:       name,
		Level:      model.LevelConcept,
		Difficulty: difficulty,
		Importance: importance,
	})
	if err != nil {
		t.Fatalf("add node %q: %v", name, err)
	}
	return id
}

func (e *testEnv) addPrerequisite(t *testing.T, studySetID, from, to uint, weight float64) {
	t.Helper()
	err := e.graph.AddEdge(&model.ConceptEdge{
		StudySetID:       studySetID,
		FromNodeID:       from,
		ToNodeID:         to,
		RelationshipType: model.RelPrerequisite,
		Weight:           weight,
		Strength:         model.StrengthMandatory,
	})
	if err != nil {
		t.Fatalf("add edge %d -> %d: %v", from, to, err)
	}
}

func (e *testEnv) createQuestion(t *testing.T, studySetID uint, content string, difficulty int, conceptIDs ...uint) *model.Question {
	t.Helper()
	q := &model.Question{
		StudySetID: studySetID,
		Content:    content,
		Difficulty: difficulty,
	}
	if err := e.db.Create(q).Error; err != nil {
		t.Fatalf("create question: %v", err)
	}
	for _, cid := range conceptIDs {
		if err := e.db.Create(&model.QuestionConcept{QuestionID: q.ID, ConceptNodeID: cid, Weight: 1}).Error; err != nil {
			t.Fatalf("link question concept: %v", err)
		}
	}
	return q
}

// recordAttempts 连续记录 correct 次正确和 wrong 次错误
func (e *testEnv) recordAttempts(t *testing.T, userID, conceptID uint, correct, wrong int) {
	t.Helper()
	for i := 0; i < correct; i++ {
		if _, err := e.mastery.RecordAttempt(userID, conceptID, 0, true, 2); err != nil {
			t.Fatalf("record correct attempt: %v", err)
		}
	}
	for i := 0; i < wrong; i++ {
		if _, err := e.mastery.RecordAttempt(userID, conceptID, 0, false, 2); err != nil {
			t.Fatalf("record wrong attempt: %v", err)
		}
	}
}
