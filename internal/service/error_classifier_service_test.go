package service

import (
	"testing"

	"certigraph_backend/internal/model"

	"github.com/stretchr/testify/assert"
)

func snapshotWith(levels map[uint]float64) map[uint]*model.MasteryRecord {
	out := make(map[uint]*model.MasteryRecord, len(levels))
	for id, level := range levels {
		out[id] = &model.MasteryRecord{ConceptNodeID: id, Attempts: 5, CurrentLevel: level}
	}
	return out
}

func TestClassifyPrecedence(t *testing.T) {
	classifier := NewErrorClassifierService()

	tests := []struct {
		name         string
		attemptCount int
		difficulty   int
		content      string
		levels       map[uint]float64
		wantType     model.ErrorType
	}{
		{
			name:         "高掌握度首错判为粗心",
			attemptCount: 1,
			difficulty:   3,
			levels:       map[uint]float64{1: 0.9},
			wantType:     model.ErrorCareless,
		},
		{
			name:         "三次以上失败优先判为顽固缺口",
			attemptCount: 3,
			difficulty:   3,
			levels:       map[uint]float64{1: 0.9},
			wantType:     model.ErrorPersistentGap,
		},
		{
			name:         "高难度题配中等掌握度判为内容过难",
			attemptCount: 1,
			difficulty:   5,
			levels:       map[uint]float64{1: 0.45},
			wantType:     model.ErrorDifficultContent,
		},
		{
			name:         "高掌握度二次失误判为混合型",
			attemptCount: 2,
			difficulty:   3,
			levels:       map[uint]float64{1: 0.9},
			wantType:     model.ErrorMixed,
		},
		{
			name:         "低掌握度首错判为概念缺口",
			attemptCount: 1,
			difficulty:   2,
			levels:       map[uint]float64{1: 0.2},
			wantType:     model.ErrorConceptGap,
		},
		{
			name:         "多概念取掌握度最低者",
			attemptCount: 1,
			difficulty:   2,
			levels:       map[uint]float64{1: 0.95, 2: 0.1},
			wantType:     model.ErrorConceptGap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &model.WrongAnswerEvent{AttemptCount: tt.attemptCount}
			question := &model.Question{Content: tt.content, Difficulty: tt.difficulty}
			got := classifier.Classify(event, question, snapshotWith(tt.levels))
			assert.Equal(t, tt.wantType, got.Type)
			assert.NotEmpty(t, got.Indicators)
			assert.Greater(t, got.Confidence, 0.0)
		})
	}
}

func TestClassifyNegationBoostsCarelessConfidence(t *testing.T) {
	classifier := NewErrorClassifierService()
	event := &model.WrongAnswerEvent{AttemptCount: 1}
	snapshot := snapshotWith(map[uint]float64{1: 0.9})

	plain := classifier.Classify(event, &model.Question{Content: "下列哪项正确", Difficulty: 3}, snapshot)
	negated := classifier.Classify(event, &model.Question{Content: "下列哪项不正确", Difficulty: 3}, snapshot)

	assert.Equal(t, model.ErrorCareless, plain.Type)
	assert.Equal(t, model.ErrorCareless, negated.Type)
	assert.Greater(t, negated.Confidence, plain.Confidence, "否定式题干是粗心的强信号")
}

func TestClassifyInconclusiveInputs(t *testing.T) {
	classifier := NewErrorClassifierService()
	event := &model.WrongAnswerEvent{AttemptCount: 1}

	got := classifier.Classify(event, nil, nil)
	assert.Equal(t, model.ErrorConceptGap, got.Type)
	assert.LessOrEqual(t, got.Confidence, 0.3, "输入不完整时置信度保守")
}

func TestSeverityForGapScore(t *testing.T) {
	classifier := NewErrorClassifierService()

	assert.Equal(t, model.SeverityLow, classifier.SeverityFor(0))
	assert.Equal(t, model.SeverityLow, classifier.SeverityFor(0.3))
	assert.Equal(t, model.SeverityMedium, classifier.SeverityFor(0.31))
	assert.Equal(t, model.SeverityMedium, classifier.SeverityFor(0.7))
	assert.Equal(t, model.SeverityHigh, classifier.SeverityFor(0.71))
	assert.Equal(t, model.SeverityHigh, classifier.SeverityFor(1))
}

func TestNeedsTraversal(t *testing.T) {
	assert.False(t, NeedsTraversal(model.ErrorCareless))
	assert.True(t, NeedsTraversal(model.ErrorConceptGap))
	assert.True(t, NeedsTraversal(model.ErrorPersistentGap))
	assert.True(t, NeedsTraversal(model.ErrorMixed))
	assert.True(t, NeedsTraversal(model.ErrorDifficultContent))
}
