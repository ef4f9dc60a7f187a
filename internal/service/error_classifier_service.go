package service

import (
	"strings"

	"certigraph_backend/internal/model"
	"certigraph_backend/internal/util"
)

// CarelessIndicatorFunc 粗心指标启发式：检查题干中是否有被忽视的否定词。
// 具体词表是可替换的实现细节，不属于分类正确性的核心不变量。
type CarelessIndicatorFunc func(questionContent string) (string, bool)

// ErrorClassifierService 错误归因分类器
// 规则确定、按优先级先匹配先赢；同等输入必得同等输出。掌握度越高，
// 归为 concept_gap 的可能性只会降低（单调性约束）。
type ErrorClassifierService struct {
	CarelessIndicator CarelessIndicatorFunc
}

func NewErrorClassifierService() *ErrorClassifierService {
	return &ErrorClassifierService{CarelessIndicator: DefaultNegationIndicator}
}

// DefaultNegationIndicator 默认否定词检测
func DefaultNegationIndicator(questionContent string) (string, bool) {
	lowered := strings.ToLower(questionContent)
	for _, marker := range util.NegationMarkers {
		if strings.Contains(lowered, marker) {
			return "opposite-directive misread: question contains negation marker \"" + marker + "\"", true
		}
	}
	return "", false
}

// Classify 对一次错题事件归因。规则按优先级评估：
//  1. careless：所测概念当前掌握度最低值 > 0.7 且是该题第一次做错
//  2. persistent_gap：同一题累计错误 > 2 次
//  3. difficult_content：题目难度 ≥ 4 且掌握度 ≤ 0.5
//  4. mixed：掌握度高但已是第二次做错（介于 1、2 之间的灰区）
//  5. concept_gap：以上都不满足，按真实知识缺口处理
//
// Severity 由编排器在拿到缺口分数后经 SeverityFor 补齐，这里先给 low。
func (s *ErrorClassifierService) Classify(event *model.WrongAnswerEvent, question *model.Question, snapshot map[uint]*model.MasteryRecord) model.Classification {
	// 输入不完整时按保守缺省返回，不抛错（分类永远有结论）
	if question == nil || len(snapshot) == 0 {
		return model.Classification{
			Type:       model.ErrorConceptGap,
			Severity:   model.SeverityLow,
			Confidence: 0.3,
			Indicators: []string{"inconclusive: missing mastery snapshot"},
		}
	}

	minMastery := 1.0
	for _, record := range snapshot {
		if record.CurrentLevel < minMastery {
			minMastery = record.CurrentLevel
		}
	}

	// 1. careless
	if minMastery > util.MasteryHighThreshold && event.AttemptCount <= 1 {
		c := model.Classification{
			Type:       model.ErrorCareless,
			Severity:   model.SeverityLow,
			Confidence: 0.85,
			Indicators: []string{"high mastery, first wrong attempt on this question"},
		}
		if s.CarelessIndicator != nil {
			if indicator, ok := s.CarelessIndicator(question.Content); ok {
				c.Indicators = append(c.Indicators, indicator)
				c.Confidence = 0.95
			}
		}
		return c
	}

	// 2. persistent_gap
	if event.AttemptCount > 2 {
		return model.Classification{
			Type:       model.ErrorPersistentGap,
			Severity:   model.SeverityLow,
			Confidence: 0.95,
			Indicators: []string{"repeated failures on the same question"},
		}
	}

	// 3. difficult_content
	if question.Difficulty >= util.DifficultContentMinimum && minMastery <= util.MasteryGapThreshold {
		return model.Classification{
			Type:       model.ErrorDifficultContent,
			Severity:   model.SeverityLow,
			Confidence: 0.8,
			Indicators: []string{"high question difficulty against partial mastery"},
		}
	}

	// 4. mixed：掌握度达标但错了第二次，粗心与缺口信号并存
	if minMastery > util.MasteryHighThreshold && event.AttemptCount == 2 {
		return model.Classification{
			Type:       model.ErrorMixed,
			Severity:   model.SeverityLow,
			Confidence: 0.6,
			Indicators: []string{"high mastery but second wrong attempt"},
		}
	}

	// 5. concept_gap（缺省分支）
	return model.Classification{
		Type:       model.ErrorConceptGap,
		Severity:   model.SeverityLow,
		Confidence: 0.75,
		Indicators: []string{"no careless or difficulty signal, treating as knowledge deficiency"},
	}
}

// SeverityFor 由概念缺口分数得出严重程度（纯函数）
func (s *ErrorClassifierService) SeverityFor(gapScore float64) model.Severity {
	switch {
	case gapScore > util.GapScoreHighSeverity:
		return model.SeverityHigh
	case gapScore > util.GapScoreMediumSeverity:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// NeedsTraversal 哪些归因类型需要继续做根因遍历
func NeedsTraversal(t model.ErrorType) bool {
	switch t {
	case model.ErrorConceptGap, model.ErrorPersistentGap, model.ErrorMixed, model.ErrorDifficultContent:
		return true
	default:
		return false
	}
}
