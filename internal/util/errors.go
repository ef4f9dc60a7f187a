package util

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrStudySetNotFound = errors.New("study set not found")
	ErrConceptNotFound  = errors.New("concept not found")
	ErrAnalysisNotFound = errors.New("analysis result not found")
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCycleDetected 前置边插入或遍历会形成环
	ErrCycleDetected = errors.New("prerequisite cycle detected")
	// ErrAnalysisInFlight 同一 (user, question, study_set) 已有进行中的分析
	ErrAnalysisInFlight = errors.New("analysis already in flight")
	// ErrAnalysisTimeout 分析超出时钟预算
	ErrAnalysisTimeout = errors.New("analysis exceeded time budget")
	// ErrTransientStore 底层存储暂时不可用，可按策略重试
	ErrTransientStore = errors.New("store temporarily unavailable")
	// ErrInvalidEdge 非法边参数（自环、跨学习集等）
	ErrInvalidEdge = errors.New("invalid concept edge")
)
