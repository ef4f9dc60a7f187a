package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

// 掌握度阈值，错误分类与推荐选型共用
const (
	MasteryHighThreshold    = 0.7 // 高于此视为已掌握
	MasteryGapThreshold     = 0.5 // 低于此计入前置缺口
	MasteryRemedialCeiling  = 0.3 // 低于此触发补救型推荐
	AccuracyRaiseThreshold  = 0.8 // 近期正确率高于此上调目标难度
	AccuracyLowerThreshold  = 0.4 // 低于此下调目标难度
	GapScoreHighSeverity    = 0.7
	GapScoreMediumSeverity  = 0.3
	DifficultContentMinimum = 4 // 题目难度 ≥ 4 才可能归为 difficult_content
)

// NegationMarkers 题干否定词的默认启发式列表（中英混合）
// 仅作粗心指标提示，具体列表可在分类器上替换，不构成核心不变量。
var NegationMarkers = []string{
	"not", "never", "except", "incorrect", "false", "least",
	"不", "非", "错误", "不正确", "除了", "最不",
}
