package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"certigraph_backend/internal/config"
	"certigraph_backend/internal/model"
)

// GapReasoner 外部 LLM 协作方：为分析结果生成人类可读的解释文本。
// 返回值只用于展示，不参与任何控制流，失败时引擎降级为启发式文案。
type GapReasoner interface {
	ReasonAboutGap(ctx context.Context, input GapReasoningInput) (string, error)
}

// GapReasoningInput 推理所需的上下文
type GapReasoningInput struct {
	QuestionContent string
	ErrorType       model.ErrorType
	GapScore        float64
	RootCauseNames  []string
}

type AIService struct {
	config config.AIConfig
	client *http.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	return &AIService{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ReasonAboutGap 调用 OpenAI 兼容接口生成弱点解释
func (s *AIService) ReasonAboutGap(ctx context.Context, input GapReasoningInput) (string, error) {
	if s.config.BaseURL == "" || s.config.APIKey == "" {
		return "", fmt.Errorf("ai service not configured")
	}

	prompt := fmt.Sprintf(
		"学生做错了一道题，系统判定错误类型为 %s，概念缺口分数 %.2f。\n题目：%s\n薄弱的前置概念：%s\n"+
			"请用两三句话向学生解释为什么会做错、应该先补哪些概念。直接输出解释文本，不要列表和客套话。",
		input.ErrorType, input.GapScore, input.QuestionContent, strings.Join(input.RootCauseNames, "、"))

	reqBody := map[string]interface{}{
		"model": s.config.Model,
		"messages": []AIChatMessage{
			{Role: "system", Content: "你是一个考试辅导助教，擅长用简短的话解释知识缺口。"},
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("AI API error (status %d): %s", resp.StatusCode, string(body))
	}

	var completion ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", err
	}
	if completion.Error != nil {
		return "", fmt.Errorf("AI API error: %s", completion.Error.Message)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("AI API returned no choices")
	}

	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
