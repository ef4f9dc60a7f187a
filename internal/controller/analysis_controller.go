package controller

import (
	"errors"
	"net/http"
	"strconv"

	"certigraph_backend/internal/service"
	"certigraph_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AnalysisController struct {
	AnalysisService *service.AnalysisService
}

func NewAnalysisController(analysisService *service.AnalysisService) *AnalysisController {
	return &AnalysisController{AnalysisService: analysisService}
}

// writeServiceError 把服务层哨兵错误映射为 HTTP 响应
func writeServiceError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrUserNotFound),
		errors.Is(err, util.ErrQuestionNotFound),
		errors.Is(err, util.ErrStudySetNotFound),
		errors.Is(err, util.ErrConceptNotFound),
		errors.Is(err, util.ErrAnalysisNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrCycleDetected), errors.Is(err, util.ErrInvalidEdge):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrAnalysisInFlight):
		util.Error(ctx, http.StatusConflict, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

// @Summary 提交错题
// @Description 记录一次错题事件并触发异步弱点分析，重复提交返回既有分析
// @Tags 弱点分析
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.SubmitWrongAnswerRequest true "错题信息"
// @Success 202 {object} util.Response
// @Success 200 {object} util.Response
// @Router /api/wrong-answers [post]
func (c *AnalysisController) SubmitWrongAnswer(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.SubmitWrongAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	req.UserID = claims.UserID

	result, created, err := c.AnalysisService.SubmitWrongAnswer(ctx.Request.Context(), req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	if created {
		ctx.JSON(http.StatusAccepted, util.Response{
			Code:    http.StatusAccepted,
			Message: "analysis queued",
			Data:    result,
		})
		return
	}
	util.Success(ctx, result)
}

// @Summary 查询分析结果
// @Description 按分析 ID 查询弱点分析结果
// @Tags 弱点分析
// @Produce json
// @Security BearerAuth
// @Param id path string true "分析 ID"
// @Success 200 {object} util.Response
// @Router /api/analyses/{id} [get]
func (c *AnalysisController) GetAnalysis(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	result, err := c.AnalysisService.GetAnalysis(ctx.Param("id"), claims.UserID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 按业务键查询分析结果
// @Description 按 (题目, 学习集) 查询当前用户的分析结果，完成态走缓存
// @Tags 弱点分析
// @Produce json
// @Security BearerAuth
// @Param questionId query int true "题目 ID"
// @Param studySetId query int true "学习集 ID"
// @Success 200 {object} util.Response
// @Router /api/analyses/lookup [get]
func (c *AnalysisController) LookupAnalysis(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	questionID := util.MustParseUint(ctx.Query("questionId"))
	studySetID := util.MustParseUint(ctx.Query("studySetId"))
	if questionID == 0 || studySetID == 0 {
		util.BadRequest(ctx, "questionId and studySetId are required")
		return
	}

	result, err := c.AnalysisService.GetByKey(ctx.Request.Context(), claims.UserID, questionID, studySetID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 最近的分析列表
// @Description 当前用户最近的弱点分析记录
// @Tags 弱点分析
// @Produce json
// @Security BearerAuth
// @Param limit query int false "返回条数，默认 20"
// @Success 200 {object} util.Response
// @Router /api/analyses [get]
func (c *AnalysisController) ListRecent(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	results, err := c.AnalysisService.ListRecent(claims.UserID, limit)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, results)
}

// @Summary 重试失败的分析
// @Description 将一条 failed 状态的分析重置为 pending 并重新入队
// @Tags 弱点分析
// @Produce json
// @Security BearerAuth
// @Param id path string true "分析 ID"
// @Success 202 {object} util.Response
// @Router /api/analyses/{id}/retry [post]
func (c *AnalysisController) RetryAnalysis(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	result, err := c.AnalysisService.RetryAnalysis(ctx.Param("id"), claims.UserID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, util.Response{
		Code:    http.StatusAccepted,
		Message: "analysis requeued",
		Data:    result,
	})
}
