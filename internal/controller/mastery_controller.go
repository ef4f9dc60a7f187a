package controller

import (
	"strconv"

	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/service"
	"certigraph_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type MasteryController struct {
	MasteryService *service.MasteryService
	MasteryRepo    *repository.MasteryRepository
}

func NewMasteryController(masteryService *service.MasteryService, masteryRepo *repository.MasteryRepository) *MasteryController {
	return &MasteryController{MasteryService: masteryService, MasteryRepo: masteryRepo}
}

// @Summary 掌握度总览
// @Description 当前用户在某学习集下全部概念的掌握度记录
// @Tags 掌握度
// @Produce json
// @Security BearerAuth
// @Param studySetId query int true "学习集 ID"
// @Success 200 {object} util.Response
// @Router /api/mastery [get]
func (c *MasteryController) ListMastery(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	studySetID := util.MustParseUint(ctx.Query("studySetId"))
	if studySetID == 0 {
		util.BadRequest(ctx, "studySetId is required")
		return
	}

	records, err := c.MasteryRepo.ListRecordsForUser(claims.UserID, studySetID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, records)
}

// @Summary 单概念掌握度
// @Description 当前用户在某个概念上的掌握度，未测过返回零值记录
// @Tags 掌握度
// @Produce json
// @Security BearerAuth
// @Param conceptId path int true "概念节点 ID"
// @Success 200 {object} util.Response
// @Router /api/mastery/{conceptId} [get]
func (c *MasteryController) GetMastery(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	conceptID := util.MustParseUint(ctx.Param("conceptId"))
	if conceptID == 0 {
		util.BadRequest(ctx, "invalid concept id")
		return
	}

	record, err := c.MasteryService.GetMastery(claims.UserID, conceptID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, record)
}

// RecordAttemptRequest 答题记录请求
type RecordAttemptRequest struct {
	ConceptNodeID    uint    `json:"conceptNodeId" binding:"required"`
	QuestionID       uint    `json:"questionId"`
	Correct          bool    `json:"correct"`
	TimeSpentMinutes float64 `json:"timeSpentMinutes"`
}

// @Summary 记录一次答题
// @Description 记录当前用户在某概念上的一次答题（通常是答对的情况；答错走错题提交接口），掌握度按完整历史重算
// @Tags 掌握度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RecordAttemptRequest true "答题信息"
// @Success 200 {object} util.Response
// @Router /api/mastery/attempts [post]
func (c *MasteryController) RecordAttempt(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req RecordAttemptRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	record, err := c.MasteryService.RecordAttempt(claims.UserID, req.ConceptNodeID, req.QuestionID, req.Correct, req.TimeSpentMinutes)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, record)
}

// @Summary 久未复习的概念
// @Description 上次测试时间早于指定天数的概念列表，用于复习提醒
// @Tags 掌握度
// @Produce json
// @Security BearerAuth
// @Param days query int false "天数阈值，默认 30"
// @Success 200 {object} util.Response
// @Router /api/mastery/stale [get]
func (c *MasteryController) ListStale(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	days, _ := strconv.Atoi(ctx.DefaultQuery("days", "30"))
	if days <= 0 {
		days = 30
	}

	conceptIDs, err := c.MasteryService.StaleMasteries(claims.UserID, days)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"conceptIds": conceptIDs, "days": days})
}
