package controller

import (
	"strconv"

	"certigraph_backend/internal/model"
	"certigraph_backend/internal/service"
	"certigraph_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type RecommendationController struct {
	RecommendationService *service.RecommendationService
}

func NewRecommendationController(recommendationService *service.RecommendationService) *RecommendationController {
	return &RecommendationController{RecommendationService: recommendationService}
}

// @Summary 学习建议列表
// @Description 当前用户的学习建议，按优先级降序分页
// @Tags 学习建议
// @Produce json
// @Security BearerAuth
// @Param status query string false "过滤状态 pending/accepted/dismissed/completed"
// @Param page query int false "页码，默认 1"
// @Param limit query int false "每页条数，默认 10"
// @Success 200 {object} util.Response
// @Router /api/recommendations [get]
func (c *RecommendationController) ListRecommendations(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "10"))
	status := model.RecommendationStatus(ctx.Query("status"))

	recs, total, err := c.RecommendationService.ListForUser(claims.UserID, status, page, limit)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{
		List:  recs,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// @Summary 更新建议状态
// @Description 接受、忽略或完成一条学习建议
// @Tags 学习建议
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "建议 ID"
// @Success 200 {object} util.Response
// @Router /api/recommendations/{id}/status [put]
func (c *RecommendationController) UpdateStatus(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req struct {
		Status model.RecommendationStatus `json:"status" binding:"required,oneof=pending accepted dismissed completed"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.RecommendationService.UpdateStatus(ctx.Param("id"), claims.UserID, req.Status); err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"status": req.Status})
}
