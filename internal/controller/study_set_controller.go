package controller

import (
	"strconv"

	"certigraph_backend/internal/model"
	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type StudySetController struct {
	StudySetRepo *repository.StudySetRepository
}

func NewStudySetController(studySetRepo *repository.StudySetRepository) *StudySetController {
	return &StudySetController{StudySetRepo: studySetRepo}
}

// @Summary 创建学习集
// @Description 创建考试学习集（教师/管理员权限）
// @Tags 学习集
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} util.Response
// @Router /api/study-sets [post]
func (c *StudySetController) CreateStudySet(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req struct {
		Title   string `json:"title" binding:"required,min=1,max=255"`
		Subject string `json:"subject" binding:"max=100"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	set := &model.StudySet{
		Title:     req.Title,
		Subject:   req.Subject,
		CreatorID: claims.UserID,
		Active:    true,
	}
	if err := c.StudySetRepo.Create(set); err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Created(ctx, set)
}

// @Summary 学习集列表
// @Tags 学习集
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码，默认 1"
// @Param limit query int false "每页条数，默认 20"
// @Success 200 {object} util.Response
// @Router /api/study-sets [get]
func (c *StudySetController) ListStudySets(ctx *gin.Context) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	sets, total, err := c.StudySetRepo.List(page, limit)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: sets, Total: total, Page: page, Limit: limit})
}
