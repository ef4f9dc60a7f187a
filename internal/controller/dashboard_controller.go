package controller

import (
	"sort"

	"certigraph_backend/internal/model"
	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/service"
	"certigraph_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type DashboardController struct {
	AnalysisService       *service.AnalysisService
	RecommendationService *service.RecommendationService
	MasteryRepo           *repository.MasteryRepository
}

func NewDashboardController(analysisService *service.AnalysisService, recommendationService *service.RecommendationService, masteryRepo *repository.MasteryRepository) *DashboardController {
	return &DashboardController{
		AnalysisService:       analysisService,
		RecommendationService: recommendationService,
		MasteryRepo:           masteryRepo,
	}
}

// @Summary 学习概览
// @Description 当前用户的弱点概览：最薄弱概念、最近分析与高优先级建议
// @Tags 概览
// @Produce json
// @Security BearerAuth
// @Param studySetId query int true "学习集 ID"
// @Success 200 {object} util.Response
// @Router /api/dashboard [get]
func (c *DashboardController) GetDashboard(ctx *gin.Context) {
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
	// 最薄弱的概念排最前，同分按概念 ID
	sort.Slice(records, func(i, j int) bool {
		if records[i].CurrentLevel != records[j].CurrentLevel {
			return records[i].CurrentLevel < records[j].CurrentLevel
		}
		return records[i].ConceptNodeID < records[j].ConceptNodeID
	})
	weakest := records
	if len(weakest) > 5 {
		weakest = weakest[:5]
	}

	analyses, err := c.AnalysisService.ListRecent(claims.UserID, 5)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	recs, _, err := c.RecommendationService.ListForUser(claims.UserID, model.RecommendationPending, 1, 5)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"weakestConcepts":        weakest,
		"recentAnalyses":         analyses,
		"pendingRecommendations": recs,
	})
}
