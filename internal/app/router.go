package app

import (
	"certigraph_backend/docs"
	"certigraph_backend/internal/config"
	"certigraph_backend/internal/middleware"
	"certigraph_backend/internal/model"
	"certigraph_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(), middleware.ActivityMiddleware(repos.user))
	{
		a.registerAnalysisRoutes(authGroup, c)
		a.registerGraphRoutes(authGroup, c)
	}
}

func (a *App) registerAnalysisRoutes(group *gin.RouterGroup, c *controllers) {
	// 错题提交与弱点分析
	group.POST("/wrong-answers", c.analysis.SubmitWrongAnswer)
	group.GET("/analyses", c.analysis.ListRecent)
	group.GET("/analyses/lookup", c.analysis.LookupAnalysis)
	group.GET("/analyses/:id", c.analysis.GetAnalysis)
	group.POST("/analyses/:id/retry", c.analysis.RetryAnalysis)

	// 学习建议
	group.GET("/recommendations", c.recommendation.ListRecommendations)
	group.PUT("/recommendations/:id/status", c.recommendation.UpdateStatus)

	// 掌握度
	group.GET("/mastery", c.mastery.ListMastery)
	group.POST("/mastery/attempts", c.mastery.RecordAttempt)
	group.GET("/mastery/stale", c.mastery.ListStale)
	group.GET("/mastery/:conceptId", c.mastery.GetMastery)

	// 学习概览
	group.GET("/dashboard", c.dashboard.GetDashboard)
}

func (a *App) registerGraphRoutes(group *gin.RouterGroup, c *controllers) {
	group.GET("/study-sets", c.studySet.ListStudySets)
	group.GET("/study-sets/:studySetId/concepts", c.conceptGraph.ListNodes)
	group.GET("/study-sets/:studySetId/concepts/:id", c.conceptGraph.GetNode)
	group.GET("/study-sets/:studySetId/cycles", c.conceptGraph.DetectCycles)
	group.POST("/study-sets/:studySetId/concepts/order", c.conceptGraph.TopologicalOrder)

	// 图谱写操作仅教师/管理员可用
	editor := group.Group("/")
	editor.Use(middleware.RoleMiddleware(model.Teacher, model.Admin))
	{
		editor.POST("/study-sets", c.studySet.CreateStudySet)
		editor.POST("/study-sets/:studySetId/concepts", c.conceptGraph.CreateNode)
		editor.POST("/study-sets/:studySetId/concepts/merge", c.conceptGraph.MergeNodes)
		editor.POST("/study-sets/:studySetId/edges", c.conceptGraph.CreateEdge)
	}
}
