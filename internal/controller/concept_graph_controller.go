package controller

import (
	"errors"

	"certigraph_backend/internal/model"
	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/service"
	"certigraph_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ConceptGraphController struct {
	GraphService *service.ConceptGraphService
	ConceptRepo  *repository.ConceptRepository
}

func NewConceptGraphController(graphService *service.ConceptGraphService, conceptRepo *repository.ConceptRepository) *ConceptGraphController {
	return &ConceptGraphController{GraphService: graphService, ConceptRepo: conceptRepo}
}

// @Summary 创建概念节点
// @Description 新增概念节点，归一化名称重复时累加频次而不重复建节点
// @Tags 概念图
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} util.Response
// @Router /api/study-sets/{studySetId}/concepts [post]
func (c *ConceptGraphController) CreateNode(ctx *gin.Context) {
	studySetID := util.MustParseUint(ctx.Param("studySetId"))
	if studySetID == 0 {
		util.BadRequest(ctx, "invalid study set id")
		return
	}

	var req struct {
		Name       string          `json:"name" binding:"required,min=1,max=255"`
		Level      model.NodeLevel `json:"level" binding:"required,oneof=subject chapter concept"`
		Difficulty int             `json:"difficulty" binding:"required,min=1,max=5"`
		Importance int             `json:"importance" binding:"required,min=1,max=10"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	node := &model.ConceptNode{
		StudySetID: studySetID,
		Name:       req.Name,
		Level:      req.Level,
		Difficulty: req.Difficulty,
		Importance: req.Importance,
	}
	nodeID, err := c.GraphService.AddNode(node)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	created, err := c.GraphService.GetNode(studySetID, nodeID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Created(ctx, created)
}

// @Summary 查询概念节点
// @Tags 概念图
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/study-sets/{studySetId}/concepts/{id} [get]
func (c *ConceptGraphController) GetNode(ctx *gin.Context) {
	studySetID := util.MustParseUint(ctx.Param("studySetId"))
	nodeID := util.MustParseUint(ctx.Param("id"))
	if studySetID == 0 || nodeID == 0 {
		util.BadRequest(ctx, "invalid id")
		return
	}

	node, err := c.GraphService.GetNode(studySetID, nodeID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, node)
}

// @Summary 概念节点列表
// @Description 某学习集下全部活跃概念节点
// @Tags 概念图
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/study-sets/{studySetId}/concepts [get]
func (c *ConceptGraphController) ListNodes(ctx *gin.Context) {
	studySetID := util.MustParseUint(ctx.Param("studySetId"))
	if studySetID == 0 {
		util.BadRequest(ctx, "invalid study set id")
		return
	}

	nodes, err := c.ConceptRepo.ListNodes(studySetID, true)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, nodes)
}

// @Summary 创建概念关系边
// @Description 新增有向关系边，会让 prerequisite 闭合成环的边被拒绝并返回环路径
// @Tags 概念图
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} util.Response
// @Router /api/study-sets/{studySetId}/edges [post]
func (c *ConceptGraphController) CreateEdge(ctx *gin.Context) {
	studySetID := util.MustParseUint(ctx.Param("studySetId"))
	if studySetID == 0 {
		util.BadRequest(ctx, "invalid study set id")
		return
	}

	var req struct {
		FromNodeID       uint                   `json:"fromNodeId" binding:"required"`
		ToNodeID         uint                   `json:"toNodeId" binding:"required"`
		RelationshipType model.RelationshipType `json:"relationshipType" binding:"required,oneof=prerequisite part_of related_to tests"`
		Weight           float64                `json:"weight" binding:"min=0,max=1"`
		Strength         model.EdgeStrength     `json:"strength" binding:"omitempty,oneof=mandatory recommended optional"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if req.Strength == "" {
		req.Strength = model.StrengthRecommended
	}

	edge := &model.ConceptEdge{
		StudySetID:       studySetID,
		FromNodeID:       req.FromNodeID,
		ToNodeID:         req.ToNodeID,
		RelationshipType: req.RelationshipType,
		Weight:           req.Weight,
		Strength:         req.Strength,
	}
	if err := c.GraphService.AddEdge(edge); err != nil {
		var cycleErr *service.CycleError
		if errors.As(err, &cycleErr) {
			util.BadRequestWithData(ctx, "edge would create a cycle", gin.H{"cycle": cycleErr.NodeIDs})
			return
		}
		writeServiceError(ctx, err)
		return
	}
	util.Created(ctx, edge)
}

// @Summary 检测环
// @Description 对某学习集的 prerequisite 子图做环检测，返回全部环
// @Tags 概念图
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/study-sets/{studySetId}/cycles [get]
func (c *ConceptGraphController) DetectCycles(ctx *gin.Context) {
	studySetID := util.MustParseUint(ctx.Param("studySetId"))
	if studySetID == 0 {
		util.BadRequest(ctx, "invalid study set id")
		return
	}

	cycles, err := c.GraphService.DetectCycles(studySetID, model.RelPrerequisite)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"cycles": cycles, "acyclic": len(cycles) == 0})
}

// @Summary 合并重复概念
// @Description 合并两个重复节点，频次高者存活，另一方软删除并改指
// @Tags 概念图
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/study-sets/{studySetId}/concepts/merge [post]
func (c *ConceptGraphController) MergeNodes(ctx *gin.Context) {
	studySetID := util.MustParseUint(ctx.Param("studySetId"))
	if studySetID == 0 {
		util.BadRequest(ctx, "invalid study set id")
		return
	}

	var req struct {
		NodeAID uint `json:"nodeAId" binding:"required"`
		NodeBID uint `json:"nodeBId" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	primary, err := c.GraphService.MergeDuplicates(studySetID, req.NodeAID, req.NodeBID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, primary)
}

// @Summary 拓扑学习顺序
// @Description 对给定概念集合（缺省为全图）给出满足前置关系的学习顺序
// @Tags 概念图
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/study-sets/{studySetId}/concepts/order [post]
func (c *ConceptGraphController) TopologicalOrder(ctx *gin.Context) {
	studySetID := util.MustParseUint(ctx.Param("studySetId"))
	if studySetID == 0 {
		util.BadRequest(ctx, "invalid study set id")
		return
	}

	var req struct {
		ConceptIDs []uint `json:"conceptIds"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	subset := req.ConceptIDs
	if len(subset) == 0 {
		nodes, err := c.ConceptRepo.ListNodes(studySetID, true)
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		for _, n := range nodes {
			subset = append(subset, n.ID)
		}
	}

	order, err := c.GraphService.TopologicalOrder(studySetID, subset)
	if err != nil {
		var cycleErr *service.CycleError
		if errors.As(err, &cycleErr) {
			util.BadRequestWithData(ctx, "subset contains a cycle", gin.H{"cycle": cycleErr.NodeIDs})
			return
		}
		writeServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"order": order})
}
