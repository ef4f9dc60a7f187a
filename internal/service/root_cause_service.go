package service

import (
	"context"
	"sort"

	"certigraph_backend/internal/model"
	"certigraph_backend/internal/util"
)

// RootCauseResult 根因分析输出
type RootCauseResult struct {
	ConceptNodeID uint                  `json:"conceptNodeId"`
	Prerequisites []uint                `json:"prerequisites"` // 按掌握度升序、同分按 ID 升序
	Dependents    []uint                `json:"dependents"`
	TraversalPath []model.TraversalStep `json:"traversalPath"` // BFS 层序，深度单调不减
	DepthReached  int                   `json:"depthReached"`
	GapScore      float64               `json:"gapScore"`
}

// RootCauseService 前置缺口根因分析
// 从错题概念沿 prerequisite 边向上做有界 BFS，访问集保证每个节点只进一次，
// 即使图里有（被拒但存在的）环也必然终止。
type RootCauseService struct {
	Graph   *ConceptGraphService
	Mastery *MasteryService
}

func NewRootCauseService(graph *ConceptGraphService, mastery *MasteryService) *RootCauseService {
	return &RootCauseService{Graph: graph, Mastery: mastery}
}

// AnalyzeRootCause 对单个概念做根因遍历。
// 给定同一图快照与掌握度快照，输出完全确定（邻接按 ID 升序展开）。
func (s *RootCauseService) AnalyzeRootCause(ctx context.Context, userID, studySetID, conceptID uint, maxDepth int) (*RootCauseResult, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}

	start, err := s.Graph.GetNode(studySetID, conceptID)
	if err != nil {
		return nil, err
	}

	startMastery, err := s.Mastery.GetMastery(userID, conceptID)
	if err != nil {
		return nil, err
	}

	result := &RootCauseResult{
		ConceptNodeID: start.ID,
		TraversalPath: []model.TraversalStep{{
			ConceptNodeID: start.ID,
			FromNodeID:    0,
			Depth:         0,
			MasteryLevel:  startMastery.CurrentLevel,
		}},
	}

	type frontierEntry struct {
		nodeID uint
		from   uint
		weight float64
	}

	visited := map[uint]bool{conceptID: true}
	frontier := []frontierEntry{{nodeID: conceptID}}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		select {
		case <-ctx.Done():
			return nil, util.ErrAnalysisTimeout
		default:
		}

		var next []frontierEntry
		for _, entry := range frontier {
			edges, err := s.Graph.OutEdges(studySetID, entry.nodeID, model.RelPrerequisite)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if visited[e.ToNodeID] {
					// 多路径可达或残存环：当作已访问跳过，不再展开
					continue
				}
				visited[e.ToNodeID] = true
				next = append(next, frontierEntry{nodeID: e.ToNodeID, from: entry.nodeID, weight: e.Weight})
				result.Prerequisites = append(result.Prerequisites, e.ToNodeID)
			}
		}

		if len(next) > 0 {
			result.DepthReached = depth
		}
		for _, entry := range next {
			record, err := s.Mastery.GetMastery(userID, entry.nodeID)
			if err != nil {
				return nil, err
			}
			result.TraversalPath = append(result.TraversalPath, model.TraversalStep{
				ConceptNodeID: entry.nodeID,
				FromNodeID:    entry.from,
				Depth:         depth,
				EdgeWeight:    entry.weight,
				MasteryLevel:  record.CurrentLevel,
			})
		}
		frontier = next
	}

	// 缺口分数：未掌握前置的 importance 加权和 / 全部前置的 importance 总权重
	if err := s.computeGapScore(studySetID, result); err != nil {
		return nil, err
	}

	// 前置按掌握度升序排列（最薄弱的排最前），同分按 ID 升序保证确定性
	masteryByID := make(map[uint]float64, len(result.TraversalPath))
	for _, step := range result.TraversalPath {
		masteryByID[step.ConceptNodeID] = step.MasteryLevel
	}
	sort.Slice(result.Prerequisites, func(i, j int) bool {
		a, b := result.Prerequisites[i], result.Prerequisites[j]
		if masteryByID[a] != masteryByID[b] {
			return masteryByID[a] < masteryByID[b]
		}
		return a < b
	})

	// 下游依赖（一层即可满足推荐需要）
	dependents, err := s.Graph.Neighbors(studySetID, conceptID, model.RelPrerequisite, DirectionIn)
	if err != nil {
		return nil, err
	}
	result.Dependents = dependents

	return result, nil
}

func (s *RootCauseService) computeGapScore(studySetID uint, result *RootCauseResult) error {
	if len(result.Prerequisites) == 0 {
		result.GapScore = 0
		return nil
	}

	masteryByID := make(map[uint]float64, len(result.TraversalPath))
	for _, step := range result.TraversalPath {
		masteryByID[step.ConceptNodeID] = step.MasteryLevel
	}

	var gapWeight, totalWeight float64
	for _, id := range result.Prerequisites {
		node, err := s.Graph.GetNode(studySetID, id)
		if err != nil {
			return err
		}
		w := float64(node.Importance)
		totalWeight += w
		if masteryByID[id] < util.MasteryGapThreshold {
			gapWeight += w
		}
	}

	if totalWeight > 0 {
		result.GapScore = gapWeight / totalWeight
	}
	return nil
}
