package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"certigraph_backend/internal/model"
	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/util"
	"certigraph_backend/pkg/logger"

	"go.uber.org/zap"
)

// EdgeDirection 邻接查询方向
type EdgeDirection string

const (
	DirectionOut EdgeDirection = "out" // 沿 from → to
	DirectionIn  EdgeDirection = "in"  // 反向
)

// CycleError 携带成环节点序列的错误，errors.Is(err, util.ErrCycleDetected) 成立
type CycleError struct {
	NodeIDs []uint
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("prerequisite cycle detected: %v", e.NodeIDs)
}

func (e *CycleError) Unwrap() error {
	return util.ErrCycleDetected
}

// ConceptGraphService 概念图存储
// 每个学习集一张图，内存索引按需从库加载；跨学习集的图互不影响，
// 锁粒度也只到单个学习集。
type ConceptGraphService struct {
	Repo *repository.ConceptRepository

	mu     sync.Mutex
	graphs map[uint]*studySetGraph
}

type studySetGraph struct {
	mu    sync.RWMutex
	nodes map[uint]*model.ConceptNode
	// 邻接表按关系类型分桶，切片始终按对端节点 ID 升序，保证遍历确定性
	out map[model.RelationshipType]map[uint][]*model.ConceptEdge
	in  map[model.RelationshipType]map[uint][]*model.ConceptEdge
}

func NewConceptGraphService(repo *repository.ConceptRepository) *ConceptGraphService {
	return &ConceptGraphService{
		Repo:   repo,
		graphs: make(map[uint]*studySetGraph),
	}
}

// NormalizeConceptName 小写并压缩空白，用于同义/重复节点判定
func NormalizeConceptName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func (s *ConceptGraphService) graph(studySetID uint) (*studySetGraph, error) {
	s.mu.Lock()
	g, ok := s.graphs[studySetID]
	if !ok {
		g = &studySetGraph{
			nodes: make(map[uint]*model.ConceptNode),
			out:   make(map[model.RelationshipType]map[uint][]*model.ConceptEdge),
			in:    make(map[model.RelationshipType]map[uint][]*model.ConceptEdge),
		}
		s.graphs[studySetID] = g
	}
	s.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.nodes) == 0 {
		if err := s.hydrate(studySetID, g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// hydrate 从库加载一个学习集的节点与边，调用方需持有 g.mu 写锁
func (s *ConceptGraphService) hydrate(studySetID uint, g *studySetGraph) error {
	nodes, err := s.Repo.ListNodes(studySetID, false)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	for i := range nodes {
		g.nodes[nodes[i].ID] = &nodes[i]
	}

	edges, err := s.Repo.ListEdges(studySetID)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	for i := range edges {
		g.index(&edges[i])
	}
	return nil
}

// index 把边加入邻接表并维持 ID 升序，调用方需持有写锁
func (g *studySetGraph) index(edge *model.ConceptEdge) {
	if g.out[edge.RelationshipType] == nil {
		g.out[edge.RelationshipType] = make(map[uint][]*model.ConceptEdge)
		g.in[edge.RelationshipType] = make(map[uint][]*model.ConceptEdge)
	}
	outs := append(g.out[edge.RelationshipType][edge.FromNodeID], edge)
	sort.Slice(outs, func(i, j int) bool { return outs[i].ToNodeID < outs[j].ToNodeID })
	g.out[edge.RelationshipType][edge.FromNodeID] = outs

	ins := append(g.in[edge.RelationshipType][edge.ToNodeID], edge)
	sort.Slice(ins, func(i, j int) bool { return ins[i].FromNodeID < ins[j].FromNodeID })
	g.in[edge.RelationshipType][edge.ToNodeID] = ins
}

// AddNode 新增概念节点。归一化名称命中已有活跃节点时不重复建节点，
// 而是把频次累加到既有节点上（频次加权合并，信息不丢失）。
func (s *ConceptGraphService) AddNode(node *model.ConceptNode) (uint, error) {
	node.NormalizedName = NormalizeConceptName(node.Name)
	if node.Frequency <= 0 {
		node.Frequency = 1
	}
	node.Active = true

	g, err := s.graph(node.StudySetID)
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	existing, err := s.Repo.FindActiveByNormalizedName(node.StudySetID, node.NormalizedName)
	if err == nil && existing != nil && existing.ID != 0 {
		existing.Frequency += node.Frequency
		if err := s.Repo.UpdateNode(existing); err != nil {
			return 0, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
		}
		g.nodes[existing.ID] = existing
		return existing.ID, nil
	}

	if err := s.Repo.CreateNode(node); err != nil {
		return 0, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	g.nodes[node.ID] = node
	return node.ID, nil
}

// GetNode 读取节点
func (s *ConceptGraphService) GetNode(studySetID, nodeID uint) (*model.ConceptNode, error) {
	g, err := s.graph(studySetID)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return nil, util.ErrConceptNotFound
	}
	return n, nil
}

// AddEdge 新增有向边。prerequisite 类型插入前做可达性检查，
// 会成环的边直接拒绝并返回环上的节点序列。
func (s *ConceptGraphService) AddEdge(edge *model.ConceptEdge) error {
	if edge.FromNodeID == edge.ToNodeID {
		return util.ErrInvalidEdge
	}
	if edge.Weight < 0 || edge.Weight > 1 {
		return util.ErrInvalidEdge
	}

	g, err := s.graph(edge.StudySetID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	from, ok := g.nodes[edge.FromNodeID]
	if !ok {
		return util.ErrConceptNotFound
	}
	to, ok := g.nodes[edge.ToNodeID]
	if !ok {
		return util.ErrConceptNotFound
	}
	if from.StudySetID != to.StudySetID {
		return util.ErrInvalidEdge
	}

	if edge.RelationshipType == model.RelPrerequisite {
		// from 依赖 to：若 to 已经（传递地）依赖 from，则此边闭合成环
		if path := g.pathBetween(edge.ToNodeID, edge.FromNodeID, model.RelPrerequisite); path != nil {
			cycle := append(path, edge.ToNodeID)
			logger.Log.Warn("rejecting prerequisite edge, would create cycle",
				zap.Uint("from", edge.FromNodeID),
				zap.Uint("to", edge.ToNodeID),
				zap.Uints("cycle", cycle))
			return &CycleError{NodeIDs: cycle}
		}
	}

	if err := s.Repo.CreateEdge(edge); err != nil {
		return fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	g.index(edge)
	return nil
}

// pathBetween 沿某类型出边找 start → target 的一条路径，找不到返回 nil。
// 调用方需持有锁。
func (g *studySetGraph) pathBetween(start, target uint, rel model.RelationshipType) []uint {
	visited := map[uint]bool{start: true}
	parent := map[uint]uint{}
	queue := []uint{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			// 回溯出路径
			path := []uint{target}
			for path[len(path)-1] != start {
				path = append(path, parent[path[len(path)-1]])
			}
			// 反转为 start → target
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}
		for _, e := range g.out[rel][cur] {
			if !visited[e.ToNodeID] {
				visited[e.ToNodeID] = true
				parent[e.ToNodeID] = cur
				queue = append(queue, e.ToNodeID)
			}
		}
	}
	return nil
}

// Neighbors 按关系类型与方向查邻接节点，结果按 ID 升序
func (s *ConceptGraphService) Neighbors(studySetID, nodeID uint, rel model.RelationshipType, direction EdgeDirection) ([]uint, error) {
	g, err := s.graph(studySetID)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[nodeID]; !ok {
		return nil, util.ErrConceptNotFound
	}

	var edges []*model.ConceptEdge
	if direction == DirectionIn {
		edges = g.in[rel][nodeID]
	} else {
		edges = g.out[rel][nodeID]
	}

	ids := make([]uint, 0, len(edges))
	for _, e := range edges {
		if direction == DirectionIn {
			ids = append(ids, e.FromNodeID)
		} else {
			ids = append(ids, e.ToNodeID)
		}
	}
	return ids, nil
}

// OutEdges 节点的某类型出边（遍历器使用），按对端 ID 升序
func (s *ConceptGraphService) OutEdges(studySetID, nodeID uint, rel model.RelationshipType) ([]*model.ConceptEdge, error) {
	g, err := s.graph(studySetID)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.out[rel][nodeID], nil
}

// DetectCycles 返回某关系子图中所有环（DFS 回边检测），正常情况下 prerequisite 子图应为空
func (s *ConceptGraphService) DetectCycles(studySetID uint, rel model.RelationshipType) ([]model.Cycle, error) {
	g, err := s.graph(studySetID)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uint]int, len(g.nodes))
	var cycles []model.Cycle
	var stack []uint

	ids := make([]uint, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var visit func(uint)
	visit = func(u uint) {
		color[u] = gray
		stack = append(stack, u)
		for _, e := range g.out[rel][u] {
			v := e.ToNodeID
			switch color[v] {
			case white:
				visit(v)
			case gray:
				// 回边：从栈上截取 v..u 即为环
				var nodes []uint
				for i := len(stack) - 1; i >= 0; i-- {
					nodes = append([]uint{stack[i]}, nodes...)
					if stack[i] == v {
						break
					}
				}
				nodes = append(nodes, v)
				cycles = append(cycles, model.Cycle{RelationshipType: rel, NodeIDs: nodes})
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
	}

	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles, nil
}

// TopologicalOrder 对子集做拓扑排序，保证任何概念都排在它的前置之后。
// 子集内存在环时报错。结果确定：每轮取 ID 最小的可用节点（Kahn 算法）。
func (s *ConceptGraphService) TopologicalOrder(studySetID uint, subset []uint) ([]uint, error) {
	g, err := s.graph(studySetID)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	inSubset := make(map[uint]bool, len(subset))
	for _, id := range subset {
		if _, ok := g.nodes[id]; !ok {
			return nil, util.ErrConceptNotFound
		}
		inSubset[id] = true
	}

	// indegree[x] = x 在子集内尚未满足的前置数量
	indegree := make(map[uint]int, len(subset))
	dependents := make(map[uint][]uint, len(subset))
	for _, id := range subset {
		indegree[id] += 0
		for _, e := range g.out[model.RelPrerequisite][id] {
			if inSubset[e.ToNodeID] {
				indegree[id]++
				dependents[e.ToNodeID] = append(dependents[e.ToNodeID], id)
			}
		}
	}

	var ready []uint
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]uint, 0, len(subset))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, dep := range dependents[cur] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(indegree) {
		remaining := make([]uint, 0)
		for id, d := range indegree {
			if d > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
		return nil, &CycleError{NodeIDs: remaining}
	}
	return order, nil
}

// MergeDuplicates 合并两个重复概念，保留频次更高者为主节点。
// 对同一对节点重复调用是幂等的：已合并过的节点不会再次累加频次。
func (s *ConceptGraphService) MergeDuplicates(studySetID, aID, bID uint) (*model.ConceptNode, error) {
	g, err := s.graph(studySetID)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.nodes[aID]
	if !ok {
		return nil, util.ErrConceptNotFound
	}
	b, ok := g.nodes[bID]
	if !ok {
		return nil, util.ErrConceptNotFound
	}

	// 幂等：其中一方已并入另一方则直接返回存活节点
	if !a.Active && a.MergedIntoID != nil && *a.MergedIntoID == b.ID {
		return b, nil
	}
	if !b.Active && b.MergedIntoID != nil && *b.MergedIntoID == a.ID {
		return a, nil
	}
	if !a.Active || !b.Active {
		return nil, util.ErrConceptNotFound
	}

	primary, loser := a, b
	if b.Frequency > a.Frequency {
		primary, loser = b, a
	}

	if err := s.Repo.MergeNodes(primary, loser); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	merged, err := s.Repo.FindNodeByID(primary.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrTransientStore, err)
	}
	primary = merged

	logger.Log.Info("merged duplicate concept nodes",
		zap.Uint("primary", primary.ID),
		zap.Uint("loser", loser.ID),
		zap.String("normalizedName", primary.NormalizedName))

	// 重建内存索引，让改指后的边生效
	s.invalidateLocked(studySetID)
	return primary, nil
}

// Invalidate 丢弃某学习集的内存图（外部批量导入后调用）
func (s *ConceptGraphService) Invalidate(studySetID uint) {
	s.mu.Lock()
	delete(s.graphs, studySetID)
	s.mu.Unlock()
}

func (s *ConceptGraphService) invalidateLocked(studySetID uint) {
	s.mu.Lock()
	delete(s.graphs, studySetID)
	s.mu.Unlock()
}
