package service

import (
	"errors"
	"testing"

	"certigraph_backend/internal/model"
	"certigraph_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNodeMergesDuplicateNames(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "网络基础")

	first, err := env.graph.AddNode(&model.ConceptNode{
		StudySetID: set.ID, Name: "TCP 握手", Level: model.LevelConcept, Difficulty: 3, Importance: 8,
	})
	require.NoError(t, err)

	// 大小写和首尾空白不同的同名概念不建新节点
	second, err := env.graph.AddNode(&model.ConceptNode{
		StudySetID: set.ID, Name: "  tcp 握手 ", Level: model.LevelConcept, Difficulty: 3, Importance: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	node, err := env.graph.GetNode(set.ID, first)
	require.NoError(t, err)
	assert.Equal(t, 2, node.Frequency)
}

func TestAddEdgeValidation(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "验证")
	a := env.createConcept(t, set.ID, "A", 2, 5)
	b := env.createConcept(t, set.ID, "B", 2, 5)

	// 自环
	err := env.graph.AddEdge(&model.ConceptEdge{
		StudySetID: set.ID, FromNodeID: a, ToNodeID: a,
		RelationshipType: model.RelPrerequisite, Weight: 0.5,
	})
	assert.ErrorIs(t, err, util.ErrInvalidEdge)

	// 权重越界
	err = env.graph.AddEdge(&model.ConceptEdge{
		StudySetID: set.ID, FromNodeID: a, ToNodeID: b,
		RelationshipType: model.RelPrerequisite, Weight: 1.5,
	})
	assert.ErrorIs(t, err, util.ErrInvalidEdge)

	// 不存在的节点
	err = env.graph.AddEdge(&model.ConceptEdge{
		StudySetID: set.ID, FromNodeID: a, ToNodeID: 9999,
		RelationshipType: model.RelPrerequisite, Weight: 0.5,
	})
	assert.ErrorIs(t, err, util.ErrConceptNotFound)
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "环检测")
	a := env.createConcept(t, set.ID, "代数", 2, 8)
	b := env.createConcept(t, set.ID, "方程", 3, 8)
	c := env.createConcept(t, set.ID, "函数", 3, 8)

	// 方程依赖代数，函数依赖方程
	env.addPrerequisite(t, set.ID, b, a, 0.9)
	env.addPrerequisite(t, set.ID, c, b, 0.9)

	// 代数依赖函数会闭合成环
	err := env.graph.AddEdge(&model.ConceptEdge{
		StudySetID: set.ID, FromNodeID: a, ToNodeID: c,
		RelationshipType: model.RelPrerequisite, Weight: 0.9,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrCycleDetected)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.NotEmpty(t, cycleErr.NodeIDs)

	// 被拒的边没有落库，图保持无环
	cycles, err := env.graph.DetectCycles(set.ID, model.RelPrerequisite)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestRelatedToEdgesDoNotTriggerCycleCheck(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "关联边")
	a := env.createConcept(t, set.ID, "排序", 3, 7)
	b := env.createConcept(t, set.ID, "查找", 3, 7)

	require.NoError(t, env.graph.AddEdge(&model.ConceptEdge{
		StudySetID: set.ID, FromNodeID: a, ToNodeID: b,
		RelationshipType: model.RelRelatedTo, Weight: 0.3,
	}))
	// 反向 related_to 合法，related_to 不是依赖关系
	require.NoError(t, env.graph.AddEdge(&model.ConceptEdge{
		StudySetID: set.ID, FromNodeID: b, ToNodeID: a,
		RelationshipType: model.RelRelatedTo, Weight: 0.3,
	}))
}

func TestTopologicalOrderDeterministic(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "拓扑")
	base := env.createConcept(t, set.ID, "关系模型", 2, 9)
	mid := env.createConcept(t, set.ID, "函数依赖", 3, 8)
	top := env.createConcept(t, set.ID, "范式化", 4, 9)
	solo := env.createConcept(t, set.ID, "索引", 3, 7)

	env.addPrerequisite(t, set.ID, mid, base, 0.9)
	env.addPrerequisite(t, set.ID, top, mid, 0.9)
	env.addPrerequisite(t, set.ID, top, base, 0.7)

	subset := []uint{top, solo, mid, base}
	order, err := env.graph.TopologicalOrder(set.ID, subset)
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := map[uint]int{}
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos[base], pos[mid], "前置必须排在依赖它的概念之前")
	assert.Less(t, pos[mid], pos[top])
	assert.Less(t, pos[base], pos[top])

	// 重复调用逐位一致
	for i := 0; i < 5; i++ {
		again, err := env.graph.TopologicalOrder(set.ID, subset)
		require.NoError(t, err)
		assert.Equal(t, order, again)
	}
}

func TestTopologicalOrderSubsetIgnoresOutsideEdges(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "子集")
	a := env.createConcept(t, set.ID, "A", 2, 5)
	b := env.createConcept(t, set.ID, "B", 2, 5)
	c := env.createConcept(t, set.ID, "C", 2, 5)
	env.addPrerequisite(t, set.ID, b, a, 0.8)
	env.addPrerequisite(t, set.ID, c, b, 0.8)

	// 只排 a 和 c：b 不在子集内，c 对 b 的依赖不计入
	order, err := env.graph.TopologicalOrder(set.ID, []uint{c, a})
	require.NoError(t, err)
	assert.Equal(t, []uint{a, c}, order)
}

func TestMergeDuplicatesPrimaryByFrequency(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "合并")
	base := env.createConcept(t, set.ID, "基础", 2, 6)
	low := env.createConcept(t, set.ID, "正规化", 4, 9)
	high := env.createConcept(t, set.ID, "范式化", 4, 9)

	// high 出现 3 次
	for i := 0; i < 2; i++ {
		_, err := env.graph.AddNode(&model.ConceptNode{
			StudySetID: set.ID, Name: "范式化", Level: model.LevelConcept, Difficulty: 4, Importance: 9,
		})
		require.NoError(t, err)
	}
	env.addPrerequisite(t, set.ID, low, base, 0.8)

	primary, err := env.graph.MergeDuplicates(set.ID, low, high)
	require.NoError(t, err)
	assert.Equal(t, high, primary.ID, "频次更高的节点存活")
	assert.Equal(t, 4, primary.Frequency, "3 + 1")

	// 败者软删除并指向主节点
	var loser model.ConceptNode
	require.NoError(t, env.db.First(&loser, low).Error)
	assert.False(t, loser.Active)
	require.NotNil(t, loser.MergedIntoID)
	assert.Equal(t, high, *loser.MergedIntoID)

	// low 的前置边改指到 high 上
	edges, err := env.graph.OutEdges(set.ID, high, model.RelPrerequisite)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, base, edges[0].ToNodeID)
}

func TestMergeDuplicatesIdempotent(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "幂等合并")
	a := env.createConcept(t, set.ID, "甲", 2, 5)
	b := env.createConcept(t, set.ID, "乙", 2, 5)

	first, err := env.graph.MergeDuplicates(set.ID, a, b)
	require.NoError(t, err)
	freq := first.Frequency

	// 重复合并不再累加频次
	second, err := env.graph.MergeDuplicates(set.ID, a, b)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, freq, second.Frequency)
}

func TestDetectCyclesFindsManuallySeededCycle(t *testing.T) {
	env := newTestEnv(t)
	set := env.createStudySet(t, "脏数据")
	a := env.createConcept(t, set.ID, "A", 2, 5)
	b := env.createConcept(t, set.ID, "B", 2, 5)

	env.addPrerequisite(t, set.ID, a, b, 0.8)
	// 绕过服务校验直接写库，模拟历史脏数据
	require.NoError(t, env.db.Create(&model.ConceptEdge{
		StudySetID: set.ID, FromNodeID: b, ToNodeID: a,
		RelationshipType: model.RelPrerequisite, Weight: 0.8, Strength: model.StrengthMandatory,
	}).Error)
	env.graph.Invalidate(set.ID)

	cycles, err := env.graph.DetectCycles(set.ID, model.RelPrerequisite)
	require.NoError(t, err)
	require.NotEmpty(t, cycles)
	assert.Subset(t, cycles[0].NodeIDs, []uint{a, b})
}
