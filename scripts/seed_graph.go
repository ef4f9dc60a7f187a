// 从 YAML 种子文件导入概念图谱
//
// 内容摄取子系统上线前，用此脚本把人工整理好的概念图灌进数据库，
// 例如首次部署或新建学习集时。重复执行安全：同名概念只累加频次。
//
// 用法: go run scripts/seed_graph.go -file scripts/seed_example.yaml

package main

import (
	"certigraph_backend/internal/config"
	"certigraph_backend/internal/model"
	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/service"
	"certigraph_backend/pkg/database"
	"certigraph_backend/pkg/logger"
	"errors"
	"flag"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	StudySet struct {
		Title   string `yaml:"title"`
		Subject string `yaml:"subject"`
	} `yaml:"study_set"`
	Concepts []struct {
		Name       string `yaml:"name"`
		Level      string `yaml:"level"`
		Difficulty int    `yaml:"difficulty"`
		Importance int    `yaml:"importance"`
	} `yaml:"concepts"`
	Edges []struct {
		From     string  `yaml:"from"`
		To       string  `yaml:"to"`
		Type     string  `yaml:"type"`
		Weight   float64 `yaml:"weight"`
		Strength string  `yaml:"strength"`
	} `yaml:"edges"`
}

func main() {
	file := flag.String("file", "scripts/seed_example.yaml", "种子文件路径")
	flag.Parse()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	logger.InitLogger(cfg)

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("无法读取种子文件: %v", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		log.Fatalf("解析种子文件失败: %v", err)
	}

	cfg.ForceMigrate = true
	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	studySetRepo := repository.NewStudySetRepository(db)
	set := &model.StudySet{Title: seed.StudySet.Title, Subject: seed.StudySet.Subject, Active: true}
	if err := studySetRepo.Create(set); err != nil {
		log.Fatalf("创建学习集失败: %v", err)
	}
	log.Printf("学习集 %q 已创建 (id=%d)", set.Title, set.ID)

	graph := service.NewConceptGraphService(repository.NewConceptRepository(db))

	idsByName := make(map[string]uint, len(seed.Concepts))
	for _, c := range seed.Concepts {
		level := model.NodeLevel(c.Level)
		if level == "" {
			level = model.LevelConcept
		}
		nodeID, err := graph.AddNode(&model.ConceptNode{
			StudySetID: set.ID,
			Name:       c.Name,
			Level:      level,
			Difficulty: c.Difficulty,
			Importance: c.Importance,
		})
		if err != nil {
			log.Fatalf("创建概念 %q 失败: %v", c.Name, err)
		}
		idsByName[c.Name] = nodeID
	}
	log.Printf("已导入 %d 个概念", len(idsByName))

	rejected := 0
	for _, e := range seed.Edges {
		fromID, ok := idsByName[e.From]
		if !ok {
			log.Fatalf("边引用了未定义的概念 %q", e.From)
		}
		toID, ok := idsByName[e.To]
		if !ok {
			log.Fatalf("边引用了未定义的概念 %q", e.To)
		}
		strength := model.EdgeStrength(e.Strength)
		if strength == "" {
			strength = model.StrengthRecommended
		}
		weight := e.Weight
		if weight == 0 {
			weight = 0.5
		}
		err := graph.AddEdge(&model.ConceptEdge{
			StudySetID:       set.ID,
			FromNodeID:       fromID,
			ToNodeID:         toID,
			RelationshipType: model.RelationshipType(e.Type),
			Weight:           weight,
			Strength:         strength,
		})
		if err != nil {
			var cycleErr *service.CycleError
			if errors.As(err, &cycleErr) {
				log.Printf("跳过成环边 %s -> %s (环: %v)", e.From, e.To, cycleErr.NodeIDs)
				rejected++
				continue
			}
			log.Fatalf("创建边 %s -> %s 失败: %v", e.From, e.To, err)
		}
	}
	log.Printf("已导入 %d 条边，拒绝成环边 %d 条", len(seed.Edges)-rejected, rejected)
}
