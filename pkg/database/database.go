package database

import (
	"certigraph_backend/internal/config"
	"certigraph_backend/internal/model"
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.Config) (*gorm.DB, error) {
	dbc := cfg.Database
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		dbc.User,
		dbc.Password,
		dbc.Host,
		dbc.Port,
		dbc.DBName,
		dbc.Charset,
		dbc.ParseTime,
	)

	logLevel := logger.Info
	if cfg.Server.Mode == "release" {
		logLevel = logger.Warn
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	// release 模式默认跳过迁移，--migrate 强制执行
	if cfg.Server.Mode != "release" || cfg.ForceMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
		log.Println("Database migration completed")
	}

	return db, nil
}

// Migrate 建表与索引，幂等
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.StudySet{},
		&model.Question{},
		&model.QuestionConcept{},
		&model.ConceptNode{},
		&model.ConceptEdge{},
		&model.MasteryRecord{},
		&model.ConceptAttempt{},
		&model.WrongAnswerEvent{},
		&model.AnalysisResult{},
		&model.LearningRecommendation{},
	)
}
