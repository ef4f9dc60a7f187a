package app

import (
	"certigraph_backend/internal/config"
	"certigraph_backend/internal/controller"
	"certigraph_backend/internal/repository"
	"certigraph_backend/internal/service"
	"certigraph_backend/pkg/database"
	"certigraph_backend/pkg/logger"
	"certigraph_backend/pkg/monitoring"
	"certigraph_backend/pkg/security"
	"certigraph_backend/pkg/tracing"
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	workerCancel    context.CancelFunc
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user           *repository.UserRepository
	studySet       *repository.StudySetRepository
	question       *repository.QuestionRepository
	concept        *repository.ConceptRepository
	mastery        *repository.MasteryRepository
	wrongAnswer    *repository.WrongAnswerRepository
	analysis       *repository.AnalysisRepository
	recommendation *repository.RecommendationRepository
}

type services struct {
	graph          *service.ConceptGraphService
	mastery        *service.MasteryService
	classifier     *service.ErrorClassifierService
	rootCause      *service.RootCauseService
	recommendation *service.RecommendationService
	analysis       *service.AnalysisService
}

type controllers struct {
	analysis       *controller.AnalysisController
	recommendation *controller.RecommendationController
	mastery        *controller.MasteryController
	conceptGraph   *controller.ConceptGraphController
	studySet       *controller.StudySetController
	dashboard      *controller.DashboardController
	health         *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// ApplyConfig 配置热更新入口，由配置文件监听器触发
func (a *App) ApplyConfig(cfg *config.Config) {
	a.Config = cfg
	for _, callback := range a.configCallbacks {
		callback(cfg)
	}
	logger.Log.Info("configuration reloaded")
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:           repository.NewUserRepository(db),
		studySet:       repository.NewStudySetRepository(db),
		question:       repository.NewQuestionRepository(db),
		concept:        repository.NewConceptRepository(db),
		mastery:        repository.NewMasteryRepository(db),
		wrongAnswer:    repository.NewWrongAnswerRepository(db),
		analysis:       repository.NewAnalysisRepository(db),
		recommendation: repository.NewRecommendationRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	var cache service.AnalysisCache = service.NoopAnalysisCache{}
	var notifier service.Notifier = service.NoopNotifier{}
	if rdb != nil {
		cache = service.NewRedisAnalysisCache(rdb, cfg.Analysis.CacheTTL)
		notifier = service.NewRedisNotifier(rdb)
	}

	var archiver service.ReportArchiver = service.NoopArchiver{}
	if cfg.Archive.Enabled {
		minioArchiver, err := service.NewMinioArchiver(cfg.Archive)
		if err != nil {
			// 归档是旁路能力，起不来不阻塞主服务
			logger.Log.Warn("report archiver disabled", zap.Error(err))
		} else {
			archiver = minioArchiver
		}
	}

	var reasoner service.GapReasoner
	if cfg.AI.APIKey != "" {
		reasoner = service.NewAIService(cfg.AI)
	}

	s.graph = service.NewConceptGraphService(repos.concept)
	s.mastery = service.NewMasteryService(repos.mastery, repos.concept, cfg.Analysis, cache, db)
	s.classifier = service.NewErrorClassifierService()
	s.rootCause = service.NewRootCauseService(s.graph, s.mastery)
	s.recommendation = service.NewRecommendationService(s.graph, s.mastery, repos.question, repos.recommendation)
	s.analysis = service.NewAnalysisService(
		repos.analysis,
		repos.wrongAnswer,
		repos.question,
		repos.user,
		repos.studySet,
		s.classifier,
		s.rootCause,
		s.mastery,
		s.recommendation,
		cache,
		notifier,
		archiver,
		reasoner,
		cfg.Analysis,
	)

	return s
}

func (a *App) initControllers(s *services, repos *repositories, db *gorm.DB) *controllers {
	return &controllers{
		analysis:       controller.NewAnalysisController(s.analysis),
		recommendation: controller.NewRecommendationController(s.recommendation),
		mastery:        controller.NewMasteryController(s.mastery, repos.mastery),
		conceptGraph:   controller.NewConceptGraphController(s.graph, repos.concept),
		studySet:       controller.NewStudySetController(repos.studySet),
		dashboard:      controller.NewDashboardController(s.analysis, s.recommendation, repos.mastery),
		health:         controller.NewHealthController(db),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 10000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, db, rdb)
	app.services = services
	controllers := app.initControllers(services, repos, db)

	// 监控初始化
	monitoring.Init()

	router := gin.Default()
	app.Router = router

	// 中间件按需读取配置
	router.Use(func(c *gin.Context) {
		c.Set("config", cfg)
		c.Next()
	})

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("certigraph-analysis", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
			}
		}()
	}

	app.registerRoutes(router, controllers, repos, cfg)

	// 分析工作池与后台回收器
	workerCtx, cancel := context.WithCancel(context.Background())
	app.workerCancel = cancel
	services.analysis.Start(workerCtx)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 停掉分析工作池，未完成的记录由回收器在下次启动后捞回
	if a.workerCancel != nil {
		a.workerCancel()
	}

	// 关闭服务
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
