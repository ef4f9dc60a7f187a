package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	AI        AIConfig        `mapstructure:"ai"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"` // 强制执行数据库迁移
	MigrateOnly  bool `mapstructure:"-"` // 仅迁移模式（迁移后退出）
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AnalysisConfig 弱点分析引擎参数
type AnalysisConfig struct {
	MaxDepth          int           `mapstructure:"max_depth"`           // BFS 最大层数
	Workers           int           `mapstructure:"workers"`             // 分析工作协程数
	QueueSize         int           `mapstructure:"queue_size"`          // 待分析队列长度
	TimeBudget        time.Duration `mapstructure:"time_budget_ms"`      // 单次分析时钟预算
	MaxRetries        int           `mapstructure:"max_retries"`         // 瞬时错误最大重试次数
	RetryBackoff      time.Duration `mapstructure:"retry_backoff_ms"`    // 首次重试间隔，之后指数退避
	DecayWindowDays   int           `mapstructure:"decay_window_days"`   // 当前掌握度的近期窗口
	DecayWeight       float64       `mapstructure:"decay_weight"`        // 窗口外答题记录的权重
	CacheTTL          time.Duration `mapstructure:"cache_ttl_minutes"`   // 分析结果缓存有效期
	StuckSweepEnabled bool          `mapstructure:"stuck_sweep_enabled"` // 是否回收卡死的 processing 记录
}

// ArchiveConfig 已完成分析报告的对象存储归档
type ArchiveConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessID  string `mapstructure:"minio_access_key"`
	MinioSecret    string `mapstructure:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`
	ObjectPrefix   string `mapstructure:"object_prefix"`
}

type AIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("CERTIGRAPH")
	viper.AutomaticEnv()

	// Database
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// AI
	viper.BindEnv("ai.base_url", "AI_BASE_URL")
	viper.BindEnv("ai.api_key", "AI_API_KEY")
	viper.BindEnv("ai.model", "AI_MODEL")

	// Archive
	viper.BindEnv("archive.enabled", "ARCHIVE_ENABLED")
	viper.BindEnv("archive.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("archive.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("archive.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("archive.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// 分析引擎默认值
	viper.SetDefault("analysis.max_depth", 3)
	viper.SetDefault("analysis.workers", 4)
	viper.SetDefault("analysis.queue_size", 256)
	viper.SetDefault("analysis.time_budget_ms", 2000)
	viper.SetDefault("analysis.max_retries", 3)
	viper.SetDefault("analysis.retry_backoff_ms", 200)
	viper.SetDefault("analysis.decay_window_days", 30)
	viper.SetDefault("analysis.decay_weight", 0.5)
	viper.SetDefault("analysis.cache_ttl_minutes", 30)
	viper.SetDefault("analysis.stuck_sweep_enabled", true)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour
	cfg.Analysis.TimeBudget = cfg.Analysis.TimeBudget * time.Millisecond
	cfg.Analysis.RetryBackoff = cfg.Analysis.RetryBackoff * time.Millisecond
	cfg.Analysis.CacheTTL = cfg.Analysis.CacheTTL * time.Minute

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	return &cfg, nil
}
