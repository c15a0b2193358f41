package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int        `mapstructure:"port"`
	BodyLimit    int64      `mapstructure:"body_limit"` // 字节
	CORS         CORSConfig `mapstructure:"cors"`
	MetricsToken string     `mapstructure:"metrics_token"` // 为空时 /metrics 不鉴权
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig 数据库配置
// driver=postgres 为生产部署；driver=sqlite 用于本地开发与单机运行
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 连接最大生命周期（分钟）
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 空闲连接最大存活时间（分钟）
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置
// 启用后限流与 Token 黑名单走 Redis，否则降级放行；调度租约后端见 scheduler.lease_backend
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig JWT 校验配置（Token 由外部认证服务签发）
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Service string `mapstructure:"service"`
}

// CacheConfig 计划预生成缓存配置
type CacheConfig struct {
	DefaultHorizonDays int           `mapstructure:"default_horizon_days"` // 分配变更后重建窗口
	ShortHorizonDays   int           `mapstructure:"short_horizon_days"`   // 夜间批处理窗口
	StatusHorizonDays  int           `mapstructure:"status_horizon_days"`  // 状态查询默认窗口
	MaxHorizonDays     int           `mapstructure:"max_horizon_days"`
	GenerateTimeout    time.Duration `mapstructure:"generate_timeout"`
	GenerateRetries    int           `mapstructure:"generate_retries"`
	StoreTimeout       time.Duration `mapstructure:"store_timeout"`
	PerUserConcurrency int           `mapstructure:"per_user_concurrency"`
	LazyRateLimit      int           `mapstructure:"lazy_rate_limit"` // 每分钟每用户
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Timezone             string        `mapstructure:"timezone"`
	NightlyCron          string        `mapstructure:"nightly_cron"`
	CleanupCron          string        `mapstructure:"cleanup_cron"`
	ReportCron           string        `mapstructure:"report_cron"`
	Workers              int           `mapstructure:"workers"`
	LeaseTTL             time.Duration `mapstructure:"lease_ttl"`
	LeaseBackend         string        `mapstructure:"lease_backend"` // db | redis，所有实例必须一致
	CacheRetentionDays   int           `mapstructure:"cache_retention_days"`
	HistoryRetentionDays int           `mapstructure:"history_retention_days"`
	ReportWindowDays     int           `mapstructure:"report_window_days"`
}

// Location 解析调度时区，解析失败回退 UTC
func (c *SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SetDefaults 写入全部默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.body_limit", 1<<20)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "fitplan")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.sqlite_path", "fitplan.db")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)
	v.SetDefault("db.conn_max_idle_time", 30)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.issuer", "fitplan-auth")
	v.SetDefault("auth.access_token_ttl", "15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.service", "fitplan")

	v.SetDefault("cache.default_horizon_days", 14)
	v.SetDefault("cache.short_horizon_days", 7)
	v.SetDefault("cache.status_horizon_days", 7)
	v.SetDefault("cache.max_horizon_days", 31)
	v.SetDefault("cache.generate_timeout", "20s")
	v.SetDefault("cache.generate_retries", 2)
	v.SetDefault("cache.store_timeout", "5s")
	v.SetDefault("cache.per_user_concurrency", 2)
	v.SetDefault("cache.lazy_rate_limit", 30)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.nightly_cron", "0 2 * * *")
	v.SetDefault("scheduler.cleanup_cron", "0 3 * * 0")
	v.SetDefault("scheduler.report_cron", "0 8 * * *")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.lease_ttl", "30m")
	v.SetDefault("scheduler.lease_backend", "db")
	v.SetDefault("scheduler.cache_retention_days", 30)
	v.SetDefault("scheduler.history_retention_days", 90)
	v.SetDefault("scheduler.report_window_days", 1)
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith 使用调用方提供的 viper 实例加载（便于命令行 flag 绑定）
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("FITPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 不能为空")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("配置校验失败: db.driver 仅支持 postgres | sqlite，当前为 %q", c.Database.Driver)
	}
	if c.Cache.ShortHorizonDays <= 0 || c.Cache.DefaultHorizonDays <= 0 {
		return fmt.Errorf("配置校验失败: cache 窗口天数必须大于 0")
	}
	if c.Cache.ShortHorizonDays > c.Cache.MaxHorizonDays || c.Cache.DefaultHorizonDays > c.Cache.MaxHorizonDays {
		return fmt.Errorf("配置校验失败: cache 窗口天数不能超过 cache.max_horizon_days(%d)", c.Cache.MaxHorizonDays)
	}
	if c.Cache.GenerateTimeout <= 0 || c.Cache.StoreTimeout <= 0 {
		return fmt.Errorf("配置校验失败: cache.generate_timeout / cache.store_timeout 必须大于 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("配置校验失败: scheduler.workers 必须大于 0")
	}
	if c.Scheduler.LeaseTTL < time.Minute {
		return fmt.Errorf("配置校验失败: scheduler.lease_ttl 不能小于 1 分钟")
	}
	switch c.Scheduler.LeaseBackend {
	case "db":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("配置校验失败: scheduler.lease_backend=redis 需要 redis.enabled=true")
		}
	default:
		return fmt.Errorf("配置校验失败: scheduler.lease_backend 仅支持 db | redis，当前为 %q", c.Scheduler.LeaseBackend)
	}
	if c.Scheduler.HistoryRetentionDays < c.Scheduler.CacheRetentionDays {
		return fmt.Errorf("配置校验失败: scheduler.history_retention_days 不能小于 cache_retention_days")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("配置校验失败: scheduler.timezone 无效: %w", err)
	}
	return nil
}
