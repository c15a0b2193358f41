package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "0123456789abcdef-secret"
db:
  driver: sqlite
  sqlite_path: ":memory:"
cache:
  default_horizon_days: 10
scheduler:
  timezone: "Asia/Shanghai"
  lease_ttl: 45m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", cfg.Database.Driver)
	}
	if cfg.Cache.DefaultHorizonDays != 10 {
		t.Errorf("expected default_horizon_days from file (10), got %d", cfg.Cache.DefaultHorizonDays)
	}
	if cfg.Cache.ShortHorizonDays != 7 {
		t.Errorf("expected short_horizon_days default 7, got %d", cfg.Cache.ShortHorizonDays)
	}
	if cfg.Cache.GenerateTimeout != 20*time.Second {
		t.Errorf("expected generate_timeout default 20s, got %v", cfg.Cache.GenerateTimeout)
	}
	if cfg.Scheduler.LeaseTTL != 45*time.Minute {
		t.Errorf("expected lease_ttl 45m, got %v", cfg.Scheduler.LeaseTTL)
	}
	if cfg.Scheduler.Location().String() != "Asia/Shanghai" {
		t.Errorf("expected Asia/Shanghai, got %s", cfg.Scheduler.Location())
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "0123456789abcdef-secret"
server:
  port: 9000
`)
	t.Setenv("FITPLAN_SERVER_PORT", "9100")
	t.Setenv("FITPLAN_SCHEDULER_WORKERS", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("expected env port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Scheduler.Workers != 8 {
		t.Errorf("expected env workers 8, got %d", cfg.Scheduler.Workers)
	}
}

func TestLoadWith_OverrideTakesPrecedence(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "0123456789abcdef-secret"
log:
  level: debug
`)
	v := viper.New()
	v.Set("log.level", "warn")

	cfg, err := LoadWith(v, path)
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected override warn, got %q", cfg.Log.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("显式指定的配置文件不存在时应报错")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal defaults: %v", err)
	}
	cfg.Auth.JWTSecret = "0123456789abcdef-secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}
	return &cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"空密钥", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"短密钥", func(c *Config) { c.Auth.JWTSecret = "short" }, "16"},
		{"端口", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"驱动", func(c *Config) { c.Database.Driver = "mysql" }, "db.driver"},
		{"窗口为零", func(c *Config) { c.Cache.ShortHorizonDays = 0 }, "窗口天数"},
		{"窗口超上限", func(c *Config) { c.Cache.DefaultHorizonDays = 60 }, "max_horizon_days"},
		{"生成超时", func(c *Config) { c.Cache.GenerateTimeout = 0 }, "generate_timeout"},
		{"worker", func(c *Config) { c.Scheduler.Workers = 0 }, "workers"},
		{"租约过短", func(c *Config) { c.Scheduler.LeaseTTL = 10 * time.Second }, "lease_ttl"},
		{"租约后端", func(c *Config) { c.Scheduler.LeaseBackend = "etcd" }, "lease_backend"},
		{"租约后端需 Redis", func(c *Config) { c.Scheduler.LeaseBackend = "redis"; c.Redis.Enabled = false }, "redis.enabled"},
		{"保留期", func(c *Config) { c.Scheduler.HistoryRetentionDays = 7 }, "history_retention_days"},
		{"时区", func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }, "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "fitplan", SSLMode: "disable", Timezone: "UTC"}
	want := "host=db port=5432 user=u password=p dbname=fitplan sslmode=disable TimeZone=UTC"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
