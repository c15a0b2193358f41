package router

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GHS01/chikitita-sub002/config"
	"github.com/GHS01/chikitita-sub002/internal/api/handler"
	"github.com/GHS01/chikitita-sub002/internal/api/middleware"
	"github.com/GHS01/chikitita-sub002/pkg/jwt"
	"github.com/GHS01/chikitita-sub002/pkg/redis"
	"github.com/GHS01/chikitita-sub002/pkg/response"
)

// Pinger 健康检查依赖（*sql.DB、*redis.Client）
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps 路由所需的外部依赖
type Deps struct {
	JWT      *jwt.Manager
	Redis    *redis.Client // 可为 nil
	DB       Pinger
	Gatherer prometheus.Gatherer // 为 nil 时使用 prometheus.DefaultGatherer
	Logger   *zap.Logger
}

// Setup 初始化并返回 Gin 路由引擎
func Setup(cfg *config.Config, h *handler.Handler, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// Redis 未启用时黑名单与限流降级放行
	var (
		blacklist middleware.TokenBlacklist
		limiter   middleware.RateLimiter
	)
	if deps.Redis != nil {
		blacklist = deps.Redis
		limiter = deps.Redis
	}

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins, []string{http.MethodGet, http.MethodPost, http.MethodPut}))
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// ── 健康检查 ──
	r.GET("/health", healthHandler(deps))

	// ── Prometheus ──
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", metricsAuth(cfg.Server.MetricsToken), gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	authorized := v1.Group("")
	authorized.Use(middleware.JWTAuth(deps.JWT, blacklist))
	{
		// 训练分配
		assignments := authorized.Group("/assignments")
		{
			assignments.GET("", h.Assignment.GetAssignments)
			assignments.PUT("", h.Assignment.ReplaceAssignments)
			assignments.GET("/:weekday", h.Assignment.GetForWeekday)
		}

		// 训练计划 / 缓存
		workouts := authorized.Group("/workouts")
		{
			workouts.GET("/cache/status", h.Workout.GetCacheStatus)
			workouts.POST("/cache/regenerate", h.Workout.RegenerateCache)
			workouts.GET("/calendar.ics", h.Workout.ExportCalendar)
			workouts.GET("/:date", middleware.RateLimit(limiter, cfg.Cache.LazyRateLimit, time.Minute), h.Workout.GetWorkout)
			workouts.POST("/:date/start", h.Workout.StartWorkout)
		}

		// 运维管理
		admin := authorized.Group("/admin")
		admin.Use(middleware.RoleAuth(jwt.RoleAdmin))
		{
			admin.POST("/jobs/:job/run", h.Admin.RunJob)
			admin.GET("/batch-runs", h.Admin.ListBatchRuns)
			admin.GET("/reports/daily", h.Admin.GetDailyReport)
			admin.GET("/reports/batch-runs/export", h.Admin.ExportBatchRuns)
		}
	}

	return r
}

func healthHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"status": "ok", "db": "ok"}
		code := http.StatusOK
		if deps.DB != nil {
			if err := deps.DB.PingContext(ctx); err != nil {
				status["status"], status["db"] = "degraded", "down"
				code = http.StatusServiceUnavailable
			}
		}
		if deps.Redis != nil {
			status["redis"] = "ok"
			if err := deps.Redis.Ping(ctx); err != nil {
				// Redis 故障不影响主流程
				status["redis"] = "down"
			}
		}
		c.JSON(code, status)
	}
}

// metricsAuth token 为空时不鉴权
func metricsAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte("Bearer "+token)) != 1 {
			response.Unauthorized(c, 10002, "指标接口认证失败")
			c.Abort()
			return
		}
		c.Next()
	}
}
