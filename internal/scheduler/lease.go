package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/GHS01/chikitita-sub002/internal/repository"
	"github.com/GHS01/chikitita-sub002/internal/service"
	"github.com/GHS01/chikitita-sub002/pkg/redis"
)

// LeaseManager 调度租约：同名任务跨实例互斥，过期自动失效
type LeaseManager interface {
	Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, holder string) error
	// PurgeExpired 清理已过期的租约记录，返回删除数
	PurgeExpired(ctx context.Context) (int64, error)
}

// NewHolderID 生成实例标识：主机名 + 随机后缀
func NewHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// ── 落库实现 ──

type dbLease struct {
	repo  repository.LeaseRepository
	clock service.Clock
}

// NewDBLeaseManager 基于 scheduler_leases 表的租约
func NewDBLeaseManager(repo repository.LeaseRepository, clock service.Clock) LeaseManager {
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &dbLease{repo: repo, clock: clock}
}

func (l *dbLease) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return l.repo.TryAcquire(ctx, name, holder, l.clock.Now(), ttl)
}

func (l *dbLease) Renew(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return l.repo.Renew(ctx, name, holder, l.clock.Now(), ttl)
}

func (l *dbLease) Release(ctx context.Context, name, holder string) error {
	return l.repo.Release(ctx, name, holder)
}

func (l *dbLease) PurgeExpired(ctx context.Context) (int64, error) {
	return l.repo.PurgeExpired(ctx, l.clock.Now())
}

// ── Redis 实现 ──

type redisLease struct {
	client *redis.Client
}

// NewRedisLeaseManager 基于 Redis SET NX PX 的租约
func NewRedisLeaseManager(client *redis.Client) LeaseManager {
	return &redisLease{client: client}
}

func (l *redisLease) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return l.client.AcquireLease(ctx, name, holder, ttl)
}

func (l *redisLease) Renew(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return l.client.RenewLease(ctx, name, holder, ttl)
}

func (l *redisLease) Release(ctx context.Context, name, holder string) error {
	return l.client.ReleaseLease(ctx, name, holder)
}

// PurgeExpired Redis 键自带过期，无需清理
func (l *redisLease) PurgeExpired(context.Context) (int64, error) {
	return 0, nil
}
