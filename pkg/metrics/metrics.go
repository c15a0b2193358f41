// Package metrics 缓存层与调度器的 Prometheus 指标
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 缓存查询结果
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupRestDay = "rest_day"
)

// 生成结果
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder 指标记录接口
type Recorder interface {
	// ObserveGeneration 记录一次生成器调用（含重试）与落库的结果和耗时
	ObserveGeneration(source, outcome string, d time.Duration)
	IncCacheLookup(result string)
	IncPurged(reason string, n int64)
	// ObserveJobRun 记录一次调度任务运行
	ObserveJobRun(job, status string, d time.Duration)
	SetLastJobRun(job string, t time.Time)
}

// Prometheus 基于 Prometheus 的 Recorder
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	generations   *prometheus.CounterVec
	generationDur *prometheus.HistogramVec
	lookups       *prometheus.CounterVec
	purged        *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	jobDur        *prometheus.HistogramVec
	jobLastRun    *prometheus.GaugeVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus 创建 Prometheus Recorder
// reg 为 nil 时使用 prometheus.DefaultRegisterer，namespace 为空时使用 "fitplan"
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "fitplan"
	}
	p := &Prometheus{reg: reg, namespace: namespace}
	p.ensureRegistered()
	return p
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.generations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "cache",
			Name:      "generations_total",
			Help:      "Plan generations by source (batch, lazy) and outcome.",
		}, []string{"source", "outcome"})

		p.generationDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "cache",
			Name:      "generation_duration_seconds",
			Help:      "Latency of generator call plus store write in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"source"})

		p.lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Lazy path lookups by result (hit, miss, rest_day).",
		}, []string{"result"})

		p.purged = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "cache",
			Name:      "purged_plans_total",
			Help:      "Cached plans deleted by reason (invalidation, retention).",
		}, []string{"reason"})

		p.jobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduler job runs by job and final status.",
		}, []string{"job", "status"})

		p.jobDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Scheduler job run duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"job"})

		p.jobLastRun = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "scheduler",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished run per job.",
		}, []string{"job"})

		p.reg.MustRegister(
			p.generations, p.generationDur, p.lookups, p.purged,
			p.jobRuns, p.jobDur, p.jobLastRun,
		)
	})
}

// ObserveGeneration 实现 Recorder
func (p *Prometheus) ObserveGeneration(source, outcome string, d time.Duration) {
	p.generations.WithLabelValues(source, outcome).Inc()
	p.generationDur.WithLabelValues(source).Observe(d.Seconds())
}

// IncCacheLookup 实现 Recorder
func (p *Prometheus) IncCacheLookup(result string) {
	p.lookups.WithLabelValues(result).Inc()
}

// IncPurged 实现 Recorder
func (p *Prometheus) IncPurged(reason string, n int64) {
	if n <= 0 {
		return
	}
	p.purged.WithLabelValues(reason).Add(float64(n))
}

// ObserveJobRun 实现 Recorder
func (p *Prometheus) ObserveJobRun(job, status string, d time.Duration) {
	p.jobRuns.WithLabelValues(job, status).Inc()
	p.jobDur.WithLabelValues(job).Observe(d.Seconds())
}

// SetLastJobRun 实现 Recorder
func (p *Prometheus) SetLastJobRun(job string, t time.Time) {
	p.jobLastRun.WithLabelValues(job).Set(float64(t.Unix()))
}

// Nop 丢弃全部指标，测试或未启用指标时使用
type Nop struct{}

var _ Recorder = Nop{}

// NewNop 创建 Nop Recorder
func NewNop() Nop { return Nop{} }

func (Nop) ObserveGeneration(string, string, time.Duration) {}
func (Nop) IncCacheLookup(string)                          {}
func (Nop) IncPurged(string, int64)                        {}
func (Nop) ObserveJobRun(string, string, time.Duration)    {}
func (Nop) SetLastJobRun(string, time.Time)                {}
