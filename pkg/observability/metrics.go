// Package observability 提供可观测性功能：日志、指标、链路追踪
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "agentresume"

// Metrics 调度相关的 Prometheus 指标
// 所有方法对 nil 接收者安全，未启用指标时可直接传 nil
type Metrics struct {
	jobsScheduled prometheus.Counter
	jobsReplaced  prometheus.Counter
	jobsCancelled prometheus.Counter
	jobsFired     prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsPending   prometheus.Gauge
	wakeDuration  prometheus.Histogram
}

// NewMetrics 创建并注册指标
// reg 为 nil 时指标不会被注册（测试中使用）
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		jobsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_scheduled_total",
			Help:      "Number of one-shot jobs registered with the timer engine.",
		}),
		jobsReplaced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_replaced_total",
			Help:      "Number of pending jobs replaced by a newer registration under the same id.",
		}),
		jobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_cancelled_total",
			Help:      "Number of pending jobs cancelled before firing.",
		}),
		jobsFired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_fired_total",
			Help:      "Number of jobs whose body was executed.",
		}),
		jobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_failed_total",
			Help:      "Number of jobs that returned an error or panicked.",
		}),
		jobsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_pending",
			Help:      "Jobs registered but not yet fired.",
		}),
		wakeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "continuation",
			Name:      "wake_duration_seconds",
			Help:      "Time spent inside continuation callbacks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

// JobScheduled 记录一次注册
func (m *Metrics) JobScheduled() {
	if m == nil {
		return
	}
	m.jobsScheduled.Inc()
}

// JobReplaced 记录一次替换
func (m *Metrics) JobReplaced() {
	if m == nil {
		return
	}
	m.jobsReplaced.Inc()
}

// JobCancelled 记录一次取消
func (m *Metrics) JobCancelled() {
	if m == nil {
		return
	}
	m.jobsCancelled.Inc()
}

// JobFired 记录一次执行，failed 表示执行失败
func (m *Metrics) JobFired(failed bool) {
	if m == nil {
		return
	}
	m.jobsFired.Inc()
	if failed {
		m.jobsFailed.Inc()
	}
}

// SetPending 更新待执行任务数
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.jobsPending.Set(float64(n))
}

// ObserveWake 记录一次唤醒回调的耗时
func (m *Metrics) ObserveWake(d time.Duration) {
	if m == nil {
		return
	}
	m.wakeDuration.Observe(d.Seconds())
}
