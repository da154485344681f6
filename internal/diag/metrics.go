package diag

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics: 一次审计运行的计数器，注册在私有 Registry 上（不暴露 HTTP）。
// 运行结束后可用 WriteTextfile 导出为 node_exporter textfile 格式。
type Metrics struct {
	reg *prometheus.Registry

	Rows        prometheus.Counter
	ActiveRows  prometheus.Counter
	ShortRows   prometheus.Counter
	Files       prometheus.Counter
	Invalid     *prometheus.CounterVec // rule, scope=all|active
	IDAnomalies *prometheus.CounterVec // kind=empty|duplicate
	Ops         *prometheus.CounterVec // comp, stage, result
	Errors      *prometheus.CounterVec // comp, code
	StageDur    *prometheus.HistogramVec
}

// NewMetrics 创建并注册全部指标。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Rows: f.NewCounter(prometheus.CounterOpts{
			Name: "rollaudit_rows_total",
			Help: "Voter rows scanned",
		}),
		ActiveRows: f.NewCounter(prometheus.CounterOpts{
			Name: "rollaudit_active_rows_total",
			Help: "Voter rows whose status equals the active code",
		}),
		ShortRows: f.NewCounter(prometheus.CounterOpts{
			Name: "rollaudit_short_rows_total",
			Help: "Rows with fewer columns than the layout references",
		}),
		Files: f.NewCounter(prometheus.CounterOpts{
			Name: "rollaudit_files_total",
			Help: "County files scanned",
		}),
		Invalid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollaudit_invalid_rows_total",
			Help: "Rows flagged by a validation rule",
		}, []string{"rule", "scope"}),
		IDAnomalies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollaudit_id_anomalies_total",
			Help: "Empty or duplicate voter identifiers",
		}, []string{"kind"}),
		Ops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollaudit_op_total",
			Help: "Component operations by stage and result",
		}, []string{"comp", "stage", "result"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollaudit_error_total",
			Help: "Errors by component and classification code",
		}, []string{"comp", "code"}),
		StageDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollaudit_stage_duration_seconds",
			Help:    "Duration of component stages",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"comp", "stage"}),
	}
}

// Registry 返回私有 Registry（测试与导出用）。
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WriteTextfile 原子写出 textfile 格式。
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}

// 进程级指标（未设置时以下函数为 no-op）。
var (
	metMu sync.RWMutex
	met   *Metrics
)

// SetMetrics 设置全局指标（nil 可清除）。
func SetMetrics(m *Metrics) { metMu.Lock(); met = m; metMu.Unlock() }

// GetMetrics 返回全局指标（可能为 nil）。
func GetMetrics() *Metrics { metMu.RLock(); defer metMu.RUnlock(); return met }

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	if m := GetMetrics(); m != nil {
		m.Ops.WithLabelValues(comp, stage, result).Inc()
	}
}

// IncError 按分类累加错误计数。
func IncError(comp string, code Code) {
	if m := GetMetrics(); m != nil {
		m.Errors.WithLabelValues(comp, string(code)).Inc()
	}
}

// ObserveDuration 记录阶段耗时。
func ObserveDuration(comp, stage string, d time.Duration) {
	if m := GetMetrics(); m != nil {
		m.StageDur.WithLabelValues(comp, stage).Observe(d.Seconds())
	}
}
