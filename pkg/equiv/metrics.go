package equiv

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 比较过程的prometheus指标
type Metrics struct {
	comparisons   *prometheus.CounterVec
	layerVerdicts *prometheus.CounterVec
	oracleCalls   *prometheus.CounterVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	duration      prometheus.Histogram
	programs      *prometheus.CounterVec
	parseErrors   prometheus.Counter
}

// NewMetrics 在给定的registry上注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		comparisons: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathequiv_comparisons_total",
			Help: "Path pair comparisons by overall verdict",
		}, []string{"verdict"}),
		layerVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathequiv_layer_verdicts_total",
			Help: "Per-layer verdicts of path pair comparisons",
		}, []string{"layer", "verdict"}),
		oracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathequiv_oracle_calls_total",
			Help: "Oracle tie-break calls by oracle and outcome",
		}, []string{"oracle", "outcome"}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "pathequiv_cache_hits_total",
			Help: "Comparisons served from the result cache",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "pathequiv_cache_misses_total",
			Help: "Comparisons not found in the result cache",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pathequiv_comparison_duration_seconds",
			Help:    "Duration of a single path pair comparison",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		}),
		programs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathequiv_program_verdicts_total",
			Help: "Program-level verdicts",
		}, []string{"verdict"}),
		parseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "pathequiv_parse_errors_total",
			Help: "Path files excluded because they failed to parse",
		}),
	}
}

// 所有方法允许nil接收者, 未配置指标时直接忽略

func (m *Metrics) observeComparison(v EquivalenceVerdict, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.comparisons.WithLabelValues(v.Verdict.String()).Inc()
	for _, lr := range v.Layers {
		m.layerVerdicts.WithLabelValues(lr.Layer.String(), lr.Verdict.String()).Inc()
	}
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeOracle(name, outcome string) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) observeCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) observeProgram(v ProgramVerdict) {
	if m == nil {
		return
	}
	m.programs.WithLabelValues(v.String()).Inc()
}

func (m *Metrics) observeParseErrors(n int) {
	if m == nil || n == 0 {
		return
	}
	m.parseErrors.Add(float64(n))
}
