package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestNewMetrics exercises the real constructor once per process (promauto
// registers against the default registry, so a second call would panic on
// duplicate registration) and smoke-tests every Record* method.
func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	m.RecordIteration()
	m.RecordRequestOutcome("complete")
	m.ToolDispatchDurationTimer("read").ObserveDuration()
	m.RecordToolExecution("web_search", "success")
	m.RecordCompaction("compacted")
	m.RecordEmptyResponse()
	m.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", 1.2, 100, 50)
	m.RecordLLMCost("anthropic", "claude-sonnet-4", 0.015)
	m.RecordError("agent", "model_stream_error")
}

func TestRecordIteration(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_iterations_total",
		Help: "Test iteration counter",
	})
	registry.MustRegister(counter)

	counter.Inc()
	counter.Inc()
	counter.Inc()

	expected := `
		# HELP test_iterations_total Test iteration counter
		# TYPE test_iterations_total counter
		test_iterations_total 3
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRequestOutcomeCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_request_outcomes_total",
			Help: "Test request outcome counter",
		},
		[]string{"outcome"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("complete").Inc()
	counter.WithLabelValues("complete").Inc()
	counter.WithLabelValues("max_iterations").Inc()

	expected := `
		# HELP test_request_outcomes_total Test request outcome counter
		# TYPE test_request_outcomes_total counter
		test_request_outcomes_total{outcome="complete"} 2
		test_request_outcomes_total{outcome="max_iterations"} 1
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestToolDispatchDurationHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_tool_dispatch_duration_seconds",
			Help:    "Test tool dispatch duration",
			Buckets: []float64{0.01, 0.1, 1, 10},
		},
		[]string{"phase"},
	)
	registry.MustRegister(histogram)

	histogram.WithLabelValues("read").Observe(0.05)
	histogram.WithLabelValues("write").Observe(2.5)

	if count := testutil.CollectAndCount(histogram); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
}

func TestCompactionCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_compaction_total",
			Help: "Test compaction counter",
		},
		[]string{"status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("compacted").Inc()
	counter.WithLabelValues("skipped").Inc()
	counter.WithLabelValues("skipped").Inc()

	expected := `
		# HELP test_compaction_total Test compaction counter
		# TYPE test_compaction_total counter
		test_compaction_total{status="compacted"} 1
		test_compaction_total{status="skipped"} 2
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_llm_requests_total",
			Help: "Test LLM request counter",
		},
		[]string{"provider", "model", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("anthropic", "claude-sonnet-4", "success").Inc()
	counter.WithLabelValues("anthropic", "claude-sonnet-4", "error").Inc()

	if count := testutil.CollectAndCount(counter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
}

func TestRecordToolExecution(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_tool_executions_total",
			Help: "Test tool execution counter",
		},
		[]string{"tool_name", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("web_search", "success").Inc()
	counter.WithLabelValues("web_search", "success").Inc()
	counter.WithLabelValues("browser", "error").Inc()

	if count := testutil.CollectAndCount(counter); count < 1 {
		t.Error("expected at least 1 tool execution recorded")
	}
}

func TestRecordError(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_errors_total",
			Help: "Test error counter",
		},
		[]string{"component", "error_type"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("agent", "timeout").Inc()
	counter.WithLabelValues("agent", "timeout").Inc()
	counter.WithLabelValues("tool", "execution_failed").Inc()

	if count := testutil.CollectAndCount(counter); count < 1 {
		t.Error("expected at least 1 error recorded")
	}
}

func TestConcurrentMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_concurrent_total",
			Help: "Test concurrent counter",
		},
		[]string{"label"},
	)
	registry.MustRegister(counter)

	done := make(chan bool)
	const iterations = 100

	go func() {
		for i := 0; i < iterations; i++ {
			counter.WithLabelValues("a").Inc()
		}
		done <- true
	}()
	go func() {
		for i := 0; i < iterations; i++ {
			counter.WithLabelValues("b").Inc()
		}
		done <- true
	}()
	<-done
	<-done

	if count := testutil.CollectAndCount(counter); count < 1 {
		t.Error("expected concurrent metric recording to work")
	}
}
