package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Don't call NewMetrics() here as it registers with the default registry.
	t.Log("Metrics structure verified through integration tests")
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

	counter.WithLabelValues("anthropic", "claude-opus-4", "success").Inc()
	counter.WithLabelValues("openai", "gpt-4o", "success").Inc()
	counter.WithLabelValues("anthropic", "claude-opus-4", "error").Inc()

	expected := `
		# HELP test_llm_requests_total Test LLM request counter
		# TYPE test_llm_requests_total counter
		test_llm_requests_total{model="claude-opus-4",provider="anthropic",status="error"} 1
		test_llm_requests_total{model="claude-opus-4",provider="anthropic",status="success"} 1
		test_llm_requests_total{model="gpt-4o",provider="openai",status="success"} 1
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
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

	counter.WithLabelValues("read_file", "success").Inc()
	counter.WithLabelValues("read_file", "success").Inc()
	counter.WithLabelValues("run_shell", "error").Inc()

	if count := testutil.CollectAndCount(counter); count != 2 {
		t.Errorf("Expected 2 label combinations, got %d", count)
	}
}

func TestRecordRetryAndFallback(t *testing.T) {
	registry := prometheus.NewRegistry()
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_retry_scheduled_total", Help: "retries"},
		[]string{"provider"},
	)
	fallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_model_fallback_total", Help: "fallbacks"},
		[]string{"from_provider", "to_provider"},
	)
	registry.MustRegister(retries, fallbacks)

	retries.WithLabelValues("anthropic").Inc()
	retries.WithLabelValues("anthropic").Inc()
	fallbacks.WithLabelValues("anthropic", "openai").Inc()

	if count := testutil.CollectAndCount(retries); count != 1 {
		t.Errorf("expected 1 label combination for retries, got %d", count)
	}
	if count := testutil.CollectAndCount(fallbacks); count != 1 {
		t.Errorf("expected 1 label combination for fallbacks, got %d", count)
	}
}

func TestRunOutcomeHistogramBuckets(t *testing.T) {
	registry := prometheus.NewRegistry()
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_context_window_tokens",
			Help:    "Test context window histogram",
			Buckets: []float64{1000, 4000, 8000, 16000, 32000},
		},
		[]string{"provider", "model"},
	)
	registry.MustRegister(histogram)

	tokenCounts := []float64{500, 2000, 8000, 20000, 31000}
	for _, tokens := range tokenCounts {
		histogram.WithLabelValues("anthropic", "claude-opus-4").Observe(tokens)
	}

	if testutil.CollectAndCount(histogram) < 1 {
		t.Error("Expected histogram to have observations across buckets")
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
	iterations := 100

	go func() {
		for i := 0; i < iterations; i++ {
			counter.WithLabelValues("a").Inc()
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < iterations; i++ {
			counter.WithLabelValues("b").Inc()
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	<-done
	<-done

	if testutil.CollectAndCount(counter) < 1 {
		t.Error("Expected concurrent metric recording to work")
	}
}
