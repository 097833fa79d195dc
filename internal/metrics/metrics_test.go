package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// sample returns the value of the series of family name whose labels
// include all of want. Counters, gauges, and histogram sample counts are
// supported.
func sample(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("series %s%v not found", name, want)
	return 0
}

func Test_Metrics_TaskOutcomeRecorded(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	p := NewPipeline(reg)
	const task = "tasks.data_indexing.index_project"

	done := p.TaskStarted(task)
	if got := sample(t, reg, "ragindex_tasks_in_flight", nil); got != 1 {
		t.Fatalf("in flight = %v, want 1", got)
	}
	done(OutcomeSuccess)

	if got := sample(t, reg, "ragindex_tasks_in_flight", nil); got != 0 {
		t.Errorf("in flight after done = %v, want 0", got)
	}
	if got := sample(t, reg, "ragindex_tasks_total", map[string]string{"task": task, "outcome": OutcomeSuccess}); got != 1 {
		t.Errorf("tasks_total = %v, want 1", got)
	}
	if got := sample(t, reg, "ragindex_task_duration_seconds", map[string]string{"task": task}); got != 1 {
		t.Errorf("duration samples = %v, want 1", got)
	}
}

func Test_Metrics_Counters(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	p := NewPipeline(reg)
	const task = "tasks.file_processing.process_project_files"

	p.ChunksProcessed(120)
	p.ChunksProcessed(0)
	p.VectorsIndexed(50)
	p.VectorsIndexed(20)
	p.LedgerSwept(3)
	p.TaskRetried(task)
	p.TaskRetried(task)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"ragindex_chunks_processed_total", nil, 120},
		{"ragindex_vectors_indexed_total", nil, 70},
		{"ragindex_ledger_swept_total", nil, 3},
		{"ragindex_task_retries_total", map[string]string{"task": task}, 2},
	}
	for _, tt := range tests {
		if got := sample(t, reg, tt.name, tt.labels); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func Test_Metrics_NilPipelineIsNoOp(t *testing.T) {
	t.Parallel()
	var p *Pipeline
	p.TaskStarted("x")(OutcomeFailure)
	p.TaskRetried("x")
	p.ChunksProcessed(1)
	p.VectorsIndexed(1)
	p.LedgerSwept(1)
}
