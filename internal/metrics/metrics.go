// Package metrics records pipeline counters for Prometheus textfile collection.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "adspend_etl"

// Pipeline holds the ETL and KPI metrics. A nil *Pipeline records nothing.
type Pipeline struct {
	gatherer      prometheus.Gatherer
	rowsValidated *prometheus.CounterVec
	recordsLoaded *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	kpiRowsStored prometheus.Counter
}

// NewPipeline registers the pipeline metrics on reg. When reg is also a
// Gatherer, WriteTextfile can flush it.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	if reg == nil {
		return &Pipeline{}
	}
	p := &Pipeline{
		rowsValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_validated_total",
			Help:      "Input rows seen by the validator, by outcome.",
		}, []string{"outcome"}),
		recordsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_loaded_total",
			Help:      "Records written to the raw table, by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		kpiRowsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kpi_rows_stored_total",
			Help:      "KPI rows upserted.",
		}),
	}
	reg.MustRegister(p.rowsValidated, p.recordsLoaded, p.runs, p.runDuration, p.kpiRowsStored)
	if g, ok := reg.(prometheus.Gatherer); ok {
		p.gatherer = g
	}
	return p
}

// ObserveValidation adds one validation pass.
func (p *Pipeline) ObserveValidation(valid, invalid, skipped int) {
	if p == nil || p.rowsValidated == nil {
		return
	}
	p.rowsValidated.WithLabelValues("valid").Add(float64(valid))
	p.rowsValidated.WithLabelValues("invalid").Add(float64(invalid))
	p.rowsValidated.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveLoad adds one load outcome.
func (p *Pipeline) ObserveLoad(inserted, failed int) {
	if p == nil || p.recordsLoaded == nil {
		return
	}
	p.recordsLoaded.WithLabelValues("inserted").Add(float64(inserted))
	p.recordsLoaded.WithLabelValues("failed").Add(float64(failed))
}

// ObserveRun records a finished run.
func (p *Pipeline) ObserveRun(state string, d time.Duration) {
	if p == nil || p.runs == nil {
		return
	}
	if state == "" {
		state = "unknown"
	}
	p.runs.WithLabelValues(state).Inc()
	p.runDuration.Observe(d.Seconds())
}

// AddKPIRows counts upserted KPI rows.
func (p *Pipeline) AddKPIRows(n int) {
	if p == nil || p.kpiRowsStored == nil {
		return
	}
	p.kpiRowsStored.Add(float64(n))
}

// WriteTextfile atomically writes the gathered metrics to path in the text
// exposition format read by the node exporter textfile collector.
func (p *Pipeline) WriteTextfile(path string) error {
	if p == nil || p.gatherer == nil || path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory '%s': %w", dir, err)
		}
	}
	if err := prometheus.WriteToTextfile(path, p.gatherer); err != nil {
		return fmt.Errorf("write metrics textfile '%s': %w", path, err)
	}
	return nil
}
