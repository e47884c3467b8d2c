package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/archivelab/linkmeta/internal/progress"
)

// PrometheusSink exports pipeline progress metrics. It owns the collectors
// for run lifecycle, per-status results, cache hits, requeues, and fetch
// volume.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runRuntime    *prometheus.HistogramVec

	results       *prometheus.CounterVec
	cacheHits     prometheus.Counter
	requeues      *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkmeta_runs_started_total",
			Help: "Total pipeline runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkmeta_runs_completed_total",
			Help: "Total pipeline runs completed partitioned by result.",
		}, []string{"result"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkmeta_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkmeta_results_total",
			Help: "Distinct URL outcomes partitioned by status.",
		}, []string{"status"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkmeta_cache_hits_total",
			Help: "URLs answered from the content cache without a fetch.",
		}),
		requeues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkmeta_requeues_total",
			Help: "URLs deferred to the back of a batch partitioned by domain.",
		}, []string{"domain"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkmeta_fetch_bytes_total",
			Help: "Bytes downloaded per domain.",
		}, []string{"domain"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkmeta_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by domain and status.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain", "status"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRuntime,
		s.results,
		s.cacheHits,
		s.requeues,
		s.fetchBytes,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.completeRun(evt, "success")
	case progress.StageRunError:
		s.completeRun(evt, "error")
	case progress.StageURLDone:
		s.handleURLDone(evt)
	case progress.StageURLRequeued:
		s.requeues.WithLabelValues(domainLabel(evt)).Inc()
	case progress.StageCacheHit:
		s.cacheHits.Inc()
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleURLDone(evt progress.Event) {
	s.results.WithLabelValues(string(evt.Status)).Inc()
	domain := domainLabel(evt)
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(domain).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(domain, string(evt.Status)).Observe(evt.Dur.Seconds())
	}
}

func domainLabel(evt progress.Event) string {
	if evt.Domain == "" {
		return "unknown"
	}
	return evt.Domain
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
