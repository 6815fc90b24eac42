// Package metrics records review engine outcomes as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"

	"github.com/sells-group/review-cli/internal/model"
)

// Option applies a configuration option to the Recorder.
type Option func(*Recorder)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		if namespace != "" {
			r.namespace = namespace
		}
	}
}

// WithRegistry registers metrics on reg instead of a fresh private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(r *Recorder) {
		if reg != nil {
			r.registry = reg
		}
	}
}

// Recorder holds the review engine metrics. A nil *Recorder records nothing.
type Recorder struct {
	namespace string
	registry  *prometheus.Registry

	normalizationRuns prometheus.Counter
	reviewsAdjusted   *prometheus.CounterVec
	applicantsScored  prometheus.Gauge
	previewMatches    prometheus.Gauge
	bulkUpdates       *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	duration          *prometheus.HistogramVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		namespace: "review",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}

	auto := promauto.With(r.registry)

	r.normalizationRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "normalization_runs_total",
		Help:      "Completed normalization runs.",
	})
	r.reviewsAdjusted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "reviews_adjusted_total",
		Help:      "Reviews written by normalization, by rule applied.",
	}, []string{"kind"})
	r.applicantsScored = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "applicants_normalized",
		Help:      "Applicants updated by the last normalization run.",
	})
	r.previewMatches = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "preview_matches",
		Help:      "Applicants matched by the last criteria preview.",
	})
	r.bulkUpdates = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "bulk_updates_total",
		Help:      "Users moved by bulk decisions, by target status.",
	}, []string{"status"})
	r.notifications = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "notifications_total",
		Help:      "Decision notifications attempted, by result.",
	}, []string{"result"})
	r.duration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of engine operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	return r
}

// Registry returns the registry the metrics live on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveNormalization records a completed normalization run.
func (r *Recorder) ObserveNormalization(res *model.NormalizationResult) {
	if r == nil || res == nil {
		return
	}
	adjusted := res.ReviewsProcessed - res.OutliersCollapsed - res.PassThrough
	r.normalizationRuns.Inc()
	r.reviewsAdjusted.WithLabelValues(string(model.AdjustmentCorrected)).Add(float64(adjusted))
	r.reviewsAdjusted.WithLabelValues(string(model.AdjustmentOutlier)).Add(float64(res.OutliersCollapsed))
	r.reviewsAdjusted.WithLabelValues(string(model.AdjustmentPassThrough)).Add(float64(res.PassThrough))
	r.applicantsScored.Set(float64(res.ApplicantsUpdated))
	r.duration.WithLabelValues("normalize").Observe(res.Duration.Seconds())
}

// ObservePreview records a criteria preview.
func (r *Recorder) ObservePreview(matches int, d time.Duration) {
	if r == nil {
		return
	}
	r.previewMatches.Set(float64(matches))
	r.duration.WithLabelValues("preview").Observe(d.Seconds())
}

// ObserveBulk records a bulk decision.
func (r *Recorder) ObserveBulk(target model.ApplicationStatus, res *model.BulkResult, d time.Duration) {
	if r == nil || res == nil {
		return
	}
	r.bulkUpdates.WithLabelValues(string(target)).Add(float64(res.SuccessCount))
	r.notifications.WithLabelValues("sent").Add(float64(res.NotificationsSent))
	r.notifications.WithLabelValues("failed").Add(float64(res.FailureCount))
	r.duration.WithLabelValues("bulk_apply").Observe(d.Seconds())
}

// WriteTextfile writes the current metrics in node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}
