package core

import (
	"strconv"
	"time"

	"github.com/JonMunkholm/ProgramUpload/internal/ingest"
	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of program uploads.
type Metrics struct {
	UploadsTotal          *prometheus.CounterVec
	UploadDurationSeconds *prometheus.HistogramVec
	RecordsTotal          *prometheus.CounterVec
	RoomStreamUpdates     prometheus.Counter
}

// NewMetrics registers the upload metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "program_uploads_total",
				Help: "Program uploads by format and outcome",
			},
			[]string{"format", "status", "dry_run"},
		),
		UploadDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "program_upload_duration_seconds",
				Help:    "Time to parse and reconcile one program upload",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"format"},
		),
		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "program_records_total",
				Help: "Records created or reused by reconciliation",
			},
			[]string{"kind", "action"},
		),
		RoomStreamUpdates: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "program_room_stream_updates_total",
				Help: "Rooms whose stream settings were updated",
			},
		),
	}
}

// RegisterLimiter exposes the limiter's state as gauges on reg.
func RegisterLimiter(reg prometheus.Registerer, l *UploadLimiter) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "program_uploads_active",
		Help: "Uploads currently holding a slot",
	}, func() float64 { return float64(l.ActiveCount()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "program_uploads_max_concurrent",
		Help: "Upload slot capacity",
	}, func() float64 { return float64(l.MaxConcurrent()) })
}

func (m *Metrics) observeSummary(sum *ingest.Summary) {
	if m == nil || sum == nil {
		return
	}
	for _, k := range program.Kinds {
		m.RecordsTotal.WithLabelValues(string(k), "created").Add(float64(sum.Created[k]))
		m.RecordsTotal.WithLabelValues(string(k), "reused").Add(float64(sum.Reused[k]))
	}
}

func (m *Metrics) observeUpload(format string, dryRun bool, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := ingest.StatusOK
	if err != nil {
		status = MapError(err).Code
	}
	m.UploadsTotal.WithLabelValues(format, status, strconv.FormatBool(dryRun)).Inc()
	if elapsed > 0 {
		m.UploadDurationSeconds.WithLabelValues(format).Observe(elapsed.Seconds())
	}
}
