package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkpointHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "blocktableindexer",
		Subsystem: "pipeline",
		Name:      "checkpoint_height",
		Help:      "Last saved checkpoint height per stream.",
	}, []string{"stream"})

	checkpointLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "blocktableindexer",
		Subsystem: "pipeline",
		Name:      "checkpoint_lag",
		Help:      "Difference between the node tip height and a stream's checkpoint height.",
	}, []string{"stream"})

	rowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blocktableindexer",
		Subsystem: "pipeline",
		Name:      "rows_written_total",
		Help:      "Count of rows flushed to the table store per stream.",
	}, []string{"stream"})

	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blocktableindexer",
		Subsystem: "pipeline",
		Name:      "batch_duration_seconds",
		Help:      "Duration of one indexing loop batch per stream.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stream", "status"})
)

// Pipeline records the indexing loop's per-stream progress and throughput.
type Pipeline struct{}

// NewPipeline constructs a Pipeline metrics recorder.
func NewPipeline() Pipeline { return Pipeline{} }

// ObserveCheckpoint records a stream's newly saved checkpoint height and
// its lag behind the node's current tip.
func (Pipeline) ObserveCheckpoint(stream string, height, nodeTip uint32) {
	checkpointHeight.WithLabelValues(stream).Set(float64(height))
	lag := float64(0)
	if nodeTip > height {
		lag = float64(nodeTip - height)
	}
	checkpointLag.WithLabelValues(stream).Set(lag)
}

// ObserveRowsWritten adds n rows flushed for stream.
func (Pipeline) ObserveRowsWritten(stream string, n int) {
	rowsWrittenTotal.WithLabelValues(stream).Add(float64(n))
}

// ObserveBatch records one stream's batch outcome and duration.
func (Pipeline) ObserveBatch(stream string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	batchDuration.WithLabelValues(stream, status).Observe(time.Since(started).Seconds())
}
