package monitoring

import (
	"strconv"
	"time"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	imagesInserted *prometheus.CounterVec
	bytesInserted  prometheus.Counter
	missedFrames   *prometheus.CounterVec
	borrowTimeouts *prometheus.CounterVec
	sinkOverflows  prometheus.Counter
	snapsTotal     *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec

	// Histograms
	batchSize     prometheus.Histogram
	batchDuration prometheus.Histogram

	// Gauges
	sessionState    prometheus.Gauge
	liveViewClients prometheus.Gauge
}

var _ ports.AcquisitionMetrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the acquisition metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		imagesInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acqbridge_images_inserted_total",
			Help: "Images handed to the host image sink",
		}, []string{"channel"}),

		bytesInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "acqbridge_image_bytes_inserted_total",
			Help: "Pixel bytes handed to the host image sink",
		}),

		missedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acqbridge_missed_frames_total",
			Help: "Frame identifier gaps detected during synchronization",
		}, []string{"stream"}),

		borrowTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acqbridge_borrow_timeouts_total",
			Help: "Borrows that hit the poll retry ceiling",
		}, []string{"stream"}),

		sinkOverflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "acqbridge_sink_overflows_total",
			Help: "Inserts rejected because the image sink was full",
		}),

		snapsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acqbridge_snaps_total",
			Help: "Single-shot snaps by result",
		}, []string{"result"}),

		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acqbridge_runs_total",
			Help: "Acquisition runs by kind and final status",
		}, []string{"kind", "status"}),

		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "acqbridge_sync_batch_frames",
			Help:    "Frames aligned per synchronization pass",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),

		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "acqbridge_sync_pass_duration_seconds",
			Help:    "Duration of a synchronization pass including the borrow wait",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		sessionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acqbridge_session_state",
			Help: "Session state (0 idle, 1 snapping, 2 streaming)",
		}),

		liveViewClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acqbridge_live_view_clients",
			Help: "Connected live view websocket clients",
		}),
	}
}

func (p *PrometheusCollector) RecordBatch(batch domain.SyncedBatch, elapsed time.Duration) {
	p.batchSize.Observe(float64(batch.Aligned))
	p.batchDuration.Observe(elapsed.Seconds())
	for s := 0; s < batch.Streams; s++ {
		if batch.Drops[s] > 0 {
			p.missedFrames.WithLabelValues(strconv.Itoa(s)).Add(float64(batch.Drops[s]))
		}
	}
}

func (p *PrometheusCollector) RecordImageInserted(channel int, bytes int) {
	p.imagesInserted.WithLabelValues(strconv.Itoa(channel)).Inc()
	p.bytesInserted.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordOverflow() {
	p.sinkOverflows.Inc()
}

func (p *PrometheusCollector) RecordTimeout(stream int) {
	p.borrowTimeouts.WithLabelValues(strconv.Itoa(stream)).Inc()
}

func (p *PrometheusCollector) RecordSessionState(state domain.SessionState) {
	p.sessionState.Set(float64(state))
}

func (p *PrometheusCollector) RecordSnap(success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	p.snapsTotal.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) RecordRun(kind domain.RunKind, status domain.RunStatus) {
	p.runsTotal.WithLabelValues(string(kind), string(status)).Inc()
}

func (p *PrometheusCollector) RecordLiveViewClients(n int) {
	p.liveViewClients.Set(float64(n))
}
