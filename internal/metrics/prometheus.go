package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct {
	waitingGauge    prometheus.Gauge
	pollCounter     prometheus.Counter
	raceLostCounter prometheus.Counter
	outcomes        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
}

var (
	waitingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tbot_retrievals_waiting",
		Help: "Number of retrievals currently polling the store",
	})
	pollCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbot_store_polls_total",
		Help: "Total number of store reads issued by retrievals",
	})
	raceLostCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbot_consume_races_lost_total",
		Help: "Total number of matched rows consumed by another retrieval first",
	})
	outcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbot_retrievals_total",
		Help: "Total number of finished retrievals by outcome",
	}, []string{"status"})
	durationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tbot_retrieval_duration_seconds",
		Help:    "Time from submission to outcome",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
	}, []string{"status"})
)

func NewPrometheusObserver() RetrievalObserver {
	return &prometheusObserver{
		waitingGauge:    waitingGauge,
		pollCounter:     pollCounter,
		raceLostCounter: raceLostCounter,
		outcomes:        outcomeCounter,
		duration:        durationHistogram,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) IncWaiting() {
	p.waitingGauge.Inc()
}
func (p *prometheusObserver) DecWaiting() {
	p.waitingGauge.Dec()
}
func (p *prometheusObserver) RecordPoll() {
	p.pollCounter.Inc()
}
func (p *prometheusObserver) RecordRaceLost() {
	p.raceLostCounter.Inc()
}
func (p *prometheusObserver) ObserveOutcome(status string, elapsed time.Duration) {
	p.outcomes.WithLabelValues(status).Inc()
	p.duration.WithLabelValues(status).Observe(elapsed.Seconds())
}
