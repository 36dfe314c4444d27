// Package metrics exposes prometheus instrumentation for simulation runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	simulationCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipcoal_simulation_calls_total",
		Help: "Top-level simulation calls by mode and result",
	}, []string{"mode", "result"})

	simulationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ipcoal_simulation_duration_seconds",
		Help:    "Top-level simulation call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
	}, []string{"mode"})

	lociSimulated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipcoal_loci_simulated_total",
		Help: "Loci drawn from the coalescent engine",
	})

	genealogies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipcoal_genealogies_total",
		Help: "Genealogy intervals recorded in result tables",
	})

	snpDraws = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipcoal_snp_draws_total",
		Help: "Unlinked SNP draws by outcome",
	}, []string{"outcome"})

	maskedCells = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipcoal_masked_cells_total",
		Help: "Sequence cells set to missing",
	})
)

// ObserveCall records one finished simulation call.
func ObserveCall(mode string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	simulationCalls.WithLabelValues(mode, result).Inc()
	simulationDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

func AddLoci(n int) {
	lociSimulated.Add(float64(n))
}

func AddGenealogies(n int) {
	genealogies.Add(float64(n))
}

func SNPAccepted() {
	snpDraws.WithLabelValues("accepted").Inc()
}

func SNPRejected() {
	snpDraws.WithLabelValues("rejected").Inc()
}

func AddMaskedCells(n int) {
	maskedCells.Add(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
