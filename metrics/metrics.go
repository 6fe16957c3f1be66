package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "fitnesse"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of orchestrated runs by outcome",
	}, []string{
		"target",
		"status",
	})

	phaseDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "phase_duration_seconds",
		Help:      "Duration of the last run's phases",
	}, []string{
		"target",
		"phase",
	})

	fetchBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "fetch_bytes_total",
		Help:      "Bytes of results received",
	}, []string{
		"target",
	})

	fetchStallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "fetch_stalls_total",
		Help:      "Result transfers aborted by the stall watchdog",
	}, []string{
		"target",
	})

	startupFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "startup_failures_total",
		Help:      "Servers that never became ready",
	}, []string{
		"target",
	})

	pages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "pages",
		Help:      "Pages of the last run by state",
	}, []string{
		"target",
		"state",
	})

	assertions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "assertions",
		Help:      "Counters of the last run's root result",
	}, []string{
		"target",
		"kind",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordRun(target string, status string) {
	if Debug {
		log.Debug("metric inc", "m", "runs_total", "target", target, "status", status)
	}
	runsTotal.WithLabelValues(target, status).Inc()
}

func RecordPhase(target string, phase string, d time.Duration) {
	phaseDuration.WithLabelValues(target, phase).Set(d.Seconds())
}

func RecordFetch(target string, bytes int64) {
	fetchBytesTotal.WithLabelValues(target).Add(float64(bytes))
}

func RecordStall(target string) {
	fetchStallsTotal.WithLabelValues(target).Inc()
}

func RecordStartupFailure(target string) {
	startupFailuresTotal.WithLabelValues(target).Inc()
}

// RecordResults publishes the page breakdown and root counters of a run.
func RecordResults(target string, passed, failed, skipped int, right, wrong, ignored, exceptions int) {
	pages.WithLabelValues(target, "passed").Set(float64(passed))
	pages.WithLabelValues(target, "failed").Set(float64(failed))
	pages.WithLabelValues(target, "skipped").Set(float64(skipped))
	assertions.WithLabelValues(target, "right").Set(float64(right))
	assertions.WithLabelValues(target, "wrong").Set(float64(wrong))
	assertions.WithLabelValues(target, "ignored").Set(float64(ignored))
	assertions.WithLabelValues(target, "exceptions").Set(float64(exceptions))
}
