package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portside",
		Name:      "sessions_started_total",
		Help:      "Total donation sessions started.",
	})
	SessionsFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portside",
		Name:      "sessions_finished_total",
		Help:      "Total donation sessions that reached the end page.",
	})
	DonationsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portside",
		Name:      "donations_stored_total",
		Help:      "Total donation payloads persisted.",
	})
	ArchivesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portside",
		Name:      "archives_rejected_total",
		Help:      "Total uploaded archives that failed validation.",
	})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(SessionsStarted, SessionsFinished, DonationsStored, ArchivesRejected)
}

// Handler serves the registered collectors over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}
