package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Upstream services, used as the "service" label.
const (
	UpstreamLLM       = "llm"
	UpstreamReasoning = "reasoning"
	UpstreamVision    = "vision"
	UpstreamSearch    = "search"
	UpstreamAudio     = "audio"
	UpstreamSMTP      = "smtp"
)

var (
	upstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_calls_total",
			Help: "Calls to third-party APIs by service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	upstreamLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_call_duration_seconds",
			Help:    "Duration of third-party API calls in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"service"},
	)

	weatherCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_cache_lookups_total",
			Help: "Weather cache lookups by result (hit|miss).",
		},
		[]string{"result"},
	)

	replyFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reply_fallbacks_total",
			Help: "Replies answered from the fixed fallback list after retries ran out.",
		},
	)
)

func init() {
	prometheus.MustRegister(upstreamCalls, upstreamLat, weatherCache, replyFallbacks)
}

// ObserveUpstream records one upstream call that started at start.
func ObserveUpstream(service string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	upstreamCalls.WithLabelValues(service, outcome).Inc()
	upstreamLat.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// WeatherCacheLookup records a cache hit or miss.
func WeatherCacheLookup(hit bool) {
	if hit {
		weatherCache.WithLabelValues("hit").Inc()
		return
	}
	weatherCache.WithLabelValues("miss").Inc()
}

// ReplyFallback records a reply served from the fallback list.
func ReplyFallback() { replyFallbacks.Inc() }
