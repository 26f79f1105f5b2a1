package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveUpstream(t *testing.T) {
	ok := testutil.ToFloat64(upstreamCalls.WithLabelValues(UpstreamSearch, "ok"))
	bad := testutil.ToFloat64(upstreamCalls.WithLabelValues(UpstreamSearch, "error"))

	ObserveUpstream(UpstreamSearch, time.Now(), nil)
	ObserveUpstream(UpstreamSearch, time.Now(), errors.New("timeout"))
	ObserveUpstream(UpstreamSearch, time.Now(), errors.New("502"))

	if got := testutil.ToFloat64(upstreamCalls.WithLabelValues(UpstreamSearch, "ok")) - ok; got != 1 {
		t.Fatalf("ok calls +%v, want +1", got)
	}
	if got := testutil.ToFloat64(upstreamCalls.WithLabelValues(UpstreamSearch, "error")) - bad; got != 2 {
		t.Fatalf("error calls +%v, want +2", got)
	}
}

func TestWeatherCacheAndFallbacks(t *testing.T) {
	hit := testutil.ToFloat64(weatherCache.WithLabelValues("hit"))
	miss := testutil.ToFloat64(weatherCache.WithLabelValues("miss"))
	fb := testutil.ToFloat64(replyFallbacks)

	WeatherCacheLookup(true)
	WeatherCacheLookup(false)
	WeatherCacheLookup(false)
	ReplyFallback()

	if testutil.ToFloat64(weatherCache.WithLabelValues("hit"))-hit != 1 ||
		testutil.ToFloat64(weatherCache.WithLabelValues("miss"))-miss != 2 {
		t.Fatalf("weather cache counters off")
	}
	if testutil.ToFloat64(replyFallbacks)-fb != 1 {
		t.Fatalf("fallback counter off")
	}
}
