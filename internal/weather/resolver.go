// Package weather resolves current weather for a city. Live readings are
// scraped from web-search results; when that fails a static table (or a
// generated entry) stands in. Results are cached per city per hour.
package weather

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/observability"
	"github.com/aixiaozi/go-kids-chat/internal/search"
)

const (
	defaultCity     = "北京"
	defaultCacheTTL = 10 * time.Minute
	batchLimit      = 4
)

type cacheEntry struct {
	w  domain.Weather
	at time.Time
}

// Resolver looks up weather. The zero value is not usable; use New.
type Resolver struct {
	search      search.Searcher // may be nil
	defaultCity string
	ttl         time.Duration

	now  func() time.Time
	rand func(n int) int // uniform in [0,n)

	mu    sync.Mutex
	cache map[string]cacheEntry
	sf    singleflight.Group
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// WithRand overrides the jitter source.
func WithRand(fn func(n int) int) Option { return func(r *Resolver) { r.rand = fn } }

// WithDefaultCity sets the city used for blank lookups.
func WithDefaultCity(city string) Option {
	return func(r *Resolver) {
		if strings.TrimSpace(city) != "" {
			r.defaultCity = city
		}
	}
}

// WithCacheTTL sets the cache entry lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// New returns a resolver. s may be nil, in which case only the fallback table
// is used.
func New(s search.Searcher, opts ...Option) *Resolver {
	r := &Resolver{
		search:      s,
		defaultCity: defaultCity,
		ttl:         defaultCacheTTL,
		now:         time.Now,
		rand:        rand.IntN,
		cache:       map[string]cacheEntry{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// DefaultCity returns the city used for blank lookups.
func (r *Resolver) DefaultCity() string { return r.defaultCity }

func (r *Resolver) cacheKey(city string) string {
	return fmt.Sprintf("weather_%s_%d", city, r.now().Hour())
}

func (r *Resolver) cached(city string) (domain.Weather, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[r.cacheKey(city)]
	if ok && r.now().Sub(e.at) < r.ttl {
		return e.w, true
	}
	return domain.Weather{}, false
}

func (r *Resolver) store(city string, w domain.Weather) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.cache[r.cacheKey(city)] = cacheEntry{w: w, at: now}
	for k, e := range r.cache {
		if now.Sub(e.at) > r.ttl {
			delete(r.cache, k)
		}
	}
}

// Get returns the weather for city (the default city when blank). It never
// fails: when nothing better is available a default reading is returned.
func (r *Resolver) Get(ctx context.Context, city string) domain.Weather {
	city = strings.TrimSpace(city)
	if city == "" {
		city = r.defaultCity
	}

	ctx, span := otel.Tracer("weather/Resolver").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("weather.city", city)),
	)
	defer span.End()

	if w, ok := r.cached(city); ok {
		observability.WeatherCacheLookup(true)
		span.SetAttributes(attribute.Bool("weather.cache_hit", true))
		return w
	}
	observability.WeatherCacheLookup(false)

	v, _, _ := r.sf.Do(city, func() (any, error) {
		if w, ok := r.cached(city); ok {
			return w, nil
		}
		if w, ok := r.fromSearch(ctx, city); ok {
			r.store(city, w)
			return w, nil
		}
		w, err := r.fromStatic(city)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("city", city).Msg("weather fallback failed")
			return r.Default(city), nil
		}
		r.store(city, w)
		return w, nil
	})
	w := v.(domain.Weather)
	span.SetAttributes(attribute.String("weather.source", w.Source))
	return w
}

func (r *Resolver) fromSearch(ctx context.Context, city string) (domain.Weather, bool) {
	if r.search == nil {
		return domain.Weather{}, false
	}
	query := city + "天气 今天 温度 实时"
	start := time.Now()
	res, err := r.search.WebSearch(ctx, query, search.Options{Count: 3, Freshness: search.FreshnessDay, Summary: true})
	observability.ObserveUpstream(observability.UpstreamSearch, start, err)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("city", city).Msg("weather search unavailable")
		return domain.Weather{}, false
	}
	p, ok := parseResults(res)
	if !ok {
		return domain.Weather{}, false
	}

	w := domain.Weather{
		City:          city,
		Temperature:   p.temperature,
		Description:   p.description,
		Humidity:      p.humidity,
		WindSpeed:     p.windSpeed,
		Visibility:    10,
		FeelLike:      p.temperature + r.rand(5) - 2,
		UVIndex:       5,
		AirQuality:    domain.AirQuality{AQI: 50, Level: "良", Description: "空气质量监测中"},
		Forecast:      r.Forecast(),
		Timestamp:     r.now(),
		Source:        domain.WeatherSourceSearch,
		SearchQuery:   query,
		SearchSummary: res.Summary,
	}
	if w.Humidity == 0 {
		w.Humidity = 60
	}
	if w.WindSpeed == 0 {
		w.WindSpeed = 10
	}
	if p.airQuality != nil {
		w.AirQuality = *p.airQuality
	}
	return w, true
}

func (r *Resolver) fromStatic(city string) (domain.Weather, error) {
	table, err := loadStatic()
	if err != nil {
		return domain.Weather{}, err
	}
	base, ok := table[city]
	if !ok {
		base = randomReading(r.rand)
	}
	c := jittered(base, r.rand)
	return domain.Weather{
		City:        city,
		Temperature: c.Temperature,
		Description: c.Description,
		Humidity:    c.Humidity,
		WindSpeed:   c.WindSpeed,
		Visibility:  c.Visibility,
		FeelLike:    c.FeelLike,
		UVIndex:     c.UVIndex,
		AirQuality:  c.AirQuality,
		Forecast:    r.Forecast(),
		Timestamp:   r.now(),
		Source:      domain.WeatherSourceStatic,
	}, nil
}

// Default is the reading used when every other source failed.
func (r *Resolver) Default(city string) domain.Weather {
	return domain.Weather{
		City:        city,
		Temperature: 20,
		Description: "天气信息暂时无法获取",
		Humidity:    60,
		WindSpeed:   10,
		Visibility:  8,
		FeelLike:    22,
		UVIndex:     5,
		AirQuality:  domain.AirQuality{AQI: 50, Level: "良", Description: "空气质量监测中"},
		Forecast:    []domain.ForecastDay{},
		Timestamp:   r.now(),
		Source:      domain.WeatherSourceDefault,
	}
}

var (
	forecastDays  = []string{"今天", "明天", "后天", "大后天", "周五"}
	forecastIcons = []string{"sun", "cloudy", "rainy", "snowy", "partly-cloudy"}
	forecastDescs = []string{"晴朗", "多云", "小雨", "阴天", "晴转多云"}
)

// Forecast returns a five day outlook with rising temperatures.
func (r *Resolver) Forecast() []domain.ForecastDay {
	out := make([]domain.ForecastDay, len(forecastDays))
	for i, d := range forecastDays {
		out[i] = domain.ForecastDay{
			Day:  d,
			Icon: forecastIcons[r.rand(len(forecastIcons))],
			High: r.rand(15) + 15 + i,
			Low:  r.rand(10) + 5 + i,
			Desc: forecastDescs[r.rand(len(forecastDescs))],
		}
	}
	return out
}

// Card resolves city and renders it as a chat card.
func (r *Resolver) Card(ctx context.Context, city string) (domain.WeatherCard, error) {
	if err := ctx.Err(); err != nil {
		return ErrorCard(city), err
	}
	w := r.Get(ctx, city)
	return Format(w, FormatCard, r.now()), nil
}

// BatchEntry is the per-city outcome of Batch.
type BatchEntry struct {
	City    string              `json:"city"`
	Success bool                `json:"success"`
	Data    *domain.WeatherCard `json:"data"`
	Error   string              `json:"error,omitempty"`
}

// Batch resolves cities concurrently. Entries keep the input order and
// succeed or fail independently.
func (r *Resolver) Batch(ctx context.Context, cities []string) []BatchEntry {
	out := make([]BatchEntry, len(cities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchLimit)
	for i, city := range cities {
		g.Go(func() error {
			card, err := r.Card(gctx, city)
			if err != nil {
				out[i] = BatchEntry{City: city, Error: err.Error()}
				return nil
			}
			out[i] = BatchEntry{City: city, Success: true, Data: &card}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
