package weather

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/search"
)

type fakeSearch struct {
	res   *search.Results
	err   error
	delay time.Duration
	calls atomic.Int32
	last  string
	mu    sync.Mutex
}

func (f *fakeSearch) WebSearch(ctx context.Context, q string, _ search.Options) (*search.Results, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = q
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.res, f.err
}

// half keeps jitter at zero: every rnd(n)-n/2 offset cancels out.
func half(n int) int { return n / 2 }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func sunnyResults() *search.Results {
	return &search.Results{
		Success: true,
		Summary: "北京今天晴，气温25°C",
		Results: []search.Result{
			{Title: "北京天气", Snippet: "晴 27°C 湿度40% 风速12km/h AQI 30"},
		},
	}
}

func TestIsWeatherQuery(t *testing.T) {
	yes := []string{"北京今天天气怎么样", "明天会下雨吗", "外面冷不冷", "What's the WEATHER like"}
	no := []string{"讲个恐龙的故事", "1+1等于几"}
	for _, s := range yes {
		if !IsWeatherQuery(s) {
			t.Errorf("IsWeatherQuery(%q)=false", s)
		}
	}
	for _, s := range no {
		if IsWeatherQuery(s) {
			t.Errorf("IsWeatherQuery(%q)=true", s)
		}
	}
}

func TestExtractCity(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"北京今天天气怎么样", "北京", true},
		{"哈尔滨冷不冷呀", "哈尔滨", true},
		{"今天洛阳的天气", "洛阳", true},
		{"请问桂林天气", "桂林", true},
		{"我想知道桂林天气", "桂林", true},
		{"小朋友想知道桂林的天气", "桂林", true},
		{"你能告诉我桂林天气吗", "桂林", true},
		{"能不能帮我查洛阳的气温", "洛阳", true},
		{"帮我看看张家界明天的天气", "张家界", true},
		{"那洛阳会下雨吗", "洛阳", true},
		{"那曲天气", "那曲", true},
		{"今天天气好吗", "", false},
		{"你好", "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractCity(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ExtractCity(%q)=(%q,%v) want (%q,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseResults(t *testing.T) {
	p, ok := parseResults(sunnyResults())
	if !ok {
		t.Fatal("expected a reading")
	}
	if p.temperature != 26 {
		t.Errorf("temperature=%d want 26 (avg of 25,27)", p.temperature)
	}
	if p.description != "晴朗" || p.humidity != 40 || p.windSpeed != 12 {
		t.Errorf("unexpected %+v", p)
	}
	if p.airQuality == nil || p.airQuality.Level != "优" || p.airQuality.AQI != 30 {
		t.Errorf("airQuality=%+v", p.airQuality)
	}

	if _, ok := parseResults(&search.Results{Success: true, Results: []search.Result{{Snippet: "没有数字"}}}); ok {
		t.Error("expected no reading without temperature")
	}
	if _, ok := parseResults(&search.Results{Success: false}); ok {
		t.Error("failed search must not parse")
	}
	if _, ok := parseResults(nil); ok {
		t.Error("nil must not parse")
	}
}

func TestParseTemperatureRange(t *testing.T) {
	if _, ok := parseTemperature("今天99°C"); ok {
		t.Error("out-of-range value accepted")
	}
	cases := []struct {
		in   string
		want int
	}{
		{"气温：-5 到 3度", -5},
		{"今天-5°C", -5},
		{"北京今天晴 15-25°C", 25},
		{"气温18~26°C", 26},
		{"白天 20-28度，夜间 12-18度", 23},
		{"零下 -8°C，明天 2°C", -3},
	}
	for _, tc := range cases {
		if v, ok := parseTemperature(tc.in); !ok || v != tc.want {
			t.Errorf("parseTemperature(%q) = %d,%v want %d", tc.in, v, ok, tc.want)
		}
	}
	if parseDescription("无") != "未知" {
		t.Error("want 未知")
	}
}

func TestAirQualityFor(t *testing.T) {
	cases := map[int]string{0: "优", 50: "优", 51: "良", 100: "良", 150: "轻度污染", 151: "中度污染"}
	for aqi, want := range cases {
		if got := AirQualityFor(aqi).Level; got != want {
			t.Errorf("AirQualityFor(%d)=%s want %s", aqi, got, want)
		}
	}
}

func TestGet_FromSearch(t *testing.T) {
	fs := &fakeSearch{res: sunnyResults()}
	r := New(fs, WithRand(half))
	w := r.Get(context.Background(), "北京")

	if w.Source != domain.WeatherSourceSearch {
		t.Fatalf("source=%s", w.Source)
	}
	if w.Temperature != 26 || w.FeelLike != 26 {
		t.Errorf("temp=%d feel=%d", w.Temperature, w.FeelLike)
	}
	if w.SearchQuery != "北京天气 今天 温度 实时" || fs.last != w.SearchQuery {
		t.Errorf("query=%q last=%q", w.SearchQuery, fs.last)
	}
	if w.Visibility != 10 || w.UVIndex != 5 {
		t.Errorf("defaults not applied: %+v", w)
	}
	if len(w.Forecast) != 5 || w.Forecast[0].Day != "今天" || w.Forecast[4].Day != "周五" {
		t.Errorf("forecast=%+v", w.Forecast)
	}
}

func TestGet_DefaultsMissingFields(t *testing.T) {
	fs := &fakeSearch{res: &search.Results{Success: true, Results: []search.Result{{Snippet: "多云 18度"}}}}
	w := New(fs, WithRand(half)).Get(context.Background(), "")
	if w.City != "北京" {
		t.Errorf("city=%s want default", w.City)
	}
	if w.Humidity != 60 || w.WindSpeed != 10 || w.AirQuality.Description != "空气质量监测中" {
		t.Errorf("defaults missing: %+v", w)
	}
	if w.Description != "多云" || w.Temperature != 18 {
		t.Errorf("got %+v", w)
	}
}

func TestGet_StaticFallback(t *testing.T) {
	fs := &fakeSearch{err: errors.New("boom")}
	w := New(fs, WithRand(half)).Get(context.Background(), "北京")
	if w.Source != domain.WeatherSourceStatic {
		t.Fatalf("source=%s", w.Source)
	}
	if w.Temperature != 23 || w.Humidity != 65 || w.Description != "晴朗" || w.AirQuality.AQI != 35 {
		t.Errorf("unexpected static reading %+v", w)
	}
}

func TestGet_UnknownCityGenerated(t *testing.T) {
	w := New(nil, WithRand(half)).Get(context.Background(), "火星城")
	if w.Source != domain.WeatherSourceStatic || w.City != "火星城" {
		t.Fatalf("got %+v", w)
	}
	if w.Temperature != 20 || w.Description != "阴天" {
		t.Errorf("temp=%d desc=%s", w.Temperature, w.Description)
	}
}

func TestJitterBounds(t *testing.T) {
	lo := func(int) int { return 0 }
	hi := func(n int) int { return n - 1 }
	base := cityReading{Temperature: 10, Humidity: 31, WindSpeed: 1, Visibility: 1, UVIndex: 11}

	a := jittered(base, lo)
	if a.Humidity != 30 || a.WindSpeed != 1 || a.Visibility != 1 || a.UVIndex != 10 || a.Temperature != 7 {
		t.Errorf("low jitter %+v", a)
	}
	b := jittered(cityReading{Humidity: 94, Visibility: 15, UVIndex: 11}, hi)
	if b.Humidity != 95 || b.Visibility != 15 || b.UVIndex != 11 {
		t.Errorf("high jitter %+v", b)
	}
}

func TestGet_CacheAndTTL(t *testing.T) {
	c := &clock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	fs := &fakeSearch{res: sunnyResults()}
	r := New(fs, WithRand(half), WithClock(c.now), WithCacheTTL(10*time.Minute))
	ctx := context.Background()

	r.Get(ctx, "北京")
	r.Get(ctx, "北京")
	if n := fs.calls.Load(); n != 1 {
		t.Fatalf("calls=%d want 1 (cached)", n)
	}

	c.add(11 * time.Minute)
	r.Get(ctx, "北京")
	if n := fs.calls.Load(); n != 2 {
		t.Fatalf("calls=%d want 2 after TTL", n)
	}

	r.Get(ctx, "上海")
	if n := fs.calls.Load(); n != 3 {
		t.Fatalf("calls=%d want 3 for another city", n)
	}
}

func TestGet_ConcurrentSharesLookup(t *testing.T) {
	fs := &fakeSearch{res: sunnyResults(), delay: 30 * time.Millisecond}
	r := New(fs, WithRand(half))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w := r.Get(context.Background(), "北京"); w.Source != domain.WeatherSourceSearch {
				t.Errorf("source=%s", w.Source)
			}
		}()
	}
	wg.Wait()
	if n := fs.calls.Load(); n != 1 {
		t.Fatalf("calls=%d want 1", n)
	}
}

func TestForecast(t *testing.T) {
	days := New(nil, WithRand(func(int) int { return 0 })).Forecast()
	for i, d := range days {
		if d.High != 15+i || d.Low != 5+i || d.Icon != "sun" {
			t.Errorf("day %d: %+v", i, d)
		}
	}
}

func TestBatch(t *testing.T) {
	r := New(nil, WithRand(half))
	out := r.Batch(context.Background(), []string{"北京", "上海", "火星城"})
	if len(out) != 3 {
		t.Fatalf("len=%d", len(out))
	}
	for i, city := range []string{"北京", "上海", "火星城"} {
		if out[i].City != city || !out[i].Success || out[i].Data == nil || out[i].Data.Type != TypeCard {
			t.Errorf("entry %d: %+v", i, out[i])
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out = r.Batch(ctx, []string{"北京"})
	if out[0].Success || out[0].Error == "" || out[0].Data != nil {
		t.Errorf("canceled entry: %+v", out[0])
	}
}

func TestCard_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	card, err := New(nil).Card(ctx, "北京")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if card.Type != TypeError || !strings.Contains(card.Content, "北京") {
		t.Errorf("card=%+v", card)
	}
}

func sample() domain.Weather {
	return domain.Weather{
		City: "上海", Temperature: 26, Description: "多云", Humidity: 78, WindSpeed: 8,
		FeelLike: 28, UVIndex: 5, AirQuality: domain.AirQuality{AQI: 68, Level: "良"},
		Source: domain.WeatherSourceStatic,
	}
}

func TestFormat(t *testing.T) {
	now := time.Date(2025, 6, 1, 2, 3, 4, 0, time.UTC)

	card := Format(sample(), FormatCard, now)
	if card.Type != TypeCard || card.Content != "⛅ 为您查询到上海的实时天气：" {
		t.Fatalf("card=%+v", card)
	}
	body := card.Data.(CardBody)
	if body.Icon != "ri-cloudy-line" {
		t.Errorf("icon=%q", body.Icon)
	}
	if len(body.Details) != 4 || body.Details[2].Value != "8km/h" {
		t.Errorf("details=%+v", body.Details)
	}
	if aq := body.Details[3]; aq.Value != "良 (68)" || aq.Color != "text-yellow-600" {
		t.Errorf("aqi detail=%+v", aq)
	}
	if body.Meta.UpdateTime != "10:03:04" || body.Meta.Source != domain.WeatherSourceStatic {
		t.Errorf("meta=%+v", body.Meta)
	}

	simple := Format(sample(), FormatSimple, now)
	want := "⛅ 上海现在多云，气温26°C（体感28°C），湿度78%，良空气质量。"
	if simple.Type != TypeSimple || simple.Content != want {
		t.Errorf("simple=%q", simple.Content)
	}

	detailed := Format(sample(), FormatDetailed, now)
	if detailed.Type != TypeDetailed || detailed.Content != "⛅ 上海详细天气报告：" {
		t.Errorf("detailed=%+v", detailed)
	}
	if db := detailed.Data.(DetailedBody); len(db.Suggestions) == 0 || db.City != "上海" {
		t.Errorf("detailed body=%+v", db)
	}

	if Format(sample(), "bogus", now).Type != TypeCard {
		t.Error("unknown format should render a card")
	}
}

func TestSuggestions(t *testing.T) {
	mild := domain.Weather{Temperature: 20, Description: "多云", Humidity: 60, UVIndex: 5, AirQuality: domain.AirQuality{AQI: 50}}
	if got := Suggestions(mild); len(got) != 1 || got[0] != defaultSuggestion {
		t.Errorf("mild=%v", got)
	}

	freezing := mild
	freezing.Temperature = -5
	if got := Suggestions(freezing); !strings.Contains(got[0], "严寒") {
		t.Errorf("freezing=%v", got)
	}

	cold := mild
	cold.Temperature = 5
	if got := Suggestions(cold); !strings.Contains(got[0], "较冷") {
		t.Errorf("cold=%v", got)
	}

	storm := domain.Weather{Temperature: 33, Description: "大雨", Humidity: 90, UVIndex: 9, AirQuality: domain.AirQuality{AQI: 160}}
	if got := Suggestions(storm); len(got) != 5 {
		t.Errorf("storm=%v", got)
	}
}

func TestEmojiIconColor(t *testing.T) {
	emoji := map[string]string{"晴转多云": "☀️", "小雨": "🌦️", "雷阵雨": "🌧️", "霾": "😷", "未知": "🌤️"}
	for in, want := range emoji {
		if got := Emoji(in); got != want {
			t.Errorf("Emoji(%q)=%s want %s", in, got, want)
		}
	}
	icons := map[string]string{"小雨": "ri-drizzle-line", "大雨转暴雨": "ri-thunderstorms-line", "沙尘暴": "ri-haze-line", "": "ri-sun-line"}
	for in, want := range icons {
		if got := Icon(in); got != want {
			t.Errorf("Icon(%q)=%s want %s", in, got, want)
		}
	}
	if AQIColor(50) != "text-green-600" || AQIColor(151) != "text-red-600" {
		t.Error("AQIColor thresholds")
	}
}

func TestPromptBlock(t *testing.T) {
	s := PromptBlock(sample())
	for _, want := range []string{"[实时天气信息]", "城市：上海", "气温：26°C（体感28°C）", "AQI 68"} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in %q", want, s)
		}
	}
}
