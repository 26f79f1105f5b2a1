package weather

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/search"
)

var (
	tempPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(-?\d{1,2})°?[Cc](?:[^0-9]|$)`),
		regexp.MustCompile(`气温[：:]?\s*(-?\d{1,2})°?`),
		regexp.MustCompile(`温度[：:]?\s*(-?\d{1,2})°?`),
		regexp.MustCompile(`(-?\d{1,2})度(?:[^0-9]|$)`),
	}
	humidityRE = regexp.MustCompile(`湿度[：:]?\s*(\d{1,3})%?`)
	windRE     = regexp.MustCompile(`风速[：:]?\s*(\d{1,2})(?:级|km|m)`)
	aqiREs     = []*regexp.Regexp{
		regexp.MustCompile(`(?i)AQI[：:]?\s*(\d{1,3})`),
		regexp.MustCompile(`空气质量指数[：:]?\s*(\d{1,3})`),
	}
)

// description keywords, most specific first within each group
var descKeywords = []struct{ key, desc string }{
	{"晴", "晴朗"},
	{"多云", "多云"},
	{"云", "多云"},
	{"阴", "阴天"},
	{"暴雨", "大雨"},
	{"大雨", "大雨"},
	{"小雨", "小雨"},
	{"阵雨", "小雨"},
	{"雨", "中雨"},
	{"暴雪", "大雪"},
	{"大雪", "大雪"},
	{"雪", "雪"},
	{"雾", "雾霾"},
	{"霾", "雾霾"},
}

type parsed struct {
	temperature int
	description string
	humidity    int // 0 when absent
	windSpeed   int // 0 when absent
	airQuality  *domain.AirQuality
}

// parseResults scrapes a reading out of search results. ok is false when no
// plausible temperature was found.
func parseResults(res *search.Results) (parsed, bool) {
	if res == nil || !res.Success || len(res.Results) == 0 {
		return parsed{}, false
	}
	parts := []string{res.Summary}
	for _, r := range res.Results {
		parts = append(parts, r.Title+" "+r.Snippet+" "+r.Summary)
	}
	text := strings.Join(parts, " ")

	temp, ok := parseTemperature(text)
	if !ok {
		return parsed{}, false
	}
	p := parsed{temperature: temp, description: parseDescription(text)}

	if m := humidityRE.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		p.humidity = min(h, 100)
	}
	if m := windRE.FindStringSubmatch(text); m != nil {
		p.windSpeed, _ = strconv.Atoi(m[1])
	}
	for _, re := range aqiREs {
		if m := re.FindStringSubmatch(text); m != nil {
			aqi, _ := strconv.Atoi(m[1])
			aq := AirQualityFor(aqi)
			p.airQuality = &aq
			break
		}
	}
	return p, true
}

// parseTemperature averages every in-range value matched by the first
// pattern that yields any.
func parseTemperature(text string) (int, bool) {
	for _, re := range tempPatterns {
		var sum, n int
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			v, err := strconv.Atoi(signedNumber(text, m[2], m[3]))
			if err != nil || v < -10 || v > 50 {
				continue
			}
			sum += v
			n++
		}
		if n > 0 {
			return int(math.Round(float64(sum) / float64(n))), true
		}
	}
	return 0, false
}

// signedNumber returns text[start:end], dropping a leading '-' that follows
// a digit: in "15-25°C" the dash separates a range.
func signedNumber(text string, start, end int) string {
	if text[start] == '-' && start > 0 && isDigit(text[start-1]) {
		start++
	}
	return text[start:end]
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func parseDescription(text string) string {
	for _, k := range descKeywords {
		if strings.Contains(text, k.key) {
			return k.desc
		}
	}
	return "未知"
}

// AirQualityFor maps an AQI value to its level.
func AirQualityFor(aqi int) domain.AirQuality {
	switch {
	case aqi <= 50:
		return domain.AirQuality{AQI: aqi, Level: "优", Description: "空气质量令人满意"}
	case aqi <= 100:
		return domain.AirQuality{AQI: aqi, Level: "良", Description: "空气质量可接受"}
	case aqi <= 150:
		return domain.AirQuality{AQI: aqi, Level: "轻度污染", Description: "敏感人群需注意"}
	default:
		return domain.AirQuality{AQI: aqi, Level: "中度污染", Description: "建议减少户外活动"}
	}
}
