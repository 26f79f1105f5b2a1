package weather

import (
	"fmt"
	"strings"
	"time"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
)

// Card formats.
const (
	FormatCard     = "card"
	FormatSimple   = "simple"
	FormatDetailed = "detailed"
)

// Card types.
const (
	TypeCard     = "weather_card"
	TypeSimple   = "weather_simple"
	TypeDetailed = "weather_detailed"
	TypeError    = "weather_error"
)

var cst = time.FixedZone("CST", 8*3600)

// CardBody is the data payload of a weather_card.
type CardBody struct {
	City        string                 `json:"city"`
	Temperature int                    `json:"temperature"`
	Description string                 `json:"description"`
	Icon        string                 `json:"icon"`
	Details     []domain.WeatherDetail `json:"details"`
	Meta        CardMeta               `json:"meta"`
}

// CardMeta says where a card's reading came from and when it was rendered.
type CardMeta struct {
	Source     string `json:"source"`
	UpdateTime string `json:"updateTime"`
}

// DetailedBody is the data payload of a weather_detailed card.
type DetailedBody struct {
	domain.Weather
	Suggestions []string `json:"suggestions"`
}

// Format renders w for chat. Unknown formats render as a card.
func Format(w domain.Weather, format string, now time.Time) domain.WeatherCard {
	emoji := Emoji(w.Description)
	switch format {
	case FormatSimple:
		return domain.WeatherCard{
			Type: TypeSimple,
			Content: fmt.Sprintf("%s %s现在%s，气温%d°C（体感%d°C），湿度%d%%，%s空气质量。",
				emoji, w.City, w.Description, w.Temperature, w.FeelLike, w.Humidity, w.AirQuality.Level),
			Data: w,
		}
	case FormatDetailed:
		return domain.WeatherCard{
			Type:    TypeDetailed,
			Content: fmt.Sprintf("%s %s详细天气报告：", emoji, w.City),
			Data:    DetailedBody{Weather: w, Suggestions: Suggestions(w)},
		}
	default:
		return domain.WeatherCard{
			Type:    TypeCard,
			Content: fmt.Sprintf("%s 为您查询到%s的实时天气：", emoji, w.City),
			Data: CardBody{
				City:        w.City,
				Temperature: w.Temperature,
				Description: w.Description,
				Icon:        Icon(w.Description),
				Details: []domain.WeatherDetail{
					{Label: "体感温度", Value: fmt.Sprintf("%d°C", w.FeelLike), Icon: "temperature"},
					{Label: "湿度", Value: fmt.Sprintf("%d%%", w.Humidity), Icon: "water"},
					{Label: "风速", Value: fmt.Sprintf("%dkm/h", w.WindSpeed), Icon: "wind"},
					{
						Label: "空气质量",
						Value: fmt.Sprintf("%s (%d)", w.AirQuality.Level, w.AirQuality.AQI),
						Icon:  "leaf",
						Color: AQIColor(w.AirQuality.AQI),
					},
				},
				Meta: CardMeta{Source: w.Source, UpdateTime: now.In(cst).Format("15:04:05")},
			},
		}
	}
}

// ErrorCard is shown when a city could not be resolved at all.
func ErrorCard(city string) domain.WeatherCard {
	return domain.WeatherCard{
		Type:    TypeError,
		Content: fmt.Sprintf("抱歉，暂时无法获取%s的天气信息。请稍后再试。🌤️", city),
	}
}

// ordered so that compound conditions match before their single-rune stems
var emojiTable = []struct{ key, emoji string }{
	{"晴朗", "☀️"},
	{"晴", "☀️"},
	{"多云", "⛅"},
	{"阴天", "☁️"},
	{"阴", "☁️"},
	{"小雨", "🌦️"},
	{"中雨", "🌧️"},
	{"大雨", "⛈️"},
	{"雨", "🌧️"},
	{"小雪", "❄️"},
	{"大雪", "🌨️"},
	{"雪", "🌨️"},
	{"雾", "🌫️"},
	{"霾", "😷"},
}

// Emoji picks an emoji for a weather description.
func Emoji(desc string) string {
	for _, e := range emojiTable {
		if strings.Contains(desc, e.key) {
			return e.emoji
		}
	}
	return "🌤️"
}

var iconTable = []struct{ key, icon string }{
	{"晴朗", "ri-sun-line"},
	{"晴", "ri-sun-line"},
	{"多云", "ri-cloudy-line"},
	{"阴天", "ri-cloudy-2-line"},
	{"阴", "ri-cloudy-2-line"},
	{"暴雨", "ri-thunderstorms-line"},
	{"大雨", "ri-heavy-showers-line"},
	{"中雨", "ri-rainy-line"},
	{"小雨", "ri-drizzle-line"},
	{"雨", "ri-rainy-line"},
	{"大雪", "ri-blizzard-line"},
	{"小雪", "ri-snowy-line"},
	{"雪", "ri-snowy-line"},
	{"雾", "ri-mist-line"},
	{"霾", "ri-haze-2-line"},
	{"沙尘", "ri-haze-line"},
}

// Icon returns the Remix icon class for a weather description.
func Icon(desc string) string {
	for _, e := range iconTable {
		if desc == e.key {
			return e.icon
		}
	}
	for _, e := range iconTable {
		if strings.Contains(desc, e.key) {
			return e.icon
		}
	}
	return "ri-sun-line"
}

// AQIColor returns the CSS colour class for an AQI value.
func AQIColor(aqi int) string {
	switch {
	case aqi <= 50:
		return "text-green-600"
	case aqi <= 100:
		return "text-yellow-600"
	case aqi <= 150:
		return "text-orange-600"
	default:
		return "text-red-600"
	}
}

const defaultSuggestion = "今天天气不错，享受美好的一天吧！🌈"

// Suggestions returns advice lines for w, never empty.
func Suggestions(w domain.Weather) []string {
	var out []string

	switch t := w.Temperature; {
	case t > 30:
		out = append(out, "🌡️ 天气炎热，记得多喝水，避免长时间户外活动")
	case t > 25:
		out = append(out, "☀️ 天气温暖，适合户外活动，注意防晒")
	case t < 0:
		out = append(out, "❄️ 天气严寒，注意防寒保暖，小心路滑")
	case t < 10:
		out = append(out, "🧥 天气较冷，出门记得添衣保暖")
	}

	switch d := w.Description; {
	case strings.Contains(d, "雨"):
		out = append(out, "🌂 今天有雨，记得带伞，注意交通安全")
	case strings.Contains(d, "雪"):
		out = append(out, "⛄ 下雪天气，注意保暖和路面安全")
	case strings.Contains(d, "雾"):
		out = append(out, "🌫️ 有雾天气，驾车请减速慢行，注意安全")
	}

	switch {
	case w.Humidity > 80:
		out = append(out, "💧 湿度较高，可能感觉闷热，注意通风")
	case w.Humidity < 40:
		out = append(out, "🏺 空气干燥，注意补水和皮肤保湿")
	}

	if w.UVIndex > 7 {
		out = append(out, "🕶️ 紫外线强烈，外出请做好防晒措施")
	}

	switch {
	case w.AirQuality.AQI > 100:
		out = append(out, "😷 空气质量不佳，建议减少户外活动，外出戴口罩")
	case w.AirQuality.AQI < 50:
		out = append(out, "🌱 空气质量优秀，非常适合户外运动和开窗通风")
	}

	if len(out) == 0 {
		return []string{defaultSuggestion}
	}
	return out
}

// PromptBlock renders w as a system-context block for the reply model.
func PromptBlock(w domain.Weather) string {
	var b strings.Builder
	b.WriteString("[实时天气信息]\n")
	fmt.Fprintf(&b, "城市：%s\n", w.City)
	fmt.Fprintf(&b, "天气：%s\n", w.Description)
	fmt.Fprintf(&b, "气温：%d°C（体感%d°C）\n", w.Temperature, w.FeelLike)
	fmt.Fprintf(&b, "湿度：%d%%，风速：%dkm/h\n", w.Humidity, w.WindSpeed)
	fmt.Fprintf(&b, "空气质量：%s (AQI %d)\n", w.AirQuality.Level, w.AirQuality.AQI)
	b.WriteString("\n请用小朋友能听懂的话介绍这些天气信息，并给出一两条贴心的出行或穿衣建议。")
	return b.String()
}
