package domain

import "time"

// Weather sources.
const (
	WeatherSourceSearch  = "web_search"
	WeatherSourceStatic  = "mock_api"
	WeatherSourceDefault = "default"
)

// AirQuality is an AQI reading with its level label.
type AirQuality struct {
	AQI         int    `json:"aqi" yaml:"aqi"`
	Level       string `json:"level" yaml:"level"`
	Description string `json:"description" yaml:"description"`
}

// ForecastDay is one entry of a multi-day forecast.
type ForecastDay struct {
	Day  string `json:"day"`
	Icon string `json:"icon"`
	High int    `json:"high"`
	Low  int    `json:"low"`
	Desc string `json:"desc"`
}

// Weather is a resolved weather report for one city.
type Weather struct {
	City          string        `json:"city"`
	Temperature   int           `json:"temperature"`
	Description   string        `json:"description"`
	Humidity      int           `json:"humidity"`
	WindSpeed     int           `json:"windSpeed"`
	Visibility    int           `json:"visibility"`
	FeelLike      int           `json:"feelLike"`
	UVIndex       int           `json:"uvIndex"`
	AirQuality    AirQuality    `json:"airQuality"`
	Forecast      []ForecastDay `json:"forecast"`
	Timestamp     time.Time     `json:"timestamp"`
	Source        string        `json:"source"`
	SearchQuery   string        `json:"searchQuery,omitempty"`
	SearchSummary string        `json:"searchSummary,omitempty"`
}

// WeatherDetail is one labelled line on a weather card.
type WeatherDetail struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Icon  string `json:"icon"`
	Color string `json:"color,omitempty"`
}

// WeatherCard is the chat-friendly rendering of a Weather report.
// Data holds format-specific payload: a card body, the raw report, or the
// report plus suggestions.
type WeatherCard struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}
