package weather

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var knownCities = []string{
	"北京", "上海", "天津", "重庆", "广州", "深圳", "杭州", "南京", "苏州", "成都",
	"武汉", "西安", "长沙", "郑州", "青岛", "大连", "厦门", "福州", "济南", "沈阳",
	"哈尔滨", "长春", "昆明", "贵阳", "南宁", "海口", "三亚", "拉萨", "乌鲁木齐", "兰州",
	"西宁", "银川", "呼和浩特", "太原", "石家庄", "合肥", "南昌", "宁波", "无锡", "香港",
	"澳门", "台北",
}

var weatherKeywords = []string{
	"天气", "气温", "温度", "下雨", "下雪", "刮风", "冷不冷", "热不热", "穿什么", "带伞", "weather",
}

// cityRE captures the whole Han run before a weather keyword; fillers are
// cut away afterwards.
var cityRE = regexp.MustCompile(`(\p{Han}{2,}?)市?的?(?:天气|气温|温度|下雨|下雪)`)

// leadFillers may appear anywhere before the city; everything up to the last
// one is dropped. Longer phrases come first.
var leadFillers = []string{
	"你能告诉我", "我想知道", "能告诉我", "帮我看看", "可不可以", "想知道", "告诉我", "帮我查",
	"查一下", "小朋友", "能不能", "请问", "查询", "看看", "知道", "帮我",
	"今天", "明天", "后天", "现在",
}

// tailFillers sit between the city and the keyword, as in 桂林明天的天气.
var tailFillers = []string{"会不会", "今天", "明天", "后天", "现在", "会", "要", "的"}

const maxCityRunes = 6

// IsWeatherQuery reports whether text asks about the weather.
func IsWeatherQuery(text string) bool {
	t := strings.ToLower(text)
	for _, k := range weatherKeywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// ExtractCity finds a city name in text. Known cities win (longest match);
// otherwise the Han word directly before a weather keyword is used once
// fillers such as 今天, 请问 or 想知道 are cut away.
func ExtractCity(text string) (string, bool) {
	best := ""
	for _, c := range knownCities {
		if strings.Contains(text, c) && utf8.RuneCountInString(c) > utf8.RuneCountInString(best) {
			best = c
		}
	}
	if best != "" {
		return best, true
	}

	for _, m := range cityRE.FindAllStringSubmatch(text, -1) {
		name := stripFillers(m[1])
		if n := utf8.RuneCountInString(name); n >= 2 && n <= maxCityRunes {
			return name, true
		}
	}
	return "", false
}

func stripFillers(s string) string {
	for trimmed := true; trimmed; {
		trimmed = false
		for _, f := range tailFillers {
			if strings.HasSuffix(s, f) {
				s = strings.TrimSuffix(s, f)
				trimmed = true
			}
		}
	}
	cut := 0
	for _, f := range leadFillers {
		if i := strings.LastIndex(s, f); i >= 0 && i+len(f) > cut {
			cut = i + len(f)
		}
	}
	s = s[cut:]
	// 那 only counts at the start, and 那曲 is a city
	if rest := strings.TrimPrefix(s, "那"); utf8.RuneCountInString(rest) >= 2 {
		return rest
	}
	return s
}
