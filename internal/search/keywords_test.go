package search

import "testing"

func TestExtractKeywords(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"恐龙 为什么 会灭绝？", "恐龙 会灭绝"},
		{"北京，上海。广州！深圳、杭州；成都", "北京 上海 广州 深圳 杭州"},
		{"什么", "什么"},
		{"Hello, world? a", "Hello world"},
		{"  的  ", "的"},
	}
	for _, tc := range cases {
		if got := ExtractKeywords(tc.in); got != tc.want {
			t.Errorf("ExtractKeywords(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}
