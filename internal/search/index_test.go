package search

import (
	"errors"
	"strings"
	"testing"
)

// ---------- tiny io.Reader that always errors ----------
type boomReader struct{}

func (boomReader) Read(_ []byte) (int, error) { return 0, errors.New("boom") }

// ---------- Options + defaultConfig ----------
func TestOptionsAndDefaults(t *testing.T) {
	def := defaultConfig()
	if def.minParagraphRunes != 0 || def.stopwords != nil || def.maxDocs != 0 {
		t.Fatalf("defaultConfig unexpected: %#v", def)
	}

	cfg := def
	WithMinParagraphRunes(10)(&cfg)
	if cfg.minParagraphRunes != 10 {
		t.Fatalf("WithMinParagraphRunes failed: %d", cfg.minParagraphRunes)
	}
	WithMinParagraphRunes(-5)(&cfg) // no-op
	if cfg.minParagraphRunes != 10 {
		t.Fatalf("negative minParagraphRunes should be ignored")
	}

	WithStopwords([]string{"  The ", "", "An"})(&cfg)
	if _, ok := cfg.stopwords["the"]; !ok {
		t.Fatalf("WithStopwords failed (missing 'the'): %#v", cfg.stopwords)
	}

	cfg2 := def
	WithStopwords(nil)(&cfg2)
	if cfg2.stopwords != nil {
		t.Fatalf("empty stopwords should remain nil")
	}

	WithMaxDocs(2)(&cfg)
	WithMaxDocs(0)(&cfg) // no-op
	if cfg.maxDocs != 2 {
		t.Fatalf("WithMaxDocs failed: %d", cfg.maxDocs)
	}
}

func TestTokenize_HanBigramsAndWords(t *testing.T) {
	toks := tokenize("恐龙灭绝 T-Rex 2025", nil)
	for _, want := range []string{"恐龙", "龙灭", "灭绝", "t", "rex", "2025"} {
		if _, ok := toks[want]; !ok {
			t.Fatalf("missing token %q in %v", want, toks)
		}
	}
	if _, ok := tokenize("猫", nil)["猫"]; !ok {
		t.Fatalf("single Han rune should be a token")
	}
	if toks := tokenize("the cat", map[string]struct{}{"the": {}}); len(toks) != 1 {
		t.Fatalf("stopword not removed: %v", toks)
	}
}

func TestTopK_ScoresAndOrdering(t *testing.T) {
	idx := NewIndexFromStrings([]string{
		"小猫喜欢吃鱼",
		"",
		"恐龙生活在很久以前",
		"恐龙为什么会灭绝呢",
	})
	hits := idx.TopK("恐龙灭绝", 5)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %+v", hits)
	}
	if hits[0].Doc != 3 || hits[1].Doc != 2 {
		t.Fatalf("unexpected ranking: %+v", hits)
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("scores not descending: %+v", hits)
	}
	if idx.TopK("  ", 3) != nil || idx.TopK("火星", 3) != nil {
		t.Fatalf("expected nil for empty or unmatched queries")
	}
	if got := idx.TopK("恐龙", 1); len(got) != 1 {
		t.Fatalf("k not applied: %+v", got)
	}
}

func TestIndex_MinRunesAndMaxDocs(t *testing.T) {
	idx := NewIndexFromStrings([]string{"ab", "alpha beta gamma", "alpha delta"}, WithMinParagraphRunes(5), WithMaxDocs(1))
	hits := idx.TopK("alpha", 5)
	if len(hits) != 1 || hits[0].Doc != 1 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestRank_MovesMatchesFirst(t *testing.T) {
	in := []Result{
		{Title: "天气预报", Snippet: "明天多云"},
		{Title: "恐龙百科", Snippet: "恐龙灭绝的原因"},
		{Title: "数学", Snippet: "加法"},
	}
	out := Rank("恐龙为什么灭绝", in)
	if out[0].Title != "恐龙百科" || len(out) != 3 {
		t.Fatalf("unexpected rank: %+v", out)
	}
	if out[1].Title != "天气预报" || out[2].Title != "数学" {
		t.Fatalf("unmatched results should keep provider order: %+v", out)
	}
	if got := Rank("", in); got[0].Title != "天气预报" {
		t.Fatalf("empty question should not reorder")
	}
}

func TestParagraphs_TablesAndBlocks(t *testing.T) {
	in := "第一段\n继续\n\n| 名字 | 年龄 |\n|---|:---:|\n| 小明 | 8 |\n\n最后"
	got, err := Paragraphs(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"第一段 继续", "名字 年龄", "小明 8", "最后"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
	if _, err := Paragraphs(boomReader{}); err == nil {
		t.Fatalf("expected reader error")
	}
}

func TestExcerpt(t *testing.T) {
	short := "很短的文本"
	if Excerpt(short, "x", 100) != short {
		t.Fatalf("short text should be unchanged")
	}

	long := strings.Repeat("小猫在草地上玩耍。", 10) + "\n\n" + "恐龙在很久以前就灭绝了。\n\n" + strings.Repeat("今天天气很好。", 10)
	got := Excerpt(long, "恐龙灭绝", 30)
	if !strings.Contains(got, "恐龙") || !strings.HasSuffix(got, "...") {
		t.Fatalf("excerpt should keep the relevant paragraph: %q", got)
	}

	noMatch := Excerpt(long, "", 20)
	if !strings.HasSuffix(noMatch, "...") || len([]rune(noMatch)) > 23 {
		t.Fatalf("unexpected leading excerpt: %q", noMatch)
	}
}
