// Package search wraps the web-search provider and the small text ranking
// helpers used around it.
//
// The in-memory index scores documents by Jaccard similarity between the
// query token set and each document token set: score = |Q ∩ D| / |Q ∪ D|.
// Tokens are lowercased letter/number words; runs of Han characters are
// additionally split into bigrams so unsegmented Chinese text still overlaps.
// An index is immutable after construction and safe for concurrent use.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Hit is a ranked document with its similarity score. Doc is the position of
// the document in the input slice.
type Hit struct {
	Doc     int
	Snippet string
	Score   float64
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Hit
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minParagraphRunes int
	stopwords         map[string]struct{}
	maxDocs           int
}

func defaultConfig() config {
	return config{}
}

// WithMinParagraphRunes skips documents shorter than n runes.
func WithMinParagraphRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minParagraphRunes = n
		}
	}
}

// WithStopwords drops the given tokens from queries and documents.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs indexes at most the first n documents.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	pos    int
	text   string
	tokens map[string]struct{}
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndexFromStrings builds an Index directly from a slice of documents.
func NewIndexFromStrings(docs []string, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return buildIndex(docs, cfg)
}

func buildIndex(texts []string, cfg config) *index {
	docs := make([]doc, 0, len(texts))
	for pos, raw := range texts {
		t := strings.TrimSpace(normalizeWhitespace(raw))
		if t == "" {
			continue
		}
		if cfg.minParagraphRunes > 0 && utf8.RuneCountInString(t) < cfg.minParagraphRunes {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{pos: pos, text: t, tokens: toks})
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

// TopK returns up to k best-matching documents. Ties keep input order.
func (i *index) TopK(q string, k int) []Hit {
	if len(i.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}

	hits := make([]Hit, 0, min(k*4, len(i.docs)))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(len(qTokens) + len(d.tokens) - over)
		hits = append(hits, Hit{Doc: d.pos, Snippet: d.text, Score: float64(over) / union})
	}
	if len(hits) == 0 {
		return nil
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Doc < hits[b].Doc
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// questionWords carry no topic and would otherwise match every result.
var questionWords = []string{
	"the", "a", "an", "is", "are", "was", "of", "to", "in", "and", "what", "why", "how", "who", "where", "when",
	"什么", "为什", "怎么", "哪里", "是不", "不是", "一个", "可以",
}

// Rank reorders results by similarity to question. Results that share no
// tokens with the question keep their provider order after the matches.
func Rank(question string, results []Result) []Result {
	if len(results) < 2 {
		return results
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Title + "\n" + r.Snippet + "\n" + r.Summary
	}
	hits := NewIndexFromStrings(texts, WithStopwords(questionWords)).TopK(question, len(results))
	if len(hits) == 0 {
		return results
	}
	out := make([]Result, 0, len(results))
	seen := make(map[int]bool, len(hits))
	for _, h := range hits {
		out = append(out, results[h.Doc])
		seen[h.Doc] = true
	}
	for i, r := range results {
		if !seen[i] {
			out = append(out, r)
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*|\p{N}+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	add := func(w string) {
		if w == "" {
			return
		}
		if _, skip := stop[w]; skip {
			return
		}
		out[w] = struct{}{}
	}
	for _, w := range words {
		if !hasHan(w) {
			add(w)
			continue
		}
		for _, run := range splitHan(w) {
			if len(run) == 1 || !isHan(run[0]) {
				add(string(run))
				continue
			}
			for j := 0; j+1 < len(run); j++ {
				add(string(run[j : j+2]))
			}
		}
	}
	return out
}

func isHan(r rune) bool { return unicode.Is(unicode.Han, r) }

func hasHan(s string) bool {
	for _, r := range s {
		if isHan(r) {
			return true
		}
	}
	return false
}

// splitHan cuts w into maximal runs of Han and non-Han runes.
func splitHan(w string) [][]rune {
	var runs [][]rune
	var cur []rune
	curHan := false
	for _, r := range w {
		h := isHan(r)
		if len(cur) > 0 && h != curHan {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, r)
		curHan = h
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
