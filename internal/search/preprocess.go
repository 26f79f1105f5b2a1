package search

import (
	"bufio"
	"io"
	"sort"
	"strings"
	"unicode/utf8"
)

// Paragraphs splits plain text or Markdown into standalone facts. Blank lines
// separate paragraphs, consecutive lines are joined, and Markdown table rows
// are flattened into one fact per row with separator rows dropped.
func Paragraphs(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			flush()
			continue
		}

		// table row: "| ... |"
		if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") {
			flush()
			if fact := tableRowFact(line); fact != "" {
				out = append(out, fact)
			}
			continue
		}
		cur = append(cur, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}

func tableRowFact(line string) string {
	cols := strings.Split(strings.Trim(line, "|"), "|")
	allSep := true
	cleaned := make([]string, 0, len(cols))
	for _, c := range cols {
		cell := strings.TrimSpace(c)
		if cell != "" {
			cleaned = append(cleaned, cell)
		}
		tmp := strings.NewReplacer(":", "", "-", "").Replace(cell)
		if strings.TrimSpace(tmp) != "" {
			allSep = false
		}
	}
	if allSep || len(cleaned) == 0 {
		return ""
	}
	return strings.Join(cleaned, " ")
}

// maxExcerptParagraphs bounds ranking work on very long files.
const maxExcerptParagraphs = 500

// Excerpt bounds text to maxRunes. Short text is returned unchanged. Longer
// text keeps the paragraphs most similar to question (in document order);
// without a usable question the leading paragraphs are kept. The result ends
// with an ellipsis when anything was dropped.
func Excerpt(text, question string, maxRunes int) string {
	text = strings.TrimSpace(text)
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	paras, err := Paragraphs(strings.NewReader(text))
	if err != nil || len(paras) == 0 {
		return cutRunes(text, maxRunes) + "..."
	}

	order := make([]int, 0, len(paras))
	idx := NewIndexFromStrings(paras, WithStopwords(questionWords), WithMaxDocs(maxExcerptParagraphs))
	for _, h := range idx.TopK(question, len(paras)) {
		order = append(order, h.Doc)
	}
	if len(order) == 0 {
		for i := range paras {
			order = append(order, i)
		}
	}

	budget := maxRunes
	picked := make([]int, 0, len(order))
	for _, i := range order {
		n := utf8.RuneCountInString(paras[i])
		if n > budget {
			if len(picked) == 0 {
				return cutRunes(paras[i], maxRunes) + "..."
			}
			continue
		}
		picked = append(picked, i)
		budget -= n
	}
	sort.Ints(picked)

	parts := make([]string, len(picked))
	for j, i := range picked {
		parts[j] = paras[i]
	}
	return strings.Join(parts, "\n") + "..."
}

func cutRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
