package search

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Provider payload. The API answers either {code,data:{...}} or the inner
// object directly.
type webPage struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	Summary       string `json:"summary"`
	SiteName      string `json:"siteName"`
	DatePublished string `json:"datePublished"`
}

type searchData struct {
	WebPages *struct {
		Value                 []webPage `json:"value"`
		TotalEstimatedMatches int64     `json:"totalEstimatedMatches"`
	} `json:"webPages"`
	QueryContext *struct {
		OriginalQuery string `json:"originalQuery"`
	} `json:"queryContext"`
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

const (
	msgNoResults     = "没有找到相关结果"
	summaryNoResults = "没有找到相关信息。"
	summaryNoneFound = "找到了一些相关结果，但无法生成摘要。"
)

// Format decodes a provider response into Results. sentQuery is used when
// the provider does not echo the original query.
func Format(raw []byte, sentQuery string) (*Results, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("search: decode: %w", err)
	}
	payload := raw
	if len(env.Data) > 0 && string(env.Data) != "null" {
		payload = env.Data
	}
	var d searchData
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("search: decode data: %w", err)
	}

	query := sentQuery
	if d.QueryContext != nil && strings.TrimSpace(d.QueryContext.OriginalQuery) != "" {
		query = d.QueryContext.OriginalQuery
	}
	if d.WebPages == nil || len(d.WebPages.Value) == 0 {
		return &Results{Success: false, Message: msgNoResults, Query: query, Results: []Result{}}, nil
	}

	all := make([]Result, 0, len(d.WebPages.Value))
	for _, p := range d.WebPages.Value {
		all = append(all, Result{
			Title:         p.Name,
			URL:           p.URL,
			Snippet:       p.Snippet,
			Summary:       p.Summary,
			SiteName:      p.SiteName,
			DatePublished: p.DatePublished,
		})
	}
	kept := all
	if len(kept) > maxKeptResults {
		kept = kept[:maxKeptResults]
	}
	total := d.WebPages.TotalEstimatedMatches
	if total == 0 {
		total = int64(len(all))
	}
	return &Results{
		Success:      true,
		Query:        query,
		TotalResults: total,
		Results:      kept,
		Summary:      Summary(all),
	}, nil
}

// Summary joins the summaries of the first three results that have one.
func Summary(results []Result) string {
	if len(results) == 0 {
		return summaryNoResults
	}
	parts := make([]string, 0, 3)
	for _, r := range results {
		if strings.TrimSpace(r.Summary) == "" {
			continue
		}
		parts = append(parts, r.Summary)
		if len(parts) == 3 {
			break
		}
	}
	if len(parts) == 0 {
		return summaryNoneFound
	}
	return strings.Join(parts, "\n\n")
}
