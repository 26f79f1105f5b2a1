// Package utils holds small helpers shared by the handlers and services.
package utils

import "strconv"

// Page sizes for chat history listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads page and page_size query values. Missing or malformed
// values take the defaults; out-of-range ones are clamped.
func ParsePage(number, size string) Page {
	p := Page{
		Number: atoiDefault(number, 1),
		Size:   atoiDefault(size, DefaultPageSize),
	}
	if p.Number < 1 {
		p.Number = 1
	}
	p.Size = min(max(p.Size, 1), MaxPageSize)
	return p
}

// Normalize fills in defaults for a page built in code, where a zero size
// means "unspecified".
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	return p
}

// Bounds returns the half-open slice range of this page over n items. An
// out-of-range page yields an empty range at n.
func (p Page) Bounds(n int) (lo, hi int) {
	lo = (p.Number - 1) * p.Size
	if lo >= n || lo < 0 {
		return n, n
	}
	return lo, min(lo+p.Size, n)
}

// TotalPages is the number of pages needed for total items.
func (p Page) TotalPages(total int64) int {
	if p.Size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
