// Package domain defines the core data types shared by the repository,
// service, and transport layers: conversation threads and their messages,
// reply metadata, user accounts, weather data, and the small set of
// GORM-mapped bookkeeping tables.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Placeholder chat titles. A chat carrying one of these is eligible for an
// automatically generated title.
const (
	DefaultChatTitle     = "新对话"
	PendingChatTitle     = "新对话..."
	titleEllipsis        = "..."
	maxPendingTitleRunes = 20
)

// Chat is a conversation thread owned by one user and persisted as part of
// that user's JSON chat file.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Attachment references a previously uploaded file.
type Attachment struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalname,omitempty"`
	MimeType     string `json:"mimetype,omitempty"`
	Size         int64  `json:"size,omitempty"`
	URL          string `json:"url,omitempty"`
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// Thinking carries the reasoning trace produced by the deep-thinking model.
type Thinking struct {
	Content      string    `json:"content"`
	ThinkingTime int       `json:"thinkingTime"` // seconds
	SearchUsed   bool      `json:"searchUsed"`
	Timestamp    time.Time `json:"timestamp"`
}

// Message is one utterance in a chat. Assistant messages carry the
// metadata of the reply that produced them.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	Attachments        []Attachment `json:"attachments,omitempty"`
	Thinking           *Thinking    `json:"thinking,omitempty"`
	SearchUsed         bool         `json:"searchUsed,omitempty"`
	SearchQuery        string       `json:"searchQuery,omitempty"`
	SearchResultsCount int          `json:"searchResultsCount,omitempty"`
	Weather            *WeatherCard `json:"weather,omitempty"`
	Model              string       `json:"model,omitempty"`
	Error              bool         `json:"error,omitempty"`
}

// NeedsAutoTitle reports whether the chat has enough messages and still
// carries a placeholder or truncated title.
func (c *Chat) NeedsAutoTitle() bool {
	if c == nil || len(c.Messages) < 2 {
		return false
	}
	switch c.Title {
	case PendingChatTitle, DefaultChatTitle:
		return true
	}
	return strings.HasSuffix(c.Title, titleEllipsis) &&
		utf8.RuneCountInString(c.Title) <= maxPendingTitleRunes
}

// HistoryGroups buckets chats by how recently they were updated.
type HistoryGroups struct {
	Today   []Chat            `json:"today"`
	Week    []Chat            `json:"week"`
	Month   []Chat            `json:"month"`
	Earlier map[string][]Chat `json:"earlier"` // keyed by YYYY-MM
}

// ChatSummary is a chat without its messages, used in listings.
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Summary strips messages from the chat.
func (c Chat) Summary() ChatSummary {
	return ChatSummary{
		ID:           c.ID,
		Title:        c.Title,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
