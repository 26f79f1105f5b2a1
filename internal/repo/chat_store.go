package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
)

// GuestUser is the bucket used for callers without an identity.
const GuestUser = "guest"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ChatStore keeps each user's chats in <dir>/<user>.json as a map of chat id
// to chat. Every mutation rewrites the user's file under that user's lock.
type ChatStore struct {
	dir   string
	now   func() time.Time
	locks sync.Map // user -> *sync.Mutex
}

// NewChatStore returns a store rooted at dir (usually <data>/chats).
func NewChatStore(dir string) *ChatStore {
	return &ChatStore{dir: dir, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the store clock; used by tests.
func (s *ChatStore) WithClock(now func() time.Time) *ChatStore {
	s.now = now
	return s
}

func bucket(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return GuestUser
	}
	return unsafeFileChars.ReplaceAllString(userID, "_")
}

func (s *ChatStore) path(userID string) string {
	return filepath.Join(s.dir, bucket(userID)+".json")
}

func (s *ChatStore) lock(userID string) func() {
	m, _ := s.locks.LoadOrStore(bucket(userID), &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *ChatStore) load(userID string) (map[string]*domain.Chat, error) {
	chats := map[string]*domain.Chat{}
	if err := readJSON(s.path(userID), &chats); err != nil {
		return nil, fmt.Errorf("read chats: %w", err)
	}
	return chats, nil
}

func (s *ChatStore) save(userID string, chats map[string]*domain.Chat) error {
	if err := writeJSON(s.path(userID), chats); err != nil {
		return fmt.Errorf("write chats: %w", err)
	}
	return nil
}

// Create inserts an empty chat. A blank title becomes the default title.
func (s *ChatStore) Create(ctx context.Context, userID, title string) (*domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock(userID)()

	chats, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	c := s.newChat(uuid.NewString(), title)
	chats[c.ID] = c
	if err := s.save(userID, chats); err != nil {
		return nil, err
	}
	out := *c
	return &out, nil
}

func (s *ChatStore) newChat(id, title string) *domain.Chat {
	if strings.TrimSpace(title) == "" {
		title = domain.DefaultChatTitle
	}
	now := s.now()
	return &domain.Chat{
		ID:        id,
		Title:     title,
		Messages:  []domain.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Get returns one chat or ErrNotFound.
func (s *ChatStore) Get(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock(userID)()

	chats, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	c, ok := chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns all of the user's chats, most recently updated first.
func (s *ChatStore) List(ctx context.Context, userID string) ([]domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock(userID)()

	chats, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Chat, 0, len(chats))
	for _, c := range chats {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// AddMessage appends msg to the chat, assigning an id and timestamp when
// absent. A chat that does not exist yet is created under chatID (or a fresh
// id when chatID is blank). The first user message replaces the title with
// the pending placeholder.
func (s *ChatStore) AddMessage(ctx context.Context, userID, chatID string, msg domain.Message) (*domain.Chat, *domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	defer s.lock(userID)()

	chats, err := s.load(userID)
	if err != nil {
		return nil, nil, err
	}
	c, ok := chats[chatID]
	if !ok {
		if strings.TrimSpace(chatID) == "" {
			chatID = uuid.NewString()
		}
		c = s.newChat(chatID, "")
		chats[chatID] = c
	}

	now := s.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now
	if msg.Role == domain.RoleUser && len(c.Messages) == 1 {
		c.Title = domain.PendingChatTitle
	}

	if err := s.save(userID, chats); err != nil {
		return nil, nil, err
	}
	out := *c
	return &out, &msg, nil
}

// UpdateTitle renames a chat.
func (s *ChatStore) UpdateTitle(ctx context.Context, userID, chatID, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock(userID)()

	chats, err := s.load(userID)
	if err != nil {
		return err
	}
	c, ok := chats[chatID]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = s.now()
	return s.save(userID, chats)
}

// Delete removes one chat.
func (s *ChatStore) Delete(ctx context.Context, userID, chatID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock(userID)()

	chats, err := s.load(userID)
	if err != nil {
		return err
	}
	if _, ok := chats[chatID]; !ok {
		return ErrNotFound
	}
	delete(chats, chatID)
	return s.save(userID, chats)
}

// DeleteMany removes every listed chat that exists and returns how many were
// removed. The file is only rewritten when something changed.
func (s *ChatStore) DeleteMany(ctx context.Context, userID string, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer s.lock(userID)()

	chats, err := s.load(userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, ok := chats[id]; ok {
			delete(chats, id)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.save(userID, chats)
}

// History groups the user's chats by recency relative to now. Today starts
// at local midnight of now; week and month are rolling 7 and 30 day windows.
func (s *ChatStore) History(ctx context.Context, userID string, now time.Time) (domain.HistoryGroups, error) {
	chats, err := s.List(ctx, userID)
	if err != nil {
		return domain.HistoryGroups{}, err
	}
	return GroupHistory(chats, now), nil
}

// GroupHistory buckets chats, which must already be sorted newest first.
func GroupHistory(chats []domain.Chat, now time.Time) domain.HistoryGroups {
	g := domain.HistoryGroups{
		Today:   []domain.Chat{},
		Week:    []domain.Chat{},
		Month:   []domain.Chat{},
		Earlier: map[string][]domain.Chat{},
	}
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekAgo := now.Add(-7 * 24 * time.Hour)
	monthAgo := now.Add(-30 * 24 * time.Hour)

	for _, c := range chats {
		u := c.UpdatedAt.In(now.Location())
		switch {
		case !u.Before(todayStart):
			g.Today = append(g.Today, c)
		case u.After(weekAgo):
			g.Week = append(g.Week, c)
		case u.After(monthAgo):
			g.Month = append(g.Month, c)
		default:
			key := u.Format("2006-01")
			g.Earlier[key] = append(g.Earlier[key], c)
		}
	}
	return g
}
