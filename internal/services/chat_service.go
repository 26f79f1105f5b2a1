package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/repo"
	"github.com/aixiaozi/go-kids-chat/internal/utils"
)

// ChatRepo is the persistence contract ChatService and MessageService need.
// *repo.ChatStore implements it.
type ChatRepo interface {
	Create(ctx context.Context, userID, title string) (*domain.Chat, error)
	Get(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	List(ctx context.Context, userID string) ([]domain.Chat, error)
	AddMessage(ctx context.Context, userID, chatID string, msg domain.Message) (*domain.Chat, *domain.Message, error)
	UpdateTitle(ctx context.Context, userID, chatID, title string) error
	Delete(ctx context.Context, userID, chatID string) error
	DeleteMany(ctx context.Context, userID string, ids []string) (int, error)
	History(ctx context.Context, userID string, now time.Time) (domain.HistoryGroups, error)
}

// ChatService manages chat threads: creation, listing, renaming, deletion.
// A blank user id means the guest bucket.
type ChatService struct {
	Repo ChatRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int

	now func() time.Time
}

// NewChatService constructs a ChatService with default title handling.
func NewChatService(r ChatRepo) *ChatService {
	return &ChatService{Repo: r, TitleMaxLen: 60, now: time.Now}
}

func bucketOf(userID string) string {
	if strings.TrimSpace(userID) == "" {
		return repo.GuestUser
	}
	return userID
}

func mapNotFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrChatNotFound
	}
	return err
}

// Create inserts a new chat. A blank title becomes the default.
func (s *ChatService) Create(ctx context.Context, userID, title string) (*domain.Chat, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Create")
	defer span.End()
	return s.Repo.Create(ctx, bucketOf(userID), s.clip(normalizeTitle(title)))
}

// Get returns the chat with its messages.
func (s *ChatService) Get(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("chat.id", chatID)),
	)
	defer span.End()
	c, err := s.Repo.Get(ctx, bucketOf(userID), chatID)
	return c, mapNotFound(err)
}

// ListPage returns a page of chat summaries, most recent first. Invalid page
// arguments fall back to page 1 and 20 items.
func (s *ChatService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ChatSummary, int64, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "ListPage",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize)),
	)
	defer span.End()

	pg := utils.Page{Number: page, Size: pageSize}.Normalize()
	all, err := s.Repo.List(ctx, bucketOf(userID))
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(all))
	lo, hi := pg.Bounds(len(all))
	out := make([]domain.ChatSummary, 0, hi-lo)
	for _, c := range all[lo:hi] {
		out = append(out, c.Summary())
	}
	return out, total, nil
}

// History returns the caller's chats grouped by recency.
func (s *ChatService) History(ctx context.Context, userID string) (domain.HistoryGroups, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "History")
	defer span.End()
	return s.Repo.History(ctx, bucketOf(userID), s.now())
}

// UpdateTitle renames a chat. A blank title becomes the default.
func (s *ChatService) UpdateTitle(ctx context.Context, userID, chatID, title string) error {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "UpdateTitle",
		trace.WithAttributes(attribute.String("chat.id", chatID)),
	)
	defer span.End()

	title = normalizeTitle(title)
	if title == "" {
		title = domain.DefaultChatTitle
	}
	return mapNotFound(s.Repo.UpdateTitle(ctx, bucketOf(userID), chatID, s.clip(title)))
}

// Delete removes one chat.
func (s *ChatService) Delete(ctx context.Context, userID, chatID string) error {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("chat.id", chatID)),
	)
	defer span.End()
	return mapNotFound(s.Repo.Delete(ctx, bucketOf(userID), chatID))
}

// DeleteMany removes the listed chats and returns how many existed.
func (s *ChatService) DeleteMany(ctx context.Context, userID string, ids []string) (int, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "DeleteMany",
		trace.WithAttributes(attribute.Int("chat.count", len(ids))),
	)
	defer span.End()
	if len(ids) == 0 {
		return 0, ErrNoChatIDs
	}
	return s.Repo.DeleteMany(ctx, bucketOf(userID), ids)
}

// clip truncates a chat title to the configured maximum rune length.
func (s *ChatService) clip(title string) string {
	return clipRunes(title, s.TitleMaxLen)
}

func clipRunes(s string, n int) string {
	if n > 0 && utf8.RuneCountInString(s) > n {
		return string([]rune(s)[:n])
	}
	return s
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)
