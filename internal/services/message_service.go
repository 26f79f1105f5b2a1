package services

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/llm"
	"github.com/aixiaozi/go-kids-chat/internal/observability"
)

const (
	maxModelTitleRunes = 12
	maxLatinTitleWords = 6
	titleTimeout       = 20 * time.Second
)

// SendInput is one user turn.
type SendInput struct {
	ChatID      string
	Message     string
	UseSearch   bool
	UseThinking bool
	Attachments []domain.Attachment
}

// SendResult is what a completed turn produced.
type SendResult struct {
	ChatID      string         `json:"chatId"`
	Title       string         `json:"title"`
	UserMessage domain.Message `json:"userMessage"`
	Reply       domain.Message `json:"aiReply"`
}

// MessageService stores user turns, asks ReplyService for the answer,
// stores it and keeps chat titles meaningful.
type MessageService struct {
	Chats   ChatRepo
	Replies *ReplyService

	MaxPromptRunes int
	TitleLocale    language.Tag
}

// NewMessageService constructs a MessageService.
func NewMessageService(chats ChatRepo, replies *ReplyService, maxPromptRunes int) *MessageService {
	return &MessageService{Chats: chats, Replies: replies, MaxPromptRunes: maxPromptRunes, TitleLocale: language.English}
}

func (s *MessageService) validate(in *SendInput) error {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(in.Message) > s.MaxPromptRunes {
		return ErrTooLong
	}
	return nil
}

func (s *MessageService) addUserTurn(ctx context.Context, userID string, in SendInput) (*domain.Chat, *domain.Message, error) {
	return s.Chats.AddMessage(ctx, bucketOf(userID), strings.TrimSpace(in.ChatID), domain.Message{
		Role:        domain.RoleUser,
		Content:     in.Message,
		Attachments: in.Attachments,
	})
}

// Send runs one non-streamed turn. A missing or unknown chat id starts a new
// chat.
func (s *MessageService) Send(ctx context.Context, userID string, in SendInput) (*SendResult, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "Send",
		trace.WithAttributes(attribute.String("chat.id", in.ChatID)),
	)
	defer span.End()

	if err := s.validate(&in); err != nil {
		return nil, err
	}
	chat, userMsg, err := s.addUserTurn(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("chat.id", chat.ID))

	reply, err := s.Replies.Reply(ctx, chat.Messages, ReplyOptions{
		UseSearch: in.UseSearch, UseThinking: in.UseThinking, Attachments: in.Attachments,
	})
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, userID, chat.ID, *userMsg, reply)
}

// Stream runs one streamed turn. emit receives the chat id first, then the
// reply deltas. The caller sends the end event once Stream returns.
func (s *MessageService) Stream(ctx context.Context, userID string, in SendInput, emit func(StreamEvent) error) (*SendResult, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "Stream",
		trace.WithAttributes(attribute.String("chat.id", in.ChatID)),
	)
	defer span.End()

	if err := s.validate(&in); err != nil {
		return nil, err
	}
	chat, userMsg, err := s.addUserTurn(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	if err := emit(StreamEvent{Type: EventChatID, Content: chat.ID}); err != nil {
		return nil, err
	}

	reply, err := s.Replies.Stream(ctx, chat.Messages, ReplyOptions{
		UseSearch: in.UseSearch, UseThinking: in.UseThinking, Attachments: in.Attachments,
	}, emit)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, userID, chat.ID, *userMsg, reply)
}

func (s *MessageService) finish(ctx context.Context, userID, chatID string, userMsg, reply domain.Message) (*SendResult, error) {
	chat, stored, err := s.Chats.AddMessage(ctx, bucketOf(userID), chatID, reply)
	if err != nil {
		return nil, err
	}
	res := &SendResult{ChatID: chat.ID, Title: chat.Title, UserMessage: userMsg, Reply: *stored}

	if chat.NeedsAutoTitle() {
		title := s.GenerateTitle(ctx, chat.Messages)
		if err := s.Chats.UpdateTitle(ctx, bucketOf(userID), chat.ID, title); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("chat_id", chat.ID).Msg("update title failed")
		} else {
			res.Title = title
		}
	}
	return res, nil
}

// GenerateTitle asks the primary model for a short title and falls back to
// a heuristic built from the first user message.
func (s *MessageService) GenerateTitle(ctx context.Context, msgs []domain.Message) string {
	first := ""
	for _, m := range msgs {
		if m.Role == domain.RoleUser {
			first = m.Content
			break
		}
	}
	if t := s.modelTitle(ctx, msgs); t != "" {
		return t
	}
	if t := s.heuristicTitle(first); t != "" {
		return t
	}
	return domain.DefaultChatTitle
}

func (s *MessageService) modelTitle(ctx context.Context, msgs []domain.Message) string {
	if s.Replies == nil || s.Replies.Chat == nil {
		return ""
	}
	var convo strings.Builder
	for i, m := range msgs {
		if i >= 4 {
			break
		}
		who := "小朋友"
		if m.Role == domain.RoleAssistant {
			who = "AI小子"
		}
		convo.WriteString(who + "：" + clipRunes(m.Content, 200) + "\n")
	}

	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()
	start := time.Now()
	resp, err := s.Replies.Chat.Complete(ctx, llm.Request{
		Model: s.Replies.ChatModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "你是一个标题生成助手。请根据对话内容生成一个简短的中文标题，不超过12个字，不要使用引号和标点，只返回标题本身。"},
			{Role: llm.RoleUser, Content: convo.String()},
		},
		MaxTokens:   30,
		Temperature: 0.3,
	})
	observability.ObserveUpstream(observability.UpstreamLLM, start, err)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("title generation failed")
		return ""
	}
	return cleanTitle(resp.Content)
}

var titleTrimRE = regexp.MustCompile(`^[\s"'“”‘’「」《》【】#*：:]+|[\s"'“”‘’「」《》【】。！？!?.，,：:]+$`)

func cleanTitle(s string) string {
	s = strings.TrimSpace(strings.SplitN(strings.TrimSpace(s), "\n", 2)[0])
	s = strings.TrimPrefix(s, "标题：")
	s = strings.TrimPrefix(s, "标题:")
	s = titleTrimRE.ReplaceAllString(s, "")
	return clipRunes(strings.TrimSpace(s), maxModelTitleRunes)
}

// heuristicTitle derives a title from the first message: Han text is cut to
// the first clause, Latin text keeps its first content words title-cased.
func (s *MessageService) heuristicTitle(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	if hasHan(prompt) {
		clause := strings.FieldsFunc(prompt, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSpace(r)
		})
		if len(clause) == 0 {
			return ""
		}
		return clipRunes(clause[0], maxModelTitleRunes)
	}

	caser := cases.Title(s.titleLocale())
	out := make([]string, 0, maxLatinTitleWords)
	for _, w := range titleWordRE.FindAllString(strings.ToLower(prompt), -1) {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= maxLatinTitleWords {
			break
		}
	}
	return clipRunes(strings.Join(out, " "), 40)
}

func (s *MessageService) titleLocale() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// Letters with optional trailing digits, e.g. "mars2030".
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"what": {}, "why": {}, "how": {}, "do": {}, "does": {}, "can": {}, "you": {}, "me": {}, "i": {},
}
