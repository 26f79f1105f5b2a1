package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/language"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/llm"
	"github.com/aixiaozi/go-kids-chat/internal/llm/llmtest"
	"github.com/aixiaozi/go-kids-chat/internal/repo"
)

func newMessageService(t *testing.T, fake *llmtest.Fake) (*MessageService, *repo.ChatStore) {
	t.Helper()
	store := repo.NewChatStore(filepath.Join(t.TempDir(), "chats"))
	return NewMessageService(store, newReplyService(fake), 100), store
}

func TestSend_NewChatGetsModelTitle(t *testing.T) {
	fake := &llmtest.Fake{Replies: []llm.Response{{Content: "恐龙生活在很久以前哦！"}, {Content: "标题：恐龙的故事。"}}}
	s, store := newMessageService(t, fake)
	ctx := context.Background()

	res, err := s.Send(ctx, "u1", SendInput{Message: "  给我讲讲恐龙  "})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ChatID == "" || res.UserMessage.Content != "给我讲讲恐龙" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Reply.Content != "恐龙生活在很久以前哦！" || res.Reply.ID == "" {
		t.Fatalf("reply = %+v", res.Reply)
	}
	if res.Title != "恐龙的故事" {
		t.Fatalf("title = %q", res.Title)
	}

	chat, err := store.Get(ctx, "u1", res.ChatID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if chat.Title != "恐龙的故事" || len(chat.Messages) != 2 {
		t.Fatalf("stored chat = %+v", chat)
	}
	if chat.Messages[0].Role != domain.RoleUser || chat.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("roles = %s, %s", chat.Messages[0].Role, chat.Messages[1].Role)
	}
}

func TestSend_TitleFallsBackToHeuristic(t *testing.T) {
	fake := &llmtest.Fake{Replies: []llm.Response{{Content: "因为小行星撞地球啦"}, {Content: "   "}}}
	s, _ := newMessageService(t, fake)

	res, err := s.Send(context.Background(), "u1", SendInput{Message: "恐龙为什么会灭绝，好奇怪"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Title != "恐龙为什么会灭绝" {
		t.Fatalf("title = %q", res.Title)
	}
}

func TestSend_ExistingChatKeepsTitle(t *testing.T) {
	fake := &llmtest.Fake{Replies: []llm.Response{{Content: "答案"}, {Content: "太空"}}}
	s, _ := newMessageService(t, fake)
	ctx := context.Background()

	first, err := s.Send(ctx, "u1", SendInput{Message: "星星为什么会闪"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	calls := fake.CallCount()

	second, err := s.Send(ctx, "u1", SendInput{ChatID: first.ChatID, Message: "月亮呢？"})
	if err != nil {
		t.Fatalf("send 2: %v", err)
	}
	if second.ChatID != first.ChatID || second.Title != first.Title {
		t.Fatalf("second = %+v, first = %+v", second, first)
	}
	if got := fake.CallCount() - calls; got != 1 {
		t.Fatalf("expected a single reply call, got %d", got)
	}
	// the follow-up sees the earlier turns
	msgs := fake.Calls[len(fake.Calls)-1].Messages
	if len(msgs) != 4 {
		t.Fatalf("expected persona + 2 history + user, got %d", len(msgs))
	}
}

func TestSend_Validation(t *testing.T) {
	s, _ := newMessageService(t, &llmtest.Fake{})
	ctx := context.Background()

	if _, err := s.Send(ctx, "u1", SendInput{Message: "   "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	if _, err := s.Send(ctx, "u1", SendInput{Message: strings.Repeat("长", 101)}); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestSend_FallbackReplyIsStored(t *testing.T) {
	fake := &llmtest.Fake{Errs: []error{errUpstream}}
	s, store := newMessageService(t, fake)
	ctx := context.Background()

	res, err := s.Send(ctx, "", SendInput{Message: "你好"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Reply.Error {
		t.Fatalf("expected fallback reply")
	}
	chat, err := store.Get(ctx, repo.GuestUser, res.ChatID)
	if err != nil || len(chat.Messages) != 2 || !chat.Messages[1].Error {
		t.Fatalf("stored chat = %+v err=%v", chat, err)
	}
	if res.Title != "你好" {
		t.Fatalf("heuristic title = %q", res.Title)
	}
}

func TestStream_ChatIDFirst(t *testing.T) {
	fake := &llmtest.Fake{
		StreamDeltas: []llm.Delta{{Content: "嗨"}, {Content: "！"}},
		Replies:      []llm.Response{{Content: "打招呼"}},
	}
	s, _ := newMessageService(t, fake)

	var events []StreamEvent
	res, err := s.Stream(context.Background(), "u1", SendInput{Message: "hello"}, collect(&events))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(events) != 3 || events[0].Type != EventChatID || events[0].Content != res.ChatID {
		t.Fatalf("events = %+v", events)
	}
	if res.Reply.Content != "嗨！" || res.Title != "打招呼" {
		t.Fatalf("result = %+v", res)
	}
}

func TestHeuristicTitle(t *testing.T) {
	s := &MessageService{TitleLocale: language.English}
	cases := []struct{ in, want string }{
		{"what is the tallest mountain in the world", "Tallest Mountain World"},
		{"tell me about mars2030 rockets and planets", "Tell About Mars2030 Rockets Planets"},
		{"one two three four five six seven eight", "One Two Three Four Five Six"},
		{"为什么天空是蓝色的？我想知道", "为什么天空是蓝色的"},
		{"一二三四五六七八九十一二三四五", "一二三四五六七八九十一二"},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := s.heuristicTitle(c.in); got != c.want {
			t.Errorf("heuristicTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCleanTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"标题：恐龙世界。", "恐龙世界"},
		{"「太空探险」", "太空探险"},
		{"小猫\n第二行", "小猫"},
		{"一二三四五六七八九十一二三四", "一二三四五六七八九十一二"},
	}
	for _, c := range cases {
		if got := cleanTitle(c.in); got != c.want {
			t.Errorf("cleanTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestGenerateTitle_DefaultWhenNothingUsable(t *testing.T) {
	s := &MessageService{}
	if got := s.GenerateTitle(context.Background(), nil); got != domain.DefaultChatTitle {
		t.Fatalf("got %q", got)
	}
}
