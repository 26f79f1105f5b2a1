package services

import (
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aixiaozi/go-kids-chat/internal/config"
	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/llm"
	"github.com/aixiaozi/go-kids-chat/internal/llm/llmtest"
	"github.com/aixiaozi/go-kids-chat/internal/search"
	"github.com/aixiaozi/go-kids-chat/internal/weather"
)

var errUpstream = errors.New("upstream 502")

type fakeSearcher struct {
	mu      sync.Mutex
	res     *search.Results
	err     error
	queries []string
}

func (f *fakeSearcher) WebSearch(ctx context.Context, query string, opts search.Options) (*search.Results, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.res, f.err
}

type memFiles map[string]string

func (m memFiles) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	s, ok := m[filename]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func testReplyConfig() config.ReplyConfig {
	return config.ReplyConfig{
		MaxTokens:          800,
		Temperature:        0.7,
		MaxHistoryMessages: 20,
		RetryAttempts:      3,
		RetryDelay:         0,
	}
}

func newReplyService(chat llm.Client) *ReplyService {
	s := NewReplyService(chat, testReplyConfig(), "chat-model")
	s.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	s.rand = func(int) int { return 0 }
	return s
}

func userThread(texts ...string) []domain.Message {
	out := make([]domain.Message, 0, len(texts))
	for i, t := range texts {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		out = append(out, domain.Message{Role: role, Content: t})
	}
	return out
}

func TestReply_Basic(t *testing.T) {
	fake := &llmtest.Fake{Replies: []llm.Response{{Content: "你好呀小朋友！"}}}
	s := newReplyService(fake)

	got, err := s.Reply(context.Background(), userThread("你好"), ReplyOptions{})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got.Role != domain.RoleAssistant || got.Content != "你好呀小朋友！" || got.Error {
		t.Fatalf("unexpected reply: %+v", got)
	}
	if got.Model != "chat-model" {
		t.Fatalf("model = %q", got.Model)
	}
	req := fake.Calls[0]
	if req.Messages[0].Role != llm.RoleSystem || !strings.HasPrefix(req.Messages[0].Content, "你是AI小子") {
		t.Fatalf("first message must be the persona: %+v", req.Messages[0])
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != llm.RoleUser || last.Content != "你好" {
		t.Fatalf("last message = %+v", last)
	}
	if req.MaxTokens != 800 || req.Temperature != 0.7 {
		t.Fatalf("request params = %+v", req)
	}
}

func TestReply_RetriesThenSucceeds(t *testing.T) {
	fake := &llmtest.Fake{
		Replies: []llm.Response{{}, {}, {Content: "第三次成功"}},
		Errs:    []error{errUpstream, errUpstream, nil},
	}
	s := newReplyService(fake)

	got, err := s.Reply(context.Background(), userThread("hi"), ReplyOptions{})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got.Content != "第三次成功" || got.Error {
		t.Fatalf("unexpected reply: %+v", got)
	}
	if n := fake.CallCount(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestReply_FallbackAfterRetries(t *testing.T) {
	fake := &llmtest.Fake{Errs: []error{errUpstream}}
	s := newReplyService(fake)

	got, err := s.Reply(context.Background(), userThread("hi"), ReplyOptions{})
	if err != nil {
		t.Fatalf("reply must not fail on upstream errors: %v", err)
	}
	if !got.Error || got.Content != fallbackReplies[0] {
		t.Fatalf("expected fallback, got %+v", got)
	}
	if n := fake.CallCount(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestReply_NotConfiguredIsNotRetried(t *testing.T) {
	fake := &llmtest.Fake{Errs: []error{llm.ErrNotConfigured}}
	s := newReplyService(fake)

	got, _ := s.Reply(context.Background(), userThread("hi"), ReplyOptions{})
	if !got.Error {
		t.Fatalf("expected fallback reply")
	}
	if n := fake.CallCount(); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}

func TestReply_ContextCanceled(t *testing.T) {
	fake := &llmtest.Fake{Replies: []llm.Response{{Content: "x"}}}
	s := newReplyService(fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Reply(ctx, userThread("hi"), ReplyOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReply_EmptyThread(t *testing.T) {
	s := newReplyService(&llmtest.Fake{})
	if _, err := s.Reply(context.Background(), nil, ReplyOptions{}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestReply_Thinking(t *testing.T) {
	chat := &llmtest.Fake{Replies: []llm.Response{{Content: "primary"}}}
	reasoning := &llmtest.Fake{Replies: []llm.Response{{Content: "深思熟虑的回答", Reasoning: "让我想想……"}}}
	s := newReplyService(chat)
	s.Reasoning = reasoning
	s.ReasoningModel = "reasoner"

	got, err := s.Reply(context.Background(), userThread("为什么天是蓝的"), ReplyOptions{UseThinking: true})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got.Content != "深思熟虑的回答" || got.Model != "reasoner" {
		t.Fatalf("unexpected reply: %+v", got)
	}
	if got.Thinking == nil || got.Thinking.Content != "让我想想……" || got.Thinking.ThinkingTime < 1 {
		t.Fatalf("thinking = %+v", got.Thinking)
	}
	if chat.CallCount() != 0 {
		t.Fatalf("primary model must not be called")
	}
	if reasoning.Calls[0].MaxTokens != maxThinkTokens {
		t.Fatalf("reasoning max tokens = %d", reasoning.Calls[0].MaxTokens)
	}
}

func TestReply_ThinkingFallsBackToPrimary(t *testing.T) {
	chat := &llmtest.Fake{Replies: []llm.Response{{Content: "primary answer"}}}
	reasoning := &llmtest.Fake{Errs: []error{errUpstream}}
	s := newReplyService(chat)
	s.Reasoning = reasoning
	s.ReasoningModel = "reasoner"

	got, err := s.Reply(context.Background(), userThread("hi"), ReplyOptions{UseThinking: true})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got.Content != "primary answer" || got.Thinking != nil || got.Error {
		t.Fatalf("unexpected reply: %+v", got)
	}
	if reasoning.CallCount() != 3 || chat.CallCount() != 1 {
		t.Fatalf("calls reasoning=%d chat=%d", reasoning.CallCount(), chat.CallCount())
	}
}

func TestReply_SearchBlock(t *testing.T) {
	fake := &llmtest.Fake{Replies: []llm.Response{{Content: "根据搜索结果……"}}}
	searcher := &fakeSearcher{res: &search.Results{
		Success:      true,
		Query:        "恐龙 灭绝",
		TotalResults: 42,
		Summary:      "恐龙在六千六百万年前灭绝。",
		Results: []search.Result{
			{Title: "恐龙灭绝之谜", URL: "https://example.org/a", Snippet: "小行星撞击", SiteName: "科普网"},
		},
	}}
	s := newReplyService(fake)
	s.Search = searcher

	got, err := s.Reply(context.Background(), userThread("恐龙是怎么灭绝的？"), ReplyOptions{UseSearch: true})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !got.SearchUsed || got.SearchQuery != "恐龙 灭绝" || got.SearchResultsCount != 1 {
		t.Fatalf("search metadata = %+v", got)
	}
	msgs := fake.Calls[0].Messages
	block := msgs[len(msgs)-2]
	if block.Role != llm.RoleSystem || !strings.HasPrefix(block.Content, "[联网搜索结果]") {
		t.Fatalf("search block must precede the last message: %+v", block)
	}
	for _, want := range []string{"找到 42 个相关结果", "1. 恐龙灭绝之谜", "来源: 科普网", "链接: https://example.org/a"} {
		if !strings.Contains(block.Content, want) {
			t.Errorf("search block missing %q", want)
		}
	}
}

func TestReply_SearchFailureIsIgnored(t *testing.T) {
	fake := &llmtest.Fake{Replies: []llm.Response{{Content: "ok"}}}
	s := newReplyService(fake)
	s.Search = &fakeSearcher{err: errUpstream}

	got, err := s.Reply(context.Background(), userThread("最新新闻"), ReplyOptions{UseSearch: true})
	if err != nil || got.SearchUsed || got.Content != "ok" {
		t.Fatalf("reply = %+v err=%v", got, err)
	}
	if n := len(fake.Calls[0].Messages); n != 2 {
		t.Fatalf("expected persona + user only, got %d messages", n)
	}
}

func TestReply_WeatherCard(t *testing.T) {
	fake := &llmtest.Fake{Replies: []llm.Response{{Content: "北京今天不错哦"}}}
	s := newReplyService(fake)
	s.Weather = weather.New(&fakeSearcher{err: errUpstream},
		weather.WithRand(func(n int) int { return n / 2 }),
		weather.WithClock(s.now),
	)

	got, err := s.Reply(context.Background(), userThread("北京今天天气怎么样？"), ReplyOptions{})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got.Weather == nil || got.Weather.Type != weather.TypeCard {
		t.Fatalf("expected weather card, got %+v", got.Weather)
	}
	msgs := fake.Calls[0].Messages
	if !strings.HasPrefix(msgs[len(msgs)-2].Content, "[实时天气信息]") {
		t.Fatalf("weather block missing: %+v", msgs[len(msgs)-2])
	}
}

func TestReply_HistoryTrimmedAndErrorsSkipped(t *testing.T) {
	fake := &llmtest.Fake{Replies: []llm.Response{{Content: "ok"}}}
	s := newReplyService(fake)
	s.Cfg.MaxHistoryMessages = 4

	thread := userThread("one", "two", "three", "four", "five", "six", "seven")
	thread[4].Error = true // "five"

	if _, err := s.Reply(context.Background(), thread, ReplyOptions{}); err != nil {
		t.Fatalf("reply: %v", err)
	}
	var contents []string
	for _, m := range fake.Calls[0].Messages[1:] {
		contents = append(contents, m.Content)
	}
	want := []string{"four", "six", "seven"}
	if !slices.Equal(contents, want) {
		t.Fatalf("history = %v, want %v", contents, want)
	}
}

func TestReply_Attachments(t *testing.T) {
	fake := &llmtest.Fake{Replies: []llm.Response{{Content: "一只橘色的小猫"}, {Content: "好可爱！"}}}
	s := newReplyService(fake)
	s.VisionModel = "vision-model"
	s.Files = memFiles{
		"1_cat.png":   "\x89PNG fake",
		"2_notes.txt": "太阳系有八大行星。",
	}
	atts := []domain.Attachment{
		{Filename: "1_cat.png", OriginalName: "cat.png", MimeType: "image/png", Size: 10},
		{Filename: "2_notes.txt", OriginalName: "notes.txt", MimeType: "text/plain", Size: 27},
		{Filename: "3_song.mp3", OriginalName: "song.mp3", MimeType: "audio/mpeg", Size: 99},
	}

	got, err := s.Reply(context.Background(), userThread("看看这些"), ReplyOptions{Attachments: atts})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got.Content != "好可爱！" || len(got.Attachments) != 3 {
		t.Fatalf("unexpected reply: %+v", got)
	}

	vision := fake.Calls[0]
	if vision.Model != "vision-model" || len(vision.Messages[0].ImageURLs) != 1 ||
		!strings.HasPrefix(vision.Messages[0].ImageURLs[0], "data:image/png;base64,") {
		t.Fatalf("vision request = %+v", vision)
	}

	var blocks []string
	for _, m := range fake.Calls[1].Messages {
		if m.Role == llm.RoleSystem {
			blocks = append(blocks, m.Content)
		}
	}
	want := []string{
		"[图片分析] cat.png: 一只橘色的小猫",
		"[文件内容] notes.txt: 太阳系有八大行星。",
		"[附件] song.mp3",
	}
	if !slices.Equal(blocks[1:], want) {
		t.Fatalf("attachment blocks = %q", blocks[1:])
	}
}

func collect(events *[]StreamEvent) func(StreamEvent) error {
	return func(e StreamEvent) error {
		*events = append(*events, e)
		return nil
	}
}

func TestStream_Deltas(t *testing.T) {
	fake := &llmtest.Fake{StreamDeltas: []llm.Delta{{Reasoning: "嗯……"}, {Content: "你"}, {Content: "好"}}}
	s := newReplyService(&llmtest.Fake{})
	s.Reasoning = fake
	s.ReasoningModel = "reasoner"

	var events []StreamEvent
	got, err := s.Stream(context.Background(), userThread("hi"), ReplyOptions{UseThinking: true}, collect(&events))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	want := []StreamEvent{
		{Type: EventThinking, Content: "嗯……"},
		{Type: EventContent, Content: "你"},
		{Type: EventContent, Content: "好"},
	}
	if !slices.Equal(events, want) {
		t.Fatalf("events = %+v", events)
	}
	if got.Content != "你好" || got.Thinking == nil || got.Thinking.Content != "嗯……" || got.Model != "reasoner" {
		t.Fatalf("reply = %+v", got)
	}
}

func TestStream_OpenFailureEmitsFallback(t *testing.T) {
	fake := &llmtest.Fake{StreamErr: errUpstream}
	s := newReplyService(fake)

	var events []StreamEvent
	got, err := s.Stream(context.Background(), userThread("hi"), ReplyOptions{}, collect(&events))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !got.Error || len(events) != 1 || events[0].Content != fallbackReplies[0] {
		t.Fatalf("reply=%+v events=%+v", got, events)
	}
	if n := fake.CallCount(); n != 3 {
		t.Fatalf("open attempts = %d, want 3", n)
	}
}

func TestStream_InterruptedKeepsContent(t *testing.T) {
	fake := &llmtest.Fake{StreamDeltas: []llm.Delta{{Content: "一半"}}, RecvErr: errUpstream}
	s := newReplyService(fake)

	var events []StreamEvent
	got, err := s.Stream(context.Background(), userThread("hi"), ReplyOptions{}, collect(&events))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got.Content != "一半" || got.Error || len(events) != 1 {
		t.Fatalf("reply=%+v events=%+v", got, events)
	}
	if n := fake.CallCount(); n != 1 {
		t.Fatalf("no retry after content, calls = %d", n)
	}
}

func TestStream_InterruptedBeforeContent(t *testing.T) {
	fake := &llmtest.Fake{RecvErr: errUpstream}
	s := newReplyService(fake)

	var events []StreamEvent
	got, _ := s.Stream(context.Background(), userThread("hi"), ReplyOptions{}, collect(&events))
	if !got.Error || len(events) != 1 || events[0].Type != EventContent {
		t.Fatalf("reply=%+v events=%+v", got, events)
	}
}

func TestStream_EmitErrorStops(t *testing.T) {
	fake := &llmtest.Fake{StreamDeltas: []llm.Delta{{Content: "a"}, {Content: "b"}}}
	s := newReplyService(fake)
	gone := errors.New("client gone")

	n := 0
	_, err := s.Stream(context.Background(), userThread("hi"), ReplyOptions{}, func(StreamEvent) error {
		n++
		return gone
	})
	if !errors.Is(err, gone) || n != 1 {
		t.Fatalf("err=%v emits=%d", err, n)
	}
}

func TestElapsedSeconds(t *testing.T) {
	if got := elapsedSeconds(10 * time.Millisecond); got != 1 {
		t.Fatalf("min is 1, got %d", got)
	}
	if got := elapsedSeconds(2600 * time.Millisecond); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}
