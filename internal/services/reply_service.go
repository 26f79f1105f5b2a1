package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixiaozi/go-kids-chat/internal/config"
	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/llm"
	"github.com/aixiaozi/go-kids-chat/internal/observability"
	"github.com/aixiaozi/go-kids-chat/internal/search"
	"github.com/aixiaozi/go-kids-chat/internal/weather"
)

const personaPrompt = `你是AI小子，一个专门陪伴儿童成长的AI助手。你的特点：

🎯 核心特质：
- 温暖友善、充满耐心
- 语言简单易懂，适合儿童
- 喜欢用表情符号和比喻
- 善于鼓励和赞美孩子

🎨 互动风格：
- 用轻松活泼的语气交流
- 经常问孩子的想法和感受
- 把复杂的概念用简单的话解释
- 通过故事和游戏来教育

🌟 主要功能：
- 回答孩子的各种问题
- 陪伴聊天，缓解孤独
- 协助学习，激发兴趣
- 培养好习惯，正向引导

记住：你在和孩子对话，要保持童真、积极向上，避免复杂或负面的内容。`

const visionPrompt = "请用小朋友能听懂的简单语言，描述这张图片里有什么。"

// Limits on attachment handling.
const (
	maxVisionBytes  = 10 << 20
	maxTextBytes    = 512 << 10
	maxExcerptRunes = 2000
	maxThinkTokens  = 4000
)

var fallbackReplies = []string{
	"哎呀，我刚才开小差了！😅 能再说一遍吗？我一定会认真听的！",
	"糟糕，我的小脑袋卡住了一下！🤔 你能再问我一次吗？",
	"呀，刚才网络小精灵跑丢了！🧚 我们再试一次好不好？",
	"对不起呀，我刚才没听清楚！🙈 请再跟我说一遍吧！",
}

// AttachmentSource opens a previously uploaded file by its stored name.
type AttachmentSource interface {
	Open(ctx context.Context, filename string) (io.ReadCloser, error)
}

// ReplyOptions are the per-request feature switches.
type ReplyOptions struct {
	UseSearch   bool
	UseThinking bool
	Attachments []domain.Attachment
}

// StreamEvent is one streamed piece of a reply.
type StreamEvent struct {
	Type    string // "thinking" or "content"
	Content string
}

// Stream event types.
const (
	EventChatID   = "chatId"
	EventThinking = "thinking"
	EventContent  = "content"
	EventEnd      = "end"
	EventError    = "error"
)

// ReplyService builds assistant replies from a thread. Search, Weather,
// Files and Reasoning are optional.
type ReplyService struct {
	Chat      llm.Client
	Reasoning llm.Client
	Search    search.Searcher
	Weather   *weather.Resolver
	Files     AttachmentSource

	ChatModel      string
	ReasoningModel string
	VisionModel    string
	Cfg            config.ReplyConfig

	now  func() time.Time
	rand func(int) int
}

// NewReplyService wires a ReplyService with the real clock.
func NewReplyService(chat llm.Client, cfg config.ReplyConfig, chatModel string) *ReplyService {
	return &ReplyService{
		Chat:      chat,
		ChatModel: chatModel,
		Cfg:       cfg,
		now:       time.Now,
		rand:      rand.IntN,
	}
}

// replyContext is everything gathered before the completion call.
type replyContext struct {
	messages    []llm.Message
	search      *search.Results
	weatherCard *domain.WeatherCard
}

// Reply answers the last message of thread. It never returns an error for
// upstream failures: after retries run out the reply carries a fallback
// message and Error=true. Only context cancellation is returned.
func (s *ReplyService) Reply(ctx context.Context, thread []domain.Message, opts ReplyOptions) (domain.Message, error) {
	ctx, span := otel.Tracer("services/ReplyService").Start(ctx, "Reply",
		trace.WithAttributes(
			attribute.Bool("reply.search", opts.UseSearch),
			attribute.Bool("reply.thinking", opts.UseThinking),
			attribute.Int("reply.attachments", len(opts.Attachments)),
		),
	)
	defer span.End()

	if len(thread) == 0 {
		return domain.Message{}, ErrEmptyPrompt
	}
	rc := s.buildContext(ctx, thread, opts)
	reply := s.baseReply(rc, opts)

	if opts.UseThinking && s.Reasoning != nil {
		start := time.Now()
		resp, err := s.complete(ctx, s.Reasoning, s.request(s.ReasoningModel, rc.messages, maxThinkTokens), observability.UpstreamReasoning)
		if err == nil {
			reply.Content = resp.Content
			reply.Model = resp.Model
			if strings.TrimSpace(resp.Reasoning) != "" {
				reply.Thinking = &domain.Thinking{
					Content:      resp.Reasoning,
					ThinkingTime: elapsedSeconds(time.Since(start)),
					SearchUsed:   reply.SearchUsed,
					Timestamp:    s.now(),
				}
			}
			return reply, nil
		}
		if ctx.Err() != nil {
			return domain.Message{}, ctx.Err()
		}
		zerolog.Ctx(ctx).Warn().Err(err).Msg("reasoning model failed, using primary model")
	}

	resp, err := s.complete(ctx, s.Chat, s.request(s.ChatModel, rc.messages, s.Cfg.MaxTokens), observability.UpstreamLLM)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Message{}, ctx.Err()
		}
		zerolog.Ctx(ctx).Error().Err(err).Msg("reply failed after retries")
		span.RecordError(err)
		return s.fallback(reply), nil
	}
	reply.Content = resp.Content
	reply.Model = resp.Model
	return reply, nil
}

// Stream answers the last message of thread, calling emit for every
// reasoning or answer delta. The returned message holds the full reply.
// Retries only cover opening the stream; once content has been emitted a
// failure ends the reply with what was received.
func (s *ReplyService) Stream(ctx context.Context, thread []domain.Message, opts ReplyOptions, emit func(StreamEvent) error) (domain.Message, error) {
	ctx, span := otel.Tracer("services/ReplyService").Start(ctx, "Stream",
		trace.WithAttributes(
			attribute.Bool("reply.search", opts.UseSearch),
			attribute.Bool("reply.thinking", opts.UseThinking),
		),
	)
	defer span.End()

	if len(thread) == 0 {
		return domain.Message{}, ErrEmptyPrompt
	}
	rc := s.buildContext(ctx, thread, opts)
	reply := s.baseReply(rc, opts)

	var stream llm.Stream
	var err error
	service := observability.UpstreamLLM
	start := time.Now()
	if opts.UseThinking && s.Reasoning != nil {
		reply.Model = s.ReasoningModel
		service = observability.UpstreamReasoning
		stream, err = s.openStream(ctx, s.Reasoning, s.request(s.ReasoningModel, rc.messages, maxThinkTokens), service)
		if err != nil && ctx.Err() == nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("reasoning stream failed, using primary model")
		}
	}
	if stream == nil && ctx.Err() == nil {
		reply.Model = s.ChatModel
		service = observability.UpstreamLLM
		stream, err = s.openStream(ctx, s.Chat, s.request(s.ChatModel, rc.messages, s.Cfg.MaxTokens), service)
	}
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	if stream == nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("stream failed after retries")
		reply = s.fallback(reply)
		if eerr := emit(StreamEvent{Type: EventContent, Content: reply.Content}); eerr != nil {
			return reply, eerr
		}
		return reply, nil
	}
	defer stream.Close()

	var content, thinking strings.Builder
	for {
		d, rerr := stream.Recv()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			observability.ObserveUpstream(service, start, rerr)
			if ctx.Err() != nil {
				return domain.Message{}, ctx.Err()
			}
			zerolog.Ctx(ctx).Warn().Err(rerr).Int("received", content.Len()).Msg("stream interrupted")
			if content.Len() == 0 {
				reply = s.fallback(reply)
				if eerr := emit(StreamEvent{Type: EventContent, Content: reply.Content}); eerr != nil {
					return reply, eerr
				}
				return reply, nil
			}
			break
		}
		if d.Reasoning != "" {
			thinking.WriteString(d.Reasoning)
			if eerr := emit(StreamEvent{Type: EventThinking, Content: d.Reasoning}); eerr != nil {
				return domain.Message{}, eerr
			}
		}
		if d.Content != "" {
			content.WriteString(d.Content)
			if eerr := emit(StreamEvent{Type: EventContent, Content: d.Content}); eerr != nil {
				return domain.Message{}, eerr
			}
		}
	}
	observability.ObserveUpstream(service, start, nil)

	reply.Content = content.String()
	if thinking.Len() > 0 {
		reply.Thinking = &domain.Thinking{
			Content:      thinking.String(),
			ThinkingTime: elapsedSeconds(time.Since(start)),
			SearchUsed:   reply.SearchUsed,
			Timestamp:    s.now(),
		}
	}
	if strings.TrimSpace(reply.Content) == "" {
		reply = s.fallback(reply)
		if eerr := emit(StreamEvent{Type: EventContent, Content: reply.Content}); eerr != nil {
			return reply, eerr
		}
	}
	return reply, nil
}

func (s *ReplyService) baseReply(rc replyContext, opts ReplyOptions) domain.Message {
	reply := domain.Message{
		Role:      domain.RoleAssistant,
		Timestamp: s.now(),
		Weather:   rc.weatherCard,
	}
	if rc.search != nil {
		reply.SearchUsed = true
		reply.SearchQuery = rc.search.Query
		reply.SearchResultsCount = len(rc.search.Results)
	}
	if len(opts.Attachments) > 0 {
		reply.Attachments = append([]domain.Attachment(nil), opts.Attachments...)
	}
	return reply
}

func (s *ReplyService) fallback(reply domain.Message) domain.Message {
	observability.ReplyFallback()
	reply.Content = fallbackReplies[s.rand(len(fallbackReplies))]
	reply.Error = true
	reply.Thinking = nil
	return reply
}

func (s *ReplyService) request(model string, msgs []llm.Message, maxTokens int) llm.Request {
	return llm.Request{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: s.Cfg.Temperature,
	}
}

func (s *ReplyService) retryOpts() []backoff.RetryOption {
	attempts := max(1, s.Cfg.RetryAttempts)
	return []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(s.Cfg.RetryDelay)),
		backoff.WithMaxTries(uint(attempts)),
	}
}

// complete calls the model with a fixed-delay retry.
func (s *ReplyService) complete(ctx context.Context, c llm.Client, req llm.Request, service string) (llm.Response, error) {
	return backoff.Retry(ctx, func() (llm.Response, error) {
		start := time.Now()
		resp, err := c.Complete(ctx, req)
		observability.ObserveUpstream(service, start, err)
		if errors.Is(err, llm.ErrNotConfigured) {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	}, s.retryOpts()...)
}

func (s *ReplyService) openStream(ctx context.Context, c llm.Client, req llm.Request, service string) (llm.Stream, error) {
	return backoff.Retry(ctx, func() (llm.Stream, error) {
		start := time.Now()
		st, err := c.Stream(ctx, req)
		if err != nil {
			observability.ObserveUpstream(service, start, err)
		}
		if errors.Is(err, llm.ErrNotConfigured) {
			return nil, backoff.Permanent(err)
		}
		return st, err
	}, s.retryOpts()...)
}

// buildContext assembles the prompt: persona, trimmed history and the
// search, weather and attachment blocks placed just before the last turn.
func (s *ReplyService) buildContext(ctx context.Context, thread []domain.Message, opts ReplyOptions) replyContext {
	var rc replyContext
	last := thread[len(thread)-1]
	var blocks []string

	if opts.UseSearch && s.Search != nil {
		if res := s.webSearch(ctx, last.Content); res != nil {
			rc.search = res
			blocks = append(blocks, searchBlock(res))
		}
	}

	if s.Weather != nil && weather.IsWeatherQuery(last.Content) {
		city, ok := weather.ExtractCity(last.Content)
		if !ok {
			city = s.Weather.DefaultCity()
		}
		w := s.Weather.Get(ctx, city)
		card := weather.Format(w, weather.FormatCard, s.now())
		rc.weatherCard = &card
		blocks = append(blocks, weather.PromptBlock(w))
	}

	for _, a := range opts.Attachments {
		if b := s.attachmentBlock(ctx, a, last.Content); b != "" {
			blocks = append(blocks, b)
		}
	}

	history := thread
	if n := s.Cfg.MaxHistoryMessages; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	msgs := make([]llm.Message, 0, len(history)+len(blocks)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: personaPrompt})
	for _, m := range history[:len(history)-1] {
		if m.Error || strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	for _, b := range blocks {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: b})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: last.Content})
	rc.messages = msgs
	return rc
}

func (s *ReplyService) webSearch(ctx context.Context, text string) *search.Results {
	q := search.ExtractKeywords(text)
	start := time.Now()
	res, err := s.Search.WebSearch(ctx, q, search.DefaultOptions())
	observability.ObserveUpstream(observability.UpstreamSearch, start, err)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("query", q).Msg("web search failed")
		return nil
	}
	if res == nil || !res.Success {
		return nil
	}
	res.Results = search.Rank(text, res.Results)
	return res
}

func searchBlock(res *search.Results) string {
	var b strings.Builder
	b.WriteString("[联网搜索结果]\n")
	fmt.Fprintf(&b, "搜索关键词: %s\n", res.Query)
	fmt.Fprintf(&b, "找到 %d 个相关结果\n\n", res.TotalResults)
	b.WriteString("主要信息摘要:\n")
	b.WriteString(res.Summary)
	b.WriteString("\n\n详细结果:\n")
	for i, r := range res.Results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n   来源: %s\n   摘要: %s\n   链接: %s", i+1, r.Title, r.SiteName, r.Snippet, r.URL)
	}
	b.WriteString("\n\n请基于以上搜索到的最新信息来回答用户的问题。记住要：\n" +
		"1. 引用具体的搜索结果\n" +
		"2. 提供准确的信息\n" +
		"3. 如果信息不够全面，可以告诉用户\n" +
		"4. 保持你作为AI小子的友善语调")
	return b.String()
}

func displayName(a domain.Attachment) string {
	if a.OriginalName != "" {
		return a.OriginalName
	}
	return a.Filename
}

func isTextType(mime string) bool {
	switch {
	case strings.HasPrefix(mime, "text/"):
		return true
	case mime == "application/json", mime == "application/xml", mime == "application/x-yaml":
		return true
	}
	return false
}

func (s *ReplyService) attachmentBlock(ctx context.Context, a domain.Attachment, question string) string {
	name := displayName(a)
	if s.Files == nil {
		return "[附件] " + name
	}
	switch {
	case a.IsImage() && s.VisionModel != "":
		desc, err := s.describeImage(ctx, a)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("file", a.Filename).Msg("image analysis failed")
			return "[附件] " + name
		}
		return fmt.Sprintf("[图片分析] %s: %s", name, desc)
	case isTextType(a.MimeType):
		text, err := s.readFile(ctx, a.Filename, maxTextBytes)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("file", a.Filename).Msg("read attachment failed")
			return "[附件] " + name
		}
		return fmt.Sprintf("[文件内容] %s: %s", name, search.Excerpt(string(text), question, maxExcerptRunes))
	default:
		return "[附件] " + name
	}
}

func (s *ReplyService) readFile(ctx context.Context, filename string, limit int64) ([]byte, error) {
	rc, err := s.Files.Open(ctx, filename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit))
}

func (s *ReplyService) describeImage(ctx context.Context, a domain.Attachment) (string, error) {
	ctx, span := otel.Tracer("services/ReplyService").Start(ctx, "describeImage",
		trace.WithAttributes(attribute.String("file.mime", a.MimeType)),
	)
	defer span.End()

	if a.Size > maxVisionBytes {
		return "", ErrFileTooLarge
	}
	data, err := s.readFile(ctx, a.Filename, maxVisionBytes)
	if err != nil {
		return "", err
	}
	url := "data:" + a.MimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	resp, err := s.complete(ctx, s.Chat, llm.Request{
		Model: s.VisionModel,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: visionPrompt, ImageURLs: []string{url}},
		},
		MaxTokens:   500,
		Temperature: s.Cfg.Temperature,
	}, observability.UpstreamVision)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func elapsedSeconds(d time.Duration) int {
	return max(1, int(math.Round(d.Seconds())))
}
