package services

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixiaozi/go-kids-chat/internal/config"
	"github.com/aixiaozi/go-kids-chat/internal/llm"
	"github.com/aixiaozi/go-kids-chat/internal/observability"
)

const translatePrompt = "你是一个专业的翻译助手。请将用户输入的任何语言的文本翻译成简体中文。只返回翻译结果，不要添加额外的解释。"

// Transcript is the outcome of speech-to-text, optionally translated.
type Transcript struct {
	OriginalText     string    `json:"originalText"`
	TranslatedText   string    `json:"translatedText,omitempty"`
	IsAlreadyChinese bool      `json:"isAlreadyChinese"`
	Language         string    `json:"language"`
	Timestamp        time.Time `json:"timestamp"`
}

// VoiceStatus describes the voice configuration.
type VoiceStatus struct {
	Enabled         bool     `json:"enabled"`
	MaxFileSize     int64    `json:"maxFileSize"`
	MaxFileSizeText string   `json:"maxFileSizeText"`
	AllowedFormats  []string `json:"allowedFormats"`
	HasAPIKey       bool     `json:"hasApiKey"`
}

// VoiceService turns audio into Chinese text.
type VoiceService struct {
	Client    llm.Client
	ChatModel string
	Cfg       config.VoiceConfig
	HasAPIKey bool

	now func() time.Time
}

// NewVoiceService constructs a VoiceService.
func NewVoiceService(c llm.Client, cfg config.VoiceConfig, chatModel string, hasKey bool) *VoiceService {
	return &VoiceService{Client: c, ChatModel: chatModel, Cfg: cfg, HasAPIKey: hasKey, now: time.Now}
}

// Status reports the voice configuration.
func (s *VoiceService) Status() VoiceStatus {
	return VoiceStatus{
		Enabled:         s.Cfg.Enabled,
		MaxFileSize:     s.Cfg.MaxFileBytes,
		MaxFileSizeText: humanize.IBytes(uint64(s.Cfg.MaxFileBytes)),
		AllowedFormats:  s.Cfg.AllowedFormats,
		HasAPIKey:       s.HasAPIKey,
	}
}

// ValidateAudio checks the name's extension and the size against the limits.
func (s *VoiceService) ValidateAudio(filename string, size int64) error {
	if !s.Cfg.Enabled {
		return ErrVoiceDisabled
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" || !slices.Contains(s.Cfg.AllowedFormats, ext) {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrAudioFormat, ext, strings.Join(s.Cfg.AllowedFormats, ", "))
	}
	if s.Cfg.MaxFileBytes > 0 && size > s.Cfg.MaxFileBytes {
		return fmt.Errorf("%w: %s exceeds %s", ErrAudioTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.Cfg.MaxFileBytes)))
	}
	return nil
}

// Transcribe converts audio to text. With translate set, non-Chinese text is
// also translated to Chinese; a failed translation keeps the original text.
func (s *VoiceService) Transcribe(ctx context.Context, filename string, audio io.Reader, size int64, translate bool) (*Transcript, error) {
	ctx, span := otel.Tracer("services/VoiceService").Start(ctx, "Transcribe",
		trace.WithAttributes(attribute.Int64("audio.size", size), attribute.Bool("voice.translate", translate)),
	)
	defer span.End()

	if err := s.ValidateAudio(filename, size); err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := s.Client.Transcribe(ctx, llm.TranscribeRequest{
		Model:    s.Cfg.Model,
		Filename: filepath.Base(filename),
		Reader:   audio,
	})
	observability.ObserveUpstream(observability.UpstreamAudio, start, err)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrTranscribeFailed, err)
	}
	text = strings.TrimSpace(text)

	out := &Transcript{OriginalText: text, Language: languageOf(text), Timestamp: s.now()}
	if !translate {
		return out, nil
	}
	tr, err := s.Translate(ctx, text)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("translation failed, keeping original text")
		out.TranslatedText = text
		return out, nil
	}
	out.TranslatedText = tr.TranslatedText
	out.IsAlreadyChinese = tr.IsAlreadyChinese
	return out, nil
}

// Translation is the outcome of Translate.
type Translation struct {
	OriginalText     string `json:"originalText"`
	TranslatedText   string `json:"translatedText"`
	IsAlreadyChinese bool   `json:"isAlreadyChinese"`
}

// Translate returns text in simplified Chinese. Text that is already mostly
// Chinese is returned unchanged without calling the model.
func (s *VoiceService) Translate(ctx context.Context, text string) (*Translation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if IsChinese(text) {
		return &Translation{OriginalText: text, TranslatedText: text, IsAlreadyChinese: true}, nil
	}

	ctx, span := otel.Tracer("services/VoiceService").Start(ctx, "Translate")
	defer span.End()

	start := time.Now()
	resp, err := s.Client.Complete(ctx, llm.Request{
		Model: s.ChatModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: translatePrompt},
			{Role: llm.RoleUser, Content: "请将以下文本翻译成中文：" + text},
		},
		MaxTokens:   500,
		Temperature: 0.3,
	})
	observability.ObserveUpstream(observability.UpstreamLLM, start, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &Translation{OriginalText: text, TranslatedText: strings.TrimSpace(resp.Content)}, nil
}

// IsChinese reports whether Han characters make up more than 30% of the
// non-space runes.
func IsChinese(text string) bool {
	var han, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if r >= 0x4e00 && r <= 0x9fff {
			han++
		}
	}
	return total > 0 && float64(han)/float64(total) > 0.3
}

func languageOf(text string) string {
	if IsChinese(text) {
		return "zh"
	}
	return "auto"
}
