package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aixiaozi/go-kids-chat/internal/config"
	"github.com/aixiaozi/go-kids-chat/internal/llm"
	"github.com/aixiaozi/go-kids-chat/internal/llm/llmtest"
)

func newVoiceService(fake *llmtest.Fake) *VoiceService {
	return NewVoiceService(fake, config.VoiceConfig{
		Enabled:        true,
		Model:          "whisper-1",
		MaxFileBytes:   1 << 20,
		AllowedFormats: []string{"mp3", "wav", "webm", "m4a"},
	}, "chat-model", true)
}

func TestIsChinese(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"你好世界", true},
		{"hi 你好", true},
		{"hello 你好", false},
		{"hello world 你", false},
		{"   ", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsChinese(c.in); got != c.want {
			t.Errorf("IsChinese(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestValidateAudio(t *testing.T) {
	s := newVoiceService(&llmtest.Fake{})

	if err := s.ValidateAudio("clip.MP3", 100); err != nil {
		t.Fatalf("mp3 should be accepted: %v", err)
	}
	if err := s.ValidateAudio("clip.exe", 100); !errors.Is(err, ErrAudioFormat) {
		t.Fatalf("expected ErrAudioFormat, got %v", err)
	}
	if err := s.ValidateAudio("clip", 100); !errors.Is(err, ErrAudioFormat) {
		t.Fatalf("no extension: %v", err)
	}
	if err := s.ValidateAudio("clip.wav", 2<<20); !errors.Is(err, ErrAudioTooLarge) {
		t.Fatalf("expected ErrAudioTooLarge, got %v", err)
	}

	s.Cfg.Enabled = false
	if err := s.ValidateAudio("clip.mp3", 1); !errors.Is(err, ErrVoiceDisabled) {
		t.Fatalf("expected ErrVoiceDisabled, got %v", err)
	}
}

func TestTranscribe_TranslatesForeignSpeech(t *testing.T) {
	fake := &llmtest.Fake{
		Transcript: " Hello, how are you? ",
		Replies:    []llm.Response{{Content: "你好，你好吗？"}},
	}
	s := newVoiceService(fake)

	got, err := s.Transcribe(context.Background(), "rec.webm", strings.NewReader("audio"), 5, true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got.OriginalText != "Hello, how are you?" || got.TranslatedText != "你好，你好吗？" || got.IsAlreadyChinese {
		t.Fatalf("transcript = %+v", got)
	}
	if got.Language != "auto" {
		t.Fatalf("language = %q", got.Language)
	}
	req := fake.Calls[0]
	if req.Temperature != 0.3 || req.MaxTokens != 500 || !strings.HasPrefix(req.Messages[1].Content, "请将以下文本翻译成中文：") {
		t.Fatalf("translate request = %+v", req)
	}
}

func TestTranscribe_ChineseSkipsTranslation(t *testing.T) {
	fake := &llmtest.Fake{Transcript: "今天天气真好"}
	s := newVoiceService(fake)

	got, err := s.Transcribe(context.Background(), "rec.mp3", strings.NewReader("audio"), 5, true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !got.IsAlreadyChinese || got.TranslatedText != "今天天气真好" || got.Language != "zh" {
		t.Fatalf("transcript = %+v", got)
	}
	if fake.CallCount() != 0 {
		t.Fatalf("no translation call expected")
	}
}

func TestTranscribe_TranslationFailureKeepsOriginal(t *testing.T) {
	fake := &llmtest.Fake{Transcript: "good morning", Errs: []error{errUpstream}}
	s := newVoiceService(fake)

	got, err := s.Transcribe(context.Background(), "rec.mp3", strings.NewReader("audio"), 5, true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got.TranslatedText != "good morning" {
		t.Fatalf("translated = %q", got.TranslatedText)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	fake := &llmtest.Fake{TranscribeErr: errUpstream}
	s := newVoiceService(fake)

	_, err := s.Transcribe(context.Background(), "rec.mp3", strings.NewReader("audio"), 5, false)
	if !errors.Is(err, ErrTranscribeFailed) || !errors.Is(err, errUpstream) {
		t.Fatalf("expected wrapped ErrTranscribeFailed, got %v", err)
	}
	if _, err := s.Transcribe(context.Background(), "rec.txt", strings.NewReader("x"), 1, false); !errors.Is(err, ErrAudioFormat) {
		t.Fatalf("expected ErrAudioFormat, got %v", err)
	}
}

func TestTranslate_Empty(t *testing.T) {
	s := newVoiceService(&llmtest.Fake{})
	if _, err := s.Translate(context.Background(), "  "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestVoiceStatus(t *testing.T) {
	st := newVoiceService(&llmtest.Fake{}).Status()
	if !st.Enabled || !st.HasAPIKey || st.MaxFileSize != 1<<20 || st.MaxFileSizeText != "1.0 MiB" || len(st.AllowedFormats) != 4 {
		t.Fatalf("status = %+v", st)
	}
}
