// Package llm is a thin gateway over OpenAI-compatible endpoints. It hides
// the vendor SDK behind a small interface so the reply flow can be tested
// with fakes.
package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNotConfigured is returned when the endpoint has no API key.
var ErrNotConfigured = errors.New("llm: api key not configured")

// ErrEmptyReply is returned when the upstream answered without content.
var ErrEmptyReply = errors.New("llm: empty reply")

// Roles mirror the OpenAI chat roles.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one chat turn. ImageURLs turn the message into a multi-part
// vision message (http(s) or data: URLs).
type Message struct {
	Role      string
	Content   string
	ImageURLs []string
}

// Request is a chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Response is a finished completion.
type Response struct {
	Model     string
	Content   string
	Reasoning string // reasoning_content from reasoning models
}

// Delta is one streamed chunk.
type Delta struct {
	Content   string
	Reasoning string
}

// Stream yields deltas until io.EOF.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

// TranscribeRequest is an audio transcription request.
type TranscribeRequest struct {
	Model    string
	Filename string
	Reader   io.Reader
	Language string
}

// Client is what the services need from a model endpoint.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (Stream, error)
	Transcribe(ctx context.Context, req TranscribeRequest) (string, error)
}

// Config describes one endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenAI implements Client with github.com/sashabaranov/go-openai.
type OpenAI struct {
	c          *openai.Client
	configured bool
}

// New builds a client for the endpoint. A missing key yields a client whose
// calls fail with ErrNotConfigured.
func New(cfg Config) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &OpenAI{c: openai.NewClientWithConfig(oc), configured: cfg.APIKey != ""}
}

// Configured reports whether an API key was supplied.
func (o *OpenAI) Configured() bool { return o.configured }

// Complete runs a non-streaming chat completion.
func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	if !o.configured {
		return Response{}, ErrNotConfigured
	}
	resp, err := o.c.CreateChatCompletion(ctx, toOpenAI(req, false))
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, ErrEmptyReply
	}
	msg := resp.Choices[0].Message
	if strings.TrimSpace(msg.Content) == "" {
		return Response{}, ErrEmptyReply
	}
	return Response{Model: resp.Model, Content: msg.Content, Reasoning: msg.ReasoningContent}, nil
}

// Stream opens a streaming chat completion.
func (o *OpenAI) Stream(ctx context.Context, req Request) (Stream, error) {
	if !o.configured {
		return nil, ErrNotConfigured
	}
	s, err := o.c.CreateChatCompletionStream(ctx, toOpenAI(req, true))
	if err != nil {
		return nil, err
	}
	return &openAIStream{s: s}, nil
}

// Transcribe converts speech to text.
func (o *OpenAI) Transcribe(ctx context.Context, req TranscribeRequest) (string, error) {
	if !o.configured {
		return "", ErrNotConfigured
	}
	tr, err := o.c.CreateTranscription(ctx, openai.AudioRequest{
		Model:    req.Model,
		FilePath: req.Filename,
		Reader:   req.Reader,
		Language: req.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tr.Text), nil
}

type openAIStream struct {
	s *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (Delta, error) {
	for {
		chunk, err := s.s.Recv()
		if err != nil {
			return Delta{}, err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		d := chunk.Choices[0].Delta
		if d.Content == "" && d.ReasoningContent == "" {
			continue
		}
		return Delta{Content: d.Content, Reasoning: d.ReasoningContent}, nil
	}
}

func (s *openAIStream) Close() error { return s.s.Close() }

func toOpenAI(req Request, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if len(m.ImageURLs) == 0 {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.ImageURLs)+1)
		for _, u := range m.ImageURLs {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: u, Detail: openai.ImageURLDetailAuto},
			})
		}
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts})
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}
