// Message HTTP handlers.
//
// This file exposes the endpoints that run a chat turn:
//   - POST /chat/send    (store the user message, answer it, return both)
//   - POST /chat/stream  (same turn, answer streamed as server-sent events)
//
// A missing or unknown chatId starts a new chat titled "新对话...".
//
// Idempotency:
// If the client supplies an Idempotency-Key header on /chat/send and a
// previous successful result exists for (user, route, key), the handler
// returns the recorded turn from the chat store without calling the model
// again and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/http/middleware"
	"github.com/aixiaozi/go-kids-chat/internal/repo"
	"github.com/aixiaozi/go-kids-chat/internal/services"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for one chat turn.
type SendMessageRequest struct {
	Message     string              `json:"message" example:"恐龙为什么会灭绝？"`
	ChatID      string              `json:"chatId,omitempty" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	UseThinking bool                `json:"useThinking"`
	UseSearch   bool                `json:"useSearch"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// StreamPayload is the JSON carried by each `data:` line of /chat/stream.
type StreamPayload struct {
	Type      string `json:"type" enums:"chatId,thinking,content,end,error"`
	ChatID    string `json:"chatId,omitempty"`
	Content   string `json:"content,omitempty"`
	Title     string `json:"title,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// CRLF/CR become LF, runs of blank lines collapse, surrounding space goes.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// bindTurn parses and validates a turn. It writes the 400 itself.
func (h *Handlers) bindTurn(c *gin.Context) (services.SendInput, bool) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "消息不能为空")
		return services.SendInput{}, false
	}
	msg := sanitizeContent(req.Message)
	if msg == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "消息不能为空")
		return services.SendInput{}, false
	}
	in := services.SendInput{
		ChatID:      strings.TrimSpace(req.ChatID),
		Message:     msg,
		UseSearch:   req.UseSearch,
		UseThinking: req.UseThinking,
	}
	// only files we actually stored may reach the model
	if len(req.Attachments) > 0 && h.Uploads != nil {
		in.Attachments = h.Uploads.Resolve(c.Request.Context(), req.Attachments)
	}
	return in, true
}

// sendError maps MessageService errors to responses.
func sendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "消息不能为空")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "消息太长啦，分几次说好不好？")
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		_ = c.Error(err)
		c.Abort()
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeSendFailed, "发送消息失败，请稍后重试", err)
	}
}

// replay rebuilds a recorded turn from the chat store.
func (h *Handlers) replay(ctx context.Context, uid string, rec *domain.Idempotency) (*services.SendResult, bool) {
	ch, err := h.Chats.Get(ctx, uid, rec.ChatID)
	if err != nil {
		return nil, false
	}
	for i, m := range ch.Messages {
		if m.ID != rec.MessageID {
			continue
		}
		res := &services.SendResult{ChatID: ch.ID, Title: ch.Title, Reply: m}
		for j := i - 1; j >= 0; j-- {
			if ch.Messages[j].Role == domain.RoleUser {
				res.UserMessage = ch.Messages[j]
				break
			}
		}
		return res, true
	}
	return nil, false
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message and get the reply
// @Description Stores the user message, builds the reply (optional web search, deep thinking, weather and attachments)
// @Description and stores it too. Upstream failures yield a friendly fallback reply with `error: true`, not an HTTP error.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Chat
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string                        false "Idempotency key for safe retries"
// @Param       body             body    handlers.SendMessageRequest   true  "User turn"
// @Success     200  {object}  handlers.SuccessResponse{data=services.SendResult}
// @Header      200  {string}  Idempotency-Replayed  "true when served from a previous identical request"
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or too long message"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/send [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	in, valid := h.bindTurn(c)
	if !valid {
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	idemUser, scope := middleware.IdempotencyUser(c), middleware.IdempotencyScope(c)
	if idemKey != "" && h.Idempotency != nil {
		if rec, err := h.Idempotency.Get(ctx, idemUser, scope, idemKey, h.now().UTC()); err == nil && rec != nil {
			if prev, found := h.replay(ctx, uid, rec); found {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	res, err := h.Messages.Send(ctx, uid, in)
	if err != nil {
		sendError(c, err)
		return
	}

	// fallback replies are not recorded so a retry can still get a real answer
	if idemKey != "" && h.Idempotency != nil && !res.Reply.Error {
		err := h.Idempotency.Put(ctx, repo.IdemRecord{
			UserID:    idemUser,
			Scope:     scope,
			Key:       idemKey,
			ChatID:    res.ChatID,
			MessageID: res.Reply.ID,
			Status:    http.StatusOK,
		})
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
		}
	}

	ok(c, http.StatusOK, res)
}

// sseWriter frames payloads as `data: <json>\n\n` and flushes each one.
type sseWriter struct {
	c       *gin.Context
	started bool
}

func (w *sseWriter) send(p StreamPayload) error {
	if !w.started {
		h := w.c.Writer.Header()
		h.Set("Content-Type", "text/event-stream; charset=utf-8")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.c.Status(http.StatusOK)
		w.started = true
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", b); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return w.c.Request.Context().Err()
}

// StreamMessage godoc
// @ID          streamMessage
// @Summary     Send a message and stream the reply
// @Description Server-sent events, one JSON object per `data:` line. Order: `chatId`, then `thinking` and `content`
// @Description deltas, then `end` (with the final title and message id). `error` replaces `end` when the turn fails
// @Description after streaming started. Validation errors are answered as plain JSON before the stream opens.
// @Tags        Chat
// @Accept      json
// @Produce     text/event-stream
// @Security    BearerAuth
// @Param       body  body  handlers.SendMessageRequest  true  "User turn"
// @Success     200  {object}  handlers.StreamPayload  "One event per data line"
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or too long message"
// @Router      /chat/stream [post]
func (h *Handlers) StreamMessage(c *gin.Context) {
	in, valid := h.bindTurn(c)
	if !valid {
		return
	}

	w := &sseWriter{c: c}
	res, err := h.Messages.Stream(c.Request.Context(), userID(c), in, func(ev services.StreamEvent) error {
		p := StreamPayload{Type: ev.Type, Content: ev.Content}
		if ev.Type == services.EventChatID {
			p = StreamPayload{Type: ev.Type, ChatID: ev.Content}
		}
		return w.send(p)
	})
	if err != nil {
		if !w.started {
			sendError(c, err)
			return
		}
		_ = c.Error(err)
		if c.Request.Context().Err() == nil {
			_ = w.send(StreamPayload{Type: services.EventError, Error: "聊天失败"})
		}
		return
	}
	_ = w.send(StreamPayload{
		Type:      services.EventEnd,
		ChatID:    res.ChatID,
		Title:     res.Title,
		MessageID: res.Reply.ID,
	})
}
