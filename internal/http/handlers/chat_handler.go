// Chat HTTP handlers.
//
// This file exposes the chat thread endpoints:
//   - GET    /chat/history        (grouped history, or a page of summaries)
//   - POST   /chat/new            (create)
//   - GET    /chat/{chatId}       (one chat with its messages)
//   - PUT    /chat/{chatId}/title (rename)
//   - DELETE /chat/{chatId}       (delete)
//   - DELETE /chat/batch/delete   (bulk delete)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
// Guests (no token) share one bucket of chats.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/http/middleware"
	"github.com/aixiaozi/go-kids-chat/internal/mail"
	"github.com/aixiaozi/go-kids-chat/internal/repo"
	"github.com/aixiaozi/go-kids-chat/internal/search"
	"github.com/aixiaozi/go-kids-chat/internal/services"
	"github.com/aixiaozi/go-kids-chat/internal/utils"
	"github.com/aixiaozi/go-kids-chat/internal/weather"
)

//
// Service contracts (context-aware)
//

// ChatService defines chat lifecycle operations consumed by HTTP handlers.
type ChatService interface {
	Create(ctx context.Context, userID, title string) (*domain.Chat, error)
	Get(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ChatSummary, int64, error)
	History(ctx context.Context, userID string) (domain.HistoryGroups, error)
	UpdateTitle(ctx context.Context, userID, chatID, title string) error
	Delete(ctx context.Context, userID, chatID string) error
	DeleteMany(ctx context.Context, userID string, ids []string) (int, error)
}

// MessageService runs one chat turn, whole or streamed.
type MessageService interface {
	Send(ctx context.Context, userID string, in services.SendInput) (*services.SendResult, error)
	Stream(ctx context.Context, userID string, in services.SendInput, emit func(services.StreamEvent) error) (*services.SendResult, error)
}

// IdempotencyStore remembers which chat message answered a keyed request.
type IdempotencyStore interface {
	Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error)
	Put(ctx context.Context, rec repo.IdemRecord) error
}

// AuthService covers the account flows.
type AuthService interface {
	CheckEmail(ctx context.Context, email string) (bool, error)
	SendVerificationCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) error
	Register(ctx context.Context, email, password, code string) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	GetByID(ctx context.Context, id string) (*domain.PublicUser, error)
	Stats(ctx context.Context) (domain.UserStats, error)
	CleanupCodes(ctx context.Context) (int, error)
}

// UploadService stores and serves uploaded files.
type UploadService interface {
	Save(ctx context.Context, ownerID string, files []*multipart.FileHeader, maxFiles int) ([]domain.Attachment, error)
	Path(filename string) (string, error)
	Lookup(ctx context.Context, filename string) (*domain.UploadedFile, error)
	Resolve(ctx context.Context, in []domain.Attachment) []domain.Attachment
	List(ctx context.Context) ([]domain.Attachment, error)
	ListETag(ctx context.Context) (string, error)
	Delete(ctx context.Context, ownerID, filename string) error
	LimitText() string
}

// VoiceService transcribes and translates.
type VoiceService interface {
	Status() services.VoiceStatus
	ValidateAudio(filename string, size int64) error
	Transcribe(ctx context.Context, filename string, audio io.Reader, size int64, translate bool) (*services.Transcript, error)
	Translate(ctx context.Context, text string) (*services.Translation, error)
}

// WeatherService resolves city weather.
type WeatherService interface {
	Get(ctx context.Context, city string) domain.Weather
	Batch(ctx context.Context, cities []string) []weather.BatchEntry
	DefaultCity() string
}

// SearchService is the raw web search plus its configuration.
type SearchService interface {
	search.Searcher
	Status() search.Status
}

//
// Handler wiring
//

// Deps are the services behind the handlers. Any of them may be nil in tests
// that do not touch the matching routes.
type Deps struct {
	Chats       ChatService
	Messages    MessageService
	Idempotency IdempotencyStore
	Auth        AuthService
	Mailer      mail.Mailer
	Uploads     UploadService
	Voice       VoiceService
	Weather     WeatherService
	Search      SearchService

	// IdempotencyTTL bounds how long a keyed send can be replayed.
	IdempotencyTTL time.Duration
	// MaxUploadFiles caps POST /upload.
	MaxUploadFiles int
}

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	Deps
	now func() time.Time
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	if d.IdempotencyTTL <= 0 {
		d.IdempotencyTTL = 24 * time.Hour
	}
	if d.MaxUploadFiles <= 0 {
		d.MaxUploadFiles = 10
	}
	return &Handlers{Deps: d, now: time.Now}
}

// userID is the authenticated user id, or "" for guests.
func userID(c *gin.Context) string { return middleware.UserID(c) }

//
// DTOs
//

// CreateChatRequest is the JSON payload for creating a chat.
type CreateChatRequest struct {
	// Title optionally sets the chat title; a default is used when empty.
	Title string `json:"title" example:"恐龙的故事"`
}

// UpdateChatTitleRequest is the JSON payload for updating a chat title.
type UpdateChatTitleRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255" example:"恐龙为什么会灭绝"`
}

// BatchDeleteRequest lists the chats to remove.
type BatchDeleteRequest struct {
	ChatIDs []string `json:"chatIds" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// BatchDeleteResponse reports how many chats existed and were removed.
type BatchDeleteResponse struct {
	DeletedCount int `json:"deletedCount" example:"2"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListChatsResponse wraps a page of chat summaries and pagination information.
type ListChatsResponse struct {
	Chats      []domain.ChatSummary `json:"chats"`
	Pagination Pagination           `json:"pagination"`
}

//
// Helpers
//

// clampPagination reads the page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"))
	return p.Number, p.Size
}

// chatIDRE accepts UUIDs and the shorter ids of chats imported from older data.
var chatIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validChatID(id string) bool { return chatIDRE.MatchString(id) }

//
// Handlers
//

// ChatHistory godoc
// @ID          chatHistory
// @Summary     Chat history
// @Description Without `page`, returns the caller's chats grouped into today / week / month / earlier (by YYYY-MM).
// @Description With `page`, returns one page of chat summaries, newest first.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       page       query   int     false "Page number"     minimum(1)
// @Param       page_size  query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.SuccessResponse{data=domain.HistoryGroups}
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/history [get]
func (h *Handlers) ChatHistory(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	if c.Query("page") == "" {
		groups, err := h.Chats.History(ctx, uid)
		if err != nil {
			failErr(c, http.StatusInternalServerError, ErrCodeListFailed, "获取聊天历史失败", err)
			return
		}
		ok(c, http.StatusOK, groups)
		return
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.Chats.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeListFailed, "获取聊天历史失败", err)
		return
	}
	totalPages := utils.Page{Number: page, Size: pageSize}.TotalPages(total)
	ok(c, http.StatusOK, ListChatsResponse{
		Chats: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// CreateChat godoc
// @ID          createChat
// @Summary     Create a new chat
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.CreateChatRequest  false  "Optional title"
// @Success     200  {object}  handlers.SuccessResponse{data=domain.Chat}
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/new [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	// an empty body is a chat with the default title
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "请求格式不正确")
			return
		}
	}

	ch, err := h.Chats.Create(c.Request.Context(), userID(c), strings.TrimSpace(req.Title))
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeCreateFailed, "创建新聊天失败", err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat with its messages
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       chatId  path  string  true  "Chat ID"
// @Success     200  {object}  handlers.SuccessResponse{data=domain.Chat}
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/{chatId} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	chatID := c.Param("chatId")
	if !validChatID(chatID) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "聊天不存在")
		return
	}
	ch, err := h.Chats.Get(c.Request.Context(), userID(c), chatID)
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "聊天不存在")
		return
	case err != nil:
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "获取聊天失败", err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// UpdateChatTitle godoc
// @ID          updateChatTitle
// @Summary     Rename a chat
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       chatId  path  string                           true  "Chat ID"
// @Param       body    body  handlers.UpdateChatTitleRequest  true  "New title"
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Chat not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /chat/{chatId}/title [put]
func (h *Handlers) UpdateChatTitle(c *gin.Context) {
	chatID := c.Param("chatId")
	if !validChatID(chatID) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "聊天不存在")
		return
	}

	var req UpdateChatTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "标题不能为空")
		return
	}

	err := h.Chats.UpdateTitle(c.Request.Context(), userID(c), chatID, req.Title)
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "聊天不存在")
		return
	case err != nil:
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "修改标题失败", err)
		return
	}
	okMsg(c, http.StatusOK, "标题修改成功", nil)
}

// DeleteChat godoc
// @ID          deleteChat
// @Summary     Delete a chat
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       chatId  path  string  true  "Chat ID"
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     404  {object}  handlers.ErrorResponse "Chat not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /chat/{chatId} [delete]
func (h *Handlers) DeleteChat(c *gin.Context) {
	chatID := c.Param("chatId")
	if !validChatID(chatID) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "聊天不存在")
		return
	}
	err := h.Chats.Delete(c.Request.Context(), userID(c), chatID)
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "聊天不存在")
		return
	case err != nil:
		failErr(c, http.StatusInternalServerError, ErrCodeDeleteFailed, "删除聊天失败", err)
		return
	}
	okMsg(c, http.StatusOK, "聊天删除成功", nil)
}

// BatchDeleteChats godoc
// @ID          batchDeleteChats
// @Summary     Delete several chats
// @Description Unknown ids are skipped; deletedCount counts the chats that existed.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.BatchDeleteRequest  true  "Chat ids"
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.BatchDeleteResponse}
// @Failure     400  {object}  handlers.ErrorResponse "No ids"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /chat/batch/delete [delete]
func (h *Handlers) BatchDeleteChats(c *gin.Context) {
	var req BatchDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.ChatIDs) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "请提供要删除的聊天ID列表")
		return
	}
	n, err := h.Chats.DeleteMany(c.Request.Context(), userID(c), req.ChatIDs)
	switch {
	case errors.Is(err, services.ErrNoChatIDs):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "请提供要删除的聊天ID列表")
		return
	case err != nil:
		failErr(c, http.StatusInternalServerError, ErrCodeDeleteFailed, "批量删除聊天失败", err)
		return
	}
	okMsg(c, http.StatusOK, fmt.Sprintf("成功删除 %d 个聊天", n), BatchDeleteResponse{DeletedCount: n})
}
