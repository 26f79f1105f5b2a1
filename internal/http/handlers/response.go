// Package handlers implements the public API on Gin.
//
// Every JSON body carries a boolean "success", which the web client branches
// on. Errors add a stable "code" and the request id; successes carry their
// payload in "data" and sometimes a child-friendly "message":
//
//	{"success":false,"request_id":"123e4567-...","code":"not_found","message":"聊天不存在"}
//	{"success":true,"data":{"id":"abc123","title":"新对话"}}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aixiaozi/go-kids-chat/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Always false
	Success bool `json:"success" example:"false"`
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to children)
	Message string `json:"message" example:"聊天不存在"`
}

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message,omitempty" example:"耶！登录成功啦！"`
	Data    any    `json:"data,omitempty" swaggertype:"object"`
}

// fail aborts with the error envelope. 5xx responses are logged with the
// last recorded cause, which never reaches the client.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		ev := lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg)
		if len(c.Errors) > 0 {
			ev = ev.Str("cause", c.Errors.Last().Error())
		}
		ev.Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// failErr records err on the context so it reaches the access log, then
// fails with msg. Use it instead of putting err.Error() in a client message.
func failErr(c *gin.Context, status int, code, msg string, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	fail(c, status, code, msg)
}

// Fail is the exported variant of fail(), used by the router for 404/405.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success envelope around data.
func ok(c *gin.Context, status int, data any) {
	c.JSON(status, SuccessResponse{Success: true, Data: data})
}

// okMsg writes a success envelope with a message for the child.
func okMsg(c *gin.Context, status int, msg string, data any) {
	c.JSON(status, SuccessResponse{Success: true, Message: msg, Data: data})
}
