package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/aixiaozi/go-kids-chat/internal/http/middleware"
)

// respond runs h behind RequestID with a captured request logger.
func respond(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	lg := zerolog.New(&buf)

	r := gin.New()
	r.Use(middleware.RequestID(), func(c *gin.Context) {
		c.Set("logger", &lg)
		c.Next()
	})
	r.GET("/x", h)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "rid-resp")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, &buf
}

func TestFailEnvelope(t *testing.T) {
	w, logs := respond(t, func(c *gin.Context) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "聊天不存在")
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	want := ErrorResponse{RequestID: "rid-resp", Code: ErrCodeNotFound, Message: "聊天不存在"}
	if diff := cmp.Diff(want, errorBody(t, w)); diff != "" {
		t.Fatalf("envelope (-want +got):\n%s", diff)
	}
	if logs.Len() != 0 {
		t.Fatalf("4xx should not log: %s", logs)
	}
}

func TestFailErr_LogsCauseNotSendsIt(t *testing.T) {
	w, logs := respond(t, func(c *gin.Context) {
		failErr(c, http.StatusInternalServerError, ErrCodeListFailed, "获取聊天历史失败", errors.New("open data/chats/guest.json: permission denied"))
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "permission denied") {
		t.Fatalf("cause leaked: %s", w.Body)
	}
	out := logs.String()
	for _, s := range []string{`"level":"error"`, `"status":500`, "permission denied", ErrCodeListFailed} {
		if !strings.Contains(out, s) {
			t.Errorf("log missing %s: %s", s, out)
		}
	}
}

func TestSuccessEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		h    gin.HandlerFunc
		code int
		body string
	}{
		{
			name: "data only",
			h:    func(c *gin.Context) { ok(c, http.StatusCreated, gin.H{"id": "c1"}) },
			code: http.StatusCreated,
			body: `{"success":true,"data":{"id":"c1"}}`,
		},
		{
			name: "message without data",
			h:    func(c *gin.Context) { okMsg(c, http.StatusOK, "文件删除成功", nil) },
			code: http.StatusOK,
			body: `{"success":true,"message":"文件删除成功"}`,
		},
		{
			name: "exported fail",
			h:    func(c *gin.Context) { Fail(c, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "不支持的请求方法") },
			code: http.StatusMethodNotAllowed,
			body: `{"success":false,"request_id":"rid-resp","code":"` + ErrCodeMethodNotAllowed + `","message":"不支持的请求方法"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := respond(t, tt.h)
			if w.Code != tt.code || w.Body.String() != tt.body {
				t.Fatalf("got %d %s", w.Code, w.Body)
			}
		})
	}
}
