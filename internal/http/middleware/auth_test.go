package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func fakeAuth(_ context.Context, token string) (Identity, error) {
	switch token {
	case "good":
		return Identity{UserID: "u1", Email: "kid@example.com", IsVerified: true}, nil
	case "orphan":
		return Identity{}, ErrUnknownUser
	default:
		return Identity{}, errors.New("bad signature")
	}
}

func authRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/me", func(c *gin.Context) {
		id, _ := IdentityFrom(c)
		c.JSON(http.StatusOK, gin.H{"user": UserID(c), "email": id.Email})
	})
	return r
}

func doAuth(r *gin.Engine, header string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestRequireAuth(t *testing.T) {
	r := authRouter(RequireAuth(fakeAuth))

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "TOKEN_MISSING"},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, "TOKEN_MISSING"},
		{"invalid", "Bearer nope", http.StatusForbidden, "TOKEN_INVALID"},
		{"deleted user", "Bearer orphan", http.StatusForbidden, "USER_NOT_FOUND"},
		{"ok", "Bearer good", http.StatusOK, ""},
		{"case-insensitive scheme", "bearer good", http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := doAuth(r, tc.header)
			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if tc.code != "" {
				if body["code"] != tc.code || body["success"] != false {
					t.Fatalf("body = %v; want code %s", body, tc.code)
				}
				return
			}
			if body["user"] != "u1" || body["email"] != "kid@example.com" {
				t.Fatalf("identity not set: %v", body)
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	r := authRouter(OptionalAuth(fakeAuth))

	for _, h := range []string{"", "Bearer nope", "Bearer orphan"} {
		w, body := doAuth(r, h)
		if w.Code != http.StatusOK || body["user"] != "" {
			t.Fatalf("header %q: status=%d body=%v; want guest", h, w.Code, body)
		}
	}
	if _, body := doAuth(r, "Bearer good"); body["user"] != "u1" {
		t.Fatalf("valid token should identify the caller: %v", body)
	}
}
