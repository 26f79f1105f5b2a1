package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Gin keys set by the auth middleware.
const (
	userIDKey   = "userID"
	identityKey = "identity"
)

// ErrUnknownUser is returned by an Authenticator when the token is valid but
// its account no longer exists.
var ErrUnknownUser = errors.New("unknown user")

// Identity is the authenticated caller.
type Identity struct {
	UserID     string
	Email      string
	IsVerified bool
}

// Authenticator turns a bearer token into an Identity.
type Authenticator func(ctx context.Context, token string) (Identity, error)

// bearer extracts the token from "Authorization: Bearer <token>".
func bearer(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func setIdentity(c *gin.Context, id Identity) {
	c.Set(userIDKey, id.UserID)
	c.Set(identityKey, id)
}

func authFail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":    false,
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}

// RequireAuth rejects requests without a valid token: 401 TOKEN_MISSING when
// absent, 403 TOKEN_INVALID or USER_NOT_FOUND otherwise.
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearer(c)
		if tok == "" {
			authFail(c, http.StatusUnauthorized, "TOKEN_MISSING", "访问令牌缺失")
			return
		}
		id, err := auth(c.Request.Context(), tok)
		switch {
		case errors.Is(err, ErrUnknownUser):
			authFail(c, http.StatusForbidden, "USER_NOT_FOUND", "用户不存在")
			return
		case err != nil:
			LoggerFrom(c).Debug().Err(err).Msg("token rejected")
			authFail(c, http.StatusForbidden, "TOKEN_INVALID", "访问令牌无效或已过期")
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

// OptionalAuth identifies the caller when a valid token is present and
// otherwise lets the request through as a guest.
func OptionalAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tok := bearer(c); tok != "" {
			if id, err := auth(c.Request.Context(), tok); err == nil {
				setIdentity(c, id)
			}
		}
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" for guests.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IdentityFrom returns the caller set by RequireAuth or OptionalAuth.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
