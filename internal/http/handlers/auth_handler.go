package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/http/middleware"
	"github.com/aixiaozi/go-kids-chat/internal/mail"
	"github.com/aixiaozi/go-kids-chat/internal/repo"
	"github.com/aixiaozi/go-kids-chat/internal/services"
)

// Child-facing texts shared by several account routes.
const (
	msgEmailMissing   = "小朋友，记得要填写邮箱地址哦！"
	msgEmailInvalid   = "小朋友，邮箱地址好像写得不太对呢，记得要有@符号哦！"
	msgBusy           = "小朋友，系统现在有点忙呢，等一下再试试好吗？"
	msgCodeNotFound   = "小朋友，验证码好像不对或者过期了呢，重新获取一个试试吧！"
	msgCodeUsed       = "小朋友，这个验证码已经用过了呢，重新获取一个新的吧！"
	msgCodeExpired    = "小朋友，验证码超时了呢，重新获取一个新的试试吧！"
	msgCodeMismatch   = "小朋友，验证码好像不太对呢，仔细检查一下邮箱里的数字吧！"
	msgUserExists     = "小朋友，这个邮箱已经有其他小朋友在用了呢，换一个试试吧！"
	msgUserNotFound   = "小朋友，这个邮箱还没有注册过呢，先去注册一个账户吧！"
	msgWrongPassword  = "小朋友，密码好像不太对呢，仔细想想看哦！"
	msgWeakPassword   = "小朋友，密码要至少6位数哦！这样更安全呢~"
	msgRegisterFailed = "小朋友，注册时遇到了小问题，等一下再试试好吗？"
)

//
// DTOs
//

// EmailRequest carries just an email address.
type EmailRequest struct {
	Email string `json:"email" example:"xiaoming@example.com"`
}

// VerifyCodeRequest checks a verification code.
type VerifyCodeRequest struct {
	Email string `json:"email" example:"xiaoming@example.com"`
	Code  string `json:"code" example:"123456"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Email            string `json:"email" example:"xiaoming@example.com"`
	Password         string `json:"password" example:"secret123"`
	VerificationCode string `json:"verificationCode" example:"123456"`
}

// LoginRequest signs in.
type LoginRequest struct {
	Email    string `json:"email" example:"xiaoming@example.com"`
	Password string `json:"password" example:"secret123"`
}

// CheckEmailResponse says whether an address is taken.
type CheckEmailResponse struct {
	Exists bool   `json:"exists"`
	Email  string `json:"email"`
}

// MeResponse wraps the current user.
type MeResponse struct {
	User *domain.PublicUser `json:"user"`
}

// StatsResponse is the account and mail overview.
type StatsResponse struct {
	UserStats    domain.UserStats `json:"userStats"`
	EmailService mail.Status      `json:"emailService"`
	CurrentTime  time.Time        `json:"currentTime"`
}

// CleanupResponse reports removed verification codes.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

//
// Helpers
//

// codeMessage explains a failed verification.
func codeMessage(err error) string {
	switch {
	case errors.Is(err, repo.ErrCodeUsed):
		return msgCodeUsed
	case errors.Is(err, repo.ErrCodeExpired):
		return msgCodeExpired
	case errors.Is(err, repo.ErrCodeMismatch):
		return msgCodeMismatch
	default:
		return msgCodeNotFound
	}
}

// checkEmail validates presence and shape and writes the 400 itself.
func checkEmail(c *gin.Context, email, missingMsg string) bool {
	switch {
	case strings.TrimSpace(email) == "":
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, missingMsg)
		return false
	case !services.IsValidEmail(email):
		fail(c, http.StatusBadRequest, ErrCodeInvalidEmail, msgEmailInvalid)
		return false
	}
	return true
}

//
// Handlers
//

// CheckEmail godoc
// @ID          checkEmail
// @Summary     Is this email registered?
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.EmailRequest  true  "Email"
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.CheckEmailResponse}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /auth/check-email [post]
func (h *Handlers) CheckEmail(c *gin.Context) {
	var req EmailRequest
	_ = c.ShouldBindJSON(&req)
	if !checkEmail(c, req.Email, msgEmailMissing) {
		return
	}
	exists, err := h.Auth.CheckEmail(c.Request.Context(), req.Email)
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, msgBusy, err)
		return
	}
	ok(c, http.StatusOK, CheckEmailResponse{Exists: exists, Email: req.Email})
}

// SendVerificationCode godoc
// @ID          sendVerificationCode
// @Summary     Email a six-digit verification code
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.EmailRequest  true  "Email"
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Code not saved or mail failed"
// @Failure     503  {object}  handlers.ErrorResponse  "Mail not configured"
// @Router      /auth/send-verification-code [post]
func (h *Handlers) SendVerificationCode(c *gin.Context) {
	var req EmailRequest
	_ = c.ShouldBindJSON(&req)
	if !checkEmail(c, req.Email, "小朋友，记得先填写邮箱地址哦！这样我们才能给你发验证码~") {
		return
	}
	err := h.Auth.SendVerificationCode(c.Request.Context(), req.Email)
	switch {
	case err == nil:
		okMsg(c, http.StatusOK, "太棒了！验证码已经飞到你的邮箱里啦！快去看看吧~", nil)
	case errors.Is(err, services.ErrInvalidEmail):
		fail(c, http.StatusBadRequest, ErrCodeInvalidEmail, msgEmailInvalid)
	case errors.Is(err, services.ErrCodeNotSaved):
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "哎呀，验证码保存时遇到了小问题，我们再试一次吧！", err)
	case errors.Is(err, mail.ErrNotConfigured):
		failErr(c, http.StatusServiceUnavailable, ErrCodeUnavailable, mail.UserMessage(err), err)
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeMailFailed, mail.UserMessage(err), err)
	}
}

// VerifyCode godoc
// @ID          verifyCode
// @Summary     Check and consume a verification code
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.VerifyCodeRequest  true  "Email and code"
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /auth/verify-code [post]
func (h *Handlers) VerifyCode(c *gin.Context) {
	var req VerifyCodeRequest
	_ = c.ShouldBindJSON(&req)
	err := h.Auth.VerifyCode(c.Request.Context(), req.Email, req.Code)
	switch {
	case err == nil:
		okMsg(c, http.StatusOK, "太棒了！验证码验证成功啦！", nil)
	case errors.Is(err, services.ErrMissingFields):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "小朋友，记得要填写邮箱和验证码哦！")
	case errors.Is(err, services.ErrVerificationFailed):
		fail(c, http.StatusBadRequest, ErrCodeVerificationFailed, codeMessage(err))
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "小朋友，验证码验证时遇到了小问题，等一下再试试好吗？", err)
	}
}

// Register godoc
// @ID          register
// @Summary     Create an account
// @Description Consumes the verification code, creates a verified account and returns a token.
// @Description A welcome mail is sent in the background.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.RegisterRequest  true  "Account"
// @Success     201  {object}  handlers.SuccessResponse{data=services.AuthResult}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	_ = c.ShouldBindJSON(&req)
	res, err := h.Auth.Register(c.Request.Context(), req.Email, req.Password, req.VerificationCode)
	switch {
	case err == nil:
		okMsg(c, http.StatusCreated, "哇！注册成功啦！欢迎小朋友加入AI小子大家庭！", res)
	case errors.Is(err, services.ErrMissingFields):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "小朋友，邮箱、密码和验证码都要填写哦！缺一不可呢~")
	case errors.Is(err, services.ErrInvalidEmail):
		fail(c, http.StatusBadRequest, ErrCodeInvalidEmail, msgEmailInvalid)
	case errors.Is(err, services.ErrWeakPassword):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msgWeakPassword)
	case errors.Is(err, services.ErrVerificationFailed):
		fail(c, http.StatusBadRequest, ErrCodeVerificationFailed, codeMessage(err))
	case errors.Is(err, services.ErrUserExists):
		fail(c, http.StatusBadRequest, ErrCodeUserExists, msgUserExists)
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, msgRegisterFailed, err)
	}
}

// Login godoc
// @ID          login
// @Summary     Sign in with email and password
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
// @Success     200  {object}  handlers.SuccessResponse{data=services.AuthResult}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	_ = c.ShouldBindJSON(&req)
	res, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		okMsg(c, http.StatusOK, "耶！登录成功啦！", res)
	case errors.Is(err, services.ErrMissingFields):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "小朋友，邮箱和密码都要填写哦！")
	case errors.Is(err, services.ErrInvalidEmail):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidEmail, msgEmailInvalid)
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusUnauthorized, ErrCodeUserNotFound, msgUserNotFound)
	case errors.Is(err, services.ErrWrongPassword):
		fail(c, http.StatusUnauthorized, ErrCodeWrongPassword, msgWrongPassword)
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "小朋友，登录时遇到了小问题，等一下再试试好吗？", err)
	}
}

// Me godoc
// @ID          me
// @Summary     Current user
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.MeResponse}
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.Auth.GetByID(c.Request.Context(), userID(c))
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusForbidden, ErrCodeUserNotFound, "用户不存在")
		return
	case err != nil:
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "小朋友，获取信息时遇到了小问题，等一下再试试好吗？", err)
		return
	}
	ok(c, http.StatusOK, MeResponse{User: u})
}

// Logout godoc
// @ID          logout
// @Summary     Sign out
// @Description Tokens are stateless; the client drops its token.
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.SuccessResponse
// @Router      /auth/logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	if id, found := middleware.IdentityFrom(c); found {
		middleware.LoggerFrom(c).Info().Str("user_id", id.UserID).Msg("logout")
	}
	okMsg(c, http.StatusOK, "再见啦小朋友！期待下次再见哦~", nil)
}

// AuthStats godoc
// @ID          authStats
// @Summary     Account and mail overview
// @Tags        Auth
// @Produce     json
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.StatsResponse}
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /auth/stats [get]
func (h *Handlers) AuthStats(c *gin.Context) {
	st, err := h.Auth.Stats(c.Request.Context())
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "小朋友，系统信息获取时遇到了小问题，等一下再试试好吗？", err)
		return
	}
	resp := StatsResponse{UserStats: st, CurrentTime: h.now().UTC()}
	if h.Mailer != nil {
		resp.EmailService = h.Mailer.Status()
	}
	ok(c, http.StatusOK, resp)
}

// CleanupCodes godoc
// @ID          cleanupCodes
// @Summary     Remove expired verification codes
// @Tags        Auth
// @Produce     json
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.CleanupResponse}
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /auth/cleanup-codes [post]
func (h *Handlers) CleanupCodes(c *gin.Context) {
	n, err := h.Auth.CleanupCodes(c.Request.Context())
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "小朋友，系统清理时遇到了小问题，但不影响使用哦！", err)
		return
	}
	okMsg(c, http.StatusOK, "系统清理完成啦！环境更干净了呢~", CleanupResponse{Removed: n})
}
