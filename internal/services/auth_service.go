package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/aixiaozi/go-kids-chat/internal/config"
	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/mail"
	"github.com/aixiaozi/go-kids-chat/internal/repo"
)

const (
	minPasswordLen = 6
	bcryptCost     = 10
	welcomeTimeout = 30 * time.Second
)

var emailRE = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail reports whether email has the shape local@domain.tld.
func IsValidEmail(email string) bool { return emailRE.MatchString(strings.TrimSpace(email)) }

// GenerateVerificationCode returns a random six digit code.
func GenerateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// UserRepo is the account persistence AuthService needs. *repo.UserStore
// implements it.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	TouchLogin(ctx context.Context, email string, at time.Time) (*domain.User, error)
	Stats(ctx context.Context) (domain.UserStats, error)
	SaveCode(ctx context.Context, email, code string, now time.Time, ttl time.Duration) error
	ConsumeCode(ctx context.Context, email, code string, now time.Time) error
	CleanupExpiredCodes(ctx context.Context, now time.Time) (int, error)
}

// Claims are the JWT claims issued on register and login.
type Claims struct {
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	IsVerified bool   `json:"isVerified"`
	jwt.RegisteredClaims
}

// AuthResult is what register and login return.
type AuthResult struct {
	User  domain.PublicUser `json:"user"`
	Token string            `json:"token"`
}

// AuthService implements email-code registration, password login and token
// verification.
type AuthService struct {
	Users  UserRepo
	Mailer mail.Mailer
	Cfg    config.AuthConfig

	now     func() time.Time
	genCode func() (string, error)
	async   func(func())
}

// NewAuthService constructs an AuthService.
func NewAuthService(users UserRepo, m mail.Mailer, cfg config.AuthConfig) *AuthService {
	return &AuthService{
		Users:   users,
		Mailer:  m,
		Cfg:     cfg,
		now:     time.Now,
		genCode: GenerateVerificationCode,
		async:   func(f func()) { go f() },
	}
}

// CheckEmail reports whether an account exists for email.
func (s *AuthService) CheckEmail(ctx context.Context, email string) (bool, error) {
	if !IsValidEmail(email) {
		return false, ErrInvalidEmail
	}
	_, err := s.Users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repo.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// SendVerificationCode stores a fresh code for email and mails it. The
// stored code stays valid when delivery fails.
func (s *AuthService) SendVerificationCode(ctx context.Context, email string) error {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "SendVerificationCode")
	defer span.End()

	if !IsValidEmail(email) {
		return ErrInvalidEmail
	}
	code, err := s.genCode()
	if err != nil {
		return err
	}
	if err := s.Users.SaveCode(ctx, email, code, s.now(), s.Cfg.CodeTTL); err != nil {
		return fmt.Errorf("%w: %w", ErrCodeNotSaved, err)
	}
	if err := s.Mailer.SendVerificationCode(ctx, normalizeEmail(email), code); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// VerifyCode consumes a code without creating an account. Failures wrap
// ErrVerificationFailed together with the repo cause.
func (s *AuthService) VerifyCode(ctx context.Context, email, code string) error {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(code) == "" {
		return ErrMissingFields
	}
	if err := s.Users.ConsumeCode(ctx, email, code, s.now()); err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	return nil
}

// Register creates a verified account after consuming the code and sends a
// welcome mail in the background.
func (s *AuthService) Register(ctx context.Context, email, password, code string) (*AuthResult, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Register")
	defer span.End()

	if strings.TrimSpace(email) == "" || password == "" || strings.TrimSpace(code) == "" {
		return nil, ErrMissingFields
	}
	if !IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len([]rune(password)) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	if err := s.VerifyCode(ctx, email, code); err != nil {
		return nil, err
	}
	if exists, err := s.CheckEmail(ctx, email); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &domain.User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: string(hash),
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Users.Create(ctx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))

	s.sendWelcome(ctx, u.Email)

	tok, err := s.IssueToken(*u)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u.Public(), Token: tok}, nil
}

func (s *AuthService) sendWelcome(ctx context.Context, email string) {
	if s.Mailer == nil {
		return
	}
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	l := *logger
	name, _, _ := strings.Cut(email, "@")
	s.async(func() {
		ctx, cancel := context.WithTimeout(l.WithContext(context.Background()), welcomeTimeout)
		defer cancel()
		if err := s.Mailer.SendWelcome(ctx, email, name); err != nil {
			l.Warn().Err(err).Msg("welcome mail failed")
		}
	})
}

// Login checks the password and returns the user with a fresh token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Login")
	defer span.End()

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrMissingFields
	}
	if !IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	u, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}
	if touched, err := s.Users.TouchLogin(ctx, u.Email, s.now()); err == nil {
		u = touched
	} else {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("update last login failed")
	}

	tok, err := s.IssueToken(*u)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u.Public(), Token: tok}, nil
}

// GetByID returns the public view of a user.
func (s *AuthService) GetByID(ctx context.Context, id string) (*domain.PublicUser, error) {
	u, err := s.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	p := u.Public()
	return &p, nil
}

// Stats summarizes accounts.
func (s *AuthService) Stats(ctx context.Context) (domain.UserStats, error) {
	return s.Users.Stats(ctx)
}

// CleanupCodes removes expired verification codes.
func (s *AuthService) CleanupCodes(ctx context.Context) (int, error) {
	n, err := s.Users.CleanupExpiredCodes(ctx, s.now())
	if err == nil && n > 0 {
		zerolog.Ctx(ctx).Info().Int("removed", n).Msg("expired verification codes removed")
	}
	return n, err
}

// IssueToken signs an HS256 token for u.
func (s *AuthService) IssueToken(u domain.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:     u.ID,
		Email:      u.Email,
		IsVerified: u.IsVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Cfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.Cfg.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Cfg.JWTSecret))
}

// VerifyToken parses and validates a token. Only HS256 is accepted.
func (s *AuthService) VerifyToken(ctx context.Context, raw string) (*Claims, error) {
	_, span := otel.Tracer("services/AuthService").Start(ctx, "VerifyToken",
		trace.WithAttributes(attribute.Int("token.len", len(raw))),
	)
	defer span.End()

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.Cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Cfg.JWTIssuer))
	}
	var c Claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return []byte(s.Cfg.JWTSecret), nil
	}, opts...)
	if err != nil || !tok.Valid || c.UserID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &c, nil
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }
