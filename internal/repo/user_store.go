package repo

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
)

// Verification code failures, in the order they are checked.
var (
	ErrCodeNotFound = errors.New("verification code not found")
	ErrCodeUsed     = errors.New("verification code already used")
	ErrCodeExpired  = errors.New("verification code expired")
	ErrCodeMismatch = errors.New("verification code mismatch")
)

// UserStore persists accounts in users.json (email -> user) and pending
// verification codes in verification_codes.json (email -> code). Emails are
// stored lowercased. A single mutex serializes all file access.
type UserStore struct {
	usersPath string
	codesPath string
	mu        sync.Mutex
}

// NewUserStore returns a store whose files live in dir.
func NewUserStore(dir string) *UserStore {
	return &UserStore{
		usersPath: filepath.Join(dir, "users.json"),
		codesPath: filepath.Join(dir, "verification_codes.json"),
	}
}

func normEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (s *UserStore) loadUsers() (map[string]*domain.User, error) {
	users := map[string]*domain.User{}
	return users, readJSON(s.usersPath, &users)
}

func (s *UserStore) loadCodes() (map[string]*domain.VerificationCode, error) {
	codes := map[string]*domain.VerificationCode{}
	return codes, readJSON(s.codesPath, &codes)
}

// GetByEmail returns the user or ErrNotFound.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return nil, err
	}
	u, ok := users[normEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

// GetByID scans for the user with the given id.
func (s *UserStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

// Create inserts u keyed by its lowercased email. An existing account yields
// ErrDuplicate.
func (s *UserStore) Create(ctx context.Context, u *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return err
	}
	u.Email = normEmail(u.Email)
	if _, ok := users[u.Email]; ok {
		return ErrDuplicate
	}
	users[u.Email] = u
	return writeJSON(s.usersPath, users)
}

// TouchLogin sets LastLoginAt and UpdatedAt and returns the updated user.
func (s *UserStore) TouchLogin(ctx context.Context, email string, at time.Time) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return nil, err
	}
	u, ok := users[normEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u.LastLoginAt = &at
	u.UpdatedAt = at
	if err := writeJSON(s.usersPath, users); err != nil {
		return nil, err
	}
	return u, nil
}

// Stats counts accounts by verification state.
func (s *UserStore) Stats(ctx context.Context) (domain.UserStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserStats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return domain.UserStats{}, err
	}
	var st domain.UserStats
	for _, u := range users {
		st.TotalUsers++
		if u.IsVerified {
			st.VerifiedUsers++
		}
	}
	st.UnverifiedUsers = st.TotalUsers - st.VerifiedUsers
	return st, nil
}

// SaveCode stores a fresh code for email, replacing any previous one.
func (s *UserStore) SaveCode(ctx context.Context, email, code string, now time.Time, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	codes, err := s.loadCodes()
	if err != nil {
		return err
	}
	codes[normEmail(email)] = &domain.VerificationCode{
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return writeJSON(s.codesPath, codes)
}

// ConsumeCode checks code against the stored one and marks it used on
// success. Failures are reported as ErrCodeNotFound, ErrCodeUsed,
// ErrCodeExpired or ErrCodeMismatch.
func (s *UserStore) ConsumeCode(ctx context.Context, email, code string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	codes, err := s.loadCodes()
	if err != nil {
		return err
	}
	rec, ok := codes[normEmail(email)]
	switch {
	case !ok:
		return ErrCodeNotFound
	case rec.Used:
		return ErrCodeUsed
	case rec.Expired(now):
		return ErrCodeExpired
	case rec.Code != strings.TrimSpace(code):
		return ErrCodeMismatch
	}
	rec.Used = true
	return writeJSON(s.codesPath, codes)
}

// CleanupExpiredCodes drops codes whose expiry is before now and returns how
// many were removed.
func (s *UserStore) CleanupExpiredCodes(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	codes, err := s.loadCodes()
	if err != nil {
		return 0, err
	}
	n := 0
	for email, rec := range codes {
		if rec.Expired(now) {
			delete(codes, email)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, writeJSON(s.codesPath, codes)
}
