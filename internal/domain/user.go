package domain

import "time"

// User is an account persisted in users.json, keyed by lowercased email.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"password"`
	IsVerified   bool       `json:"isVerified"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt"`
}

// PublicUser is the account view returned to clients.
type PublicUser struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	IsVerified  bool       `json:"isVerified"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Public returns the client-safe view of u.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		IsVerified:  u.IsVerified,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// VerificationCode is a one-time email code persisted in
// verification_codes.json, keyed by email.
type VerificationCode struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
}

// Expired reports whether the code is past its expiry at now.
func (v VerificationCode) Expired(now time.Time) bool { return now.After(v.ExpiresAt) }

// UserStats summarizes the account store.
type UserStats struct {
	TotalUsers      int `json:"totalUsers"`
	VerifiedUsers   int `json:"verifiedUsers"`
	UnverifiedUsers int `json:"unverifiedUsers"`
}
