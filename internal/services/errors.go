// Package services holds the business logic behind the HTTP surface:
// accounts, chats, replies, uploads and voice. Errors declared here are
// returned for predictable cases; handlers translate them into status codes
// and child-friendly messages.
package services

import "errors"

// Chat and reply errors.
var (
	// ErrChatNotFound indicates that the chat does not exist in the caller's bucket.
	ErrChatNotFound = errors.New("chat not found")

	// ErrEmptyPrompt is returned when a message has no text.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a message exceeds the configured length.
	ErrTooLong = errors.New("prompt too long")

	// ErrNoChatIDs is returned by bulk delete without ids.
	ErrNoChatIDs = errors.New("no chat ids given")
)

// Account errors.
var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password too short")
	ErrMissingFields      = errors.New("required field missing")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrWrongPassword      = errors.New("wrong password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrCodeNotSaved       = errors.New("verification code not saved")
	ErrVerificationFailed = errors.New("verification failed")
)

// Upload errors.
var (
	ErrNoFiles         = errors.New("no files uploaded")
	ErrTooManyFiles    = errors.New("too many files")
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrBadFilename     = errors.New("invalid filename")
	ErrFileNotFound    = errors.New("file not found")
)

// Voice errors.
var (
	ErrVoiceDisabled    = errors.New("voice disabled")
	ErrNoAudio          = errors.New("no audio file")
	ErrAudioFormat      = errors.New("unsupported audio format")
	ErrAudioTooLarge    = errors.New("audio file too large")
	ErrTranscribeFailed = errors.New("transcription failed")
	ErrEmptyText        = errors.New("text is empty")
)
