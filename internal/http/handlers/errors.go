// Error codes returned in ErrorResponse.Code.
//
// Codes are stable and machine-readable; the message next to them is meant
// for the child and may change. Generic codes mirror HTTP status semantics,
// domain codes name the operation that failed. Auth codes are upper-case
// because the web client already branches on them.

package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeUnsupported      = "unsupported_media_type"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "service_unavailable"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeSendFailed       = "send_failed"
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeDeleteFailed     = "delete_failed"
	ErrCodeUploadFailed     = "upload_failed"
	ErrCodeTranscribeFailed = "transcribe_failed"
	ErrCodeTranslateFailed  = "translate_failed"
	ErrCodeSearchFailed     = "search_failed"
	ErrCodeWeatherFailed    = "weather_failed"
	ErrCodeMailFailed       = "mail_failed"

	// Accounts:
	ErrCodeUserExists         = "USER_EXISTS"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeWrongPassword      = "WRONG_PASSWORD"
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodeVerificationFailed = "VERIFICATION_FAILED"
)
