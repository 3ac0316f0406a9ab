package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound       = "room_not_found"
	ErrCodeNotInRoom          = "not_in_room"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternal           = "internal_error"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("not in room")
	ErrBadRequest   = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// Is lets errors.Is match a CoreError against the package sentinels.
func (e *CoreError) Is(target error) bool {
	switch target {
	case ErrRoomNotFound:
		return e.Code == ErrCodeRoomNotFound
	case ErrNotInRoom:
		return e.Code == ErrCodeNotInRoom
	case ErrBadRequest:
		return e.Code == ErrCodeBadRequest
	default:
		return false
	}
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
