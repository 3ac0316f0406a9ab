package client

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionTimeout        = errors.New("connection not confirmed in time")
	ErrJoinTimeout              = errors.New("join not acknowledged in time")
	ErrJoinSuperseded           = errors.New("join superseded")
	ErrNotJoined                = errors.New("not joined to a document")
	ErrTransport                = errors.New("transport failure")
	ErrCollaborationUnavailable = errors.New("collaboration unavailable")
	ErrNotConnected             = fmt.Errorf("%w: not connected", ErrTransport)
	ErrHandshakeRejected        = errors.New("handshake rejected")
	ErrClosed                   = errors.New("connection closed")
	ErrUnknownNode              = errors.New("unknown node")
	ErrNotEditing               = errors.New("no edit session")
)

// RoomError is an error reported by the server for a document or handshake.
type RoomError struct {
	DocumentID string
	Code       string
	Reason     string
}

func (e *RoomError) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %s (document %s)", e.Code, e.Reason, e.DocumentID)
}

// RejectedError is returned when the server refuses the handshake.
type RejectedError struct {
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("handshake rejected: %s: %s", e.Code, e.Reason)
}

// Is makes errors.Is(err, ErrHandshakeRejected) work.
func (e *RejectedError) Is(target error) bool {
	return target == ErrHandshakeRejected
}
