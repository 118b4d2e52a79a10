package app

import (
	"errors"

	"github.com/amanthanvi/gpgvault/internal/storage"
)

var (
	ErrValidation         = errors.New("app: validation failed")
	ErrIOFailure          = errors.New("app: i/o failure")
	ErrSessionNotReady    = errors.New("app: session not ready")
	ErrSessionAlreadyOpen = errors.New("app: session already open")
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type RegisterTargetRequest struct {
	Name       string
	URL        string
	User       string
	Secret     string
	Note       string
	Attributes []storage.Attribute
}

// RotateCredentialRequest adds a credential to an existing target. A nil User
// keeps the user of the current credential.
type RotateCredentialRequest struct {
	Target     storage.TargetRef
	Secret     string
	User       *string
	Note       string
	Attributes []storage.Attribute
}
