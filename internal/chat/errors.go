package chat

import "errors"

// Kind classifies a failure so the boundary can decide how to report it.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotRegistered
	KindNotFound
	KindAuthorization
	KindConflict
	KindUnavailable
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotRegistered:
		return "not_registered"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Error is a client-facing failure. Msg is the short reason sent in acks.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf reports the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Presence
var (
	ErrInvalidName   = newError(KindValidation, "Username is required")
	ErrNameTooLong   = newError(KindValidation, "Username too long")
	ErrNameReserved  = newError(KindValidation, "Username contains reserved characters")
	ErrUsernameTaken = newError(KindConflict, "Username already taken")
	ErrNotRegistered = newError(KindNotRegistered, "Not registered")
	ErrAlreadyBound  = newError(KindConflict, "Connection already registered")
)

// Groups
var (
	ErrGroupNameRequired = newError(KindValidation, "Group name required")
	ErrGroupNameTooLong  = newError(KindValidation, "Group name too long")
	ErrGroupExists       = newError(KindConflict, "Group already exists")
	ErrGroupNotFound     = newError(KindNotFound, "Group not found")
	ErrGroupPrivate      = newError(KindValidation, "Group is private; request instead")
	ErrGroupPublic       = newError(KindValidation, "Group is public")
	ErrAlreadyMember     = newError(KindConflict, "Already member")
	ErrAlreadyPending    = newError(KindConflict, "Already requested")
	ErrNotOwner          = newError(KindAuthorization, "Only owner can manage requests")
	ErrNoSuchPending     = newError(KindNotFound, "No pending request")
	ErrNotAMember        = newError(KindAuthorization, "Not a member")
)

// Messages
var (
	ErrEmptyText      = newError(KindValidation, "Message text required")
	ErrTextTooLong    = newError(KindValidation, "Message too long")
	ErrInvalidRoom    = newError(KindValidation, "Invalid room")
	ErrInvalidTarget  = newError(KindValidation, "Target username required")
	ErrTargetOffline  = newError(KindUnavailable, "Target user offline")
	ErrNoRooms        = newError(KindValidation, "No room specified")
	ErrRateLimited    = newError(KindUnavailable, "rate limit exceeded")
	ErrUnknownEvent   = newError(KindValidation, "Unknown event")
	ErrInvalidPayload = newError(KindValidation, "Invalid payload")
)
