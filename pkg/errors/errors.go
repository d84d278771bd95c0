package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how a caller is expected to recover.
type Kind string

// Error kinds.
const (
	KindValidation Kind = "VALIDATION"
	KindConflict   Kind = "CONFLICT"
	KindReference  Kind = "REFERENCE"
	KindPermission Kind = "PERMISSION"
	KindNotFound   Kind = "NOT_FOUND"
	KindTransient  Kind = "TRANSIENT"
	KindInternal   Kind = "INTERNAL"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Kind    Kind   `json:"kind"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so clones and wraps compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Kind: kindFor(code, status)}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Kind: kindFor(code, status), Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrTransient          = New("TRANSIENT", http.StatusServiceUnavailable, "temporary failure, please retry")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrAlreadyTaken         = New("ALREADY_TAKEN", http.StatusConflict, "topic already registered by another group")
	ErrAlreadyRegistered    = New("ALREADY_REGISTERED", http.StatusConflict, "group already registered to another topic")
	ErrDuplicateMembership  = New("DUPLICATE_MEMBERSHIP", http.StatusConflict, "user already belongs to a group in this class")
	ErrGroupFull            = New("GROUP_FULL", http.StatusConflict, "group is full")
	ErrGroupOverCapacity    = New("GROUP_OVER_CAPACITY", http.StatusConflict, "group exceeds topic capacity")
	ErrDuplicateSwapRequest = New("DUPLICATE_SWAP_REQUEST", http.StatusConflict, "a pending swap request already exists")
	ErrSwapStale            = New("SWAP_STALE", http.StatusConflict, "swap request no longer matches current registrations")
	ErrTopicRegistered      = New("TOPIC_REGISTERED", http.StatusConflict, "topic is registered by a group")
	ErrNotPending           = New("NOT_PENDING", http.StatusConflict, "swap request already resolved")

	ErrClassMismatch = New("CLASS_MISMATCH", http.StatusUnprocessableEntity, "group and topic belong to different classes")

	ErrNoTopicHeld         = New("NO_TOPIC_HELD", http.StatusPreconditionFailed, "group holds no topic")
	ErrSameTopic           = New("SAME_TOPIC", http.StatusPreconditionFailed, "groups hold the same topic")
	ErrRegistrationClosed  = New("REGISTRATION_CLOSED", http.StatusPreconditionFailed, "registration deadline has passed")
	ErrTopicNotApproved    = New("TOPIC_NOT_APPROVED", http.StatusPreconditionFailed, "topic is not approved")
	ErrFinalProjectOnly    = New("FINAL_PROJECT_ONLY", http.StatusForbidden, "admins may only create topics in final-project classes")
	ErrNotGroupMember      = New("NOT_GROUP_MEMBER", http.StatusForbidden, "user is not a member of the group")
	ErrInvalidApprovalMove = New("INVALID_APPROVAL_STATUS", http.StatusBadRequest, "approval status must be APPROVED or REJECTED")
)

var kindsByCode = map[string]Kind{
	"VALIDATION_ERROR":        KindValidation,
	"INVALID_APPROVAL_STATUS": KindValidation,
	"ALREADY_TAKEN":           KindConflict,
	"ALREADY_REGISTERED":      KindConflict,
	"DUPLICATE_MEMBERSHIP":    KindConflict,
	"GROUP_FULL":              KindConflict,
	"GROUP_OVER_CAPACITY":     KindConflict,
	"DUPLICATE_SWAP_REQUEST":  KindConflict,
	"SWAP_STALE":              KindConflict,
	"TOPIC_REGISTERED":        KindConflict,
	"NOT_PENDING":             KindConflict,
	"CONFLICT":                KindConflict,
	"NO_TOPIC_HELD":           KindConflict,
	"SAME_TOPIC":              KindConflict,
	"REGISTRATION_CLOSED":     KindConflict,
	"TOPIC_NOT_APPROVED":      KindConflict,
	"PRECONDITION_FAILED":     KindConflict,
	"CLASS_MISMATCH":          KindReference,
	"FORBIDDEN":               KindPermission,
	"UNAUTHORIZED":            KindPermission,
	"FINAL_PROJECT_ONLY":      KindPermission,
	"NOT_GROUP_MEMBER":        KindPermission,
	"NOT_FOUND":               KindNotFound,
	"CACHE_MISS":              KindNotFound,
	"TRANSIENT":               KindTransient,
}

func kindFor(code string, status int) Kind {
	if kind, ok := kindsByCode[code]; ok {
		return kind
	}
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return KindPermission
	case status == http.StatusConflict:
		return KindConflict
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindInternal
	}
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// KindOf reports the recovery kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return FromError(err).Kind
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
