// Package dberror defines the failure kinds surfaced by the storage engine.
//
// Every error returned across a package boundary is a *DBError carrying a
// Kind. Callers branch on the kind with errors.Is against the exported
// sentinels:
//
//	if errors.Is(err, dberror.ErrKeyNotFound) { ... }
package dberror

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindOutOfSpace
	KindIncompatibleKeyType
	KindKeyNotFound
	KindKeyNotUnique
	KindConcurrentModification
	KindAccessViolation
	KindIO
	KindCorrupted
	KindClosed
	KindInvalidFree
	KindPagePinned
	KindRollbackUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:                "UNKNOWN",
	KindOutOfSpace:             "OUT_OF_SPACE",
	KindIncompatibleKeyType:    "INCOMPATIBLE_KEY_TYPE",
	KindKeyNotFound:            "KEY_NOT_FOUND",
	KindKeyNotUnique:           "KEY_NOT_UNIQUE",
	KindConcurrentModification: "CONCURRENT_MODIFICATION",
	KindAccessViolation:        "ACCESS_VIOLATION",
	KindIO:                     "IO_FAILURE",
	KindCorrupted:              "CORRUPTED",
	KindClosed:                 "CLOSED",
	KindInvalidFree:            "INVALID_FREE",
	KindPagePinned:             "PAGE_PINNED",
	KindRollbackUnavailable:    "ROLLBACK_UNAVAILABLE",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// Sentinels for errors.Is. They match any DBError of the same kind.
var (
	ErrOutOfSpace             = &DBError{Kind: KindOutOfSpace, Message: "out of space"}
	ErrIncompatibleKeyType    = &DBError{Kind: KindIncompatibleKeyType, Message: "incompatible key type"}
	ErrKeyNotFound            = &DBError{Kind: KindKeyNotFound, Message: "key not found"}
	ErrKeyNotUnique           = &DBError{Kind: KindKeyNotUnique, Message: "key not unique"}
	ErrConcurrentModification = &DBError{Kind: KindConcurrentModification, Message: "concurrent modification"}
	ErrAccessViolation        = &DBError{Kind: KindAccessViolation, Message: "access violation"}
	ErrIO                     = &DBError{Kind: KindIO, Message: "i/o failure"}
	ErrCorrupted              = &DBError{Kind: KindCorrupted, Message: "corrupted storage"}
	ErrClosed                 = &DBError{Kind: KindClosed, Message: "storage closed"}
	ErrInvalidFree            = &DBError{Kind: KindInvalidFree, Message: "invalid free"}
	ErrPagePinned             = &DBError{Kind: KindPagePinned, Message: "page pinned"}
	ErrRollbackUnavailable    = &DBError{Kind: KindRollbackUnavailable, Message: "rollback unavailable"}
)

// DBError is a classified storage failure.
type DBError struct {
	Kind      Kind
	Message   string
	Op        string // operation in progress, e.g. "Allocate"
	Component string // subsystem, e.g. "allocator"
	Cause     error
}

// New builds an error of the given kind.
func New(kind Kind, op, component, format string, args ...any) *DBError {
	return &DBError{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Op:        op,
		Component: component,
	}
}

// Wrap classifies cause as kind. An existing DBError keeps its kind and only
// gains the missing context.
func Wrap(cause error, kind Kind, op, component string) error {
	if cause == nil {
		return nil
	}
	var dbErr *DBError
	if errors.As(cause, &dbErr) {
		if dbErr.Op != "" && dbErr.Component != "" {
			return cause
		}
		enriched := *dbErr
		if enriched.Op == "" {
			enriched.Op = op
		}
		if enriched.Component == "" {
			enriched.Component = component
		}
		return &enriched
	}
	return &DBError{
		Kind:      kind,
		Message:   cause.Error(),
		Op:        op,
		Component: component,
		Cause:     cause,
	}
}

// WrapIO classifies a backing store failure.
func WrapIO(cause error, op, component string) error {
	return Wrap(cause, KindIO, op, component)
}

func (e *DBError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Op != "" {
		fmt.Fprintf(&b, " (op: %s", e.Op)
		if e.Component != "" {
			fmt.Fprintf(&b, ", component: %s", e.Component)
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *DBError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DBError of the same kind.
func (e *DBError) Is(target error) bool {
	t, ok := target.(*DBError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first DBError in err's chain.
func KindOf(err error) Kind {
	var dbErr *DBError
	if errors.As(err, &dbErr) {
		return dbErr.Kind
	}
	return KindUnknown
}
