// Package oxerr defines the error taxonomy shared by the vault engine and
// the scheduler: every failure is classified into one of four categories so
// callers can decide whether to retry, surface ENOENT-style errors to a
// filesystem frontend, or abort.
package oxerr

import (
	"errors"
	"fmt"
)

// Category classifies a failure the way a FUSE frontend needs to: as a
// condition it should translate into a specific errno, retry, or propagate
// as fatal.
type Category int

const (
	// Semantic errors translate directly to a POSIX errno (ENOENT, EEXIST, ...).
	Semantic Category = iota
	// Integrity errors mean on-disk or wire data failed an authenticity or
	// structural check (bad MAC, corrupt dirid.c9r, truncated chunk).
	Integrity
	// Transient errors are safe to retry (lock contention, deadline races).
	Transient
	// Fatal errors mean the vault or scheduler can no longer make progress
	// and should be torn down.
	Fatal
)

func (c Category) String() string {
	switch c {
	case Semantic:
		return "semantic"
	case Integrity:
		return "integrity"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the carrier type every category-classified failure is wrapped in.
// It supports errors.Is/errors.As against both the sentinel it wraps and its
// Category.
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Category, letting callers write
// errors.Is(err, oxerr.Integrity) without needing the *Error wrapper type.
func (e *Error) Is(target error) bool {
	if cat, ok := target.(categoryMarker); ok {
		return e.Category == cat.category()
	}
	return false
}

type categoryMarker interface {
	category() Category
	error
}

type categorySentinel Category

func (c categorySentinel) category() Category { return Category(c) }
func (c categorySentinel) Error() string       { return Category(c).String() }

// Sentinels usable with errors.Is(err, oxerr.ErrIntegrity) etc.
var (
	ErrSemantic  error = categorySentinel(Semantic)
	ErrIntegrity error = categorySentinel(Integrity)
	ErrTransient error = categorySentinel(Transient)
	ErrFatal     error = categorySentinel(Fatal)
)

// Wrap classifies err under op into the given category.
func Wrap(cat Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: cat, Op: op, Err: err}
}

// Semantic-layer sentinels a vault frontend maps directly onto errnos.
var (
	ErrNotFound                = errors.New("path not found")
	ErrAlreadyExists           = errors.New("path already exists")
	ErrNotDirectory            = errors.New("not a directory")
	ErrIsDirectory             = errors.New("is a directory")
	ErrDirectoryNotEmpty       = errors.New("directory not empty")
	ErrNotEmpty                = ErrDirectoryNotEmpty
	ErrNameTooLong             = errors.New("name too long")
	ErrInvalidName             = errors.New("invalid name")
	ErrEmptyPath               = errors.New("empty path")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrSameSourceAndDestination = errors.New("source and destination are the same")
)

// Integrity-layer sentinels.
var (
	ErrBadMAC           = errors.New("authentication tag mismatch")
	ErrTruncatedChunk   = errors.New("non-final chunk is truncated")
	ErrCorruptHeader    = errors.New("corrupt file header")
	ErrDirIDMismatch    = errors.New("dirid.c9r does not match its storage path")
	ErrReservedMismatch = errors.New("header reserved field mismatch")
)

// Transient-layer sentinels.
var (
	ErrLockContention = errors.New("lock contention, retry")
	ErrDeadlineMissed = errors.New("deadline missed before dispatch")
	ErrBudgetExceeded = errors.New("write budget exceeded")
)

// Fatal-layer sentinels.
var (
	ErrShutdown     = errors.New("scheduler is shut down")
	ErrVaultClosed  = errors.New("vault is closed")
	ErrWrongVersion = errors.New("unsupported vault format")
)

// Classify returns the classification of err, defaulting to Fatal when err
// was never wrapped by this package (an unclassified error is treated as
// non-recoverable rather than silently retried).
func Classify(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return Fatal
}
