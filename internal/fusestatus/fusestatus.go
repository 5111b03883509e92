// Package fusestatus translates the vault/scheduler error taxonomy into the
// errno-shaped fuse.Status values a FUSE frontend's callbacks reply with.
// No filesystem is mounted here: this is the one shared table every
// frontend built on top of this engine would otherwise have to hand-roll
// for itself, grounded on fuse.Status's own syscall-errno convention.
package fusestatus

import (
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

// FromError maps err to the fuse.Status a frontend should reply with.
// A nil error maps to fuse.OK. Unrecognized semantic sentinels fall back to
// their category's default; an unclassified error (oxerr.Classify's own
// default) maps to EIO.
func FromError(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}

	if st, ok := semanticStatus(err); ok {
		return st
	}

	switch oxerr.Classify(err) {
	case oxerr.Semantic:
		return fuse.EINVAL
	case oxerr.Integrity:
		return fuse.EIO
	case oxerr.Transient:
		return fuse.EBUSY
	case oxerr.Fatal:
		if errors.Is(err, oxerr.ErrWrongVersion) {
			return fuse.ENOSYS
		}
		return fuse.EIO
	default:
		return fuse.EIO
	}
}

// semanticStatus matches err against the sentinels oxerr's Semantic category
// wraps, which is the only category with a one sentinel, one errno
// relationship worth spelling out individually. Everything else is handled
// by FromError's category fallback.
func semanticStatus(err error) (fuse.Status, bool) {
	switch {
	case errors.Is(err, oxerr.ErrNotFound):
		return fuse.ENOENT, true
	case errors.Is(err, oxerr.ErrAlreadyExists):
		// fuse.Status has no named EEXIST/ENOTEMPTY constant; Status is a
		// plain errno wrapper, so construct those directly from syscall.
		return fuse.Status(syscall.EEXIST), true
	case errors.Is(err, oxerr.ErrNotDirectory):
		return fuse.ENOTDIR, true
	case errors.Is(err, oxerr.ErrDirectoryNotEmpty):
		return fuse.Status(syscall.ENOTEMPTY), true
	case errors.Is(err, oxerr.ErrIsDirectory):
		return fuse.EISDIR, true
	case errors.Is(err, oxerr.ErrNameTooLong):
		return fuse.ERANGE, true
	case errors.Is(err, oxerr.ErrInvalidName),
		errors.Is(err, oxerr.ErrInvalidArgument),
		errors.Is(err, oxerr.ErrEmptyPath),
		errors.Is(err, oxerr.ErrSameSourceAndDestination):
		return fuse.EINVAL, true
	default:
		return 0, false
	}
}
