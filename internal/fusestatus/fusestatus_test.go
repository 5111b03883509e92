package fusestatus

import (
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

func TestFromErrorNilIsOK(t *testing.T) {
	assert.Equal(t, fuse.OK, FromError(nil))
}

func TestFromErrorSemanticSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want fuse.Status
	}{
		{oxerr.Wrap(oxerr.Semantic, "op", oxerr.ErrNotFound), fuse.ENOENT},
		{oxerr.Wrap(oxerr.Semantic, "op", oxerr.ErrAlreadyExists), fuse.Status(syscall.EEXIST)},
		{oxerr.Wrap(oxerr.Semantic, "op", oxerr.ErrNotDirectory), fuse.ENOTDIR},
		{oxerr.Wrap(oxerr.Semantic, "op", oxerr.ErrDirectoryNotEmpty), fuse.Status(syscall.ENOTEMPTY)},
		{oxerr.Wrap(oxerr.Semantic, "op", oxerr.ErrIsDirectory), fuse.EISDIR},
		{oxerr.Wrap(oxerr.Semantic, "op", oxerr.ErrInvalidArgument), fuse.EINVAL},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FromError(c.err))
	}
}

func TestFromErrorIntegrityFallsBackToEIO(t *testing.T) {
	err := oxerr.Wrap(oxerr.Integrity, "decryptChunk", oxerr.ErrBadMAC)
	assert.Equal(t, fuse.EIO, FromError(err))
}

func TestFromErrorTransientFallsBackToEBUSY(t *testing.T) {
	err := oxerr.Wrap(oxerr.Transient, "LockManager.Lock", oxerr.ErrLockContention)
	assert.Equal(t, fuse.EBUSY, FromError(err))
}

func TestFromErrorWrongVersionMapsToENOSYS(t *testing.T) {
	err := oxerr.Wrap(oxerr.Fatal, "Open", oxerr.ErrWrongVersion)
	assert.Equal(t, fuse.ENOSYS, FromError(err))
}

func TestFromErrorUnclassifiedFallsBackToEIO(t *testing.T) {
	assert.Equal(t, fuse.EIO, FromError(oxerr.ErrShutdown))
}
