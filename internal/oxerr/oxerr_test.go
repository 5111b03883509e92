package oxerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapClassifiesViaErrorsIs(t *testing.T) {
	err := Wrap(Integrity, "decryptChunk", ErrBadMAC)
	assert.True(t, errors.Is(err, ErrIntegrity))
	assert.False(t, errors.Is(err, ErrSemantic))
	assert.True(t, errors.Is(err, ErrBadMAC))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(Fatal, "op", nil))
}

func TestClassifyDefaultsToFatalForUnwrappedErrors(t *testing.T) {
	assert.Equal(t, Fatal, Classify(errors.New("plain error")))
}

func TestClassifyReturnsWrappedCategory(t *testing.T) {
	err := Wrap(Transient, "LockManager.Lock", ErrLockContention)
	assert.Equal(t, Transient, Classify(err))
}

func TestErrorUnwrap(t *testing.T) {
	sentinel := errors.New("boom")
	err := Wrap(Semantic, "op", sentinel)
	assert.True(t, errors.Is(err, sentinel))
}

func TestCategoryStringValues(t *testing.T) {
	assert.Equal(t, "semantic", Semantic.String())
	assert.Equal(t, "integrity", Integrity.String())
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "fatal", Fatal.String())
}
