package handle

import (
	"io"
	"strings"
	"testing"

	"github.com/agucova/oxcrypt/internal/scheduler"
	"github.com/agucova/oxcrypt/internal/writebuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

func TestOpenReaderAndClose(t *testing.T) {
	table := New()
	r := nopReadCloser{strings.NewReader("data")}
	id := table.OpenReader(r)

	got, ok := table.Reader(id)
	require.True(t, ok)
	assert.Equal(t, r, got)

	require.NoError(t, table.Close(id))
	_, ok = table.Reader(id)
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
}

func TestDistinctHandlesGetDistinctIDs(t *testing.T) {
	table := New()
	id1 := table.OpenReader(nopReadCloser{strings.NewReader("a")})
	id2 := table.OpenReader(nopReadCloser{strings.NewReader("b")})
	assert.NotEqual(t, id1, id2)
}

func TestOpenWriteBuffer(t *testing.T) {
	table := New()
	budget := scheduler.NewWriteBudget(1<<20, 1<<20)
	buf := writebuffer.New(1, budget)
	id := table.OpenWriteBuffer(buf)

	got, ok := table.WriteBuffer(id)
	require.True(t, ok)
	assert.Same(t, buf, got)

	_, ok = table.Reader(id)
	assert.False(t, ok, "a write-buffer handle must not answer as a reader")
}

func TestLoanAndReturn(t *testing.T) {
	table := New()
	r := nopReadCloser{strings.NewReader("data")}
	id := table.OpenReader(r)

	loaned, err := table.Loan(id)
	require.NoError(t, err)
	assert.Equal(t, r, loaned)

	_, ok := table.Reader(id)
	assert.False(t, ok, "a loaned reader must not be retrievable until returned")

	_, err = table.Loan(id)
	assert.Error(t, err, "loaning an already-loaned handle must fail")

	table.Return(id, loaned)
	got, ok := table.Reader(id)
	require.True(t, ok)
	assert.Equal(t, r, got)
}

func TestCloseUnknownHandleFails(t *testing.T) {
	table := New()
	err := table.Close(ID(999))
	assert.Error(t, err)
}

func TestCloseAfterLoanDropsOnReturn(t *testing.T) {
	table := New()
	r := nopReadCloser{strings.NewReader("data")}
	id := table.OpenReader(r)

	loaned, err := table.Loan(id)
	require.NoError(t, err)
	require.NoError(t, table.Close(id))

	// The executor eventually returns the loan; since the slot is gone this
	// must not panic or resurrect the handle.
	table.Return(id, loaned)
	_, ok := table.Reader(id)
	assert.False(t, ok)
}
