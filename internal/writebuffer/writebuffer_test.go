package writebuffer

import (
	"bytes"
	"testing"

	"github.com/agucova/oxcrypt/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtGrowsAndReserves(t *testing.T) {
	budget := scheduler.NewWriteBudget(1<<20, 1<<20)
	b := New(1, budget)

	n, err := b.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), b.Len())
	assert.Equal(t, int64(5), budget.PerFileDirtyBytes(1))

	n, err = b.WriteAt([]byte("!!"), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hello!!", string(b.Bytes()))
	assert.Equal(t, int64(7), budget.PerFileDirtyBytes(1))
}

func TestWriteAtOverwriteDoesNotDoubleReserve(t *testing.T) {
	budget := scheduler.NewWriteBudget(1<<20, 1<<20)
	b := New(1, budget)

	_, err := b.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	_, err = b.WriteAt([]byte("HELLO"), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(5), budget.PerFileDirtyBytes(1))
	assert.Equal(t, "HELLO", string(b.Bytes()))
}

func TestFlushReleasesBudgetButKeepsBytes(t *testing.T) {
	budget := scheduler.NewWriteBudget(1<<20, 1<<20)
	b := New(1, budget)

	_, err := b.WriteAt([]byte("payload"), 0)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, b.Flush(&out))
	assert.Equal(t, "payload", out.String())
	assert.Equal(t, int64(0), budget.PerFileDirtyBytes(1))
	assert.False(t, b.Dirty())
	assert.Equal(t, "payload", string(b.Bytes()))
}

func TestFlushIsANoOpWhenClean(t *testing.T) {
	budget := scheduler.NewWriteBudget(1<<20, 1<<20)
	b := New(1, budget)

	var out bytes.Buffer
	require.NoError(t, b.Flush(&out))
	assert.Empty(t, out.Bytes())
}

func TestReWriteAfterFlushReReservesBudget(t *testing.T) {
	budget := scheduler.NewWriteBudget(1<<20, 1<<20)
	b := New(1, budget)

	_, err := b.WriteAt([]byte("abcde"), 0)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, b.Flush(&out))
	assert.Equal(t, int64(0), budget.PerFileDirtyBytes(1))

	_, err = b.WriteAt([]byte("X"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), budget.PerFileDirtyBytes(1), "overwriting already-flushed bytes must re-reserve the whole dirty length")
}

func TestTruncateShrinkReleasesBudget(t *testing.T) {
	budget := scheduler.NewWriteBudget(1<<20, 1<<20)
	b := New(1, budget)

	_, err := b.WriteAt([]byte("0123456789"), 0)
	require.NoError(t, err)
	require.NoError(t, b.Truncate(4))

	assert.Equal(t, int64(4), b.Len())
	assert.Equal(t, "0123", string(b.Bytes()))
	assert.Equal(t, int64(4), budget.PerFileDirtyBytes(1))
}

func TestTruncateGrowZeroPads(t *testing.T) {
	budget := scheduler.NewWriteBudget(1<<20, 1<<20)
	b := New(1, budget)

	require.NoError(t, b.Truncate(3))
	assert.Equal(t, []byte{0, 0, 0}, b.Bytes())
	assert.Equal(t, int64(3), budget.PerFileDirtyBytes(1))
}

func TestWriteAtRejectedOverBudget(t *testing.T) {
	budget := scheduler.NewWriteBudget(10, 10)
	b := New(1, budget)

	_, err := b.WriteAt(make([]byte, 20), 0)
	assert.Error(t, err)
	assert.Equal(t, int64(0), b.Len(), "a rejected write must not partially grow the buffer")
}

func TestDiscardReleasesBudget(t *testing.T) {
	budget := scheduler.NewWriteBudget(1<<20, 1<<20)
	b := New(1, budget)

	_, err := b.WriteAt([]byte("pending"), 0)
	require.NoError(t, err)
	b.Discard()

	assert.Equal(t, int64(0), budget.PerFileDirtyBytes(1))
	assert.False(t, b.Dirty())
	assert.Empty(t, b.Bytes())
}
