package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeDecodeNameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := drawTestCryptor(t)
		dirID := rapid.String().Draw(t, "dirID")
		name := NormalizeName(rapid.String().Draw(t, "name"))

		enc, err := c.EncodeName(name, dirID)
		require.NoError(t, err)

		decoded, err := c.DecodeName(enc.FullCiphertext, dirID)
		require.NoError(t, err)
		assert.Equal(t, name, decoded)
	})
}

func TestEncodeNameShortensLongNames(t *testing.T) {
	c, err := NewCryptor(zeroMasterKey(), CipherComboSivGcm)
	require.NoError(t, err)

	longName := strings.Repeat("x", 512)
	enc, err := c.EncodeName(longName, "some-dir-id")
	require.NoError(t, err)

	assert.True(t, enc.Shortened)
	assert.True(t, strings.HasSuffix(enc.Encoded, ".c9s"))
	assert.True(t, strings.HasSuffix(enc.FullCiphertext, ".c9r"))
	assert.Less(t, len(enc.Encoded), len(enc.FullCiphertext))
}

func TestEncodeNameKeepsShortNamesUnshortened(t *testing.T) {
	c, err := NewCryptor(zeroMasterKey(), CipherComboSivGcm)
	require.NoError(t, err)

	enc, err := c.EncodeName("hello.txt", "some-dir-id")
	require.NoError(t, err)

	assert.False(t, enc.Shortened)
	assert.Equal(t, enc.Encoded, enc.FullCiphertext)
}

func TestDirIDBackupRoundTrip(t *testing.T) {
	c, err := NewCryptor(zeroMasterKey(), CipherComboSivGcm)
	require.NoError(t, err)

	dirID := "4f9f0f2e-0000-0000-0000-000000000000"
	backup, err := c.MarshalDirIDBackup(dirID)
	require.NoError(t, err)

	assert.NoError(t, c.VerifyDirIDBackup(backup, dirID))
	assert.Error(t, c.VerifyDirIDBackup(backup, "a-different-dir-id"),
		"a backup sealed for one dir id must not authenticate under another")
}

func TestStoragePathShape(t *testing.T) {
	c, err := NewCryptor(zeroMasterKey(), CipherComboSivGcm)
	require.NoError(t, err)

	path, err := c.StoragePath("")
	require.NoError(t, err)
	parts := strings.Split(path, "/")
	require.Len(t, parts, 3)
	assert.Equal(t, "d", parts[0])
	assert.Len(t, parts[1], 2)
	assert.Len(t, parts[2], 30)
}
