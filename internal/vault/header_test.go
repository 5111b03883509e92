package vault

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	c, err := NewCryptor(zeroMasterKey(), CipherComboSivGcm)
	require.NoError(t, err)

	h, err := c.NewHeader()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.MarshalHeader(&buf, h))

	got, err := c.UnmarshalHeader(&buf)
	require.NoError(t, err)

	assert.Equal(t, h.Nonce, got.Nonce)
	assert.Equal(t, h.ContentKey, got.ContentKey)
}

func TestHeaderRoundTripCtrMac(t *testing.T) {
	c, err := NewCryptor(zeroMasterKey(), CipherComboSivCtrMac)
	require.NoError(t, err)

	h, err := c.NewHeader()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.MarshalHeader(&buf, h))

	got, err := c.UnmarshalHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h.ContentKey, got.ContentKey)
}

func TestHeaderTamperedReservedFails(t *testing.T) {
	c, err := NewCryptor(zeroMasterKey(), CipherComboSivGcm)
	require.NoError(t, err)

	other, err := NewCryptor(MasterKey{
		EncryptKey: bytes.Repeat([]byte{1}, MasterEncryptKeySize),
		MacKey:     bytes.Repeat([]byte{2}, MasterMacKeySize),
	}, CipherComboSivGcm)
	require.NoError(t, err)

	h, err := c.NewHeader()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, c.MarshalHeader(&buf, h))

	_, err = other.UnmarshalHeader(&buf)
	assert.Error(t, err, "a header encrypted under one key must not unmarshal under a different one")
}

func TestHeaderShortReadFails(t *testing.T) {
	c, err := NewCryptor(zeroMasterKey(), CipherComboSivGcm)
	require.NoError(t, err)

	_, err = c.UnmarshalHeader(bytes.NewReader([]byte("too short")))
	assert.Error(t, err)
}

type refEncHeader struct {
	CipherCombo string
	Header      []byte
	EncKey      []byte
	MacKey      []byte
}

// TestUnmarshalReferenceHeader decrypts reference file headers generated
// outside this implementation, pinning the on-disk header layout (nonce,
// encrypted reserved+content-key payload, tag) for the CTR+MAC combo.
func TestUnmarshalReferenceHeader(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "header*.input"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "reference header fixtures must exist")

	for _, path := range paths {
		testname := strings.TrimSuffix(filepath.Base(path), ".input")

		input, err := os.ReadFile(path)
		require.NoError(t, err)
		golden, err := os.ReadFile(filepath.Join("testdata", testname+".golden"))
		require.NoError(t, err)

		var encHeaders map[string]refEncHeader
		require.NoError(t, json.Unmarshal(input, &encHeaders))
		var headers map[string]FileHeader
		require.NoError(t, json.Unmarshal(golden, &headers))

		for name, enc := range encHeaders {
			t.Run(testname+":"+name, func(t *testing.T) {
				cryptor, err := NewCryptor(MasterKey{EncryptKey: enc.EncKey, MacKey: enc.MacKey}, enc.CipherCombo)
				require.NoError(t, err)

				got, err := cryptor.UnmarshalHeader(bytes.NewReader(enc.Header))
				require.NoError(t, err)
				assert.Equal(t, headers[name], got)
			})
		}
	}
}
