package vault

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

// Sizes of the fixed-layout fields packed into an encrypted file header.
const (
	HeaderContentKeySize = 32
	HeaderReservedSize   = 8
	HeaderPayloadSize    = HeaderContentKeySize + HeaderReservedSize
	// HeaderReservedValue is the constant written into every header's
	// reserved field; a mismatch on read means the header (or the key used
	// to decrypt it) is wrong.
	HeaderReservedValue uint64 = 0xFFFFFFFFFFFFFFFF
)

// FileHeader is the decrypted form of the header prefixing every encrypted
// file: 68 bytes on disk for SIV_GCM (12-byte nonce, 40-byte payload,
// 16-byte tag), 88 bytes for SIV_CTRMAC (16-byte nonce, 32-byte MAC).
type FileHeader struct {
	Nonce      []byte
	Reserved   []byte
	ContentKey []byte
}

// NewHeader creates a randomly initialized FileHeader with a fresh,
// per-file content key.
func (c *Cryptor) NewHeader() (FileHeader, error) {
	h := FileHeader{
		Nonce:      make([]byte, c.content.nonceSize()),
		ContentKey: make([]byte, HeaderContentKeySize),
		Reserved:   make([]byte, HeaderReservedSize),
	}
	if _, err := rand.Read(h.Nonce); err != nil {
		return FileHeader{}, oxerr.Wrap(oxerr.Fatal, "NewHeader", err)
	}
	if _, err := rand.Read(h.ContentKey); err != nil {
		return FileHeader{}, oxerr.Wrap(oxerr.Fatal, "NewHeader", err)
	}
	binary.BigEndian.PutUint64(h.Reserved, HeaderReservedValue)
	return h, nil
}

type headerPayload struct {
	Reserved   [HeaderReservedSize]byte
	ContentKey [HeaderContentKeySize]byte
}

// MarshalHeader encrypts h with the vault's content cipher (header payload
// treated as chunk zero, with no associated data) and writes it to w.
func (c *Cryptor) MarshalHeader(w io.Writer, h FileHeader) error {
	var payload headerPayload
	if len(h.Reserved) != HeaderReservedSize || len(h.ContentKey) != HeaderContentKeySize {
		return oxerr.Wrap(oxerr.Fatal, "MarshalHeader", oxerr.ErrReservedMismatch)
	}
	copy(payload.Reserved[:], h.Reserved)
	copy(payload.ContentKey[:], h.ContentKey)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &payload); err != nil {
		return oxerr.Wrap(oxerr.Fatal, "MarshalHeader: encode", err)
	}

	encrypted := c.content.encryptChunk(buf.Bytes(), h.Nonce, nil)
	if _, err := w.Write(encrypted); err != nil {
		return oxerr.Wrap(oxerr.Transient, "MarshalHeader: write", err)
	}
	return nil
}

// UnmarshalHeader reads and decrypts an encrypted file header from r.
func (c *Cryptor) UnmarshalHeader(r io.Reader) (FileHeader, error) {
	encrypted := make([]byte, c.content.nonceSize()+HeaderPayloadSize+c.content.tagSize())
	if _, err := io.ReadFull(r, encrypted); err != nil {
		return FileHeader{}, oxerr.Wrap(oxerr.Integrity, "UnmarshalHeader: short read", err)
	}
	nonce := encrypted[:c.content.nonceSize()]

	plaintext, err := c.content.decryptChunk(encrypted, nil)
	if err != nil {
		c.log.WithError(err).Error("file header failed authentication")
		return FileHeader{}, oxerr.Wrap(oxerr.Integrity, "UnmarshalHeader", err)
	}

	var payload headerPayload
	if err := binary.Read(bytes.NewReader(plaintext), binary.BigEndian, &payload); err != nil {
		return FileHeader{}, oxerr.Wrap(oxerr.Integrity, "UnmarshalHeader: decode", err)
	}
	if binary.BigEndian.Uint64(payload.Reserved[:]) != HeaderReservedValue {
		c.log.Error("file header reserved field mismatch")
		return FileHeader{}, oxerr.Wrap(oxerr.Integrity, "UnmarshalHeader", oxerr.ErrReservedMismatch)
	}

	h := FileHeader{
		Nonce:      append([]byte{}, nonce...),
		ContentKey: append([]byte{}, payload.ContentKey[:]...),
		Reserved:   append([]byte{}, payload.Reserved[:]...),
	}
	return h, nil
}
