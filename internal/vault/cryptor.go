package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/miscreant/miscreant.go"
	"github.com/sirupsen/logrus"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

// Cipher combos a vault can be configured with; SivGcm is the modern
// default, SivCtrMac exists for compatibility with older vaults.
const (
	CipherComboSivGcm    = "SIV_GCM"
	CipherComboSivCtrMac = "SIV_CTRMAC"
)

// contentCryptor encrypts/decrypts individual file content chunks (and,
// reusing the same AEAD, the file header payload).
type contentCryptor interface {
	encryptChunk(plaintext, nonce, associatedData []byte) (ciphertext []byte)
	decryptChunk(ciphertext, associatedData []byte) ([]byte, error)
	fileAssociatedData(fileNonce []byte, chunkNr uint64) []byte
	nonceSize() int
	tagSize() int
}

// Cryptor implements every cryptographic primitive a vault needs: AES-SIV
// for deterministic, authenticated encryption of names and dir-ids, plus a
// content cipher (AES-GCM or AES-CTR+HMAC-SHA256) for file bytes.
type Cryptor struct {
	masterKey   MasterKey
	siv         *miscreant.Cipher
	cipherCombo string
	content     contentCryptor
	log         *logrus.Logger
}

// NewCryptor builds a Cryptor for the given master key and cipher combo.
func NewCryptor(key MasterKey, cipherCombo string) (*Cryptor, error) {
	siv, err := miscreant.NewAESCMACSIV(key.sivKey())
	if err != nil {
		return nil, oxerr.Wrap(oxerr.Fatal, "NewCryptor: siv", err)
	}
	c := &Cryptor{masterKey: key, siv: siv, cipherCombo: cipherCombo, log: logrus.StandardLogger()}
	c.content, err = newContentCryptor(key, cipherCombo)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newContentCryptor(key MasterKey, cipherCombo string) (contentCryptor, error) {
	block, err := aes.NewCipher(key.EncryptKey)
	if err != nil {
		return nil, oxerr.Wrap(oxerr.Fatal, "newContentCryptor: aes", err)
	}
	switch cipherCombo {
	case CipherComboSivGcm:
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, oxerr.Wrap(oxerr.Fatal, "newContentCryptor: gcm", err)
		}
		return &gcmContentCryptor{aead: aead}, nil
	case CipherComboSivCtrMac:
		return &ctrMacContentCryptor{block: block, hmacKey: key.MacKey}, nil
	default:
		return nil, oxerr.Wrap(oxerr.Semantic, "newContentCryptor", fmt.Errorf("unsupported cipher combo %q", cipherCombo))
	}
}

// newContentCryptorForFile rebuilds a per-file content cryptor from the
// per-file content key stored in that file's header, not the vault's
// master encrypt key.
func (c *Cryptor) newContentCryptorForFile(contentKey []byte) (contentCryptor, error) {
	fileKey := MasterKey{EncryptKey: contentKey, MacKey: c.masterKey.MacKey}
	return newContentCryptor(fileKey, c.cipherCombo)
}

// EncryptDirID deterministically encrypts a directory id and returns the
// Base32 hash used as its two-level storage-path shard.
func (c *Cryptor) EncryptDirID(dirID string) (string, error) {
	ciphertext, err := c.siv.Seal(nil, []byte(dirID))
	if err != nil {
		return "", oxerr.Wrap(oxerr.Fatal, "EncryptDirID", err)
	}
	sum := sha1.Sum(ciphertext)
	return base32.StdEncoding.EncodeToString(sum[:]), nil
}

// EncryptFilename deterministically encrypts filename, scoped to the
// cleartext directory it lives in via dirID as associated data.
func (c *Cryptor) EncryptFilename(filename, dirID string) (string, error) {
	ciphertext, err := c.siv.Seal(nil, []byte(filename), []byte(dirID))
	if err != nil {
		return "", oxerr.Wrap(oxerr.Fatal, "EncryptFilename", err)
	}
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// DecryptFilename is the inverse of EncryptFilename. Both padded and
// unpadded Base64URL spellings are accepted, since other implementations
// writing the same vault may strip padding.
func (c *Cryptor) DecryptFilename(encoded, dirID string) (string, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		ciphertext, err = base64.RawURLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return "", oxerr.Wrap(oxerr.Integrity, "DecryptFilename: base64", err)
	}
	plaintext, err := c.siv.Open(nil, ciphertext, []byte(dirID))
	if err != nil {
		c.log.WithError(err).Error("filename failed authentication")
		return "", oxerr.Wrap(oxerr.Integrity, "DecryptFilename: siv", err)
	}
	return string(plaintext), nil
}

// EncryptedChunkSize returns the size of the ciphertext encryptChunk would
// produce from a plaintext payload of payloadSize bytes.
func (c *Cryptor) EncryptedChunkSize(payloadSize int) int {
	return c.content.nonceSize() + payloadSize + c.content.tagSize()
}

// --- AES-GCM content cipher (SIV_GCM combo) ---

type gcmContentCryptor struct {
	aead cipher.AEAD
}

func (*gcmContentCryptor) nonceSize() int { return 12 }
func (*gcmContentCryptor) tagSize() int   { return 16 }

func (c *gcmContentCryptor) encryptChunk(payload, nonce, ad []byte) []byte {
	out := make([]byte, 0, len(nonce)+len(payload)+c.tagSize())
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, payload, ad)
}

func (c *gcmContentCryptor) decryptChunk(chunk, ad []byte) ([]byte, error) {
	if len(chunk) < c.nonceSize() {
		return nil, oxerr.Wrap(oxerr.Integrity, "gcmContentCryptor.decryptChunk", fmt.Errorf("chunk shorter than nonce"))
	}
	nonce := chunk[:c.nonceSize()]
	plaintext, err := c.aead.Open([]byte{}, nonce, chunk[c.nonceSize():], ad)
	if err != nil {
		return nil, oxerr.Wrap(oxerr.Integrity, "gcmContentCryptor.decryptChunk", oxerr.ErrBadMAC)
	}
	return plaintext, nil
}

// fileAssociatedData orders the chunk index before the file nonce for the
// GCM combo, matching the reference vault format's AAD layout.
func (c *gcmContentCryptor) fileAssociatedData(fileNonce []byte, chunkNr uint64) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, chunkNr)
	buf.Write(fileNonce)
	return buf.Bytes()
}

// --- AES-CTR + HMAC-SHA256 content cipher (SIV_CTRMAC combo) ---

type ctrMacContentCryptor struct {
	block   cipher.Block
	hmacKey []byte
}

func (*ctrMacContentCryptor) nonceSize() int { return 16 }
func (*ctrMacContentCryptor) tagSize() int   { return 32 }

func (c *ctrMacContentCryptor) newCTR(nonce []byte) cipher.Stream { return cipher.NewCTR(c.block, nonce) }
func (c *ctrMacContentCryptor) newHMAC() hash.Hash                { return hmac.New(sha256.New, c.hmacKey) }

func (c *ctrMacContentCryptor) encryptChunk(payload, nonce, ad []byte) []byte {
	ciphertext := make([]byte, len(payload))
	c.newCTR(nonce).XORKeyStream(ciphertext, payload)

	var buf bytes.Buffer
	buf.Write(nonce)
	buf.Write(ciphertext)

	mac := c.newHMAC()
	mac.Write(ad)
	mac.Write(buf.Bytes())
	buf.Write(mac.Sum(nil))
	return buf.Bytes()
}

func (c *ctrMacContentCryptor) decryptChunk(chunk, ad []byte) ([]byte, error) {
	if len(chunk) < c.nonceSize()+c.tagSize() {
		return nil, oxerr.Wrap(oxerr.Integrity, "ctrMacContentCryptor.decryptChunk", fmt.Errorf("chunk too short"))
	}
	macStart := len(chunk) - c.tagSize()
	gotMac := chunk[macStart:]
	body := chunk[:macStart]

	mac := c.newHMAC()
	mac.Write(ad)
	mac.Write(body)
	if !hmac.Equal(gotMac, mac.Sum(nil)) {
		return nil, oxerr.Wrap(oxerr.Integrity, "ctrMacContentCryptor.decryptChunk", oxerr.ErrBadMAC)
	}

	nonce := body[:c.nonceSize()]
	ciphertext := body[c.nonceSize():]
	plaintext := make([]byte, len(ciphertext))
	c.newCTR(nonce).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// fileAssociatedData orders the file nonce before the chunk index for the
// CTR+MAC combo, matching the reference vault format's AAD layout (the
// opposite order from the GCM combo above).
func (c *ctrMacContentCryptor) fileAssociatedData(fileNonce []byte, chunkNr uint64) []byte {
	var buf bytes.Buffer
	buf.Write(fileNonce)
	_ = binary.Write(&buf, binary.BigEndian, chunkNr)
	return buf.Bytes()
}
