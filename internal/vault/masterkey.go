package vault

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"io"

	aeswrap "github.com/NickBall/go-aes-key-wrap"
	"golang.org/x/crypto/scrypt"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

const (
	// MasterEncryptKeySize is the size in bytes of MasterKey.EncryptKey.
	MasterEncryptKeySize = 32
	// MasterMacKeySize is the size in bytes of MasterKey.MacKey.
	MasterMacKeySize = 32
	// MasterDefaultVersion is written to the deprecated version field of
	// masterkey.cryptomator; vault format 8 ignores it on read.
	MasterDefaultVersion = 999
	// MasterDefaultScryptCostParam is scrypt's N parameter for new vaults.
	MasterDefaultScryptCostParam = 32 * 1024
	// MasterDefaultScryptBlockSize is scrypt's r parameter for new vaults.
	MasterDefaultScryptBlockSize = 8
	// MasterDefaultScryptSaltSize is the size in bytes of a fresh scrypt salt.
	MasterDefaultScryptSaltSize = 32
)

// MasterKey holds the two 32-byte halves that seed every per-file and
// per-name cipher in the vault: EncryptKey for AES content/name encryption,
// MacKey mixed into the AES-SIV key and (for the CTR+MAC combo) into the
// chunk HMAC.
type MasterKey struct {
	EncryptKey []byte
	MacKey     []byte
}

// sivKey is the 64-byte key miscreant's AES-CMAC-SIV expects: MacKey first,
// EncryptKey second (matching the Cryptomator reference layout).
func (m MasterKey) sivKey() []byte {
	return append(append([]byte{}, m.MacKey...), m.EncryptKey...)
}

// TryClone returns a MasterKey holding independent copies of both key
// halves. A plain Go assignment would share the same backing arrays, so any
// caller needing to hand a key to something with its own lifecycle (a
// second Cryptor, a test fixture) must go through TryClone rather than copy
// the struct directly — matching the "no copy; explicit try_clone" rule.
func (m MasterKey) TryClone() MasterKey {
	return MasterKey{
		EncryptKey: append([]byte(nil), m.EncryptKey...),
		MacKey:     append([]byte(nil), m.MacKey...),
	}
}

// Destroy overwrites both key halves with zero bytes. Callers must not use m
// afterward; it exists so a Vault can wipe its master key at unmount rather
// than leaving it for the garbage collector to eventually reclaim.
func (m *MasterKey) Destroy() {
	for i := range m.EncryptKey {
		m.EncryptKey[i] = 0
	}
	for i := range m.MacKey {
		m.MacKey[i] = 0
	}
}

func (m MasterKey) jwtKey() []byte {
	return append(append([]byte{}, m.EncryptKey...), m.MacKey...)
}

type encryptedMasterKey struct {
	ScryptSalt       []byte `json:"scryptSalt"`
	ScryptCostParam  int    `json:"scryptCostParam"`
	ScryptBlockSize  int    `json:"scryptBlockSize"`
	PrimaryMasterKey []byte `json:"primaryMasterKey"`
	HmacMasterKey    []byte `json:"hmacMasterKey"`

	// Version and VersionMac are retained only for on-disk compatibility
	// with vault format 8 readers; they are not verified on unmarshal.
	Version    uint32 `json:"version"`
	VersionMac []byte `json:"versionMac"`
}

// NewMasterKey creates a fresh, randomly initialized MasterKey for a new vault.
func NewMasterKey() (MasterKey, error) {
	var m MasterKey
	m.EncryptKey = make([]byte, MasterEncryptKeySize)
	m.MacKey = make([]byte, MasterMacKeySize)
	if _, err := rand.Read(m.EncryptKey); err != nil {
		return MasterKey{}, oxerr.Wrap(oxerr.Fatal, "NewMasterKey", err)
	}
	if _, err := rand.Read(m.MacKey); err != nil {
		return MasterKey{}, oxerr.Wrap(oxerr.Fatal, "NewMasterKey", err)
	}
	return m, nil
}

// Marshal encrypts m with passphrase using scrypt+AES-KW and writes the
// masterkey.cryptomator JSON document to w.
func (m MasterKey) Marshal(w io.Writer, passphrase string) error {
	enc := encryptedMasterKey{
		Version:         MasterDefaultVersion,
		ScryptCostParam: MasterDefaultScryptCostParam,
		ScryptBlockSize: MasterDefaultScryptBlockSize,
		ScryptSalt:      make([]byte, MasterDefaultScryptSaltSize),
	}
	if _, err := rand.Read(enc.ScryptSalt); err != nil {
		return oxerr.Wrap(oxerr.Fatal, "MasterKey.Marshal", err)
	}

	kek, err := scrypt.Key([]byte(passphrase), enc.ScryptSalt, enc.ScryptCostParam, enc.ScryptBlockSize, 1, MasterEncryptKeySize)
	if err != nil {
		return oxerr.Wrap(oxerr.Fatal, "MasterKey.Marshal: scrypt", err)
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return oxerr.Wrap(oxerr.Fatal, "MasterKey.Marshal: aes", err)
	}

	if enc.PrimaryMasterKey, err = aeswrap.Wrap(block, m.EncryptKey); err != nil {
		return oxerr.Wrap(oxerr.Fatal, "MasterKey.Marshal: wrap encrypt key", err)
	}
	if enc.HmacMasterKey, err = aeswrap.Wrap(block, m.MacKey); err != nil {
		return oxerr.Wrap(oxerr.Fatal, "MasterKey.Marshal: wrap mac key", err)
	}

	mac := hmac.New(sha256.New, m.MacKey)
	if err := binary.Write(mac, binary.BigEndian, enc.Version); err != nil {
		return oxerr.Wrap(oxerr.Fatal, "MasterKey.Marshal: version mac", err)
	}
	enc.VersionMac = mac.Sum(nil)

	if err := json.NewEncoder(w).Encode(enc); err != nil {
		return oxerr.Wrap(oxerr.Fatal, "MasterKey.Marshal: encode", err)
	}
	return nil
}

// UnmarshalMasterKey reads a masterkey.cryptomator document and decrypts it
// with passphrase. A wrong passphrase surfaces as an Integrity error: AES-KW
// unwrap fails its internal integrity check rather than silently returning
// garbage key material.
func UnmarshalMasterKey(r io.Reader, passphrase string) (MasterKey, error) {
	var enc encryptedMasterKey
	if err := json.NewDecoder(r).Decode(&enc); err != nil {
		return MasterKey{}, oxerr.Wrap(oxerr.Integrity, "UnmarshalMasterKey: parse json", err)
	}

	kek, err := scrypt.Key([]byte(passphrase), enc.ScryptSalt, enc.ScryptCostParam, enc.ScryptBlockSize, 1, MasterEncryptKeySize)
	if err != nil {
		return MasterKey{}, oxerr.Wrap(oxerr.Fatal, "UnmarshalMasterKey: scrypt", err)
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return MasterKey{}, oxerr.Wrap(oxerr.Fatal, "UnmarshalMasterKey: aes", err)
	}

	var m MasterKey
	if m.EncryptKey, err = aeswrap.Unwrap(block, enc.PrimaryMasterKey); err != nil {
		return MasterKey{}, oxerr.Wrap(oxerr.Integrity, "UnmarshalMasterKey: unwrap encrypt key (wrong passphrase?)", err)
	}
	if m.MacKey, err = aeswrap.Unwrap(block, enc.HmacMasterKey); err != nil {
		return MasterKey{}, oxerr.Wrap(oxerr.Integrity, "UnmarshalMasterKey: unwrap mac key (wrong passphrase?)", err)
	}
	return m, nil
}
