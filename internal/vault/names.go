package vault

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

// On-disk file names and extensions of the vault layout. dirPointerFile
// sits in a directory's entry under its parent's storage path and holds the
// directory's id; dirIDBackupFile sits in the directory's own storage path
// as the self-referential backup used to verify that shard's identity.
const (
	dirPointerFile  = "dir.c9r"
	dirIDBackupFile = "dirid.c9r"
	symlinkFile     = "symlink.c9r"
	contentsFile    = "contents.c9r"
	nameBackupFile  = "name.c9s"
	shorteningExt   = ".c9s"
	encryptedExt    = ".c9r"
)

// ShorteningThreshold is the default encrypted-name length above which a
// name is stored in shortened (.c9s) form; it matches the vault.cryptomator
// default written by NewConfig.
const ShorteningThreshold = 220

// NormalizeName applies the canonical Unicode normalization (NFC) a vault
// requires before any name is encrypted, so that visually identical names
// always encrypt to the same ciphertext regardless of input form.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// EncodedName is an encrypted directory entry name as it appears on disk:
// either a plain "<ciphertext>.c9r" or, once the ciphertext would exceed
// ShorteningThreshold, a shortened "<hash>.c9s" directory containing the
// full ciphertext in a name.c9s file alongside its payload.
type EncodedName struct {
	// Encoded is the path component to create under the parent storage dir.
	Encoded string
	// Shortened is true when Encoded is a .c9s directory rather than a
	// plain .c9r file/dir name.
	Shortened bool
	// FullCiphertext is the unshortened "<ciphertext>.c9r" name; when
	// Shortened, it must be written into Encoded/name.c9s.
	FullCiphertext string
}

// EncodeName encrypts name (already NFC-normalized by the caller) scoped to
// dirID, and decides whether the result needs shortening.
func (c *Cryptor) EncodeName(name, dirID string) (EncodedName, error) {
	ciphertext, err := c.EncryptFilename(name, dirID)
	if err != nil {
		return EncodedName{}, err
	}
	full := ciphertext + encryptedExt
	if len(full) <= ShorteningThreshold {
		return EncodedName{Encoded: full, FullCiphertext: full}, nil
	}

	sum := sha1.Sum([]byte(full))
	shortened := base64.URLEncoding.EncodeToString(sum[:]) + shorteningExt
	return EncodedName{Encoded: shortened, Shortened: true, FullCiphertext: full}, nil
}

// DecodeName reverses EncodeName. For a shortened entry, fullCiphertext
// must be the contents previously read from <Encoded>/name.c9s.
func (c *Cryptor) DecodeName(fullCiphertext, dirID string) (string, error) {
	ciphertext := fullCiphertext
	if ext := filepath.Ext(ciphertext); ext == encryptedExt {
		ciphertext = ciphertext[:len(ciphertext)-len(ext)]
	} else {
		return "", oxerr.Wrap(oxerr.Integrity, "DecodeName", fmt.Errorf("name %q missing .c9r suffix", fullCiphertext))
	}
	return c.DecryptFilename(ciphertext, dirID)
}

// MarshalDirIDBackup returns the bytes to write into a directory's own
// dirid.c9r: dirID sealed under AES-SIV with dirID itself as associated
// data. The backup is self-referential by construction — opening it
// authenticates a *candidate* dirID rather than revealing an unknown one,
// which is what makes it useful as a tamper-evident check that a shard
// directory still holds the identity it was created with.
func (c *Cryptor) MarshalDirIDBackup(dirID string) ([]byte, error) {
	ciphertext, err := c.siv.Seal(nil, []byte(dirID), []byte(dirID))
	if err != nil {
		return nil, oxerr.Wrap(oxerr.Fatal, "MarshalDirIDBackup", err)
	}
	return ciphertext, nil
}

// VerifyDirIDBackup decrypts a dirid.c9r payload under the assumption that
// it backs up dirID, returning an error if it doesn't (wrong shard, bit
// rot, or a hash collision landing two directories on the same path).
func (c *Cryptor) VerifyDirIDBackup(data []byte, dirID string) error {
	plaintext, err := c.siv.Open(nil, data, []byte(dirID))
	if err != nil {
		c.log.WithError(err).Error("dirid.c9r failed authentication")
		return oxerr.Wrap(oxerr.Integrity, "VerifyDirIDBackup", oxerr.ErrDirIDMismatch)
	}
	if string(plaintext) != dirID {
		c.log.Error("dirid.c9r decrypted to a different directory id")
		return oxerr.Wrap(oxerr.Integrity, "VerifyDirIDBackup", oxerr.ErrDirIDMismatch)
	}
	return nil
}

// StoragePath returns the two-level shard path (e.g. "d/GG/WOTR...") that a
// directory identified by dirID is stored under.
func (c *Cryptor) StoragePath(dirID string) (string, error) {
	hash, err := c.EncryptDirID(dirID)
	if err != nil {
		return "", err
	}
	if len(hash) < 2 {
		return "", oxerr.Wrap(oxerr.Fatal, "StoragePath", fmt.Errorf("dirid hash too short: %q", hash))
	}
	return filepath.Join("d", hash[:2], hash[2:]), nil
}
