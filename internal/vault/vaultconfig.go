package vault

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

// File names at the root of every vault.
const (
	ConfigFileName    = "vault.cryptomator"
	MasterKeyFileName = "masterkey.cryptomator"
)

const configKeyIDHeader = "kid"

// keyID is the JWT "kid" header value, "<scheme>:<uri>", pointing at the
// masterkey file the vault config was signed with.
type keyID string

func (k keyID) Scheme() string { return strings.SplitN(string(k), ":", 2)[0] }
func (k keyID) URI() string {
	parts := strings.SplitN(string(k), ":", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Config is the vault-wide configuration persisted (JWT-signed) in
// vault.cryptomator.
type Config struct {
	Format              int    `json:"format"`
	ShorteningThreshold int    `json:"shorteningThreshold"`
	Jti                 string `json:"jti"`
	CipherCombo         string `json:"cipherCombo"`
}

// NewConfig returns the default Config for a freshly created vault.
func NewConfig() Config {
	return Config{
		Format:              8,
		ShorteningThreshold: ShorteningThreshold,
		Jti:                 uuid.NewString(),
		CipherCombo:         CipherComboSivGcm,
	}
}

// Valid implements jwt.Claims.
func (c *Config) Valid() error {
	if c.Format != 8 {
		return fmt.Errorf("unsupported vault format: %d", c.Format)
	}
	return nil
}

// Marshal signs c as a JWT using masterKey's combined key material.
func (c Config) Marshal(masterKey MasterKey) ([]byte, error) {
	kid := keyID("masterkeyfile:" + MasterKeyFileName)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &c)
	token.Header[configKeyIDHeader] = string(kid)
	raw, err := token.SignedString(masterKey.jwtKey())
	if err != nil {
		return nil, oxerr.Wrap(oxerr.Fatal, "Config.Marshal", err)
	}
	return []byte(raw), nil
}

// UnmarshalConfig verifies and parses a vault.cryptomator JWT. keyFunc
// resolves the masterkey file named by the token's "kid" header into the
// MasterKey whose jwtKey() verifies the signature (typically by reading and
// decrypting masterkey.cryptomator with the vault passphrase).
func UnmarshalConfig(tokenBytes []byte, keyFunc func(masterKeyPath string) (*MasterKey, error)) (Config, error) {
	var c Config
	_, err := jwt.ParseWithClaims(string(tokenBytes), &c, func(token *jwt.Token) (any, error) {
		raw, ok := token.Header[configKeyIDHeader]
		if !ok {
			return nil, fmt.Errorf("vault.cryptomator: missing kid header")
		}
		kidStr, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("vault.cryptomator: kid header is not a string")
		}
		masterKey, err := keyFunc(keyID(kidStr).URI())
		if err != nil {
			return nil, err
		}
		return masterKey.jwtKey(), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return Config{}, oxerr.Wrap(oxerr.Integrity, "UnmarshalConfig", err)
	}
	return c, nil
}
