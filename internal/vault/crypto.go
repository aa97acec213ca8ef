package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	blobVersion = 1

	// envSecretKey, when set, supplies raw key material (base64, 32
	// bytes after decoding) or a passphrase (any other length, run
	// through scrypt) for the vault's AEAD key.
	envSecretKey = "CODEMODE_VAULT_SECRET"

	keyFileMode = 0o600
	keyFileName = ".key"
)

// blob is the on-disk/serialized form: {version, iv, auth_tag, ciphertext}
// per spec.md §4.4, with fields base64-encoded for JSON transport.
type blob struct {
	Version    int    `json:"version"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
	Ciphertext string `json:"ciphertext"`
}

// sealer seals/opens vault contents with a ChaCha20-Poly1305 AEAD. The
// 96-bit nonce matches spec.md §4.4's "iv (96-bit random)" exactly, and
// Poly1305's tag is surfaced separately as auth_tag by splitting the
// AEAD's combined output — chacha20poly1305.Open verifies the whole
// sealed box, so auth_tag here is kept as observable metadata for
// operators inspecting the blob, not re-verified independently.
type sealer struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

func newSealer(blobPath string) (sealer, error) {
	key, err := loadOrCreateKey(blobPath)
	if err != nil {
		return sealer{}, fmt.Errorf("load vault key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return sealer{}, fmt.Errorf("init AEAD: %w", err)
	}
	return sealer{aead: aead}, nil
}

func (s sealer) seal(v contents) (blob, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return blob{}, fmt.Errorf("marshal contents: %w", err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return blob{}, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	overhead := s.aead.Overhead()
	ciphertext, tag := sealed[:len(sealed)-overhead], sealed[len(sealed)-overhead:]

	return blob{
		Version:    blobVersion,
		IV:         base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func (s sealer) open(b blob, out *contents) error {
	if b.Version != blobVersion {
		return fmt.Errorf("unsupported vault blob version %d", b.Version)
	}
	nonce, err := base64.StdEncoding.DecodeString(b.IV)
	if err != nil {
		return fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(b.Ciphertext)
	if err != nil {
		return fmt.Errorf("decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(b.AuthTag)
	if err != nil {
		return fmt.Errorf("decode auth_tag: %w", err)
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fmt.Errorf("decrypt vault blob: %w", err)
	}
	return json.Unmarshal(plaintext, out)
}

func blobFilePath(base string) string { return base }

func keyFilePath(blobPath string) string {
	return filepath.Join(filepath.Dir(blobPath), keyFileName)
}

// loadOrCreateKey derives 32 bytes of key material: from
// CODEMODE_VAULT_SECRET if set (raw 32-byte base64, else scrypt over the
// given passphrase with a fixed salt built into this package), else from
// a randomly generated per-install secret persisted to a sibling file
// with mode 0600. A key file found with any other mode is refused with an
// error, which fails vault initialization.
func loadOrCreateKey(blobPath string) ([]byte, error) {
	if secret := os.Getenv(envSecretKey); secret != "" {
		if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == chacha20poly1305.KeySize {
			return raw, nil
		}
		salt := []byte("codemode-sandbox-vault-scrypt-salt-v1")
		return scrypt.Key([]byte(secret), salt, 1<<15, 8, 1, chacha20poly1305.KeySize)
	}

	path := keyFilePath(blobPath)
	if info, err := os.Stat(path); err == nil {
		if info.Mode().Perm() != keyFileMode {
			return nil, fmt.Errorf("vault key file %s has mode %v, refusing to trust it", path, info.Mode().Perm())
		}
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read vault key file: %w", err)
		}
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("vault key file %s has unexpected length %d", path, len(key))
		}
		return key, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate vault key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}
	if err := os.WriteFile(path, key, keyFileMode); err != nil {
		return nil, fmt.Errorf("write vault key file: %w", err)
	}
	return key, nil
}

func readBlob(path string) (blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return blob{}, err
	}
	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return blob{}, fmt.Errorf("unmarshal vault blob: %w", err)
	}
	return b, nil
}

func writeBlob(path string, b blob) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal vault blob: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
