// Package vault implements the Credential Vault (C4): an at-rest
// authenticated-encryption blob storing per-MCP credentials, never
// exposed to the isolate domain.
//
// Maps to: spec.md §4.4
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Credential is an opaque, JSON-serializable secret registered under an
// MCP/binding name.
type Credential struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Entry is the list() summary: no secret material.
type Entry struct {
	MCPName string `json:"mcp_name"`
	Kind    string `json:"kind"`
}

// contents is the plaintext the blob decrypts to.
type contents struct {
	Credentials map[string]Credential `json:"credentials"`
}

// Vault stores credentials in an authenticated-encryption blob on disk,
// per spec.md §4.4. A single writer discipline is enforced by mu: every
// mutation modifies the in-memory plaintext, then re-encrypts and
// rewrites the whole blob, under lock.
type Vault struct {
	path string
	log  *slog.Logger

	mu         sync.Mutex
	initOnce   sync.Once
	initErr    error
	sealer     sealer
	degraded   bool // true once disk persistence has failed; memory-only from here on
	plaintext  contents
	persisted  bool // whether plaintext reflects what's on disk (false right after a degrade)
}

// New creates a Vault backed by blobPath, deriving/loading key material
// lazily on first use. log may be nil (a discard logger is used).
func New(blobPath string, log *slog.Logger) *Vault {
	if log == nil {
		log = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	return &Vault{
		path: blobPath,
		log:  log,
		plaintext: contents{
			Credentials: make(map[string]Credential),
		},
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// ensureInit performs the lazy initialization promise: derive/load key
// material, then load and decrypt the existing blob if present. On any
// failure, the vault degrades to in-memory-only operation (never falls
// back to writing plaintext to disk) and the failure is logged once.
func (v *Vault) ensureInit(ctx context.Context) {
	v.initOnce.Do(func() {
		s, err := newSealer(v.path)
		if err != nil {
			v.log.WarnContext(ctx, "vault: key material initialization failed, degrading to in-memory-only", "error", err)
			v.degraded = true
			v.initErr = err
			return
		}
		v.sealer = s

		blob, err := readBlob(blobFilePath(v.path))
		if err != nil {
			if !isNotExist(err) {
				v.log.WarnContext(ctx, "vault: failed to read existing blob, degrading to in-memory-only", "error", err)
				v.degraded = true
				v.initErr = err
			}
			return
		}

		var c contents
		if err := s.open(blob, &c); err != nil {
			v.log.WarnContext(ctx, "vault: failed to decrypt existing blob, degrading to in-memory-only", "error", err)
			v.degraded = true
			v.initErr = err
			return
		}
		if c.Credentials == nil {
			c.Credentials = make(map[string]Credential)
		}
		v.plaintext = c
		v.persisted = true
	})
}

// Store saves cred under mcpName, persisting the updated blob unless the
// vault has degraded to memory-only.
func (v *Vault) Store(ctx context.Context, mcpName string, cred Credential) error {
	v.ensureInit(ctx)
	v.mu.Lock()
	defer v.mu.Unlock()

	v.plaintext.Credentials[mcpName] = cred
	return v.persistLocked(ctx)
}

// Retrieve returns the credential for mcpName, or (nil, false) if absent.
func (v *Vault) Retrieve(ctx context.Context, mcpName string) (*Credential, bool) {
	v.ensureInit(ctx)
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.plaintext.Credentials[mcpName]
	if !ok {
		return nil, false
	}
	cp := c
	return &cp, true
}

// Remove deletes the credential for mcpName, if present, persisting the change.
func (v *Vault) Remove(ctx context.Context, mcpName string) error {
	v.ensureInit(ctx)
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.plaintext.Credentials[mcpName]; !ok {
		return nil
	}
	delete(v.plaintext.Credentials, mcpName)
	return v.persistLocked(ctx)
}

// List returns the name/kind of every stored credential, without secrets.
func (v *Vault) List(ctx context.Context) []Entry {
	v.ensureInit(ctx)
	v.mu.Lock()
	defer v.mu.Unlock()

	entries := make([]Entry, 0, len(v.plaintext.Credentials))
	for name, c := range v.plaintext.Credentials {
		entries = append(entries, Entry{MCPName: name, Kind: c.Kind})
	}
	return entries
}

// Degraded reports whether the vault is running in-memory-only after an
// initialization or decryption failure.
func (v *Vault) Degraded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.degraded
}

func (v *Vault) persistLocked(ctx context.Context) error {
	if v.degraded {
		return nil
	}
	blob, err := v.sealer.seal(v.plaintext)
	if err != nil {
		v.log.WarnContext(ctx, "vault: encryption failed, degrading to in-memory-only", "error", err)
		v.degraded = true
		return fmt.Errorf("seal vault contents: %w", err)
	}
	if err := writeBlob(blobFilePath(v.path), blob); err != nil {
		v.log.WarnContext(ctx, "vault: write failed, degrading to in-memory-only", "error", err)
		v.degraded = true
		return fmt.Errorf("write vault blob: %w", err)
	}
	v.persisted = true
	return nil
}
