package driver

import (
	"context"
	"strings"
)

// Decryptor resolves an opaque ciphertext credential into its clear
// form. Supplied by the orchestrator; a driver fails closed if a
// credential needs decryption and none is available (spec.md §6).
type Decryptor interface {
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// NoopDecryptor treats every credential as already clear. Useful for
// tests and for configs that never carry an "encrypted:" prefix.
type NoopDecryptor struct{}

func (NoopDecryptor) Decrypt(_ context.Context, ciphertext string) (string, error) {
	return ciphertext, nil
}

const encryptedPrefix = "encrypted:"

// ResolveCredential resolves a raw config value that is either clear
// text or "encrypted:<ciphertext>" into its clear form.
func ResolveCredential(ctx context.Context, raw string, dec Decryptor) (string, error) {
	if !strings.HasPrefix(raw, encryptedPrefix) {
		return raw, nil
	}
	if dec == nil {
		return "", NewError(CodeInvalidConfig, "credential requires decryption but no decryptor was supplied")
	}
	cipher := strings.TrimPrefix(raw, encryptedPrefix)
	clear, err := dec.Decrypt(ctx, cipher)
	if err != nil {
		return "", Wrap(CodeInvalidConfig, err, "failed to decrypt credential")
	}
	return clear, nil
}

// Option describes one backend-specific configuration field, in the
// same spirit as the teacher's fs.Option used throughout every
// backend's init() (e.g. backend/discord's "auth_token", "chunks_channel").
// This module doesn't ship a config UI; Option exists so each backend
// package can self-document its Options struct for the orchestrator to
// render a form from, without the orchestrator importing backend
// internals.
type Option struct {
	Name     string
	Help     string
	Default  any
	Required bool
	Advanced bool
}

// Collaborators bundles the external systems a driver is handed at
// construction time (spec.md §6): the upload-session ledger, the
// attachment store's VFS index, and the credential decryptor. Not every
// driver needs every collaborator; unused fields are left nil.
type Collaborators struct {
	Sessions SessionStore
	Nodes    NodeStore
	Decrypt  Decryptor
}

// RegInfo is what a backend package hands to Register in its init(),
// mirroring the teacher's fs.RegInfo/fs.Register pattern.
type RegInfo struct {
	Name        string
	Description string
	NewDriver   func(ctx context.Context, name, root string, raw map[string]string, collab Collaborators) (Driver, error)
	Options     []Option
}
