// Package envelope encrypts the sensitive fields of tenant records under a
// per-tenant key.
//
// Tenant keys are derived, never stored: PBKDF2-HMAC-SHA256 over the master
// key with the tenant id as salt, 100 000 iterations, 32 bytes. Derived keys
// are cached for one hour; concurrent derivations for the same tenant share
// one computation and never hold the cache lock while deriving.
//
// # Records
//
// EncryptRecord replaces each non-empty sensitive field with
//
//	enc:v1:<base64url(nonce || AES-256-GCM sealed payload)>
//
// using a fresh random nonce and the tenant id and field name as additional
// data, so a ciphertext moved to another tenant or field does not open.
// DecryptRecord is best effort: a field that does not open stays ciphertext,
// a warning is logged and a metric is counted.
//
// # Rotation
//
// Rotate only drops the cached key. Because keys are a deterministic function
// of the master key, existing ciphertext stays readable, and rotating without
// changing the master key yields the same key. Changing the master key
// (FileKeySource.Watch) makes older ciphertext unreadable; there are no key
// version tags to recover it.
package envelope
