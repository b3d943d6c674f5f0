package envelope

import "errors"

var (
	// ErrKeyDerivation is returned when no tenant key can be derived. It is
	// never papered over with a generated or default key.
	ErrKeyDerivation = errors.New("tenant key derivation failed")

	// ErrMalformedCiphertext is returned for values that are not ciphertext of this package
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrDecrypt is returned when ciphertext does not open under the tenant key
	ErrDecrypt = errors.New("decryption failed")

	// ErrUnsupportedValue is returned by EncryptRecord for sensitive values
	// that would not decrypt to the same Go value
	ErrUnsupportedValue = errors.New("unsupported sensitive value type")
)
