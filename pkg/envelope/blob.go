package envelope

import (
	"context"
	"fmt"
	"time"
)

// Blob is an encrypted file payload with the metadata needed to open it
type Blob struct {
	Data        []byte    `json:"data"`
	KeyID       string    `json:"key_id"`
	Algorithm   string    `json:"algorithm"`
	Filename    string    `json:"filename"`
	EncryptedAt time.Time `json:"encrypted_at"`
}

// KeyID names the tenant key used for blobs. It identifies, it does not version.
func KeyID(tenantID string) string {
	return "tenant-" + tenantID + "-file-key"
}

func blobAAD(tenantID, filename string) []byte {
	return []byte(tenantID + "\x00file\x00" + filename)
}

// EncryptBlob seals data under the tenant key, bound to filename
func (s *Service) EncryptBlob(ctx context.Context, tenantID, filename string, data []byte) (*Blob, error) {
	if err := s.checkTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	key, err := s.DeriveKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	sealed, err := seal(aead, data, blobAAD(tenantID, filename))
	if err != nil {
		return nil, err
	}
	return &Blob{
		Data:        sealed,
		KeyID:       KeyID(tenantID),
		Algorithm:   Algorithm,
		Filename:    filename,
		EncryptedAt: s.clock.Now().UTC(),
	}, nil
}

// DecryptBlob opens a blob produced by EncryptBlob for the same tenant
func (s *Service) DecryptBlob(ctx context.Context, tenantID string, b *Blob) ([]byte, error) {
	if b == nil {
		return nil, ErrMalformedCiphertext
	}
	if b.Algorithm != Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedCiphertext, b.Algorithm)
	}
	if b.KeyID != KeyID(tenantID) {
		return nil, fmt.Errorf("%w: blob key %s does not belong to tenant %s", ErrDecrypt, b.KeyID, tenantID)
	}
	if err := s.checkTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	key, err := s.DeriveKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return open(aead, b.Data, blobAAD(tenantID, b.Filename))
}
