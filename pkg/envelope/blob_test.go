package envelope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlob_RoundTrip(t *testing.T) {
	f := newFixture(t, testMaster, nil)
	ctx := context.Background()
	data := []byte("%PDF-1.7 policy document")

	blob, err := f.svc.EncryptBlob(ctx, "acme", "policy.pdf", data)
	require.NoError(t, err)
	assert.Equal(t, "tenant-acme-file-key", blob.KeyID)
	assert.Equal(t, Algorithm, blob.Algorithm)
	assert.Equal(t, f.clock.Now().UTC(), blob.EncryptedAt)
	assert.NotContains(t, string(blob.Data), "policy document")

	out, err := f.svc.DecryptBlob(ctx, "acme", blob)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestBlob_Rejections(t *testing.T) {
	f := newFixture(t, testMaster, nil)
	ctx := context.Background()

	blob, err := f.svc.EncryptBlob(ctx, "acme", "policy.pdf", []byte("secret"))
	require.NoError(t, err)

	_, err = f.svc.DecryptBlob(ctx, "globex", blob)
	assert.ErrorIs(t, err, ErrDecrypt)

	renamed := *blob
	renamed.Filename = "other.pdf"
	_, err = f.svc.DecryptBlob(ctx, "acme", &renamed)
	assert.ErrorIs(t, err, ErrDecrypt)

	other := *blob
	other.Algorithm = "AES-128-CBC"
	_, err = f.svc.DecryptBlob(ctx, "acme", &other)
	assert.ErrorIs(t, err, ErrMalformedCiphertext)

	_, err = f.svc.DecryptBlob(ctx, "acme", nil)
	assert.ErrorIs(t, err, ErrMalformedCiphertext)
}
