package envelope

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmitra/tenancy/pkg/observability"
)

func TestEnvKeySource(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")

	t.Setenv(DefaultMasterKeyEnv, base64.StdEncoding.EncodeToString(raw))
	key, err := EnvKeySource{}.MasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	t.Setenv(DefaultMasterKeyEnv, base64.RawURLEncoding.EncodeToString(raw))
	key, err = EnvKeySource{}.MasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	t.Setenv(DefaultMasterKeyEnv, "not base64 ***")
	_, err = EnvKeySource{}.MasterKey(context.Background())
	assert.Error(t, err)

	t.Setenv(DefaultMasterKeyEnv, base64.StdEncoding.EncodeToString([]byte("short")))
	_, err = EnvKeySource{}.MasterKey(context.Background())
	assert.Error(t, err)
}

func writeKeyFile(t *testing.T, path string, raw []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(raw)+"\n"), 0o600))
}

func TestFileKeySource_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")
	first := []byte("first-master-key-material-000000")
	writeKeyFile(t, path, first)

	src, err := NewFileKeySource(path, nil)
	require.NoError(t, err)
	key, err := src.MasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, key)

	require.NoError(t, os.WriteFile(path, []byte("garbage ***"), 0o600))
	assert.Error(t, src.Reload())
	key, err = src.MasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, key, "a bad file keeps the previous key")

	_, err = NewFileKeySource(filepath.Join(t.TempDir(), "missing.key"), nil)
	assert.Error(t, err)
}

func TestFileKeySource_WatchRotatesKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")
	writeKeyFile(t, path, []byte("first-master-key-material-000000"))

	src, err := NewFileKeySource(path, observability.NopLogger())
	require.NoError(t, err)
	f := newFixture(t, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	go func() {
		_ = src.Watch(ctx, func() {
			f.svc.RotateAll()
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	before, err := f.svc.DeriveKey(ctx, "acme")
	require.NoError(t, err)

	// fsnotify registers asynchronously; rewrite until the change is seen.
	second := []byte("second-master-key-material-11111")
	require.Eventually(t, func() bool {
		writeKeyFile(t, path, second)
		select {
		case <-changed:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	after, err := f.svc.DeriveKey(ctx, "acme")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}
