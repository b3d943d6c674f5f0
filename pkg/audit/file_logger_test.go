package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_AppendsJSONLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	l, err := NewFileLogger(FileLoggerConfig{Dir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, l.Log(ctx, event("e1", ActionRoleAssigned, "acme", now)))
	require.NoError(t, l.Log(ctx, event("e2", ActionRoleRemoved, "acme", now)))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	events, err := ReadFile(filepath.Join(dir, "audit.log"), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, ActionRoleRemoved, events[1].Action)

	events, err = ReadFile(filepath.Join(dir, "audit.log"), 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	assert.Error(t, l.Log(ctx, event("e3", ActionKeyRotated, "acme", now)), "closed logger")
}

func TestFileLogger_ReopensExistingFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := NewFileLogger(FileLoggerConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, l.Log(ctx, event("e1", ActionKeyRotated, "acme", time.Now())))
	require.NoError(t, l.Close())

	l, err = NewFileLogger(FileLoggerConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, l.Log(ctx, event("e2", ActionKeyRotated, "acme", time.Now())))
	require.NoError(t, l.Close())

	events, err := ReadFile(filepath.Join(dir, "audit.log"), 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestFileLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLogger(FileLoggerConfig{Dir: dir, MaxSize: 1, MaxFiles: 2})
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		require.NoError(t, l.Log(ctx, event(id, ActionCacheCleared, "acme", time.Now())))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, rotatedPattern))
	require.NoError(t, err)
	assert.Len(t, rotated, 2, "only MaxFiles rotated files are kept")

	current, err := ReadFile(filepath.Join(dir, "audit.log"), 0)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "e4", current[0].ID)
}

func TestFileLogger_Errors(t *testing.T) {
	_, err := NewFileLogger(FileLoggerConfig{})
	assert.Error(t, err)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	_, err = NewFileLogger(FileLoggerConfig{Dir: filepath.Join(blocker, "audit")})
	assert.Error(t, err)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.log"), 0)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.log")
	require.NoError(t, os.WriteFile(bad, []byte("{not json\n"), 0o600))
	_, err = ReadFile(bad, 0)
	assert.Error(t, err)
}
