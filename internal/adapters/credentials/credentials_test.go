package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

func TestStaticReturnsConfiguredValues(t *testing.T) {
	p := New(Config{Username: "dev-1", Password: "pw"})
	creds, err := p.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ports.Credentials{Username: "dev-1", Password: "pw"}, creds)
}

func TestFileFollowsRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("username: dev-1\npassword: first\n"), 0o600))

	p := New(Config{File: path})
	creds, err := p.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", creds.Password)

	require.NoError(t, os.WriteFile(path, []byte("token: rotated\n"), 0o600))
	creds, err = p.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ports.Credentials{Token: "rotated"}, creds)
}

func TestFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := File{Path: filepath.Join(dir, "missing.yaml")}.Credentials(context.Background())
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("password: only\n"), 0o600))
	_, err = File{Path: empty}.Credentials(context.Background())
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("username: [unterminated\n"), 0o600))
	_, err = File{Path: broken}.Credentials(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = File{Path: empty}.Credentials(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
