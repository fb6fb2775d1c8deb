package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markoxley/altair/samp"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".samp")
	in := Info{Secret: "s3cret", URL: "http://127.0.0.1:21012/"}
	require.NoError(t, Write(path, in))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got.Secret)
	assert.Equal(t, "http://127.0.0.1:21012/", got.URL)
	assert.Equal(t, ProfileVersion, got.Version)
}

func TestReadTolersCommentsAndJunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".samp")
	content := "# written by some other hub\n\nnot a key value line\n" +
		"samp.secret = abc \nsamp.hub.xmlrpc.url=http://localhost:9000/\n" +
		"samp.profile.version=1.11\nunknown.key=whatever\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Secret)
	assert.Equal(t, "http://localhost:9000/", got.URL)
	assert.Equal(t, "1.11", got.Version)
}

func TestReadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".samp")
	require.NoError(t, os.WriteFile(path, []byte("samp.secret=abc\n"), 0o600))
	_, err := Read(path)
	assert.True(t, errors.Is(err, samp.ErrMalformed))
}

func TestRemoveIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".samp")
	require.NoError(t, Write(path, Info{Secret: "s", URL: "u"}))
	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path))
}

func TestResolveEnvForms(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "hub.lock")

	t.Setenv("SAMP_HUB", "std-lockurl:file://"+target)
	path, err := Resolve()
	require.NoError(t, err)
	assert.Equal(t, target, path)

	t.Setenv("SAMP_HUB", target)
	path, err = Resolve()
	require.NoError(t, err)
	assert.Equal(t, target, path)

	t.Setenv("SAMP_HUB", "std-lockurl:http://example.invalid/lock")
	_, err = Resolve()
	assert.Error(t, err)
}

func TestDiscoverNoHub(t *testing.T) {
	t.Setenv("SAMP_HUB", filepath.Join(t.TempDir(), "absent"))
	_, err := Discover()
	assert.True(t, errors.Is(err, samp.ErrConnect))
}

func TestAwait(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".samp")

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = Write(path, Info{Secret: "late", URL: "http://127.0.0.1:1/"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := Await(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "late", info.Secret)
}

func TestAwaitExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".samp")
	require.NoError(t, Write(path, Info{Secret: "here", URL: "http://127.0.0.1:1/"}))

	info, err := Await(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "here", info.Secret)
}

func TestAwaitCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".samp")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Await(ctx, path)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
