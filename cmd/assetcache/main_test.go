package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, root string, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := &cli{stdin: strings.NewReader(stdin), stdout: &out, stderr: &errOut}
	err := c.run(context.Background(), append([]string{"-root", root}, args...))
	return out.String(), err
}

func TestPutGetRm(t *testing.T) {
	root := t.TempDir()

	_, err := runCLI(t, root, "bookmark bytes", "put", "bipbop_4x3_variant")
	require.NoError(t, err)

	// Each run is a fresh process: get is served from disk.
	out, err := runCLI(t, root, "", "get", "bipbop_4x3_variant")
	require.NoError(t, err)
	assert.Equal(t, "bookmark bytes", out)

	out, err = runCLI(t, root, "", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "1 entries")

	_, err = runCLI(t, root, "", "rm", "bipbop_4x3_variant")
	require.NoError(t, err)
	_, err = runCLI(t, root, "", "get", "bipbop_4x3_variant")
	assert.Error(t, err)
}

func TestPutFromFileAndClear(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(src, []byte("from file"), 0o600))

	_, err := runCLI(t, root, "", "-namespace", "media", "put", "k", src)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(root, "assetcache.media"))

	out, err := runCLI(t, root, "", "-namespace", "media", "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "namespace: media")
	assert.Contains(t, out, "max size: unlimited")

	_, err = runCLI(t, root, "", "-namespace", "media", "clear")
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(root, "assetcache.media"))
}

func TestEvictWithConfig(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "assetcache.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("defaults:\n  max_cache_period: 1m\n"), 0o600))

	_, err := runCLI(t, root, "v", "-config", cfgPath, "put", "old")
	require.NoError(t, err)

	dir := filepath.Join(root, "assetcache.default")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, entries[0].Name()), past, past))

	out, err := runCLI(t, root, "", "-config", cfgPath, "evict")
	require.NoError(t, err)
	assert.Contains(t, out, "freed")

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLibraryCommands(t *testing.T) {
	root := t.TempDir()
	media := filepath.Join(t.TempDir(), "bipbop.movpkg")
	require.NoError(t, os.MkdirAll(filepath.Join(media, "Data"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(media, "Data", "0.frag"), bytes.Repeat([]byte{1}, 5000), 0o600))

	_, err := runCLI(t, root, "", "record", "bipbop", media)
	require.NoError(t, err)

	out, err := runCLI(t, root, "", "locate", "bipbop")
	require.NoError(t, err)
	assert.Equal(t, media+"\n", out)

	out, err = runCLI(t, root, "", "library-size")
	require.NoError(t, err)
	assert.NotEqual(t, "0B\n", out)

	_, err = runCLI(t, root, "", "forget", "bipbop")
	require.NoError(t, err)
	assert.NoDirExists(t, media)
}

func TestUsageErrors(t *testing.T) {
	root := t.TempDir()

	_, err := runCLI(t, root, "")
	assert.Error(t, err)
	_, err = runCLI(t, root, "", "frobnicate")
	assert.ErrorContains(t, err, "unknown command")
	_, err = runCLI(t, root, "", "get")
	assert.Error(t, err)
	_, err = runCLI(t, root, "", "-namespace", "../escape", "ls")
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	var out, errOut bytes.Buffer
	c := &cli{stdin: strings.NewReader(""), stdout: &out, stderr: &errOut}
	done := make(chan error, 1)
	go func() { done <- c.run(ctx, []string{"-root", root, "serve"}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
