package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Keep logs and datasets inside the test sandbox.
	t.Setenv("HOME", t.TempDir())

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestCLI_VersionFlag(t *testing.T) {
	out, err := runCLI(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "raglite version")
}

func TestCLI_SearchRejectsModelFlag(t *testing.T) {
	_, err := runCLI(t, "search", "query", "--model", "mpnet-base-v2", "--root", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest")
}

func TestCLI_IngestRejectsUnknownModel(t *testing.T) {
	_, err := runCLI(t, "ingest", t.TempDir(), "--model", "no-such-model", "--root", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestCLI_IngestThenSearchAndStats(t *testing.T) {
	root := t.TempDir()

	corpus := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "a.md"), []byte("Cats sleep a lot."), 0o644))

	_, err := runCLI(t, "ingest", corpus, "--root", root)
	require.NoError(t, err)

	_, err = runCLI(t, "search", "cats sleep", "--root", root)
	require.NoError(t, err)

	_, err = runCLI(t, "stats", "--root", root, "--json")
	require.NoError(t, err)
}

func TestCLI_UnknownCommandFails(t *testing.T) {
	_, err := runCLI(t, "frobnicate")
	assert.Error(t, err)
}
