package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes rootCmd with args and returns its combined output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCreateAddFindRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "index.rtbtree")

	out, err := runCLI(t, "create", "--file", file, "--unique", "--metadata", "category")
	require.NoError(t, err)
	assert.Contains(t, out, "Created tree")

	out, err = runCLI(t, "add", "apple", "--file", file, "--record-pointer", "ab12", "--metadata", "fruit")
	require.NoError(t, err)
	assert.Contains(t, out, "Added apple")

	out, err = runCLI(t, "find", "apple", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "record_pointer=ab12")
	assert.Contains(t, out, "metadata[0]=fruit")
}

func TestStatsReportsLiveEntryCount(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "index.rtbtree")

	_, err := runCLI(t, "create", "--file", file)
	require.NoError(t, err)

	_, err = runCLI(t, "add", "apple", "--file", file, "--record-pointer", "ab")
	require.NoError(t, err)
	_, err = runCLI(t, "add", "banana", "--file", file, "--record-pointer", "cd")
	require.NoError(t, err)

	out, err := runCLI(t, "stats", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "live_entry_count:  2")
}

func TestRangeScansBoundedKeys(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "index.rtbtree")

	_, err := runCLI(t, "create", "--file", file)
	require.NoError(t, err)
	_, err = runCLI(t, "add", "apple", "--file", file, "--record-pointer", "ab")
	require.NoError(t, err)
	_, err = runCLI(t, "add", "banana", "--file", file, "--record-pointer", "cd")
	require.NoError(t, err)
	_, err = runCLI(t, "add", "carrot", "--file", file, "--record-pointer", "ef")
	require.NoError(t, err)

	out, err := runCLI(t, "range", "--file", file, "--low", "apple", "--high", "banana")
	require.NoError(t, err)
	assert.Contains(t, out, "apple")
	assert.Contains(t, out, "banana")
	assert.NotContains(t, out, "carrot")
}
