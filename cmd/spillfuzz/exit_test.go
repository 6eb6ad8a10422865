package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmdForTest(t *testing.T, cmdArgs []string) error {
	t.Helper()
	cmd := newDiffCmd()
	if cmdArgs[0] == "inputspec" {
		cmd = newInputspecCmd()
	}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(cmdArgs[1:])
	return cmd.Execute()
}

func TestDiffMissingArgSpecExitsUsage(t *testing.T) {
	err := runCmdForTest(t, []string{"diff",
		"--hsaco-a", "/tmp/a.hsaco",
		"--hsaco-b", "/tmp/b.hsaco",
		"--argspec", filepath.Join(t.TempDir(), "missing.spec"),
	})
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestDiffMalformedArgSpecExitsUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.spec")
	require.NoError(t, os.WriteFile(path, []byte("kernel k\narg value four none\n"), 0o644))
	err := runCmdForTest(t, []string{"diff",
		"--hsaco-a", "/tmp/a.hsaco",
		"--hsaco-b", "/tmp/b.hsaco",
		"--argspec", path,
	})
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestInputspecMalformedSpecExitsUsage(t *testing.T) {
	dir := t.TempDir()
	argspec := filepath.Join(dir, "args.spec")
	require.NoError(t, os.WriteFile(argspec, []byte("kernel k\narg value 4 none\n"), 0o644))
	badSpec := filepath.Join(dir, "input.yaml")
	require.NoError(t, os.WriteFile(badSpec, []byte("values: [not, a, map\n"), 0o644))

	err := runCmdForTest(t, []string{"inputspec", "--argspec", argspec, "--spec", badSpec})
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestInputspecOversizedOverrideExitsUsage(t *testing.T) {
	dir := t.TempDir()
	argspec := filepath.Join(dir, "args.spec")
	require.NoError(t, os.WriteFile(argspec, []byte("kernel k\narg value 4 none\n"), 0o644))
	spec := filepath.Join(dir, "input.yaml")
	require.NoError(t, os.WriteFile(spec, []byte("values:\n  0:\n    hex: \"0102030405\"\n"), 0o644))

	err := runCmdForTest(t, []string{"inputspec", "--argspec", argspec, "--spec", spec})
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestExitCodeDefaultsToFailure(t *testing.T) {
	assert.Equal(t, 1, exitCode(os.ErrNotExist))
	assert.Equal(t, 2, exitCode(&exitStatusError{code: 2, err: os.ErrInvalid}))
}
