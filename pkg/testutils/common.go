// Package testutils provides common testing utilities for the build
// orchestration engine.
package testutils

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TempRoot creates a fresh builder-root directory tree for a test and
// returns its path. Subdirectories mirror internal/layout's Layout.
func TempRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	for _, sub := range []string{"tmp", "tmp/tmpfs", "cache", "sources", "logs", "tmp/release", "conf"} {
		err := os.MkdirAll(filepath.Join(root, sub), 0o755)
		require.NoError(t, err)
	}

	return root
}

// WriteFile writes content to dir/filename, creating parent directories as
// needed, and returns the full path.
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()

	filePath := filepath.Join(dir, filename)

	err := os.MkdirAll(filepath.Dir(filePath), 0o755)
	require.NoError(t, err)

	err = os.WriteFile(filePath, []byte(content), 0o600)
	require.NoError(t, err)

	return filePath
}

// InitGitRepo turns dir into a minimal git repository with one commit,
// returning the commit hash.
func InitGitRepo(t *testing.T, dir string) string {
	t.Helper()

	SkipIfMissingCommand(t, "git")

	runGit(t, dir, "init", "-q")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")

	WriteFile(t, dir, "README", "placeholder\n")

	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "initial")

	return runGit(t, dir, "rev-parse", "HEAD")
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	out, err := cmd.Output()
	require.NoError(t, err)

	result := string(out)
	for len(result) > 0 && (result[len(result)-1] == '\n' || result[len(result)-1] == '\r') {
		result = result[:len(result)-1]
	}

	return result
}

// SkipIfMissingCommand skips the test if the named binary is not on PATH.
func SkipIfMissingCommand(t *testing.T, command string) {
	t.Helper()

	if _, err := exec.LookPath(command); err != nil {
		t.Skipf("skipping test: command %s not found", command)
	}
}

// SkipIfNoRoot skips the test if not running as root (mount/chroot tests).
func SkipIfNoRoot(t *testing.T) {
	t.Helper()

	if os.Geteuid() != 0 {
		t.Skip("skipping test: requires root privileges")
	}
}
