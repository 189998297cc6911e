package filex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureParentDir_CreatesNestedDirs(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "a", "b", "ledger.db")

	got, err := EnsureParentDir(file)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(tmp, "a", "b"), got)

	fi, err := os.Stat(got)
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	_, err = os.Stat(file)
	require.True(t, os.IsNotExist(err), "file itself must not be created")
}

func TestEnsureParentDir_Idempotent(t *testing.T) {
	file := filepath.Join(t.TempDir(), "x", "f")
	_, err := EnsureParentDir(file)
	require.NoError(t, err)
	_, err = EnsureParentDir(file)
	require.NoError(t, err)
}

func TestEnsureParentDir_FailsUnderFile(t *testing.T) {
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := EnsureParentDir(filepath.Join(blocker, "sub", "f"))
	require.Error(t, err)
}
