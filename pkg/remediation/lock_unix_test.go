//go:build unix

package remediation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLockTarget_HeldAcrossAtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.py")
	require.NoError(t, os.WriteFile(path, []byte("DEBUG = True\n"), 0o644))

	release, err := lockTarget(path)
	require.NoError(t, err)

	tryLock := func() error {
		f, err := os.OpenFile(targetLockPath(path), os.O_RDWR, 0)
		require.NoError(t, err)
		defer f.Close()
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		}
		return err
	}

	assert.ErrorIs(t, tryLock(), unix.EWOULDBLOCK)
	require.NoError(t, writeAtomic(path, []byte("DEBUG = False\n"), 0o644))
	assert.ErrorIs(t, tryLock(), unix.EWOULDBLOCK, "lock survives the rename")

	release()
	assert.NoError(t, tryLock())
	assert.FileExists(t, targetLockPath(path))
}
