package remediation

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LockFileName is the advisory lock file at the repository root. It is never removed.
const LockFileName = ".gosec-agg.lock"

var repoMu sync.Map // root -> *sync.Mutex

// lockRepo serializes remediation per repository: in-process through a mutex,
// across processes through an exclusive advisory lock on the lock file.
func lockRepo(root string) (func(), error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	v, _ := repoMu.LoadOrStore(abs, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()

	f, err := os.OpenFile(filepath.Join(abs, LockFileName), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("open repository lock: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		mu.Unlock()
		return nil, fmt.Errorf("acquire repository lock: %w", err)
	}
	return func() {
		unlockFile(f)
		f.Close()
		mu.Unlock()
	}, nil
}

// TargetLockSuffix names the sidecar locked while a file is mutated. The
// sidecar keeps its inode when the file itself is replaced by a rename.
const TargetLockSuffix = ".gosec-agg.lock"

func targetLockPath(path string) string { return path + TargetLockSuffix }

// lockTarget takes an exclusive advisory lock on the sidecar of the file
// being mutated. The sidecar is never removed.
func lockTarget(path string) (func(), error) {
	f, err := os.OpenFile(targetLockPath(path), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		unlockFile(f)
		f.Close()
	}, nil
}
