//go:build !unix

package remediation

import "os"

// Advisory locks are unavailable; the in-process mutex still serializes runs.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) {}
