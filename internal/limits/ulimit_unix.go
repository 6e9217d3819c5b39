//go:build unix

package limits

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// AdjustUlimit raises RLIMIT_NOFILE to requested when it is non-zero and
// returns the soft limit in effect afterwards. A failed raise is reported
// with the current limit.
func AdjustUlimit(requested uint64) (uint64, error) {
	var setErr error
	if requested > 0 {
		limit := unix.Rlimit{Cur: requested, Max: requested}
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
			setErr = fmt.Errorf("failed to set ulimit to %d: %w", requested, err)
		}
	}

	var current unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &current); err != nil {
		return DefaultFileDescriptorsLimit, fmt.Errorf("failed to read ulimit: %w", err)
	}
	return current.Cur, setErr
}
