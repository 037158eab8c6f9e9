//go:build windows

package registry

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// pidAlive checks process existence via the Windows process snapshot.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}
