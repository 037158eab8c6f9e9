//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so a stop
// signal reaches the server and anything it forked, and so the starter's own
// terminal signals never do.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup asks the child's process group to shut down gracefully.
func (s *Supervisor) terminateGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killGroup takes the group down immediately. Used only when a just-spawned
// child could not be recorded.
func (s *Supervisor) killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
