package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// spawn launches the server child detached in its own process group, stdio
// routed to rotating console logs when configured and the null device
// otherwise. Stdin is never wired: the dedicated server is driven by
// signals, not by console input. The caller gets the pid; a reaper goroutine
// collects the exit status so the child never lingers as a zombie.
func (s *Supervisor) spawn(name, memory, jar, worldDir string, port int) (int, error) {
	args := []string{
		"-Xms" + memory,
		"-Xmx" + memory,
		"-jar", jar,
		"nogui",
		"--world", worldDir,
		"--port", fmt.Sprintf("%d", port),
	}
	cmd := exec.Command(s.cfg.JavaBin, args...)
	if s.cfg.ServerDir != "" {
		cmd.Dir = s.cfg.ServerDir
	}
	configureSysProcAttr(cmd)

	outW, errW, err := s.cfg.ConsoleLog.Writers(name)
	if err != nil {
		slog.Warn("console capture unavailable, discarding server output", "world", name, "err", err)
		outW, errW = nil, nil
	}
	var closers []io.Closer
	if outW != nil {
		cmd.Stdout = outW
		closers = append(closers, outW)
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
		closers = append(closers, errW)
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := cmd.Start(); err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return 0, err
	}
	pid := cmd.Process.Pid

	go func() {
		err := cmd.Wait()
		for _, c := range closers {
			_ = c.Close()
		}
		slog.Info("server process exited", "world", name, "pid", pid, "err", err)
	}()

	return pid, nil
}
