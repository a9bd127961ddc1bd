package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

const statusLogTail = 5

// Start launches the daemon as a detached background process by re-execing
// the current binary with the given foreground arguments. Starting while a
// daemon is already running is a no-op.
func Start(pidFile string, runArgs []string) (int, error) {
	if pid, ok := runningPID(pidFile); ok {
		return pid, nil
	}

	self, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}
	cmd := exec.Command(self, runArgs...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// The child writes its own PID file; let go of the handle here.
	_ = cmd.Process.Release()
	return pid, nil
}

// Stop signals the recorded daemon with SIGTERM and clears the PID file.
func Stop(pidFile string) error {
	pid, ok := runningPID(pidFile)
	if !ok {
		return fmt.Errorf("daemon not running")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon pid %d: %w", pid, err)
	}
	return removePIDFile(pidFile)
}

// Status reports whether the daemon is alive, its PID, and the tail of its
// log file.
type Status struct {
	Running  bool
	PID      int
	LogLines []string
}

func GetStatus(pidFile, logFile string) Status {
	st := Status{}
	if pid, ok := runningPID(pidFile); ok {
		st.Running = true
		st.PID = pid
	}
	st.LogLines = tailLog(logFile, statusLogTail)
	return st
}

func tailLog(path string, n int) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}
