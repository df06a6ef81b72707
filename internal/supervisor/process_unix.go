//go:build !windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
	"time"
)

type processHandle struct {
	cmd *exec.Cmd
	// done is closed when the process exits; exitErr is valid after that.
	// Closing instead of sending lets monitor and terminate both observe
	// the exit.
	done    chan struct{}
	exitErr error
}

// startProcess launches the backend in its own process group so children
// die with it.
func startProcess(command []string, dir string, env []string) (*processHandle, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.exitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// wait blocks until the process exits and returns its exit error.
func (h *processHandle) wait() error {
	<-h.done
	return h.exitErr
}

func (h *processHandle) pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// terminate sends SIGTERM to the process group, escalating to SIGKILL
// after killTimeout.
func (h *processHandle) terminate(killTimeout time.Duration) {
	if h.cmd.Process == nil {
		return
	}

	pgid, err := syscall.Getpgid(h.cmd.Process.Pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-h.done:
		return
	case <-time.After(killTimeout):
		if err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			_ = h.cmd.Process.Kill()
		}
		<-h.done
	}
}
