//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"time"
)

type processHandle struct {
	cmd *exec.Cmd
	// done is closed when the process exits; exitErr is valid after that.
	done    chan struct{}
	exitErr error
}

func startProcess(command []string, dir string, env []string) (*processHandle, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = env

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

func (h *processHandle) terminate(killTimeout time.Duration) {
	if h.cmd.Process == nil {
		return
	}

	_ = h.cmd.Process.Kill()

	select {
	case <-h.done:
	case <-time.After(killTimeout):
	}
}
