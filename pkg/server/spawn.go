package server

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Process is a running worker.
type Process interface {
	Signal(sig os.Signal) error
	Wait() error
}

// Spawner starts worker processes.  files become descriptors 3, 4, ... of the worker and
// env is added to its environment.
type Spawner interface {
	Spawn(ctx context.Context, id int, files []*os.File, env []string) (Process, error)
}

// ExecSpawner re-executes a binary (by default the running one) with Args.
type ExecSpawner struct {
	Path string
	Args []string
}

func NewExecSpawner(args ...string) (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &ExecSpawner{Path: path, Args: args}, nil
}

func (s *ExecSpawner) Spawn(_ context.Context, id int, files []*os.File, env []string) (Process, error) {
	cmd := exec.Command(s.Path, s.Args...) //nolint:gosec
	cmd.Env = append(os.Environ(), env...)
	cmd.ExtraFiles = files
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %d: %w", id, err)
	}
	return &cmdProcess{cmd: cmd}, nil
}

type cmdProcess struct {
	cmd *exec.Cmd
}

func (p *cmdProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *cmdProcess) Wait() error {
	return p.cmd.Wait()
}
