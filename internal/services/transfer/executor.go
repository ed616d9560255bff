package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// waitDelay bounds how long Wait blocks on output after the process is killed.
const waitDelay = 10 * time.Second

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	// Stream runs name in dir and calls onLine for every line of combined
	// output. It returns the exit code; a non-nil error means the process
	// could not be started or waited for.
	Stream(ctx context.Context, dir string, onLine func(string), name string, args ...string) (int, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Stream runs a command and streams its output line by line.
func (e *DefaultExecutor) Stream(ctx context.Context, dir string, onLine func(string), name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return -1, fmt.Errorf("failed to start %s: %w", name, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
		// Drain whatever is left so the process never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, pr)
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	wg.Wait()

	if waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, waitErr
}
