package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// Process is the handle to a launched worker.
type Process interface {
	PID() int
	Signal(sig os.Signal) error
}

// Launcher starts worker processes and exposes their output as an event
// stream. The production implementation wraps os/exec; tests inject fakes.
type Launcher interface {
	// Launch starts the binary and returns once the process is running. The
	// event channel carries ProgressEvent and StderrEvent values as output
	// arrives and is closed after a final ExitEvent.
	Launch(ctx context.Context, binary string, args []string) (Process, <-chan Event, error)
}

type execLauncher struct{}

// NewExecLauncher returns the os/exec-backed launcher.
func NewExecLauncher() Launcher {
	return execLauncher{}
}

func (execLauncher) Launch(ctx context.Context, binary string, args []string) (Process, <-chan Event, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start worker: %w", err)
	}

	events := make(chan Event)

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if percent, ok := ParseProgress(scanner.Text()); ok {
				events <- ProgressEvent{Percent: percent}
			}
		}
	}()

	go func() {
		defer wg.Done()

		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			events <- StderrEvent{Line: scanner.Text()}
		}
	}()

	go func() {
		// Both pipes must be drained before Wait closes them.
		wg.Wait()

		err := cmd.Wait()

		exit := ExitEvent{}

		var exitErr *exec.ExitError

		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			exit.Code = exitErr.ExitCode()
		default:
			exit.Code = -1
			exit.Err = err
		}

		events <- exit
		close(events)
	}()

	return osProcess{proc: cmd.Process}, events, nil
}

type osProcess struct {
	proc *os.Process
}

func (p osProcess) PID() int {
	return p.proc.Pid
}

func (p osProcess) Signal(sig os.Signal) error {
	return p.proc.Signal(sig)
}
