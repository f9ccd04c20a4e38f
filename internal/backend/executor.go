package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Command is a single collaborator process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// CommandRunner is the interface for running commands.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command, stdin io.Reader) (stdout, stderr []byte, err error)
	Start(ctx context.Context, cmd Command, stdin io.Reader) (stdout, stderr io.ReadCloser, wait func() error, err error)
}

// ExecCommandRunner uses os/exec.
type ExecCommandRunner struct{}

// Run runs a command.
func (ExecCommandRunner) Run(ctx context.Context, c Command, stdin io.Reader) (stdout, stderr []byte, err error) {
	cmd := command(ctx, c)
	cmd.Stdin = stdin

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Start starts a command.
func (ExecCommandRunner) Start(ctx context.Context, c Command, stdin io.Reader) (stdout, stderr io.ReadCloser, wait func() error, err error) {
	cmd := command(ctx, c)
	cmd.Stdin = stdin

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}

	return stdoutPipe, stderrPipe, cmd.Wait, nil
}

// waitDelay bounds how long Wait keeps copying output after the process
// exits or is killed, in case a grandchild still holds the pipes.
const waitDelay = 5 * time.Second

const maxLineSize = 1024 * 1024

func command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

// Executor runs collaborator commands with a timeout.
type Executor struct {
	runner     CommandRunner
	binaryPath string
	timeout    time.Duration
}

// NewExecutor creates an executor for a binary found on PATH or by path.
func NewExecutor(binary string, timeout time.Duration) (*Executor, error) {
	binaryPath, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("binary not found: %w", err)
	}

	return &Executor{
		binaryPath: binaryPath,
		timeout:    timeout,
		runner:     ExecCommandRunner{},
	}, nil
}

// NewExecutorWithRunner creates an executor with a custom runner.
func NewExecutorWithRunner(binaryPath string, timeout time.Duration, runner CommandRunner) *Executor {
	return &Executor{
		binaryPath: binaryPath,
		timeout:    timeout,
		runner:     runner,
	}
}

// BinaryPath returns the resolved executable.
func (e *Executor) BinaryPath() string {
	return e.binaryPath
}

// Execute runs the command in dir and returns its output.
func (e *Executor) Execute(ctx context.Context, dir string, args []string, stdin io.Reader) (stdout, stderr []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	return e.runner.Run(ctx, Command{Name: e.binaryPath, Args: args, Dir: dir}, stdin)
}

// Stream runs the command in dir, calls onLine for every output line
// (stdout and stderr interleaved, never concurrently) and returns the
// combined output. Lines longer than maxLineSize end the capture of that
// stream; the remainder is drained and dropped.
func (e *Executor) Stream(ctx context.Context, dir string, args []string, onLine func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stdout, stderr, wait, err := e.runner.Start(ctx, Command{Name: e.binaryPath, Args: args, Dir: dir}, nil)
	if err != nil {
		return "", fmt.Errorf("executor: failed to start command: %w", err)
	}

	var (
		mu       sync.Mutex
		combined strings.Builder
		wg       sync.WaitGroup
	)

	scan := func(r io.Reader) {
		defer wg.Done()

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := scanner.Text()

			mu.Lock()
			combined.WriteString(line)
			combined.WriteByte('\n')
			if onLine != nil {
				onLine(line)
			}
			mu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("Discarding unreadable command output", "error", err)
			// The process blocks on a full pipe unless the rest is consumed.
			_, _ = io.Copy(io.Discard, r)
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	err = wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	return combined.String(), err
}
