// Package proc spawns CLI subprocesses with line-oriented output callbacks
// and process-group termination.
package proc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tessro/atelier/internal/logging"
)

// Errors returned by proc operations.
var (
	ErrEmptyCommand = errors.New("command name is empty")
)

// DefaultKillGrace is how long Kill waits after SIGTERM before SIGKILL.
const DefaultKillGrace = 2 * time.Second

// maxLineSize bounds a single output line. CLI JSON records (file reads,
// tool results) can be large.
const maxLineSize = 10 * 1024 * 1024

// reapTimeout bounds the wait for exit after SIGKILL.
const reapTimeout = 5 * time.Second

// Spec describes a child process.
type Spec struct {
	Name string
	Args []string
	Dir  string

	// Env is appended to the parent environment.
	Env []string

	// Stdin is written to the child's stdin and then closed when UseStdin
	// is set. Otherwise the child gets no stdin.
	Stdin    string
	UseStdin bool

	// OnStdout and OnStderr receive each line without its newline. Each
	// stream is delivered by its own goroutine in pipe order.
	OnStdout func(line string)
	OnStderr func(line string)

	// OnExit is called once after both streams are drained and the
	// process has been reaped.
	OnExit func(ExitInfo)

	// Component tags log records.
	Component string
}

// ExitInfo describes how a child ended.
type ExitInfo struct {
	PID      int
	ExitCode int
	Killed   bool
	Err      error
}

// Child is a running subprocess.
type Child struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
	log  *slog.Logger

	mu sync.Mutex
	// +checklocks:mu
	killed bool
	// +checklocks:mu
	exit ExitInfo
}

// Start spawns the process described by spec and returns immediately.
func Start(spec Spec) (*Child, error) {
	if spec.Name == "" {
		return nil, ErrEmptyCommand
	}
	component := spec.Component
	if component == "" {
		component = "proc"
	}
	log := slog.With("component", component)

	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setProcessGroup(cmd)

	var stdin io.WriteCloser
	if spec.UseStdin {
		var err error
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeAll(stdin)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeAll(stdin, stdout)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	log.Debug("proc.Start: starting process", "cmd", spec.Name, "args", len(spec.Args), "dir", spec.Dir)
	if err := cmd.Start(); err != nil {
		closeAll(stdin, stdout, stderr)
		log.Debug("proc.Start: start failed", "cmd", spec.Name, "error", err)
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	c := &Child{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
		log:  log,
	}

	if stdin != nil {
		go func() {
			defer stdin.Close()
			if _, err := io.WriteString(stdin, spec.Stdin); err != nil {
				log.Debug("proc.Start: stdin write failed", "pid", c.pid, "error", err)
			}
		}()
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go c.scan(&readers, stdout, "stdout", spec.OnStdout)
	go c.scan(&readers, stderr, "stderr", spec.OnStderr)

	go func() {
		readers.Wait()
		waitErr := cmd.Wait()

		c.mu.Lock()
		c.exit = ExitInfo{
			PID:      c.pid,
			ExitCode: exitCode(cmd, waitErr),
			Killed:   c.killed,
			Err:      waitErr,
		}
		info := c.exit
		c.mu.Unlock()
		close(c.done)

		log.Debug("proc: process exited", "pid", info.PID, "code", info.ExitCode, "killed", info.Killed)
		if spec.OnExit != nil {
			spec.OnExit(info)
		}
	}()

	log.Info("proc.Start: process started", "cmd", spec.Name, "pid", c.pid)
	return c, nil
}

func (c *Child) scan(wg *sync.WaitGroup, r io.Reader, stream string, fn func(string)) {
	defer wg.Done()
	defer logging.LogPanic("proc-"+stream, nil)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.Debug("proc: read error", "pid", c.pid, "stream", stream, "error", err)
		// Drain so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// PID returns the process id.
func (c *Child) PID() int { return c.pid }

// Done is closed once the process has been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Exited reports whether the process has been reaped.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process is reaped.
func (c *Child) Wait() ExitInfo {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

// Kill terminates the child's process group: SIGTERM, then SIGKILL after
// grace. It returns once the child is reaped or the reap timeout passes.
// Killing an exited child is a no-op.
func (c *Child) Kill(grace time.Duration) error {
	if c.Exited() {
		return nil
	}
	c.mu.Lock()
	c.killed = true
	c.mu.Unlock()

	if err := terminate(c.cmd.Process); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-c.done
			return nil
		}
		c.log.Debug("proc.Kill: SIGTERM failed", "pid", c.pid, "error", err)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(grace):
	}

	c.log.Debug("proc.Kill: did not exit gracefully, sending SIGKILL", "pid", c.pid, "grace", grace)
	if err := forceKill(c.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", c.pid, err)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(reapTimeout):
		return fmt.Errorf("pid %d not reaped after SIGKILL", c.pid)
	}
}

// Output runs name to completion in dir and returns its stdout. The
// process group is killed when ctx is done.
func Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	if name == "" {
		return nil, ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return forceKill(cmd.Process) }
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout.Bytes(), fmt.Errorf("%s: %w", name, ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// LookPath reports whether name resolves to an executable.
func LookPath(name string) (string, bool) {
	path, err := exec.LookPath(name)
	return path, err == nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			c.Close()
		}
	}
}
