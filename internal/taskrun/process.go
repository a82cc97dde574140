//go:build linux

package taskrun

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// runningCommand supervises a single argv invocation within a task's
// command pipeline. Features:
//   - race-free pipe setup (stdout/stderr)
//   - continuous pipe supervision with failure detection
//   - deterministic teardown (SIGTERM -> grace -> SIGKILL)
//   - idempotent Start / Close lifecycle
//
// Canonical usage:
//
//	c := newRunningCommand(...)
//	if !c.Start() { ... }
//	<-c.Done()
//	success := c.Success()
type runningCommand struct {
	log    *zap.Logger
	onLine func(stream string, line string)

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	// Closed once the command has been fully reaped.
	done      chan struct{}
	closeOnce sync.Once
	startOnce sync.Once

	started atomic.Bool
	success atomic.Bool
	pid     atomic.Int64

	mu sync.Mutex
}

const (
	Stdout string = "stdout"
	Stderr string = "stderr"
)

// newRunningCommand constructs a command wrapper around exec.Cmd.
//
// onLine is invoked once per output line, tagged with its originating
// stream, for every line the child produces on stdout or stderr. It is
// called from the pipe-reading goroutines and must not block.
//
// It performs early pipe allocation and applies Linux-specific attributes:
//   - Setpgid: isolates the child into its own process group so a single
//     SIGTERM/SIGKILL reaches every descendant it spawned
//   - Pdeathsig: ensures the child is reaped if this process dies first
//
// Returns (nil, false) on invalid parameters or pipe setup errors.
func newRunningCommand(log *zap.Logger, argv []string, env []string, workDir string, onLine func(string, string)) (*runningCommand, bool) {
	if log == nil || len(argv) == 0 {
		if log != nil {
			log.Error("newRunningCommand: invalid parameters")
		}
		return nil, false
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}

	stdout, stderr, err := pipes(cmd)
	if err != nil {
		log.Error("pipe initialization failure", zap.Error(err))
		return nil, false
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	return &runningCommand{
		log:    log,
		onLine: onLine,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}, true
}

// Start launches the command exactly once. On success background
// goroutines begin consuming stdout/stderr and Done() will eventually fire.
func (c *runningCommand) Start() bool {
	ok := false

	c.startOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if err := c.cmd.Start(); err != nil {
			c.log.Error("failed to start command", zap.Error(err))
			return
		}

		pid := c.cmd.Process.Pid

		ok = true
		c.started.Store(true)
		c.pid.Store(int64(pid))

		c.log.Debug("command started", zap.Int("pid", pid))
		go c.supervise()
	})

	return ok
}

// supervise multiplexes stdout/stderr readers, reaps the child once both
// pipes have drained, and fires Done(). On Linux, pipe closure frequently
// precedes actual process exit due to user-space teardown ordering, so a
// bounded grace interval is applied before classifying a stalled pipe pair
// as a hang requiring forced teardown.
func (c *runningCommand) supervise() {
	pipeDone := make(chan string, 2)

	go func() {
		c.drain(c.stdout, Stdout)
		pipeDone <- Stdout
	}()
	go func() {
		c.drain(c.stderr, Stderr)
		pipeDone <- Stderr
	}()

	first := <-pipeDone
	c.log.Debug("first pipe ended", zap.String("pipe", first))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	select {
	case second := <-pipeDone:
		c.log.Debug("second pipe ended", zap.String("pipe", second))

		go func() {
			select {
			case <-c.done:
				return
			case <-time.After(250 * time.Millisecond):
				c.Close()
			}
		}()

	case <-ctx.Done():
		c.log.Warn("second pipe did not close in grace interval; issuing shutdown")
		c.Close()
		second := <-pipeDone
		c.log.Debug("second pipe ended", zap.String("pipe", second))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cmd.Wait(); err != nil {
		var eerr *exec.ExitError
		if errors.As(err, &eerr) {
			status, _ := eerr.ProcessState.Sys().(syscall.WaitStatus)
			c.log.Debug("command exited with error status",
				zap.Int("exit_code", status.ExitStatus()),
				zap.Bool("signaled", status.Signaled()))
		} else {
			c.log.Error("failed to wait for command", zap.Error(err))
		}
		c.success.Store(false)
	} else {
		c.success.Store(true)
	}

	close(c.done)
}

// drain scans r line-by-line, forwarding each line to onLine tagged with
// stream. Scanner I/O failures are logged, not propagated: a broken pipe
// read is not distinguishable from normal EOF-on-exit here.
func (c *runningCommand) drain(r io.Reader, stream string) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for sc.Scan() {
		if c.onLine != nil {
			c.onLine(stream, sc.Text())
		}
	}

	if err := sc.Err(); err != nil {
		c.log.Error("scanner failure", zap.String("pipe", stream), zap.Error(err))
	}
}

// Done returns a channel closed once the command has been fully reaped.
func (c *runningCommand) Done() <-chan struct{} { return c.done }

// Success reports whether the command exited with status zero. Valid only
// after Done() has fired.
func (c *runningCommand) Success() bool { return c.success.Load() }

// Close initiates deterministic shutdown of the command's process group:
//   - sends SIGTERM
//   - escalates to SIGKILL after a fixed grace period if still alive
//
// Close is idempotent and concurrency-safe, and a no-op if the command was
// never started or has already exited.
func (c *runningCommand) Close() {
	c.closeOnce.Do(func() {
		go func() {
			if !c.started.Load() {
				return
			}

			select {
			case <-c.done:
				return
			default:
			}

			pid := int(c.pid.Load())
			c.log.Debug("sending SIGTERM", zap.Int("pid", pid))

			if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
				c.log.Warn("SIGTERM failed", zap.Error(err), zap.Int("pid", pid))
			}

			timer := time.NewTimer(3 * time.Second)
			defer timer.Stop()

			select {
			case <-c.done:
				return
			case <-timer.C:
				c.log.Warn("grace timeout expired; sending SIGKILL", zap.Int("pid", pid))
				if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
					c.log.Error("SIGKILL failed", zap.Error(err), zap.Int("pid", pid))
				}
			}
		}()
	})
}

// pipes prepares stdout and stderr for exec.Cmd, closing whichever pipes
// already succeeded if a later one fails, so no file descriptors leak.
func pipes(cmd *exec.Cmd) (io.ReadCloser, io.ReadCloser, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe creation failure: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, nil, fmt.Errorf("stderr pipe creation failure: %w", err)
	}

	return stdout, stderr, nil
}
