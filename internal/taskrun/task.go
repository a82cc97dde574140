//go:build linux

package taskrun

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumenforge/taskwatch/pkg/ansi"
)

// ShellCommand is one step of a task's pipeline: a human-readable name and
// the literal command line to run. Command is split on whitespace only —
// no shell expansion, quoting, or globbing is performed. WorkDirectory, if
// set, overrides the process's working directory for this command alone.
type ShellCommand struct {
	Name          string
	Command       string
	WorkDirectory string
}

// RunningTask is the live handle to a task's pipeline while it executes.
// The dispatch engine polls Done() once per tick and drops the handle once
// it reports true; it calls Interrupt() only to preempt or shut down a run
// that is still in flight. Wait() is not used by the dispatch engine.
type RunningTask interface {
	// Done reports whether the pipeline has finished, advancing to the
	// next queued command as a side effect whenever the current one has
	// exited. Non-blocking.
	Done() bool

	// Wait blocks until the pipeline finishes, running any remaining
	// commands to completion. Call only after Done() returns false.
	Wait()

	// Interrupt kills the currently running command and abandons any
	// remaining commands in the pipeline. Does not block on reap.
	Interrupt()

	// Success reports whether every command in the pipeline exited zero.
	// Valid only after Done() has returned true.
	Success() bool
}

// runningChild pairs a live command with the point in time it started, so
// the status line printed on completion can report elapsed time.
type runningChild struct {
	name      string
	cmd       *runningCommand
	startedAt time.Time
}

type runningShellTask struct {
	log      *zap.Logger
	logBuf   *logBuffer
	reporter Reporter

	remaining []ShellCommand
	env       []string

	echoStdout bool
	echoStderr bool

	redirectStdout string
	redirectStderr string
	stdoutFile     *os.File
	stderrFile     *os.File

	commandsRun int
	current     *runningChild
	success     bool
}

// Spawn starts the first command of the pipeline and returns a handle for
// the dispatch engine to poll. commands is consumed in order; a non-zero
// exit from any command aborts the remaining ones. env, when non-nil,
// overlays the descriptor's environment table onto each child process in
// place of os.Environ().
func Spawn(log *zap.Logger, logBuf *logBuffer, commands []ShellCommand, env []string, echoStdout, echoStderr bool, redirectStdout, redirectStderr string) RunningTask {
	t := &runningShellTask{
		log:            log,
		logBuf:         logBuf,
		reporter:       NewReporter(),
		remaining:      commands,
		env:            env,
		echoStdout:     echoStdout,
		echoStderr:     echoStderr,
		redirectStdout: redirectStdout,
		redirectStderr: redirectStderr,
		success:        true,
	}
	t.reporter.ClearScreen()
	t.runNext()
	return t
}

// runNext pops the next command off the queue and starts it. A no-op if
// the queue is empty or a command is already running.
func (t *runningShellTask) runNext() {
	if t.current != nil || len(t.remaining) == 0 {
		return
	}

	cmd := t.remaining[0]
	t.remaining = t.remaining[1:]

	argv := strings.Fields(cmd.Command)
	if len(argv) == 0 {
		t.log.Warn("empty command in pipeline, skipping", zap.String("name", cmd.Name))
		t.runNext()
		return
	}

	isFirst := t.commandsRun == 0
	if err := t.openRedirects(isFirst); err != nil {
		t.log.Error("failed to open redirect target", zap.Error(err))
	}

	t.reporter.Starting(cmd.Name)

	rc, ok := newRunningCommand(t.log, argv, t.env, cmd.WorkDirectory, t.onLine)
	if !ok || !rc.Start() {
		t.log.Error("failed to start pipeline command", zap.String("name", cmd.Name))
		t.success = false
		t.remaining = nil
		t.closeRedirects()
		return
	}

	t.commandsRun++
	t.current = &runningChild{name: cmd.Name, cmd: rc, startedAt: time.Now()}
}

// onLine receives every output line from the currently running command,
// tagged by stream, and fans it out to the log buffer, the console, and
// the redirect file as configured.
func (t *runningShellTask) onLine(stream, line string) {
	t.logBuf.Append(line)

	stripped := ansi.Strip(line)
	switch stream {
	case Stdout:
		if t.stdoutFile != nil {
			fmt.Fprintln(t.stdoutFile, stripped)
		}
		if t.echoStdout {
			fmt.Println(line)
		}
	case Stderr:
		if t.stderrFile != nil {
			fmt.Fprintln(t.stderrFile, stripped)
		}
		if t.echoStderr {
			fmt.Println(line)
		}
	}
}

// Done reports whether the pipeline has finished. Each call advances the
// pipeline: if the current command has exited, its status line is printed
// and, on success, the next command is started.
func (t *runningShellTask) Done() bool {
	if t.current == nil {
		if len(t.remaining) == 0 {
			t.closeRedirects()
			return true
		}
		return false
	}

	select {
	case <-t.current.cmd.Done():
	default:
		return false
	}

	t.finishCurrent()
	return t.Done()
}

// finishCurrent prints the completion status line for the command that
// just exited and, on success, clears the slot so runNext can proceed.
func (t *runningShellTask) finishCurrent() {
	c := t.current
	t.current = nil

	success := c.cmd.Success()
	elapsed := time.Since(c.startedAt)

	t.reporter.Finished(c.name, success, elapsed)

	if success {
		t.runNext()
	} else {
		t.success = false
		t.remaining = nil
		t.closeRedirects()
	}
}

// Success reports whether every command in the pipeline exited zero.
func (t *runningShellTask) Success() bool { return t.success }

// Wait blocks until the pipeline finishes, running remaining commands in
// the foreground of this goroutine.
func (t *runningShellTask) Wait() {
	for !t.Done() {
		<-t.current.cmd.Done()
	}
}

// Interrupt kills whatever command is currently running and abandons the
// rest of the pipeline. Does not block on reap; Done() will observe the
// exit on a later tick.
func (t *runningShellTask) Interrupt() {
	if t.Done() {
		return
	}
	t.success = false
	t.remaining = nil
	t.current.cmd.Close()
}

// openRedirects (re)opens the configured redirect files ahead of the next
// command: create+truncate for the first command of the pipeline, append
// for every command after that, matching the on-disk contract that a run's
// log file starts fresh and accumulates across the whole pipeline. Any
// handle left open from the previous command is closed first, so a
// multi-command pipeline doesn't leak one fd per command transition.
func (t *runningShellTask) openRedirects(isFirst bool) error {
	t.closeRedirects()

	open := func(path string) (*os.File, error) {
		if path == "" {
			return nil, nil
		}
		flags := os.O_WRONLY | os.O_APPEND
		if isFirst {
			flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		}
		return os.OpenFile(path, flags, 0644)
	}

	var err error
	if t.stdoutFile, err = open(t.redirectStdout); err != nil {
		return fmt.Errorf("open stdout redirect: %w", err)
	}
	if t.stderrFile, err = open(t.redirectStderr); err != nil {
		return fmt.Errorf("open stderr redirect: %w", err)
	}
	return nil
}

func (t *runningShellTask) closeRedirects() {
	if t.stdoutFile != nil {
		_ = t.stdoutFile.Close()
		t.stdoutFile = nil
	}
	if t.stderrFile != nil {
		_ = t.stderrFile.Close()
		t.stderrFile = nil
	}
}
