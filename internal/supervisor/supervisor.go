// Package supervisor owns the process-wide lifecycle: the single-instance
// lock, interrupt propagation, and the generation loop that restarts the
// dispatch engine whenever the watched script file itself changes.
package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lumenforge/taskwatch/internal/dispatch"
	"github.com/lumenforge/taskwatch/internal/lockfile"
	"github.com/lumenforge/taskwatch/internal/script"
	"github.com/lumenforge/taskwatch/internal/taskrun"
	"github.com/lumenforge/taskwatch/internal/watch"
)

const tickInterval = 50 * time.Millisecond

// Options configures a single supervisor run.
type Options struct {
	ScriptPath string
	Log        *zap.Logger

	// MaxConcurrentTasks bounds how many task pipelines may run at once
	// across the whole script. Zero means unbounded.
	MaxConcurrentTasks int

	// LogManager, if set, is shared by every ScriptTask across every
	// generation instead of each generation building its own — the same
	// instance the introspection API was handed, so /tasks/:index/log
	// reads what the running tasks actually wrote. Generation-independent.
	// If nil, each generation gets its own
	// (only the case when introspection is disabled).
	LogManager *taskrun.LogManager

	// OnGeneration, if set, is called once per generation with the new
	// dispatch engine and the 1-based generation number, before the
	// generation's tick loop starts. Used to wire the introspection API
	// and history store to the current generation without those packages
	// importing supervisor.
	OnGeneration func(engine *dispatch.Engine, generation int)
}

// Run acquires the lockfile for opts.ScriptPath and then watches the
// filesystem until an interrupt signal arrives or a fatal error occurs.
// Returns nil on a clean interrupt.
func Run(opts Options) error {
	lock, err := lockfile.Acquire(opts.ScriptPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	interrupted := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(interrupted)
	}()
	defer signal.Stop(sigCh)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	scriptPath, err := filepath.Abs(opts.ScriptPath)
	if err != nil {
		return fmt.Errorf("resolve script path: %w", err)
	}

	generation := 0
	for {
		generation++
		reload, err := runGeneration(opts, cwd, scriptPath, interrupted, generation)
		if err != nil {
			return err
		}
		if !reload {
			return nil
		}
	}
}

// runGeneration runs exactly one generation: fresh watcher, fresh task
// list, fresh dispatch engine. Returns (true, nil) if the generation ended
// because the script file changed and should be reloaded, (false, nil) on
// clean interrupt, or a non-nil error on fatal script/watch failure.
func runGeneration(opts Options, cwd, scriptPath string, interrupted <-chan struct{}, generation int) (bool, error) {
	log := opts.Log

	w, err := watch.New(log, cwd, 50*time.Millisecond)
	if err != nil {
		return false, fmt.Errorf("start filesystem watcher: %w", err)
	}
	defer w.Close()
	if err := w.AddFile(scriptPath); err != nil {
		log.Warn("failed to explicitly watch script file", zap.Error(err))
	}

	host, descriptors, err := script.Load(scriptPath)
	if err != nil {
		return false, fmt.Errorf("load script: %w", err)
	}
	defer host.Close()

	var shouldReload atomic.Bool
	logmgr := opts.LogManager
	if logmgr == nil {
		logmgr = taskrun.NewLogManager()
	}

	tasks := make([]dispatch.Task, 0, len(descriptors)+1)
	tasks = append(tasks, newReloadTask(scriptPath, &shouldReload))
	for _, d := range descriptors {
		tasks = append(tasks, dispatch.NewScriptTask(log, d, logmgr))
	}

	var limiter *taskrun.ConcurrencyLimiter
	if opts.MaxConcurrentTasks > 0 {
		limiter = taskrun.NewConcurrencyLimiter(opts.MaxConcurrentTasks)
	}
	engine := dispatch.NewEngine(log, tasks, w.Events(), w.Errors(), limiter)
	if opts.OnGeneration != nil {
		opts.OnGeneration(engine, generation)
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-interrupted:
			engine.Shutdown()
			return false, nil

		case <-ticker.C:
			if shouldReload.Load() {
				engine.Shutdown()
				log.Info("script file changed, reloading", zap.String("path", scriptPath))
				return true, nil
			}
			engine.Spin()
		}
	}
}
