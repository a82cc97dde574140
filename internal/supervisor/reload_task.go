package supervisor

import (
	"sync/atomic"
	"time"

	"github.com/lumenforge/taskwatch/internal/taskrun"
)

// reloadTask is the synthetic task every generation prepends to its task
// list: it matches only the script file's own path and, when triggered,
// flips shouldReload so the generation loop re-reads the script instead of
// running a normal pipeline.
type reloadTask struct {
	scriptPath   string
	shouldReload *atomic.Bool
}

func newReloadTask(scriptPath string, shouldReload *atomic.Bool) *reloadTask {
	return &reloadTask{scriptPath: scriptPath, shouldReload: shouldReload}
}

func (t *reloadTask) Name() string { return "reload-watcher-file" }

func (t *reloadTask) Matches(path string) (bool, error) {
	return path == t.scriptPath, nil
}

func (t *reloadTask) StartDelay() time.Duration { return 0 }

func (t *reloadTask) Run() (taskrun.RunningTask, error) {
	t.shouldReload.Store(true)
	return finishedTask{}, nil
}

// finishedTask is a RunningTask that is already complete the instant it is
// created, used by tasks with no actual child process to supervise.
type finishedTask struct{}

func (finishedTask) Done() bool    { return true }
func (finishedTask) Wait()         {}
func (finishedTask) Interrupt()    {}
func (finishedTask) Success() bool { return true }
