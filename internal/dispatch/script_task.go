package dispatch

import (
	"time"

	"go.uber.org/zap"

	"github.com/lumenforge/taskwatch/internal/script"
	"github.com/lumenforge/taskwatch/internal/taskrun"
)

// ScriptTask adapts a script.Descriptor — a handle into the embedded Lua
// environment — to the dispatch engine's Task interface, wiring its
// pipeline configuration into the Task Runtime on Run.
type ScriptTask struct {
	log    *zap.Logger
	desc   *script.Descriptor
	logmgr *taskrun.LogManager
}

// NewScriptTask wraps desc for dispatch. logmgr supplies the per-task-index
// log buffer the introspection API reads from.
func NewScriptTask(log *zap.Logger, desc *script.Descriptor, logmgr *taskrun.LogManager) *ScriptTask {
	return &ScriptTask{log: log, desc: desc, logmgr: logmgr}
}

func (t *ScriptTask) Name() string { return t.desc.Name() }

func (t *ScriptTask) Matches(path string) (bool, error) { return t.desc.Matches(path) }

func (t *ScriptTask) StartDelay() time.Duration { return t.desc.StartDelay() }

// Run evaluates the descriptor's commands table and hands it to the Task
// Runtime. A task whose commands table is missing or malformed surfaces as
// a script error here, matching the spec's "run() throws" failure case.
func (t *ScriptTask) Run() (taskrun.RunningTask, error) {
	commands, err := t.desc.Commands()
	if err != nil {
		return nil, err
	}

	buf := t.logmgr.Get(t.desc.Index())
	env := t.desc.Environment()

	running := taskrun.Spawn(
		t.log.With(zap.String("task", t.Name())),
		buf,
		commands,
		env,
		!t.desc.SuppressStdout(),
		!t.desc.SuppressStderr(),
		t.desc.RedirectStdout(),
		t.desc.RedirectStderr(),
	)
	return running, nil
}
