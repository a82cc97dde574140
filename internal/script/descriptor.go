package script

import (
	"fmt"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/lumenforge/taskwatch/internal/taskrun"
)

// defaultStartDelay is used when a task entry has no start_delay field.
const defaultStartDelay = 50 * time.Millisecond

// Descriptor is a {environment-handle, key} pair: a stable index into the
// script's top-level table plus a shared reference to the Lua state that
// owns it. Every method re-enters the script environment under the host's
// mutex, since Lua state is not safe for concurrent access and should_run
// predicates may carry their own mutable closures.
type Descriptor struct {
	host  *Host
	index int
	entry *lua.LTable
}

// Index returns the descriptor's dense, load-order position, used as the
// dispatch engine's slot key.
func (d *Descriptor) Index() int { return d.index }

// Name returns the entry's name field, falling back to a positional label
// if absent so log lines always have something to print.
func (d *Descriptor) Name() string {
	d.host.mu.Lock()
	defer d.host.mu.Unlock()

	if s, ok := d.entry.RawGetString("name").(lua.LString); ok {
		return string(s)
	}
	return fmt.Sprintf("task#%d", d.index)
}

// Matches evaluates the entry's should_run predicate against path. A task
// with no should_run field matches every event.
func (d *Descriptor) Matches(path string) (bool, error) {
	d.host.mu.Lock()
	defer d.host.mu.Unlock()

	fn, ok := d.entry.RawGetString("should_run").(*lua.LFunction)
	if !ok {
		return true, nil
	}

	L := d.host.L
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(path)); err != nil {
		return false, fmt.Errorf("should_run callback: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	return lua.LVAsBool(ret), nil
}

// StartDelay returns the entry's start_delay field, in milliseconds,
// defaulting to 50ms when absent.
func (d *Descriptor) StartDelay() time.Duration {
	d.host.mu.Lock()
	defer d.host.mu.Unlock()

	n, ok := d.entry.RawGetString("start_delay").(lua.LNumber)
	if !ok {
		return defaultStartDelay
	}
	return time.Duration(float64(n)) * time.Millisecond
}

// Commands iterates the entry's commands subtable, in order, returning one
// taskrun.ShellCommand per element. A missing or empty commands table is a
// script error: a task attempted to run with nothing to do.
func (d *Descriptor) Commands() ([]taskrun.ShellCommand, error) {
	d.host.mu.Lock()
	defer d.host.mu.Unlock()

	tbl, ok := d.entry.RawGetString("commands").(*lua.LTable)
	if !ok || tbl.Len() == 0 {
		return nil, fmt.Errorf("task %s has no commands table", d.nameLocked())
	}

	n := tbl.Len()
	out := make([]taskrun.ShellCommand, 0, n)
	for i := 1; i <= n; i++ {
		entry, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("task %s: commands[%d] is not a table", d.nameLocked(), i)
		}

		name, ok := entry.RawGetString("name").(lua.LString)
		if !ok {
			return nil, fmt.Errorf("task %s: commands[%d] missing name field", d.nameLocked(), i)
		}
		command, ok := entry.RawGetString("command").(lua.LString)
		if !ok {
			return nil, fmt.Errorf("task %s: commands[%d] missing command field", d.nameLocked(), i)
		}

		workDir := ""
		if wd, ok := entry.RawGetString("work_directory").(lua.LString); ok {
			workDir = string(wd)
		}

		out = append(out, taskrun.ShellCommand{
			Name:          string(name),
			Command:       string(command),
			WorkDirectory: workDir,
		})
	}

	return out, nil
}

// Environment returns the merged process environment for this task's
// pipeline: the supervisor's own environment overlaid with the entry's
// optional environment table. Returns nil (meaning "inherit os.Environ()
// unmodified") when the entry defines no environment table.
func (d *Descriptor) Environment() []string {
	d.host.mu.Lock()
	defer d.host.mu.Unlock()

	tbl, ok := d.entry.RawGetString("environment").(*lua.LTable)
	if !ok {
		return nil
	}

	overlay := make(map[string]string)
	tbl.ForEach(func(k, v lua.LValue) {
		ks, kok := k.(lua.LString)
		vs, vok := v.(lua.LString)
		if kok && vok {
			overlay[string(ks)] = string(vs)
		}
	})

	base := os.Environ()
	merged := make([]string, 0, len(base)+len(overlay))
	merged = append(merged, base...)
	for k, v := range overlay {
		merged = append(merged, k+"="+v)
	}
	return merged
}

// RedirectStdout returns the entry's redirect_stdout path, or "" if absent.
func (d *Descriptor) RedirectStdout() string { return d.stringField("redirect_stdout") }

// RedirectStderr returns the entry's redirect_stderr path, or "" if absent.
func (d *Descriptor) RedirectStderr() string { return d.stringField("redirect_stderr") }

// SuppressStdout reports the entry's suppress_stdout flag, default false.
func (d *Descriptor) SuppressStdout() bool { return d.boolField("suppress_stdout") }

// SuppressStderr reports the entry's suppress_stderr flag, default false.
func (d *Descriptor) SuppressStderr() bool { return d.boolField("suppress_stderr") }

func (d *Descriptor) stringField(field string) string {
	d.host.mu.Lock()
	defer d.host.mu.Unlock()

	if s, ok := d.entry.RawGetString(field).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func (d *Descriptor) boolField(field string) bool {
	d.host.mu.Lock()
	defer d.host.mu.Unlock()

	v := d.entry.RawGetString(field)
	return lua.LVAsBool(v)
}

// nameLocked is Name's body for callers that already hold host.mu.
func (d *Descriptor) nameLocked() string {
	if s, ok := d.entry.RawGetString("name").(lua.LString); ok {
		return string(s)
	}
	return fmt.Sprintf("task#%d", d.index)
}
