// Package script embeds a Lua runtime as the task definition layer: a
// user-authored script returns an ordered table of task entries, and the
// supervisor re-enters the same script environment on every dispatch tick
// to evaluate each entry's predicate and configuration.
package script

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/lumenforge/taskwatch/pkg/pathutil"
)

// Host owns a single Lua state for the lifetime of one supervisor
// generation. The state is not safe for concurrent use, so every method
// that touches it — on the Host or on any Descriptor it produced — holds
// mu for its duration.
type Host struct {
	mu sync.Mutex
	L  *lua.LState
}

// Load parses and executes the script at path, then returns a Host holding
// its Lua state plus one Descriptor per entry of the top-level table the
// script returned, in script order. The path-utility helpers basename,
// dirname and ext are injected into the Lua string library before the
// script is executed, so both top-level script code and should_run
// callbacks can rely on them.
func Load(path string) (*Host, []*Descriptor, error) {
	L := lua.NewState()
	injectPathFunctions(L)

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, nil, fmt.Errorf("evaluate script %s: %w", path, err)
	}

	top := L.Get(-1)
	L.Pop(1)

	tbl, ok := top.(*lua.LTable)
	if !ok {
		L.Close()
		return nil, nil, fmt.Errorf("script %s must return a table of task entries, got %s", path, top.Type().String())
	}

	h := &Host{L: L}

	n := tbl.Len()
	descriptors := make([]*Descriptor, 0, n)
	for i := 1; i <= n; i++ {
		entry, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			h.Close()
			return nil, nil, fmt.Errorf("script %s: task entry %d is not a table", path, i)
		}
		descriptors = append(descriptors, &Descriptor{host: h, index: i, entry: entry})
	}

	return h, descriptors, nil
}

// Close releases the underlying Lua state. Call once the generation that
// produced this Host is being replaced.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.L.Close()
}

// injectPathFunctions adds basename/dirname/ext to the global string
// library, mirroring the script contract's promise that these are
// available to every should_run predicate.
func injectPathFunctions(L *lua.LState) {
	stringLib, ok := L.GetGlobal("string").(*lua.LTable)
	if !ok {
		return
	}

	stringLib.RawSetString("basename", L.NewFunction(func(L *lua.LState) int {
		s := L.CheckString(1)
		if base, ok := pathutil.Basename(s); ok {
			L.Push(lua.LString(base))
			return 1
		}
		return 0
	}))

	stringLib.RawSetString("dirname", L.NewFunction(func(L *lua.LState) int {
		s := L.CheckString(1)
		if dir, ok := pathutil.Dirname(s); ok {
			L.Push(lua.LString(dir))
			return 1
		}
		return 0
	}))

	stringLib.RawSetString("ext", L.NewFunction(func(L *lua.LState) int {
		s := L.CheckString(1)
		if ext, ok := pathutil.Ext(s); ok {
			L.Push(lua.LString(ext))
			return 1
		}
		return 0
	}))
}
