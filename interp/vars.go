// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package interp

import (
	"sort"
	"strconv"

	"github.com/posh-shell/posh/expand"
)

// frame is the unit of dynamic scope: one per function invocation, dot
// sourcing, or top-level run. Function and source frames share the parent's
// variable store by reference, so their variable writes remain visible; the
// positional parameters are always frame-local.
type frame struct {
	parent *frame

	// vars is the live variable store. While a per-command overlay is
	// installed, savedVars points at the store to put back afterwards.
	vars      map[string]expand.Variable
	savedVars map[string]expand.Variable

	// savedParams holds the parent's positional parameters while this
	// frame is live; the current ones live on the Runner.
	savedParams []string
}

// pushFrame installs a new frame sharing the current variable store, with
// its own positional parameters.
func (r *Runner) pushFrame(params []string) *frame {
	fr := &frame{
		parent:      r.frame,
		vars:        r.frame.vars,
		savedParams: r.Params,
	}
	r.Params = params
	r.frame = fr
	return fr
}

func (r *Runner) popFrame() {
	r.Params = r.frame.savedParams
	r.frame = r.frame.parent
}

// overlay installs a temporary copy of the variable store for the duration
// of one simple command, so that prefix assignments do not leak.
func (r *Runner) overlay() {
	fr := r.frame
	fr.savedVars = fr.vars
	next := make(map[string]expand.Variable, len(fr.vars)+4)
	for k, v := range fr.vars {
		next[k] = v
	}
	fr.vars = next
}

// restoreOverlay puts the pre-command store back. The pointer is restored
// as-is: mutations made through the overlay are dropped.
func (r *Runner) restoreOverlay() {
	fr := r.frame
	if fr.savedVars != nil {
		fr.vars = fr.savedVars
		fr.savedVars = nil
	}
}

func (r *Runner) lookupVar(name string) expand.Variable {
	if name == "" {
		panic("interp.lookupVar: empty variable name")
	}
	switch name {
	case "#":
		return expand.StringVar(strconv.Itoa(len(r.Params)))
	case "@", "*":
		return expand.Variable{Set: true, List: r.Params}
	case "?":
		return expand.StringVar(strconv.Itoa(r.lastExit))
	case "$":
		return expand.StringVar(strconv.Itoa(r.pid))
	case "!":
		if r.lastBgJob == 0 {
			return expand.Variable{}
		}
		return expand.StringVar(strconv.Itoa(r.lastBgJob))
	case "-":
		return expand.StringVar(r.optFlags())
	case "_":
		return expand.StringVar(r.lastArg)
	case "0":
		if r.filename != "" {
			return expand.StringVar(r.filename)
		}
		return expand.StringVar(r.dollarZero)
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		i := int(name[0] - '1')
		if i < len(r.Params) {
			return expand.StringVar(r.Params[i])
		}
		return expand.Variable{}
	}
	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		if n <= len(r.Params) {
			return expand.StringVar(r.Params[n-1])
		}
		return expand.Variable{}
	}
	if vr, ok := r.frame.vars[name]; ok {
		return vr
	}
	if vr := r.Env.Get(name); vr.IsSet() {
		return vr
	}
	return expand.Variable{}
}

func (r *Runner) envGet(name string) string {
	return r.lookupVar(name).String()
}

// setVar sets a variable in the current frame's store, enforcing the
// read-only attribute and the allexport option.
func (r *Runner) setVar(name string, vr expand.Variable) bool {
	if cur, ok := r.frame.vars[name]; ok && cur.ReadOnly {
		r.errf("%s: readonly variable\n", name)
		r.exit = 1
		return false
	}
	if r.opts[optAllExport] {
		vr.Exported = true
	} else if cur, ok := r.frame.vars[name]; ok && cur.Exported {
		vr.Exported = true
	} else if r.Env.Get(name).IsSet() {
		// overriding an inherited environment variable keeps it
		// exported
		vr.Exported = true
	}
	r.frame.vars[name] = vr
	// While a per-command overlay is installed, ordinary variable writes
	// (read, ${name=word}) still persist past the command, so
	// they are mirrored into the store that will be put back. Prefix
	// assignments bypass this on purpose.
	if r.frame.savedVars != nil {
		r.frame.savedVars[name] = vr
	}
	return true
}

func (r *Runner) setVarString(name, value string) {
	r.setVar(name, expand.StringVar(value))
}

// setVarIn writes directly to a specific store, bypassing the overlay. Used
// to make special-builtin prefix assignments persist in the caller's scope.
func (r *Runner) setVarIn(vars map[string]expand.Variable, name string, vr expand.Variable) {
	if cur, ok := vars[name]; ok {
		if cur.ReadOnly {
			r.errf("%s: readonly variable\n", name)
			r.exit = 1
			return
		}
		if cur.Exported {
			vr.Exported = true
		}
	}
	vars[name] = vr
}

func (r *Runner) delVar(name string) {
	if cur, ok := r.frame.vars[name]; ok && cur.ReadOnly {
		r.errf("%s: readonly variable\n", name)
		r.exit = 1
		return
	}
	delete(r.frame.vars, name)
	if r.frame.savedVars != nil {
		delete(r.frame.savedVars, name)
	}
}

// expandEnv exposes the runner's variables to the expand package.
type expandEnv struct {
	r *Runner
}

var _ expand.WriteEnviron = expandEnv{}

func (e expandEnv) Get(name string) expand.Variable {
	return e.r.lookupVar(name)
}

func (e expandEnv) Set(name string, vr expand.Variable) error {
	e.r.setVar(name, vr)
	return nil
}

func (e expandEnv) Each(fn func(name string, vr expand.Variable) bool) {
	seen := make(map[string]bool, len(e.r.frame.vars))
	stop := false
	for name, vr := range e.r.frame.vars {
		seen[name] = true
		if !fn(name, vr) {
			stop = true
			break
		}
	}
	if stop {
		return
	}
	e.r.Env.Each(func(name string, vr expand.Variable) bool {
		if seen[name] {
			return true
		}
		return fn(name, vr)
	})
}

// execEnv builds the environment vector for child processes from every
// exported variable visible in the current frame.
func execEnv(env expand.Environ) []string {
	list := make([]string, 0, 64)
	env.Each(func(name string, vr expand.Variable) bool {
		if vr.Exported && vr.Set && vr.List == nil {
			list = append(list, name+"="+vr.Str)
		}
		return true
	})
	sort.Strings(list)
	return list
}
