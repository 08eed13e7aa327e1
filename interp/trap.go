// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package interp

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/posh-shell/posh/syntax"
)

// trapStore maps signal conditions to their trap actions. Actions are run
// between commands, never from within the signal handler itself: delivery
// just queues the signal on a channel which the engine drains at the next
// statement boundary.
type trapStore struct {
	// actions maps a condition name ("EXIT", "INT", ...) to its action.
	// An empty action means the signal is ignored.
	actions map[string]string

	sigch chan os.Signal

	// handling guards against traps recursively triggering themselves.
	handling bool

	exitDone bool
}

func newTrapStore() *trapStore {
	return &trapStore{
		actions: make(map[string]string),
		sigch:   make(chan os.Signal, 16),
	}
}

// clone is used by subshells, which inherit trap actions but receive no
// signal delivery of their own; the parent shell owns the process's signals.
func (t *trapStore) clone() *trapStore {
	t2 := &trapStore{actions: make(map[string]string, len(t.actions))}
	for k, v := range t.actions {
		t2.actions[k] = v
	}
	return t2
}

// sigName canonicalizes a trap condition operand: a signal name with or
// without the SIG prefix, a signal number, or EXIT/0.
func sigName(arg string) (string, bool) {
	up := strings.ToUpper(arg)
	if up == "EXIT" || up == "0" {
		return "EXIT", true
	}
	if n, err := strconv.Atoi(arg); err == nil {
		name := unix.SignalName(unix.Signal(n))
		if name == "" {
			return "", false
		}
		return strings.TrimPrefix(name, "SIG"), true
	}
	up = strings.TrimPrefix(up, "SIG")
	if unix.SignalNum("SIG"+up) == 0 {
		return "", false
	}
	return up, true
}

func (r *Runner) trapBuiltin(args []string) int {
	t := r.traps
	if len(args) == 0 {
		names := make([]string, 0, len(t.actions))
		for name := range t.actions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r.outf("trap -- %q %s\n", t.actions[name], name)
		}
		return 0
	}
	if args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		return 0
	}
	action, conds := args[0], args[1:]
	// a first operand that is a signal spec resets those conditions
	if _, err := strconv.Atoi(action); err == nil || action == "-" {
		if action != "-" {
			conds = args
		}
		for _, c := range conds {
			name, ok := sigName(c)
			if !ok {
				r.errf("trap: %s: invalid signal specification\n", c)
				return 2
			}
			delete(t.actions, name)
			if name != "EXIT" {
				signal.Reset(unix.SignalNum("SIG" + name))
			}
		}
		return 0
	}
	for _, c := range conds {
		name, ok := sigName(c)
		if !ok {
			r.errf("trap: %s: invalid signal specification\n", c)
			return 2
		}
		t.actions[name] = action
		if name == "EXIT" {
			continue
		}
		sig := unix.SignalNum("SIG" + name)
		if action == "" {
			signal.Ignore(sig)
		} else {
			signal.Notify(t.sigch, sig)
		}
	}
	return 0
}

// runPending runs the actions of any signals delivered since the last
// statement boundary.
func (t *trapStore) runPending(ctx context.Context, r *Runner) {
	if t.handling || t.sigch == nil {
		return
	}
	for {
		select {
		case sig := <-t.sigch:
			name := strings.TrimPrefix(unix.SignalName(sig.(unix.Signal)), "SIG")
			t.run(ctx, r, name)
		default:
			return
		}
	}
}

// runExit runs the EXIT trap once, during shell shutdown.
func (t *trapStore) runExit(ctx context.Context, r *Runner) {
	if t.exitDone {
		return
	}
	t.exitDone = true
	t.run(ctx, r, "EXIT")
}

func (t *trapStore) run(ctx context.Context, r *Runner, name string) {
	action := t.actions[name]
	if action == "" {
		return
	}
	file, err := syntax.NewParser().ParseString(action, name+" trap")
	if err != nil {
		r.errf("trap %s: %v\n", name, err)
		return
	}
	t.handling = true
	oldExit, oldExiting := r.exit, r.exitShell
	r.exitShell = false
	r.stmts(ctx, file.Stmts)
	// the action's status does not replace the interrupted command's
	r.exit = oldExit
	r.exitShell = oldExiting || r.exitShell
	t.handling = false
}
