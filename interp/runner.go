// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/posh-shell/posh/expand"
	"github.com/posh-shell/posh/pattern"
	"github.com/posh-shell/posh/syntax"
)

func (r *Runner) fillExpandConfig(ctx context.Context) {
	r.ectx = ctx
	r.ecfg = &expand.Config{
		Env: expandEnv{r},
		CmdSubst: func(w io.Writer, src string) error {
			file, err := syntax.NewParser().ParseString(src, "<command substitution>")
			if err != nil {
				return err
			}
			r2 := r.subshell()
			r2.stdout = w
			r2.stmts(ctx, file.Stmts)
			r.csExit = r2.exit
			return r2.err
		},
	}
	r.updateExpandOpts()
}

func (r *Runner) updateExpandOpts() {
	r.ecfg.Dir = r.Dir
	r.ecfg.NoGlob = r.opts[optNoGlob]
	r.ecfg.NoUnset = r.opts[optNoUnset]
}

func (r *Runner) expandErr(err error) {
	if err == nil {
		return
	}
	r.errf("%s: %v\n", r.dollarZero, err)
	r.exit = 1
	var unset expand.UnsetParameterError
	if errors.As(err, &unset) && !r.interactive {
		// a failed mandatory expansion aborts a non-interactive shell
		r.exitShell = true
	}
}

func (r *Runner) fields(words ...*syntax.Word) []string {
	strs, err := expand.Fields(r.ecfg, words...)
	r.expandErr(err)
	return strs
}

func (r *Runner) literal(word *syntax.Word) string {
	str, err := expand.Literal(r.ecfg, word)
	r.expandErr(err)
	return str
}

func (r *Runner) assignValue(word *syntax.Word) string {
	str, err := expand.AssignValue(r.ecfg, word)
	r.expandErr(err)
	return str
}

func (r *Runner) pattern(word *syntax.Word) string {
	str, err := expand.Pattern(r.ecfg, word)
	r.expandErr(err)
	return str
}

func (r *Runner) out(s string) {
	io.WriteString(r.stdout, s)
}

func (r *Runner) outf(format string, a ...any) {
	fmt.Fprintf(r.stdout, format, a...)
}

func (r *Runner) errf(format string, a ...any) {
	fmt.Fprintf(r.stderr, format, a...)
}

// stop reports whether execution must not continue: a fatal error, a shell
// exit, an unwinding return, a cancelled context, or the noexec option.
func (r *Runner) stop(ctx context.Context) bool {
	if r.err != nil || r.exitShell || r.returning {
		return true
	}
	if err := ctx.Err(); err != nil {
		r.err = err
		return true
	}
	if r.opts[optNoExec] {
		return true
	}
	return false
}

func (r *Runner) stmts(ctx context.Context, stmts []*syntax.Stmt) {
	for _, stmt := range stmts {
		r.traps.runPending(ctx, r)
		r.stmt(ctx, stmt)
	}
}

func (r *Runner) stmt(ctx context.Context, st *syntax.Stmt) {
	if r.stop(ctx) {
		return
	}
	if st.Background {
		r2 := r.subshell()
		st2 := *st
		st2.Background = false
		job := r.jobs.add(stmtText(st))
		r.lastBgJob = job.id
		r.bgShells.Go(func() error {
			err := r2.Run(ctx, &st2)
			job.finish(r2.exit)
			_ = err
			return nil
		})
		r.exit = 0
	} else {
		r.stmtSync(ctx, st)
	}
	r.lastExit = r.exit
}

// stmtText renders a rough approximation of a statement for the jobs
// listing.
func stmtText(st *syntax.Stmt) string {
	if sc, ok := st.Cmd.(*syntax.SimpleCommand); ok && len(sc.Args) > 0 {
		if lit := sc.Args[0].Lit(); lit != "" {
			return lit
		}
	}
	return "(background job)"
}

func (r *Runner) stmtSync(ctx context.Context, st *syntax.Stmt) {
	r.exit = 0
	rst, err := r.applyRedirs(ctx, st.Redirs)
	if err != nil {
		r.errf("%s: %v\n", r.dollarZero, err)
		r.exit = 1
	} else {
		if st.Cmd != nil {
			r.cmd(ctx, st.Cmd)
		}
		if r.keepRedirs {
			r.commitRedirs(rst)
			r.keepRedirs = false
		} else {
			r.restoreRedirs(rst)
		}
	}
	if st.Negated {
		r.exit = oneIf(r.exit == 0)
	} else if _, ok := st.Cmd.(*syntax.SimpleCommand); !ok {
	} else if r.exit != 0 && !r.noErrExit && r.opts[optErrExit] {
		// errexit: a failed simple command exits the shell, except for
		// conditions, negated commands, and the left side of && or ||.
		r.exitShell = true
	}
}

func oneIf(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *Runner) cmd(ctx context.Context, cm syntax.Command) {
	if r.stop(ctx) {
		return
	}
	switch x := cm.(type) {
	case *syntax.Block:
		r.stmts(ctx, x.Stmts)
	case *syntax.Subshell:
		r2 := r.subshell()
		r2.stmts(ctx, x.Stmts)
		r.exit = r2.exit
		r.setErr(r2.err)
	case *syntax.SimpleCommand:
		r.simpleCommand(ctx, x)
	case *syntax.Pipeline:
		r.pipeline(ctx, x)
	case *syntax.BinaryCmd:
		oldNoErrExit := r.noErrExit
		r.noErrExit = true
		r.stmt(ctx, x.X)
		r.noErrExit = oldNoErrExit
		if (r.exit == 0) == (x.Op == syntax.AndStmt) {
			r.stmt(ctx, x.Y)
		}
	case *syntax.IfClause:
		oldNoErrExit := r.noErrExit
		r.noErrExit = true
		r.stmts(ctx, x.Cond)
		r.noErrExit = oldNoErrExit

		if r.exit == 0 {
			r.stmts(ctx, x.Then)
			return
		}
		r.exit = 0
		if x.Else != nil {
			r.cmd(ctx, x.Else)
		}
	case *syntax.WhileClause:
		for !r.stop(ctx) {
			oldNoErrExit := r.noErrExit
			r.noErrExit = true
			r.stmts(ctx, x.Cond)
			r.noErrExit = oldNoErrExit

			stop := (r.exit == 0) == x.Until
			r.exit = 0
			if stop || r.loopStmtsBroken(ctx, x.Do) {
				break
			}
		}
	case *syntax.ForClause:
		items := r.Params // for name; do ...
		if x.HasIn {
			items = r.fields(x.Items...)
		}
		for _, field := range items {
			r.setVarString(x.Name.Value, field)
			if r.loopStmtsBroken(ctx, x.Do) {
				break
			}
		}
	case *syntax.CaseClause:
		r.exit = 0
		str := r.literal(x.Word)
		for _, ci := range x.Items {
			for _, word := range ci.Patterns {
				pat := r.pattern(word)
				if pattern.Match(pat, str) {
					r.stmts(ctx, ci.Stmts)
					return
				}
			}
		}
	case *syntax.FuncDecl:
		r.Funcs[x.Name.Value] = x.Body
		r.exit = 0
	default:
		panic(fmt.Sprintf("unhandled command node: %T", x))
	}
}

func (r *Runner) loopStmtsBroken(ctx context.Context, stmts []*syntax.Stmt) bool {
	oldInLoop := r.inLoop
	r.inLoop = true
	defer func() { r.inLoop = oldInLoop }()
	for _, stmt := range stmts {
		r.stmt(ctx, stmt)
		if r.contnEnclosing > 0 {
			r.contnEnclosing--
			return r.contnEnclosing > 0
		}
		if r.breakEnclosing > 0 {
			r.breakEnclosing--
			return true
		}
	}
	return false
}

// pipeline runs an N-command pipeline. All commands but the last run in
// subshell copies wired together with pipes; the last runs in the current
// shell environment, whose exit status becomes the pipeline's. With pipefail
// set, the status is instead the rightmost nonzero status of any command.
func (r *Runner) pipeline(ctx context.Context, x *syntax.Pipeline) {
	n := len(x.Stmts)
	exits := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	var readers []io.Closer
	prevRead := r.stdin
	for i := 0; i < n-1; i++ {
		pr, pw := io.Pipe()
		readers = append(readers, pr)
		r2 := r.subshell()
		r2.stdin = prevRead
		r2.stdout = pw
		wg.Add(1)
		go func(i int, r2 *Runner, pw *io.PipeWriter) {
			defer wg.Done()
			r2.stmt(ctx, x.Stmts[i])
			pw.Close()
			exits[i] = r2.exit
			errs[i] = r2.err
		}(i, r2, pw)
		prevRead = pr
	}
	oldStdin := r.stdin
	r.stdin = prevRead
	r.stmt(ctx, x.Stmts[n-1])
	r.stdin = oldStdin
	for _, pr := range readers {
		pr.Close()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			r.setErr(err)
		}
	}
	exits[n-1] = r.exit
	if r.opts[optPipeFail] {
		for i := n - 1; i >= 0; i-- {
			if exits[i] != 0 {
				r.exit = exits[i]
				break
			}
		}
	}
}

// simpleCommand drives one simple command through the dispatcher: the
// assignment-only path, the variable overlay, word expansion, and the
// classified execution.
func (r *Runner) simpleCommand(ctx context.Context, x *syntax.SimpleCommand) {
	r.csExit = 0
	if len(x.Args) == 0 {
		// assignment-only: values persist in the frame's store, and the
		// exit status is that of the last command substitution, if any
		for _, as := range x.Assigns {
			val := r.assignValue(as.Value)
			if r.exit != 0 {
				return
			}
			if !r.setVar(as.Name.Value, expand.StringVar(val)) {
				return
			}
		}
		r.exit = r.csExit
		return
	}

	r.overlay()
	defer r.restoreOverlay()
	for _, as := range x.Assigns {
		val := r.assignValue(as.Value)
		if r.exit != 0 {
			return
		}
		// visible and exported for the duration of this command only
		r.frame.vars[as.Name.Value] = expand.Variable{Set: true, Exported: true, Str: val}
	}

	fields := r.fields(x.Args...)
	if r.exit != 0 && len(fields) == 0 {
		return
	}
	if len(fields) == 0 {
		// expanded to nothing, e.g. a lone unset "$@"
		r.exit = r.csExit
		return
	}
	if r.opts[optXTrace] {
		r.errf("+ %s\n", strings.Join(fields, " "))
	}
	r.call(ctx, x.Position, fields, x.Assigns)
	if len(fields) > 0 {
		r.lastArg = fields[len(fields)-1]
	}
}

// call classifies and executes a command name: reserved word (an error in
// command position), special builtin, function, regular builtin, or
// external command, in that order.
func (r *Runner) call(ctx context.Context, pos syntax.Pos, fields []string, assigns []*syntax.Assign) {
	fields = r.expandAliases(fields)
	if len(fields) == 0 {
		r.exit = 0
		return
	}
	name := fields[0]
	if syntax.IsKeyword(name) {
		r.errf("%s: syntax error: %q unexpected\n", r.dollarZero, name)
		r.exit = 2
		return
	}
	if isSpecialBuiltin(name) {
		// prefix assignments of special builtins persist in the
		// caller's variable store, and the builtin runs against the real
		// store so that variables set by a sourced file or eval persist
		if r.frame.savedVars != nil {
			for _, as := range assigns {
				if vr, ok := r.frame.vars[as.Name.Value]; ok {
					r.setVarIn(r.frame.savedVars, as.Name.Value, vr)
				}
			}
			r.restoreOverlay()
		}
		r.exit = r.builtin(ctx, pos, name, fields[1:])
		return
	}
	if body := r.Funcs[name]; body != nil {
		// prefix assignments of a function call persist, and the body
		// must see the real store, so the overlay comes off early
		if r.frame.savedVars != nil {
			for _, as := range assigns {
				if vr, ok := r.frame.vars[as.Name.Value]; ok {
					r.setVarIn(r.frame.savedVars, as.Name.Value, vr)
				}
			}
			r.restoreOverlay()
		}
		r.callFunc(ctx, body, fields[1:])
		return
	}
	if isBuiltin(name) {
		r.exit = r.builtin(ctx, pos, name, fields[1:])
		return
	}
	r.exec(ctx, fields)
}

// expandAliases substitutes a leading alias name with its parsed and
// expanded value. Substitution happens at most once per name, so an alias
// may safely reference itself.
func (r *Runner) expandAliases(fields []string) []string {
	seen := map[string]bool{}
	for len(fields) > 0 {
		val, ok := r.aliases[fields[0]]
		if !ok || seen[fields[0]] {
			break
		}
		seen[fields[0]] = true
		words, err := syntax.NewParser().ParseWords(val)
		if err != nil {
			r.errf("alias %s: %v\n", fields[0], err)
			break
		}
		head := r.fields(words...)
		fields = append(head, fields[1:]...)
	}
	return fields
}

// callFunc invokes a function body in a new frame whose variables are shared
// with the caller and whose positional parameters are the call arguments. A
// return unwinding from the body is consumed here.
func (r *Runner) callFunc(ctx context.Context, body *syntax.Stmt, args []string) {
	r.pushFrame(args)
	oldInFunc, oldInLoop := r.inFunc, r.inLoop
	r.inFunc, r.inLoop = true, false

	r.stmt(ctx, body)

	r.inFunc, r.inLoop = oldInFunc, oldInLoop
	r.popFrame()
	r.returning = false
}

func (r *Runner) exec(ctx context.Context, args []string) {
	err := r.execHandler(r.handlerCtx(ctx), args)
	if status, ok := IsExitStatus(err); ok {
		r.exit = int(status)
		return
	}
	if err != nil {
		// handler's custom fatal error
		r.setErr(err)
		return
	}
	r.exit = 0
}
