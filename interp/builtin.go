// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package interp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/posh-shell/posh/expand"
	"github.com/posh-shell/posh/syntax"
)

// isSpecialBuiltin reports whether the name is one of the POSIX special
// builtins, whose prefix assignments persist in the caller's scope.
func isSpecialBuiltin(name string) bool {
	switch name {
	case ":", ".", "break", "continue", "eval", "exec", "exit", "export",
		"readonly", "return", "set", "shift", "times", "trap", "unset":
		return true
	}
	return false
}

// isBuiltin reports whether the name is a regular builtin, run in-process
// with the overlay in effect but without persisting prefix assignments.
func isBuiltin(name string) bool {
	switch name {
	case "true", "false", "echo", "printf", "cd", "pwd", "test", "[",
		"wait", "jobs", "umask", "type", "read", "basename", "dirname",
		"alias", "unalias":
		return true
	}
	return false
}

// atoi is like [strconv.ParseInt](s, 10, 64), but ignoring errors and
// trimming whitespace.
func atoi(s string) int64 {
	s = strings.TrimSpace(s)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (r *Runner) builtin(ctx context.Context, pos syntax.Pos, name string, args []string) int {
	failf := func(code int, format string, fargs ...any) int {
		r.errf(name+": "+format, fargs...)
		return code
	}
	switch name {
	case ":", "true":
	case "false":
		return 1
	case "exit":
		code := r.lastExit
		switch len(args) {
		case 0:
		case 1:
			n, err := strconv.Atoi(args[0])
			if err != nil {
				r.exitShell = true
				return failf(2, "invalid exit status code: %q\n", args[0])
			}
			code = n & 0xff
		default:
			return failf(1, "too many arguments\n")
		}
		r.exitShell = true
		return code
	case "return":
		if !r.inFunc && !r.inSource {
			return failf(1, "can only be used from a function or sourced script\n")
		}
		code := r.lastExit
		if len(args) == 1 {
			code = int(atoi(args[0])) & 0xff
		} else if len(args) > 1 {
			return failf(1, "too many arguments\n")
		}
		r.returning = true
		return code
	case "set":
		if err := Params(args...)(r); err != nil {
			return failf(2, "%v\n", err)
		}
		r.updateExpandOpts()
	case "shift":
		n := 1
		switch len(args) {
		case 0:
		case 1:
			if n2, err := strconv.Atoi(args[0]); err == nil {
				n = n2
				break
			}
			fallthrough
		default:
			return failf(2, "usage: shift [n]\n")
		}
		if n < 0 || n > len(r.Params) {
			return failf(1, "shift count out of range\n")
		}
		r.Params = r.Params[n:]
	case "unset":
		vars, funcs := true, true
	unsetOpts:
		for len(args) > 0 {
			switch args[0] {
			case "-v":
				funcs = false
			case "-f":
				vars = false
			default:
				break unsetOpts
			}
			args = args[1:]
		}
		for _, arg := range args {
			if vars && r.lookupVar(arg).IsSet() {
				r.delVar(arg)
				if r.exit != 0 { // a readonly variable
					return 1
				}
			} else if _, ok := r.Funcs[arg]; ok && funcs {
				delete(r.Funcs, arg)
			}
		}
	case "export", "readonly":
		if len(args) == 1 && args[0] == "-p" {
			r.printAttrVars(name == "readonly")
			break
		}
		for _, arg := range args {
			aname, value, hasValue := strings.Cut(arg, "=")
			if !syntax.ValidName(aname) {
				return failf(1, "invalid name %q\n", aname)
			}
			vr := r.lookupVar(aname)
			if hasValue {
				if vr.ReadOnly {
					return failf(1, "%s: readonly variable\n", aname)
				}
				vr.Set = true
				vr.Str = value
			}
			if name == "export" {
				vr.Exported = true
			} else {
				vr.ReadOnly = true
			}
			r.frame.vars[aname] = vr
			// the attribute belongs to the frame's real store, not
			// just the per-command overlay
			if r.frame.savedVars != nil {
				r.frame.savedVars[aname] = vr
			}
		}
	case "eval":
		src := strings.Join(args, " ")
		if src == "" {
			break
		}
		file, err := syntax.NewParser().ParseString(src, "<eval>")
		if err != nil {
			return failf(2, "%v\n", err)
		}
		r.stmts(ctx, file.Stmts)
		return r.exit
	case "exec":
		if len(args) == 0 {
			// make the statement's redirections permanent
			r.keepRedirs = true
			break
		}
		r.execReplace(ctx, args)
		return r.exit
	case ".":
		if len(args) < 1 {
			return failf(2, "usage: . file [args...]\n")
		}
		return r.source(ctx, args[0], args[1:])
	case "times":
		self, children, err := cpuTimes()
		if err != nil {
			return failf(1, "%v\n", err)
		}
		r.outf("%s %s\n%s %s\n", clockFmt(self[0]), clockFmt(self[1]),
			clockFmt(children[0]), clockFmt(children[1]))
	case "trap":
		return r.trapBuiltin(args)
	case "break", "continue":
		if !r.inLoop {
			return failf(0, "only meaningful in a loop\n")
		}
		enclosing := &r.breakEnclosing
		if name == "continue" {
			enclosing = &r.contnEnclosing
		}
		switch len(args) {
		case 0:
			*enclosing = 1
		case 1:
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				*enclosing = n
				break
			}
			fallthrough
		default:
			return failf(2, "usage: %s [n]\n", name)
		}
	case "echo":
		newline, doExpand := true, false
	echoOpts:
		for len(args) > 0 {
			switch args[0] {
			case "-n":
				newline = false
			case "-e":
				doExpand = true
			case "-E": // the default
			default:
				break echoOpts
			}
			args = args[1:]
		}
		for i, arg := range args {
			if i > 0 {
				r.out(" ")
			}
			if doExpand {
				arg, _, _ = expand.Format(r.ecfg, arg, nil)
			}
			r.out(arg)
		}
		if newline {
			r.out("\n")
		}
	case "printf":
		if len(args) == 0 {
			return failf(2, "usage: printf format [arguments]\n")
		}
		format, args := args[0], args[1:]
		for {
			s, n, err := expand.Format(r.ecfg, format, args)
			if err != nil {
				return failf(1, "%v\n", err)
			}
			r.out(s)
			args = args[n:]
			if n == 0 || len(args) == 0 {
				break
			}
		}
	case "pwd":
		evalSymlinks := false
		for len(args) > 0 {
			switch args[0] {
			case "-L":
				evalSymlinks = false
			case "-P":
				evalSymlinks = true
			default:
				return failf(2, "invalid option: %q\n", args[0])
			}
			args = args[1:]
		}
		pwd := r.envGet("PWD")
		if evalSymlinks {
			var err error
			pwd, err = filepath.EvalSymlinks(pwd)
			if err != nil {
				return failf(1, "%v\n", err)
			}
		}
		r.outf("%s\n", pwd)
	case "cd":
		var path string
		switch len(args) {
		case 0:
			path = r.envGet("HOME")
		case 1:
			path = args[0]
			if path == "-" {
				path = r.envGet("OLDPWD")
				r.outf("%s\n", path)
			}
		default:
			return failf(2, "usage: cd [dir]\n")
		}
		return r.changeDir(path)
	case "test", "[":
		if name == "[" {
			if len(args) == 0 || args[len(args)-1] != "]" {
				return failf(2, "missing closing ]\n")
			}
			args = args[:len(args)-1]
		}
		ok, err := r.evalTest(args)
		if err != nil {
			return failf(2, "%v\n", err)
		}
		if !ok {
			return 1
		}
	case "wait":
		if len(args) == 0 {
			r.jobs.waitAll()
			break
		}
		code := 0
		for _, arg := range args {
			id, err := strconv.Atoi(strings.TrimPrefix(arg, "%"))
			if err != nil {
				return failf(2, "invalid job spec %q\n", arg)
			}
			job := r.jobs.byID(id)
			if job == nil {
				return 127
			}
			code = job.wait()
		}
		return code
	case "jobs":
		for _, job := range r.jobs.list() {
			state := "Running"
			if job.finished() {
				state = "Done"
			}
			r.outf("[%d] %s\t%s\n", job.id, state, job.text)
		}
	case "umask":
		if len(args) == 0 {
			r.outf("%04o\n", readUmask())
			break
		}
		n, err := strconv.ParseUint(args[0], 8, 32)
		if err != nil {
			return failf(2, "invalid mask %q\n", args[0])
		}
		setUmask(int(n))
	case "type":
		code := 0
		for _, arg := range args {
			switch {
			case syntax.IsKeyword(arg):
				r.outf("%s is a shell keyword\n", arg)
			case r.aliases[arg] != "":
				r.outf("%s is an alias for %q\n", arg, r.aliases[arg])
			case r.Funcs[arg] != nil:
				r.outf("%s is a function\n", arg)
			case isSpecialBuiltin(arg), isBuiltin(arg):
				r.outf("%s is a shell builtin\n", arg)
			default:
				if path, err := LookPathDir(r.Dir, expandEnv{r}, arg); err == nil {
					r.outf("%s is %s\n", arg, path)
				} else {
					r.errf("type: %s: not found\n", arg)
					code = 1
				}
			}
		}
		return code
	case "read":
		raw := false
	readOpts:
		for len(args) > 0 {
			switch args[0] {
			case "-r":
				raw = true
			default:
				break readOpts
			}
			args = args[1:]
		}
		if len(args) == 0 {
			args = []string{"REPLY"}
		}
		for _, aname := range args {
			if !syntax.ValidName(aname) {
				return failf(2, "invalid identifier %q\n", aname)
			}
		}
		line, err := r.readLine(raw)
		fields := expand.ReadFields(r.ecfg, string(line), len(args), raw)
		for i, aname := range args {
			val := ""
			if i < len(fields) {
				val = fields[i]
			}
			r.setVarString(aname, val)
		}
		if err != nil {
			return 1
		}
	case "basename":
		if len(args) < 1 || len(args) > 2 {
			return failf(2, "usage: basename string [suffix]\n")
		}
		b := filepath.Base(args[0])
		if len(args) == 2 && b != args[1] {
			b = strings.TrimSuffix(b, args[1])
		}
		r.outf("%s\n", b)
	case "dirname":
		if len(args) != 1 {
			return failf(2, "usage: dirname string\n")
		}
		r.outf("%s\n", filepath.Dir(args[0]))
	case "alias":
		if len(args) == 0 {
			names := make([]string, 0, len(r.aliases))
			for aname := range r.aliases {
				names = append(names, aname)
			}
			sort.Strings(names)
			for _, aname := range names {
				r.outf("alias %s=%q\n", aname, r.aliases[aname])
			}
			break
		}
		code := 0
		for _, arg := range args {
			aname, value, ok := strings.Cut(arg, "=")
			if !ok {
				if val, ok := r.aliases[aname]; ok {
					r.outf("alias %s=%q\n", aname, val)
				} else {
					r.errf("alias: %s: not found\n", aname)
					code = 1
				}
				continue
			}
			r.aliases[aname] = value
		}
		return code
	case "unalias":
		for _, arg := range args {
			delete(r.aliases, arg)
		}
	default:
		panic(fmt.Sprintf("unhandled builtin: %s", name))
	}
	return 0
}

func (r *Runner) printAttrVars(readOnly bool) {
	names := make([]string, 0, len(r.frame.vars))
	for name := range r.frame.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		vr := r.frame.vars[name]
		switch {
		case readOnly && vr.ReadOnly:
			r.outf("readonly %s=%q\n", name, vr.Str)
		case !readOnly && vr.Exported:
			r.outf("export %s=%q\n", name, vr.Str)
		}
	}
}

func (r *Runner) changeDir(path string) int {
	if path == "" {
		path = "."
	}
	path = r.absPath(path)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		r.errf("cd: %s: no such directory\n", path)
		return 1
	}
	r.setVarString("OLDPWD", r.envGet("PWD"))
	r.Dir = path
	r.setVarString("PWD", path)
	r.updateExpandOpts()
	return 0
}

// source implements the dot special builtin: run a script file's statements
// in the current shell environment, in a new frame so that "return" works
// and optional arguments become the positional parameters.
func (r *Runner) source(ctx context.Context, file string, args []string) int {
	path, err := scriptFromPathDir(r.Dir, expandEnv{r}, file)
	if err != nil {
		r.errf(".: %s: %v\n", file, err)
		if !r.interactive {
			r.exitShell = true
		}
		return 1
	}
	f, err := os.Open(path)
	if err != nil {
		r.errf(".: %v\n", err)
		return 1
	}
	defer f.Close()
	prog, err := syntax.NewParser().Parse(f, path)
	if err != nil {
		r.errf(".: %v\n", err)
		return 2
	}
	params := r.Params
	if len(args) > 0 {
		params = args
	}
	r.pushFrame(params)
	oldInSource := r.inSource
	r.inSource = true

	r.stmts(ctx, prog.Stmts)

	r.inSource = oldInSource
	r.popFrame()
	r.returning = false
	return r.exit
}

// readLine reads one line from standard input for the read builtin,
// honoring backslash line continuation unless raw mode is on.
func (r *Runner) readLine(raw bool) ([]byte, error) {
	if r.stdin == nil {
		return nil, io.EOF
	}
	var line []byte
	esc := false
	var buf [1]byte
	for {
		n, err := r.stdin.Read(buf[:])
		if n == 1 {
			b := buf[0]
			switch {
			case !raw && b == '\\' && !esc:
				line = append(line, b)
				esc = true
				continue
			case !raw && b == '\n' && esc:
				// line continuation
				line = line[:len(line)-1]
				esc = false
				continue
			case b == '\n':
				return line, nil
			}
			line = append(line, b)
			esc = false
		}
		if err != nil {
			return line, err
		}
	}
}

func clockFmt(seconds float64) string {
	min := int(seconds) / 60
	sec := seconds - float64(min*60)
	return fmt.Sprintf("%dm%.2fs", min, sec)
}
