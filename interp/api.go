// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

// Package interp implements the shell execution engine: it consumes the
// syntax package's AST and drives it through word expansion, redirection,
// and process execution.
package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/posh-shell/posh/expand"
	"github.com/posh-shell/posh/syntax"
)

// RunnerOption can be passed to New to alter Runner behaviour. To apply an
// option to an existing Runner, call it directly; for example
// interp.Params("-e")(runner).
type RunnerOption func(*Runner) error

// New creates a new Runner, applying a number of options. If applying any of
// the options results in an error, it is returned.
//
// Any unset options fall back to their defaults: the process's environment
// and working directory, and discarded standard output and error.
func New(opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		usedNew:     true,
		execHandler: DefaultExecHandler(2 * time.Second),
		openHandler: DefaultOpenHandler(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	// Set the default fallbacks, if necessary.
	if r.Env == nil {
		Env(nil)(r)
	}
	if r.Dir == "" {
		if err := Dir("")(r); err != nil {
			return nil, err
		}
	}
	if r.stdout == nil || r.stderr == nil {
		StdIO(r.stdin, r.stdout, r.stderr)(r)
	}
	return r, nil
}

// Env sets the runner's starting environment. If nil, a copy of the current
// process's environment is used.
func Env(env expand.Environ) RunnerOption {
	return func(r *Runner) error {
		if env == nil {
			env = expand.ListEnviron(os.Environ()...)
		}
		r.Env = env
		return nil
	}
}

// Dir sets the runner's working directory. If empty, the process's current
// directory is used.
func Dir(path string) RunnerOption {
	return func(r *Runner) error {
		if path == "" {
			path, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("could not get current dir: %v", err)
			}
			r.Dir = path
			return nil
		}
		path, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("could not get absolute dir: %v", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("could not stat: %v", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", path)
		}
		r.Dir = path
		return nil
	}
}

// Params populates the shell options and parameters. For example,
// Params("-e", "--", "foo") will set the "-e" option and the parameters
// ["foo"], and Params("+e") will unset the "-e" option and leave the
// parameters untouched.
//
// This is similar to what the shell's "set" builtin does.
func Params(args ...string) RunnerOption {
	return func(r *Runner) error {
		onlyFlags := true
		for len(args) > 0 {
			arg := args[0]
			if arg == "" || (arg[0] != '-' && arg[0] != '+') {
				onlyFlags = false
				break
			}
			if arg == "--" {
				onlyFlags = false
				args = args[1:]
				break
			}
			enable := arg[0] == '-'
			var opt *bool
			if flag := arg[1:]; flag == "o" {
				args = args[1:]
				if len(args) == 0 && enable {
					for i, o := range &shellOptsTable {
						r.printOptLine(o.name, r.opts[i])
					}
					break
				}
				if len(args) == 0 && !enable {
					for i, o := range &shellOptsTable {
						setFlag := "+o"
						if r.opts[i] {
							setFlag = "-o"
						}
						r.outf("set %s %s\n", setFlag, o.name)
					}
					break
				}
				opt = r.optByName(args[0])
			} else {
				opt = r.optByFlag(flag)
			}
			if opt == nil {
				return fmt.Errorf("invalid option: %q", arg)
			}
			*opt = enable
			args = args[1:]
		}
		if !onlyFlags {
			// If "--" wasn't given and there were zero arguments,
			// don't override the current parameters.
			r.Params = args
		}
		return nil
	}
}

// Interactive marks the runner as an interactive shell, which changes how
// unhandled signals and the prompt-facing state behave.
func Interactive(b bool) RunnerOption {
	return func(r *Runner) error {
		r.interactive = b
		return nil
	}
}

// Login marks the runner as a login shell.
func Login(b bool) RunnerOption {
	return func(r *Runner) error {
		r.login = b
		return nil
	}
}

// ShellName overrides $0, which otherwise defaults to the name of the file
// being run, or to the shell's own name.
func ShellName(name string) RunnerOption {
	return func(r *Runner) error {
		r.dollarZero = name
		return nil
	}
}

// ExecHandler sets the command execution handler. See ExecHandlerFunc.
func ExecHandler(f ExecHandlerFunc) RunnerOption {
	return func(r *Runner) error {
		r.execHandler = f
		return nil
	}
}

// OpenHandler sets the file open handler. See OpenHandlerFunc.
func OpenHandler(f OpenHandlerFunc) RunnerOption {
	return func(r *Runner) error {
		r.openHandler = f
		return nil
	}
}

// StdIO configures the runner's standard input, standard output, and
// standard error. If out or err are nil, they default to a writer that
// discards the output.
func StdIO(in io.Reader, out, err io.Writer) RunnerOption {
	return func(r *Runner) error {
		r.stdin = in
		if out == nil {
			out = io.Discard
		}
		r.stdout = out
		if err == nil {
			err = io.Discard
		}
		r.stderr = err
		return nil
	}
}

// A Runner interprets shell programs. It can be reused, but it is not safe
// for concurrent use. Use New to build a new Runner.
//
// Note that writes to Stdout and Stderr may be concurrent if background
// commands are used; if the writers are not safe for concurrent use, hide
// them behind a mutex.
//
// The exported fields are meant to be configured via runner options; once a
// Runner has been created, they should be treated as read-only.
type Runner struct {
	// Env specifies the starting environment of the shell, which must be
	// non-nil. Its variables sit below the shell's own variable store.
	Env expand.Environ

	// Dir specifies the working directory, which must be an absolute path.
	Dir string

	// Params are the current positional parameters, accessible via the
	// $@/$* family of variables.
	Params []string

	// Funcs maps declared function names to their bodies.
	Funcs map[string]*syntax.Stmt

	execHandler ExecHandlerFunc
	openHandler OpenHandlerFunc

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	ecfg *expand.Config
	ectx context.Context // so that subshells can reuse it

	// frame is the current execution frame; its parent chain reaches the
	// top-level frame.
	frame *frame

	// fdtab tracks the state of numeric file descriptors across
	// redirection apply/restore cycles.
	fdtab fdTable

	aliases map[string]string
	traps   *trapStore
	jobs    jobStore

	pid         int
	ppid        int
	interactive bool
	login       bool
	dollarZero  string

	exit      int // status of the command being run
	lastExit  int // status of the last finished command, for $?
	csExit    int // exit status of the last command substitution
	lastBgJob int
	lastArg   string

	// >0 to break or continue out of N enclosing loops
	breakEnclosing, contnEnclosing int

	inLoop    bool
	inFunc    bool
	inSource  bool
	noErrExit bool

	returning bool  // a "return" is unwinding to the enclosing function
	exitShell bool  // the shell needs to exit
	err       error // fatal error, if any

	bgShells errgroup.Group

	opts runnerOpts

	didReset bool
	usedNew  bool

	filename string // only if the node was a File

	origDir    string
	origParams []string
	origOpts   runnerOpts
	origStdin  io.Reader
	origStdout io.Writer
	origStderr io.Writer

	// keepRedirs is used so that "exec" can make its redirections apply
	// to the current shell rather than to a single command.
	keepRedirs bool
}

func (r *Runner) optByFlag(flag string) *bool {
	for i, opt := range &shellOptsTable {
		if opt.flag == flag {
			return &r.opts[i]
		}
	}
	return nil
}

func (r *Runner) optByName(name string) *bool {
	for i, opt := range &shellOptsTable {
		if opt.name == name {
			return &r.opts[i]
		}
	}
	return nil
}

func (r *Runner) printOptLine(name string, enabled bool) {
	status := "off"
	if enabled {
		status = "on"
	}
	r.outf("%s\t%s\n", name, status)
}

type runnerOpts [len(shellOptsTable)]bool

var shellOptsTable = [...]struct {
	flag, name string
}{
	// sorted alphabetically by name; use a space for the options
	// that have no flag form
	{"a", "allexport"},
	{"e", "errexit"},
	{"I", "ignoreeof"},
	{"C", "noclobber"},
	{"n", "noexec"},
	{"f", "noglob"},
	{"u", "nounset"},
	{" ", "pipefail"},
	{"v", "verbose"},
	{" ", "vi"},
	{"x", "xtrace"},
}

// The indexes above, for access without a linear search when the option is
// known at compile time.
const (
	optAllExport = iota
	optErrExit
	optIgnoreEOF
	optNoClobber
	optNoExec
	optNoGlob
	optNoUnset
	optPipeFail
	optVerbose
	optVi
	optXTrace
)

// optFlags renders the single-letter flags of the enabled options, for $-.
func (r *Runner) optFlags() string {
	var buf []byte
	for i, opt := range &shellOptsTable {
		if r.opts[i] && opt.flag != " " {
			buf = append(buf, opt.flag[0])
		}
	}
	if r.interactive {
		buf = append(buf, 'i')
	}
	return string(buf)
}

// Reset returns a runner to its initial state, right before the first call
// to Run or Reset.
//
// This only needs to be called if a runner is reused to run multiple
// programs non-incrementally. Not calling Reset between each run will keep
// the shell state, including variables, options, and the current directory.
func (r *Runner) Reset() {
	if !r.usedNew {
		panic("use interp.New to construct a Runner")
	}
	if !r.didReset {
		r.origDir = r.Dir
		r.origParams = r.Params
		r.origOpts = r.opts
		r.origStdin = r.stdin
		r.origStdout = r.stdout
		r.origStderr = r.stderr
	}
	// reset the internal state
	*r = Runner{
		Env:         r.Env,
		execHandler: r.execHandler,
		openHandler: r.openHandler,

		// These can be set by options like Dir or Params, but builtins
		// can overwrite them; reset to whatever the constructor set up.
		Dir:    r.origDir,
		Params: r.origParams,
		opts:   r.origOpts,
		stdin:  r.origStdin,
		stdout: r.origStdout,
		stderr: r.origStderr,

		origDir:    r.origDir,
		origParams: r.origParams,
		origOpts:   r.origOpts,
		origStdin:  r.origStdin,
		origStdout: r.origStdout,
		origStderr: r.origStderr,

		interactive: r.interactive,
		login:       r.login,
		dollarZero:  r.dollarZero,
		usedNew:     r.usedNew,
	}
	r.pid = os.Getpid()
	r.ppid = os.Getppid()
	if r.dollarZero == "" {
		r.dollarZero = "posh"
	}
	r.frame = &frame{vars: make(map[string]expand.Variable)}
	r.fdtab = make(fdTable)
	r.Funcs = make(map[string]*syntax.Stmt)
	r.aliases = make(map[string]string)
	r.traps = newTrapStore()
	if vr := r.Env.Get("HOME"); !vr.IsSet() {
		home, _ := os.UserHomeDir()
		r.setVarString("HOME", home)
	}
	r.setVarString("PWD", r.Dir)
	r.setVarString("IFS", " \t\n")
	r.setVarString("PPID", strconv.Itoa(r.ppid))
	r.didReset = true
}

// Run interprets a node, which can be a *File, *Stmt, or Command. If a
// non-nil error is returned, it will typically contain a command's exit
// status, which can be retrieved with IsExitStatus.
//
// Run can be called multiple times synchronously to interpret programs
// incrementally. To reuse a Runner without keeping the internal shell state,
// call Reset.
func (r *Runner) Run(ctx context.Context, node syntax.Node) error {
	if !r.didReset {
		r.Reset()
	}
	r.fillExpandConfig(ctx)
	r.err = nil
	r.exitShell = false
	r.filename = ""
	wholeFile := false
	switch x := node.(type) {
	case *syntax.File:
		wholeFile = true
		r.filename = x.Name
		r.stmts(ctx, x.Stmts)
	case *syntax.Stmt:
		r.stmt(ctx, x)
	case syntax.Command:
		r.cmd(ctx, x)
	default:
		return fmt.Errorf("node can only be File, Stmt, or Command: %T", x)
	}
	// Running an entire File implies a shell shutdown at its end, so the
	// EXIT trap fires; incremental Stmt runs leave it for later.
	if wholeFile || r.exitShell {
		r.traps.runExit(ctx, r)
	}
	if r.lastExit != 0 {
		r.setErr(NewExitStatus(uint8(r.lastExit)))
	}
	return r.err
}

// Exited reports whether the last Run call should exit the whole shell, for
// example due to the "exit" builtin. The state is overwritten at every Run
// call, so it should be checked right after each one.
func (r *Runner) Exited() bool {
	return r.exitShell
}

// subshell returns a copy of the runner suitable for running commands in a
// child shell environment: variables, functions, aliases, options, and fd
// state are copied, and changes to them do not propagate to the parent.
func (r *Runner) subshell() *Runner {
	r2 := &Runner{
		Env:         r.Env,
		Dir:         r.Dir,
		Params:      r.Params,
		execHandler: r.execHandler,
		openHandler: r.openHandler,
		stdin:       r.stdin,
		stdout:      r.stdout,
		stderr:      r.stderr,
		filename:    r.filename,
		opts:        r.opts,
		pid:         r.pid,
		ppid:        r.ppid,
		interactive: r.interactive,
		login:       r.login,
		dollarZero:  r.dollarZero,
		lastExit:    r.lastExit,
		lastBgJob:   r.lastBgJob,
		lastArg:     r.lastArg,
		usedNew:     r.usedNew,
	}
	// Flatten the frame chain: a subshell starts from a copy of all the
	// variables currently visible.
	r2.frame = &frame{vars: make(map[string]expand.Variable, len(r.frame.vars))}
	for k, v := range r.frame.vars {
		r2.frame.vars[k] = v
	}
	r2.Funcs = make(map[string]*syntax.Stmt, len(r.Funcs))
	for k, v := range r.Funcs {
		r2.Funcs[k] = v
	}
	r2.aliases = make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		r2.aliases[k] = v
	}
	r2.fdtab = r.fdtab.clone()
	r2.traps = r.traps.clone()
	r2.fillExpandConfig(r.ectx)
	r2.didReset = true
	return r2
}

// exitStatus is a non-zero status code resulting from running a shell node.
type exitStatus uint8

func (s exitStatus) Error() string { return fmt.Sprintf("exit status %d", s) }

// NewExitStatus creates an error which contains the specified exit status.
func NewExitStatus(status uint8) error {
	return exitStatus(status)
}

// IsExitStatus checks whether an error contains an exit status, returning it
// if so.
func IsExitStatus(err error) (status uint8, ok bool) {
	var s exitStatus
	if errors.As(err, &s) {
		return uint8(s), true
	}
	return 0, false
}

func (r *Runner) setErr(err error) {
	if r.err == nil {
		r.err = err
	}
}
