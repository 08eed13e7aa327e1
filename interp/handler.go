// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/posh-shell/posh/expand"
)

// HandlerCtx returns the HandlerContext value stored in ctx. It panics if
// ctx has no HandlerContext stored.
func HandlerCtx(ctx context.Context) HandlerContext {
	hc, ok := ctx.Value(handlerCtxKey{}).(HandlerContext)
	if !ok {
		panic("interp.HandlerCtx: no HandlerContext in ctx")
	}
	return hc
}

type handlerCtxKey struct{}

// HandlerContext is the data passed to all the handler functions via
// [context.WithValue]. It contains some of the current state of the Runner.
type HandlerContext struct {
	// Env is a read-only view of the shell's environment, including the
	// variables of the current frame and its per-command overlay.
	Env expand.Environ

	// Dir is the shell's current directory.
	Dir string

	// Stdin, Stdout, and Stderr are the shell's current standard streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ExtraFiles carries descriptors above 2 that were redirected for the
	// command, keyed by descriptor number. Entries are real OS files.
	ExtraFiles map[int]*os.File
}

// ExecHandlerFunc is a handler which executes simple commands. It is called
// for all simple commands whose name is neither a declared function nor a
// builtin.
//
// Returning a nil error means a zero exit status. Other exit statuses can be
// set with NewExitStatus. Any other error will halt the runner.
type ExecHandlerFunc func(ctx context.Context, args []string) error

// OpenHandlerFunc is a handler which opens files. It is called for all files
// that are opened directly by the shell, such as in redirections. Files
// opened by executed programs are not included.
//
// A returned error of type [*os.PathError] makes the redirection fail with
// exit status 1; any other error halts the runner.
type OpenHandlerFunc func(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error)

// DefaultExecHandler returns the ExecHandlerFunc used by default. It finds
// binaries in $PATH and executes them, normalizing exit statuses: 127 when
// the command is not found, 126 when it is found but cannot be executed, and
// 128 plus the signal number when the child dies to a signal.
//
// When the context is cancelled, an interrupt signal is sent to running
// processes; killTimeout is how long to wait before following up with a kill
// signal. A non-positive value kills immediately.
func DefaultExecHandler(killTimeout time.Duration) ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		hc := HandlerCtx(ctx)
		path, err := LookPathDir(hc.Dir, hc.Env, args[0])
		if err != nil {
			fmt.Fprintln(hc.Stderr, err)
			if errors.Is(err, ErrNotExecutable) {
				return NewExitStatus(126)
			}
			return NewExitStatus(127)
		}
		cmd := exec.Cmd{
			Path:   path,
			Args:   args,
			Env:    execEnv(hc.Env),
			Dir:    hc.Dir,
			Stdin:  hc.Stdin,
			Stdout: hc.Stdout,
			Stderr: hc.Stderr,
		}
		if n := maxExtraFd(hc.ExtraFiles); n > 2 {
			// ExtraFiles is dense from fd 3 up; plug the gaps with
			// the null device so numbering is preserved.
			var devNull *os.File
			cmd.ExtraFiles = make([]*os.File, n-2)
			for i := range cmd.ExtraFiles {
				if f := hc.ExtraFiles[i+3]; f != nil {
					cmd.ExtraFiles[i] = f
					continue
				}
				if devNull == nil {
					devNull, _ = os.Open(os.DevNull)
					if devNull != nil {
						defer devNull.Close()
					}
				}
				cmd.ExtraFiles[i] = devNull
			}
		}

		err = cmd.Start()
		if err == nil {
			stopf := context.AfterFunc(ctx, func() {
				if killTimeout <= 0 {
					_ = cmd.Process.Signal(os.Kill)
					return
				}
				_ = cmd.Process.Signal(os.Interrupt)
				time.Sleep(killTimeout)
				_ = cmd.Process.Signal(os.Kill)
			})
			defer stopf()

			err = cmd.Wait()
		}

		switch err := err.(type) {
		case *exec.ExitError:
			if status, ok := err.Sys().(waitStatus); ok && status.Signaled() {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return NewExitStatus(uint8(128 + status.Signal()))
			}
			return NewExitStatus(uint8(err.ExitCode()))
		case *exec.Error:
			// did not start
			fmt.Fprintf(hc.Stderr, "%v\n", err)
			return NewExitStatus(127)
		default:
			return err
		}
	}
}

func maxExtraFd(m map[int]*os.File) int {
	max := 2
	for fd := range m {
		if fd > max {
			max = fd
		}
	}
	return max
}

// ErrNotFound means a command name did not resolve to an executable file.
var ErrNotFound = errors.New("executable file not found in $PATH")

// ErrNotExecutable means a command name resolved to a file which cannot be
// executed, mapping to exit status 126.
var ErrNotExecutable = errors.New("permission denied")

func checkStat(dir, file string, checkExec bool) (string, error) {
	if !filepath.IsAbs(file) {
		file = filepath.Join(dir, file)
	}
	info, err := os.Stat(file)
	if err != nil {
		return "", err
	}
	m := info.Mode()
	if m.IsDir() {
		return "", fmt.Errorf("%s: %w: is a directory", file, ErrNotExecutable)
	}
	if checkExec && m&0o111 == 0 {
		return "", fmt.Errorf("%s: %w", file, ErrNotExecutable)
	}
	return file, nil
}

// LookPathDir is similar to [os/exec.LookPath], with the difference that it
// uses the provided environment to fetch $PATH, and resolves relative names
// against cwd. If no error is returned, the returned path is valid.
func LookPathDir(cwd string, env expand.Environ, file string) (string, error) {
	if strings.ContainsRune(file, '/') {
		return checkStat(cwd, file, true)
	}
	pathList := filepath.SplitList(env.Get("PATH").String())
	if len(pathList) == 0 {
		pathList = []string{""}
	}
	var lastErr error
	for _, elem := range pathList {
		var path string
		switch elem {
		case "", ".":
			// otherwise "foo" would not be "./foo"
			path = "." + string(filepath.Separator) + file
		default:
			path = filepath.Join(elem, file)
		}
		p, err := checkStat(cwd, path, true)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, ErrNotExecutable) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("%q: %w", file, ErrNotFound)
}

// scriptFromPathDir looks up a file like LookPathDir, but accepts
// non-executable files too, the way the dot builtin resolves its operand.
func scriptFromPathDir(cwd string, env expand.Environ, file string) (string, error) {
	if strings.ContainsRune(file, '/') {
		return checkStat(cwd, file, false)
	}
	pathList := filepath.SplitList(env.Get("PATH").String())
	for _, elem := range pathList {
		if elem == "" {
			elem = "."
		}
		if p, err := checkStat(cwd, filepath.Join(elem, file), false); err == nil {
			return p, nil
		}
	}
	// not on $PATH; fall back to the working directory
	return checkStat(cwd, file, false)
}

// DefaultOpenHandler returns the OpenHandlerFunc used by default, opening
// files relative to the shell's directory with [os.OpenFile]. Files are
// always opened in binary mode, keeping redirections byte-transparent.
func DefaultOpenHandler() OpenHandlerFunc {
	return func(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
		hc := HandlerCtx(ctx)
		if path != "" && !filepath.IsAbs(path) {
			path = filepath.Join(hc.Dir, path)
		}
		return os.OpenFile(path, flag, perm)
	}
}

func (r *Runner) handlerCtx(ctx context.Context) context.Context {
	hc := HandlerContext{
		Env:    expandEnv{r},
		Dir:    r.Dir,
		Stdout: r.stdout,
		Stderr: r.stderr,
	}
	if r.stdin != nil { // do not leave hc.Stdin as a typed nil
		hc.Stdin = r.stdin
	}
	hc.ExtraFiles = r.fdtab.extraFiles()
	return context.WithValue(ctx, handlerCtxKey{}, hc)
}

// extraFiles collects the redirected descriptors above 2 which are backed by
// real files, so they can be inherited by child processes.
func (t fdTable) extraFiles() map[int]*os.File {
	var m map[int]*os.File
	for fd, e := range t {
		if fd <= 2 || !e.open || e.f == nil || e.flags&(fdSaved|fdCloexec) != 0 {
			continue
		}
		if m == nil {
			m = make(map[int]*os.File)
		}
		m[fd] = e.f
	}
	return m
}

func (r *Runner) open(ctx context.Context, path string, flags int, mode os.FileMode, print bool) (io.ReadWriteCloser, error) {
	f, err := r.openHandler(r.handlerCtx(ctx), path, flags, mode)
	switch err.(type) {
	case nil:
	case *os.PathError:
		if print {
			r.errf("%v\n", err)
		}
	default: // handler's custom fatal error
		r.setErr(err)
	}
	return f, err
}

func (r *Runner) absPath(path string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.Dir, path)
	}
	return filepath.Clean(path)
}
