// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package interp

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/posh-shell/posh/expand"
	"github.com/posh-shell/posh/syntax"
)

type fdFlag uint8

const (
	fdCloexec fdFlag = 1 << iota
	fdRedirected
	fdSaved
)

// fdEntry describes the state of one numeric file descriptor of the shell.
// The three standard descriptors mirror the runner's stdio streams. A higher
// descriptor has a backing file only when it was opened from a path or
// duplicated from a descriptor that has one; a here-document gives it just a
// reader.
type fdEntry struct {
	open bool

	r io.Reader
	w io.Writer
	f *os.File // set when backed by a real OS file

	// cl is the owned resource to close when this descriptor is replaced
	// or restored. Inherited stdio has no cl: the shell does not own it.
	cl io.Closer

	flags  fdFlag
	origFd int // for saved entries, the descriptor the backup came from
	path   string
}

// ref returns a copy sharing the underlying streams but without ownership,
// for fd duplication.
func (e *fdEntry) ref() *fdEntry {
	return &fdEntry{open: e.open, r: e.r, w: e.w, f: e.f, path: e.path}
}

type fdTable map[int]*fdEntry

func (t fdTable) clone() fdTable {
	t2 := make(fdTable, len(t))
	for fd, e := range t {
		e2 := *e
		e2.cl = nil // a subshell never owns its parent's resources
		t2[fd] = &e2
	}
	return t2
}

// nextFree finds the lowest unused descriptor number at or above min, the
// way fcntl(F_DUPFD) allocates backups.
func (t fdTable) nextFree(min int) int {
	fd := min
	for {
		if _, ok := t[fd]; !ok {
			return fd
		}
		fd++
	}
}

// entryFor returns the live entry for a descriptor, synthesizing one from
// the runner's stdio streams for 0, 1, and 2 when untouched.
func (r *Runner) entryFor(fd int) *fdEntry {
	if e, ok := r.fdtab[fd]; ok {
		return e
	}
	switch fd {
	case 0:
		return &fdEntry{open: true, r: r.stdin, f: stdioFile(r.stdin)}
	case 1:
		return &fdEntry{open: true, w: r.stdout, f: stdioFile(r.stdout)}
	case 2:
		return &fdEntry{open: true, w: r.stderr, f: stdioFile(r.stderr)}
	}
	return &fdEntry{}
}

func stdioFile(v any) *os.File {
	f, _ := v.(*os.File)
	return f
}

// syncStdio reflects a descriptor change onto the runner's stdio streams.
func (r *Runner) syncStdio(fd int, e *fdEntry) {
	switch fd {
	case 0:
		if e.open {
			r.stdin = e.r
		} else {
			r.stdin = closedFd{}
		}
	case 1:
		if e.open {
			r.stdout = e.w
		} else {
			r.stdout = closedFd{}
		}
	case 2:
		if e.open {
			r.stderr = e.w
		} else {
			r.stderr = closedFd{}
		}
	}
}

// closedFd reads and writes fail the way a closed descriptor does.
type closedFd struct{}

func (closedFd) Read([]byte) (int, error)  { return 0, fmt.Errorf("read: bad file descriptor") }
func (closedFd) Write([]byte) (int, error) { return 0, fmt.Errorf("write: bad file descriptor") }

// redirState tracks the descriptors saved for one redirection list, so that
// nested redirected commands restore only their own level.
type redirState struct {
	saved []savedFd
}

type savedFd struct {
	backupFd int
	origFd   int
}

// targetFd computes the descriptor a redirection acts on: the explicit io
// number if present, otherwise 0 for input-like kinds and 1 for the rest.
func targetFd(rd *syntax.Redirect) (int, error) {
	if rd.N != nil {
		n, err := strconv.Atoi(rd.N.Value)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%s: bad file descriptor", rd.N.Value)
		}
		return n, nil
	}
	switch rd.Op {
	case syntax.RdrIn, syntax.RdrInOut, syntax.Hdoc, syntax.DashHdoc, syntax.DplIn:
		return 0, nil
	}
	return 1, nil
}

// applyRedirs applies a redirection list in two phases. Phase one pre-saves
// each unique target descriptor of the list once, before any of them is
// replaced, so that restoring the list brings back the state it started from.
// Phase two applies the redirections left to right.
// On error, the descriptors saved so far are restored before returning.
func (r *Runner) applyRedirs(ctx context.Context, redirs []*syntax.Redirect) (*redirState, error) {
	if len(redirs) == 0 {
		return nil, nil
	}
	st := &redirState{}

	// Phase one: pre-save the unique target descriptors. A descriptor
	// already redirected by this same list is not saved twice; one
	// redirected by an enclosing list still is, so that the enclosing
	// state comes back once this list is restored.
	seen := make(map[int]bool, len(redirs))
	for _, rd := range redirs {
		fd, err := targetFd(rd)
		if err != nil {
			r.restoreRedirs(st)
			return nil, err
		}
		if seen[fd] {
			continue
		}
		seen[fd] = true
		cur := r.entryFor(fd)
		backup := *cur
		backup.flags = cur.flags | fdSaved | fdCloexec
		backup.origFd = fd
		backup.cl = cur.cl
		cur.cl = nil // ownership moves to the backup until restore
		bfd := r.fdtab.nextFree(10)
		r.fdtab[bfd] = &backup
		st.saved = append(st.saved, savedFd{backupFd: bfd, origFd: fd})
	}

	// phase two: apply left to right
	for _, rd := range redirs {
		if err := r.applyRedir(ctx, rd); err != nil {
			r.restoreRedirs(st)
			return nil, err
		}
	}
	return st, nil
}

func (r *Runner) applyRedir(ctx context.Context, rd *syntax.Redirect) error {
	fd, err := targetFd(rd)
	if err != nil {
		return err
	}
	switch rd.Op {
	case syntax.RdrIn, syntax.RdrOut, syntax.AppOut, syntax.ClbOut, syntax.RdrInOut:
		name, err := expand.Literal(r.ecfg, rd.Word)
		if err != nil {
			return err
		}
		mode := os.O_RDONLY
		switch rd.Op {
		case syntax.RdrOut, syntax.ClbOut:
			mode = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		case syntax.AppOut:
			mode = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		case syntax.RdrInOut:
			mode = os.O_RDWR | os.O_CREATE
		}
		if rd.Op == syntax.RdrOut && r.opts[optNoClobber] {
			if info, err := r.stat(name); err == nil && info.Mode().IsRegular() {
				return fmt.Errorf("%s: cannot overwrite existing file", name)
			}
		}
		f, err := r.open(ctx, name, mode, 0o644, true)
		if err != nil {
			return err
		}
		e := &fdEntry{open: true, r: f, w: f, f: asOSFile(f), cl: f, path: name}
		r.placeFd(fd, e)
	case syntax.DplIn, syntax.DplOut:
		arg, err := expand.Literal(r.ecfg, rd.Word)
		if err != nil {
			return err
		}
		if arg == "-" {
			r.closeFd(fd)
			return nil
		}
		move := strings.HasSuffix(arg, "-")
		src := strings.TrimSuffix(arg, "-")
		n, err := strconv.Atoi(src)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: ambiguous redirect", arg)
		}
		if move && n == fd {
			r.errf("%d>&%d-: moving a file descriptor onto itself\n", fd, n)
			return nil
		}
		srcEntry := r.entryFor(n)
		if !srcEntry.open {
			return fmt.Errorf("%d: bad file descriptor", n)
		}
		e := srcEntry.ref()
		if move {
			// ownership of the underlying resource moves along
			e.cl = srcEntry.cl
			srcEntry.cl = nil
		}
		r.placeFd(fd, e)
		if move {
			r.closeFd(n)
		}
	case syntax.Hdoc, syntax.DashHdoc:
		body, err := expand.Document(r.ecfg, rd.Hdoc)
		if err != nil {
			return err
		}
		e := &fdEntry{open: true, r: strings.NewReader(body)}
		r.placeFd(fd, e)
	default:
		panic(fmt.Sprintf("unhandled redirect op: %v", rd.Op))
	}
	return nil
}

// placeFd installs an entry at a descriptor, closing whatever unowned-by-a-
// backup resource was there, and marks it redirected.
func (r *Runner) placeFd(fd int, e *fdEntry) {
	if cur, ok := r.fdtab[fd]; ok && cur.cl != nil {
		cur.cl.Close()
	}
	e.flags |= fdRedirected
	r.fdtab[fd] = e
	r.syncStdio(fd, e)
}

func (r *Runner) closeFd(fd int) {
	if cur, ok := r.fdtab[fd]; ok && cur.cl != nil {
		cur.cl.Close()
	}
	e := &fdEntry{open: false}
	r.fdtab[fd] = e
	r.syncStdio(fd, e)
}

// restoreRedirs undoes one redirection list: every saved descriptor gets its
// backup back, the backup slot is released, and replacement resources are
// closed. Restoring twice is a no-op.
func (r *Runner) restoreRedirs(st *redirState) {
	if st == nil {
		return
	}
	saved := st.saved
	st.saved = nil
	for i := len(saved) - 1; i >= 0; i-- {
		s := saved[i]
		backup, ok := r.fdtab[s.backupFd]
		if !ok {
			r.errf("restore: lost backup for fd %d\n", s.origFd)
			continue
		}
		if cur, ok := r.fdtab[s.origFd]; ok && cur.cl != nil {
			cur.cl.Close()
		}
		delete(r.fdtab, s.backupFd)
		backup.flags &^= fdSaved | fdCloexec
		if !backup.open && backup.r == nil && backup.w == nil && s.origFd > 2 {
			delete(r.fdtab, s.origFd)
		} else {
			r.fdtab[s.origFd] = backup
		}
		r.syncStdio(s.origFd, backup)
	}
}

// commitRedirs makes a redirection list permanent, for the exec special
// builtin: the backups are discarded, closing the descriptors they held.
func (r *Runner) commitRedirs(st *redirState) {
	if st == nil {
		return
	}
	for _, s := range st.saved {
		if backup, ok := r.fdtab[s.backupFd]; ok {
			if backup.cl != nil {
				backup.cl.Close()
			}
			delete(r.fdtab, s.backupFd)
		}
	}
	st.saved = nil
}

func asOSFile(v io.ReadWriteCloser) *os.File {
	f, _ := v.(*os.File)
	return f
}

func (r *Runner) stat(name string) (os.FileInfo, error) {
	return os.Stat(r.absPath(name))
}
