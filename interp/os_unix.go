// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

//go:build unix

package interp

import (
	"context"
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

type waitStatus = syscall.WaitStatus

const (
	accessRead  = unix.R_OK
	accessWrite = unix.W_OK
	accessExec  = unix.X_OK
)

// access checks real-user permissions the way test -r/-w/-x must, which the
// permission bits from os.Stat alone cannot answer.
func access(path string, mode uint32) error {
	return unix.Access(path, mode)
}

func readUmask() int {
	m := unix.Umask(0)
	unix.Umask(m)
	return m
}

func setUmask(mask int) {
	unix.Umask(mask)
}

// cpuTimes returns the user and system CPU seconds consumed by the shell
// itself and by its terminated children, for the times special builtin.
func cpuTimes() (self, children [2]float64, err error) {
	var ru unix.Rusage
	if err = unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return
	}
	self[0] = timevalSec(ru.Utime)
	self[1] = timevalSec(ru.Stime)
	if err = unix.Getrusage(unix.RUSAGE_CHILDREN, &ru); err != nil {
		return
	}
	children[0] = timevalSec(ru.Utime)
	children[1] = timevalSec(ru.Stime)
	return
}

func timevalSec(tv unix.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}

// execReplace implements "exec cmd args...": the shell process is replaced
// by the program, inheriting the current environment and redirections. On
// failure the shell exits with 127 (not found) or 126 (not executable),
// unless it is interactive.
func (r *Runner) execReplace(ctx context.Context, args []string) {
	path, err := LookPathDir(r.Dir, expandEnv{r}, args[0])
	if err != nil {
		r.errf("exec: %v\n", err)
		r.exit = 127
		if errors.Is(err, ErrNotExecutable) {
			r.exit = 126
		}
		if !r.interactive {
			r.exitShell = true
		}
		return
	}
	if err := syscall.Exec(path, args, execEnv(expandEnv{r})); err != nil {
		r.errf("exec: %s: %v\n", path, err)
		r.exit = 126
		if !r.interactive {
			r.exitShell = true
		}
	}
}
