// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package interp

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/term"
)

// evalTest implements the test and [ builtins: a small recursive-descent
// evaluator over the argument list, supporting !, parentheses, the unary
// file and string operators, binary comparisons, and -a/-o chaining.
func (r *Runner) evalTest(args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	p := &testParser{r: r, args: args}
	v, err := p.orExpr()
	if err != nil {
		return false, err
	}
	if len(p.args) > 0 {
		return false, fmt.Errorf("unexpected argument %q", p.args[0])
	}
	return v, nil
}

type testParser struct {
	r    *Runner
	args []string
}

func (p *testParser) peek() (string, bool) {
	if len(p.args) == 0 {
		return "", false
	}
	return p.args[0], true
}

func (p *testParser) next() (string, error) {
	if len(p.args) == 0 {
		return "", fmt.Errorf("argument expected")
	}
	arg := p.args[0]
	p.args = p.args[1:]
	return arg, nil
}

func (p *testParser) got(s string) bool {
	if len(p.args) > 0 && p.args[0] == s {
		p.args = p.args[1:]
		return true
	}
	return false
}

func (p *testParser) orExpr() (bool, error) {
	v, err := p.andExpr()
	if err != nil {
		return false, err
	}
	for p.got("-o") {
		v2, err := p.andExpr()
		if err != nil {
			return false, err
		}
		v = v || v2
	}
	return v, nil
}

func (p *testParser) andExpr() (bool, error) {
	v, err := p.notExpr()
	if err != nil {
		return false, err
	}
	for p.got("-a") {
		v2, err := p.notExpr()
		if err != nil {
			return false, err
		}
		v = v && v2
	}
	return v, nil
}

func (p *testParser) notExpr() (bool, error) {
	if arg, ok := p.peek(); ok && arg == "!" && len(p.args) > 1 {
		p.args = p.args[1:]
		v, err := p.notExpr()
		return !v, err
	}
	return p.primary()
}

func (p *testParser) primary() (bool, error) {
	arg, err := p.next()
	if err != nil {
		return false, err
	}
	if arg == "(" {
		v, err := p.orExpr()
		if err != nil {
			return false, err
		}
		if !p.got(")") {
			return false, fmt.Errorf("missing closing )")
		}
		return v, nil
	}
	if isUnaryTest(arg) {
		operand, err := p.next()
		if err != nil {
			return false, err
		}
		return p.r.unaryTest(arg, operand), nil
	}
	// binary operator, or a lone non-empty string
	if op, ok := p.peek(); ok && isBinaryTest(op) {
		p.args = p.args[1:]
		operand, err := p.next()
		if err != nil {
			return false, err
		}
		return binaryTest(op, arg, operand)
	}
	return arg != "", nil
}

func isUnaryTest(op string) bool {
	switch op {
	case "-n", "-z", "-e", "-f", "-d", "-r", "-w", "-x", "-s", "-L", "-h", "-p", "-t":
		return true
	}
	return false
}

func isBinaryTest(op string) bool {
	switch op {
	case "=", "!=", "-eq", "-ne", "-gt", "-ge", "-lt", "-le":
		return true
	}
	return false
}

func (r *Runner) unaryTest(op, x string) bool {
	switch op {
	case "-n":
		return x != ""
	case "-z":
		return x == ""
	case "-t":
		fd, err := strconv.Atoi(x)
		if err != nil {
			return false
		}
		f := stdioFile(r.entryFor(fd).rw())
		return f != nil && term.IsTerminal(int(f.Fd()))
	}
	path := r.absPath(x)
	var info os.FileInfo
	var err error
	if op == "-L" || op == "-h" {
		info, err = os.Lstat(path)
	} else {
		info, err = os.Stat(path)
	}
	if err != nil {
		return false
	}
	switch op {
	case "-e":
		return true
	case "-f":
		return info.Mode().IsRegular()
	case "-d":
		return info.IsDir()
	case "-s":
		return info.Size() > 0
	case "-L", "-h":
		return info.Mode()&os.ModeSymlink != 0
	case "-p":
		return info.Mode()&os.ModeNamedPipe != 0
	case "-r":
		return access(path, accessRead) == nil
	case "-w":
		return access(path, accessWrite) == nil
	case "-x":
		return access(path, accessExec) == nil
	}
	return false
}

// rw returns whichever stream an entry carries, for terminal detection.
func (e *fdEntry) rw() any {
	if e.r != nil {
		return e.r
	}
	return e.w
}

func binaryTest(op, x, y string) (bool, error) {
	switch op {
	case "=":
		return x == y, nil
	case "!=":
		return x != y, nil
	}
	a, err := strconv.ParseInt(x, 10, 64)
	if err != nil {
		return false, fmt.Errorf("integer expression expected: %q", x)
	}
	b, err := strconv.ParseInt(y, 10, 64)
	if err != nil {
		return false, fmt.Errorf("integer expression expected: %q", y)
	}
	switch op {
	case "-eq":
		return a == b, nil
	case "-ne":
		return a != b, nil
	case "-gt":
		return a > b, nil
	case "-ge":
		return a >= b, nil
	case "-lt":
		return a < b, nil
	case "-le":
		return a <= b, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}
