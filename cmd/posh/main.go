// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

// posh is a POSIX shell built on top of the interp execution engine.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/posh-shell/posh/interp"
	"github.com/posh-shell/posh/syntax"
)

var (
	command     = flag.StringP("command", "c", "", "run the given command string")
	interactive = flag.BoolP("interactive", "i", false, "force interactive mode")
	login       = flag.BoolP("login", "l", false, "behave as a login shell")
	longOpts    = flag.StringArrayP("option", "o", nil, "set a long-form shell option")

	allExport = flag.BoolP("allexport", "a", false, "export all assigned variables")
	errExit   = flag.BoolP("errexit", "e", false, "exit on an untested command failure")
	noClobber = flag.BoolP("noclobber", "C", false, "do not overwrite files with >")
	noExec    = flag.BoolP("noexec", "n", false, "read commands without executing them")
	noGlob    = flag.BoolP("noglob", "f", false, "disable pathname expansion")
	noUnset   = flag.BoolP("nounset", "u", false, "treat unset variables as an error")
	verbose   = flag.BoolP("verbose", "v", false, "print input lines as they are read")
	xtrace    = flag.BoolP("xtrace", "x", false, "print commands before running them")
)

func main() { os.Exit(main1()) }

func main1() int {
	// a shell must stop flag parsing at the first operand, so that
	// "posh script.sh -x" passes -x through to the script
	flag.CommandLine.SetInterspersed(false)
	flag.Parse()
	err := runAll()
	if status, ok := interp.IsExitStatus(err); ok {
		return int(status)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// setParams translates the parsed flags into the engine's set-style options.
func setParams() []string {
	var params []string
	for _, o := range []struct {
		on   bool
		flag string
	}{
		{*allExport, "-a"},
		{*errExit, "-e"},
		{*noClobber, "-C"},
		{*noExec, "-n"},
		{*noGlob, "-f"},
		{*noUnset, "-u"},
		{*verbose, "-v"},
		{*xtrace, "-x"},
	} {
		if o.on {
			params = append(params, o.flag)
		}
	}
	for _, name := range *longOpts {
		params = append(params, "-o", name)
	}
	return params
}

func runAll() error {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	args := flag.Args()
	isTerm := term.IsTerminal(int(os.Stdin.Fd()))
	interactiveRun := *interactive || (*command == "" && len(args) == 0 && isTerm)

	opts := []interp.RunnerOption{
		interp.StdIO(os.Stdin, os.Stdout, os.Stderr),
		interp.Interactive(interactiveRun),
		interp.Login(*login),
	}
	if p := setParams(); len(p) != 0 {
		opts = append(opts, interp.Params(p...))
	}
	r, err := interp.New(opts...)
	if err != nil {
		return err
	}

	if *command != "" {
		// after -c, the first operand names the shell and the rest
		// become the positional parameters
		if len(args) > 0 {
			interp.ShellName(args[0])(r)
			interp.Params(append([]string{"--"}, args[1:]...)...)(r)
		}
		return run(ctx, r, strings.NewReader(*command), "")
	}
	if len(args) == 0 {
		if interactiveRun {
			return runInteractive(ctx, r, os.Stdin, os.Stdout, os.Stderr)
		}
		return run(ctx, r, os.Stdin, "")
	}
	if len(args) > 1 {
		interp.Params(append([]string{"--"}, args[1:]...)...)(r)
	}
	return runPath(ctx, r, args[0])
}

func run(ctx context.Context, r *interp.Runner, reader io.Reader, name string) error {
	if *verbose {
		reader = io.TeeReader(reader, os.Stderr)
	}
	prog, err := syntax.NewParser().Parse(reader, name)
	if err != nil {
		return err
	}
	return r.Run(ctx, prog)
}

func runPath(ctx context.Context, r *interp.Runner, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return run(ctx, r, f, path)
}

func prompt(r *interp.Runner, name, fallback string) string {
	// PS1 and PS2 are plain strings here; prompt escapes are out of scope
	if ps := os.Getenv(name); ps != "" {
		return ps
	}
	return fallback
}

func runInteractive(ctx context.Context, r *interp.Runner, stdin io.Reader, stdout, stderr io.Writer) error {
	parser := syntax.NewParser()
	scanner := bufio.NewScanner(stdin)
	var buf strings.Builder
	fmt.Fprint(stdout, prompt(r, "PS1", "$ "))
	for scanner.Scan() {
		line := scanner.Text()
		if *verbose {
			fmt.Fprintln(stderr, line)
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
		prog, err := parser.ParseString(buf.String(), "")
		if err != nil {
			if syntax.IsIncomplete(err) {
				fmt.Fprint(stdout, prompt(r, "PS2", "> "))
				continue
			}
			fmt.Fprintln(stderr, err)
			buf.Reset()
			fmt.Fprint(stdout, prompt(r, "PS1", "$ "))
			continue
		}
		buf.Reset()
		// run statement by statement so that the EXIT trap only fires
		// when the session actually ends
		for _, stmt := range prog.Stmts {
			err := r.Run(ctx, stmt)
			if r.Exited() {
				return err
			}
		}
		fmt.Fprint(stdout, prompt(r, "PS1", "$ "))
	}
	return scanner.Err()
}
