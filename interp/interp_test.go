// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package interp_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"github.com/posh-shell/posh/expand"
	"github.com/posh-shell/posh/interp"
	"github.com/posh-shell/posh/syntax"
)

func parse(tb testing.TB, src string) *syntax.File {
	tb.Helper()
	file, err := syntax.NewParser().ParseString(src, "")
	if err != nil {
		tb.Fatal(err)
	}
	return file
}

// runScript runs src in a fresh runner rooted at dir, returning the standard
// output, the standard error, and Run's error.
func runScript(tb testing.TB, dir, src string, opts ...interp.RunnerOption) (string, string, error) {
	tb.Helper()
	var stdout, stderr bytes.Buffer
	opts = append([]interp.RunnerOption{
		interp.Dir(dir),
		interp.StdIO(strings.NewReader(""), &stdout, &stderr),
		interp.Env(expand.ListEnviron("PATH=/usr/bin:/bin", "HOME=/nonexistent")),
	}, opts...)
	r, err := interp.New(opts...)
	if err != nil {
		tb.Fatal(err)
	}
	runErr := r.Run(context.Background(), parse(tb, src))
	return stdout.String(), stderr.String(), runErr
}

// fileCases are scripts whose standard output must match exactly. They stick
// to builtins so that they run the same on any machine.
var fileCases = []struct {
	src  string
	want string
}{
	// basics
	{"echo", "\n"},
	{"echo foo", "foo\n"},
	{"echo foo bar", "foo bar\n"},
	{"echo -n foo", "foo"},
	{":", ""},
	{"true", ""},
	{"printf '%s\\n' text", "text\n"},
	{"printf '%d-%d\\n' 3 7", "3-7\n"},
	{"printf '%s' a b c", "abc"},
	{"printf 'a\\tb\\n'", "a\tb\n"},

	// variables and quoting
	{"x=val; echo $x", "val\n"},
	{"x=val; echo ${x}", "val\n"},
	{"x=val; echo \"$x\"", "val\n"},
	{"x='a  b'; printf '%s\\n' \"$x\"", "a  b\n"},
	{"x='a  b'; printf '%s\\n' $x", "a\nb\n"},
	{"echo 'single $x'", "single $x\n"},
	{"x=v; echo \"mix $x end\"", "mix v end\n"},
	{"echo \"IFS unaffected\"", "IFS unaffected\n"},
	{`echo a\ b`, "a b\n"},
	{"A=1 B=2; echo $A$B", "12\n"},
	{"x=outer; f() { x=inner; }; f; echo $x", "inner\n"},

	// prefix assignments are scoped to their command, except before a
	// special builtin
	{`A=1 B=2 printf '%s-%s\n' "$A" "$B"; echo ${A:-unset}`, "1-2\nunset\n"},
	{"A=1 :; echo ${A:-gone}", "1\n"},

	// parameter expansion operators
	{"echo ${unset:-default}", "default\n"},
	{"echo ${unset-default}", "default\n"},
	{"x=; echo ${x:-empty}", "empty\n"},
	{"x=; echo ${x-empty}", "\n"},
	{"x=set; echo ${x:+yes}", "yes\n"},
	{"echo ${unset:+yes}.", ".\n"},
	{"echo ${x:=assigned}; echo $x", "assigned\nassigned\n"},
	{"x=abc; echo ${#x}", "3\n"},
	{"set -- a b; echo ${#}", "2\n"},
	{"x=hello.tar.gz; echo ${x%.gz}", "hello.tar\n"},
	{"x=hello.tar.gz; echo ${x%%.*}", "hello\n"},
	{"x=hello.tar.gz; echo ${x#hello}", ".tar.gz\n"},
	{"x=hello.tar.gz; echo ${x##*.}", "gz\n"},

	// special parameters
	{"true; echo $?", "0\n"},
	{"false; echo $?", "1\n"},
	{"set -- a b c; echo $#", "3\n"},
	{"set -- a b c; echo $2", "b\n"},
	{"set -- a b c; shift; echo $1 $#", "b 2\n"},
	{"set -- a b c; echo \"$@\" | { read l; echo $l; }", "a b c\n"},
	{"echo one two; echo $_", "one two\ntwo\n"},

	// command lists and negation
	{"false && echo a || echo b", "b\n"},
	{"true && echo a || echo b", "a\n"},
	{"false || false || echo last", "last\n"},
	{"! false; echo $?", "0\n"},
	{"! true; echo $?", "1\n"},
	{"false; echo $?; true; echo $?", "1\n0\n"},

	// if clauses
	{"if true; then echo yes; fi", "yes\n"},
	{"if false; then echo yes; else echo no; fi", "no\n"},
	{"if false; then echo a; elif true; then echo b; else echo c; fi", "b\n"},
	{"if false; then echo a; elif false; then echo b; else echo c; fi", "c\n"},
	{"if false; then echo a; fi; echo $?", "0\n"},

	// loops
	{"for i in a b c; do printf %s \"$i\"; done; echo; echo $i", "abc\nc\n"},
	{"i=0; while [ $i -lt 3 ]; do echo $i; i=$((i+1)); done", "0\n1\n2\n"},
	{"i=0; until [ $i -ge 2 ]; do echo $i; i=$((i+1)); done", "0\n1\n"},
	{"for i in 1 2 3; do if [ $i = 2 ]; then break; fi; echo $i; done", "1\n"},
	{"for i in 1 2 3; do if [ $i = 2 ]; then continue; fi; echo $i; done", "1\n3\n"},
	{"for i in 1 2; do for j in a b; do if [ $j = b ]; then break 2; fi; echo $i$j; done; done", "1a\n"},
	{"set -- p q; for i; do echo $i; done", "p\nq\n"},

	// case clauses
	{"case foo in f*) echo match;; *) echo no;; esac", "match\n"},
	{"case foo in bar) echo a;; foo) echo b;; esac", "b\n"},
	{"case foo in 'f*') echo quoted;; f*) echo glob;; esac", "glob\n"},
	{"case x in a|x|b) echo alt;; esac", "alt\n"},
	{"case nope in a) echo a;; esac; echo $?", "0\n"},
	{"case ab in a?) echo q;; esac", "q\n"},
	{"case a in [ab]) echo set;; esac", "set\n"},

	// functions
	{"f() { echo fn; }; f", "fn\n"},
	{"f() { return 7; }; f; echo $?", "7\n"},
	{"f() { echo $1 $#; }; f x y", "x 2\n"},
	{"f() { echo $1; }; f a; echo ${1:-none}", "a\nnone\n"},
	{"f() { return 1; echo never; }; f; echo $?", "1\n"},
	{"f() ( x=sub ); x=top; f; echo $x", "top\n"},
	{"f() { g; }; g() { echo nested; }; f", "nested\n"},

	// grouping and subshells
	{"{ echo a; echo b; }", "a\nb\n"},
	{"{ x=5; }; echo $x", "5\n"},
	{"(x=5); echo ${x:-none}", "none\n"},
	{"(echo sub); echo $?", "sub\n0\n"},
	{"x=out; (x=in; echo $x); echo $x", "in\nout\n"},

	// command substitution
	{"echo $(echo nested)", "nested\n"},
	{"echo `echo bq`", "bq\n"},
	{"x=$(echo val); echo $x", "val\n"},
	{"echo \"got $(echo it)\"", "got it\n"},
	{"echo $(echo a; echo b)", "a b\n"},
	{"x=$(false); echo $?", "1\n"},
	{"echo pre$(printf foo)post", "prefoopost\n"},

	// arithmetic
	{"echo $((2+3))", "5\n"},
	{"echo $((2+3*4))", "14\n"},
	{"echo $(((2+3)*4))", "20\n"},
	{"echo $((10/3))", "3\n"},
	{"echo $((10%3))", "1\n"},
	{"echo $((1<2))", "1\n"},
	{"echo $((1>2))", "0\n"},
	{"echo $((1?20:30))", "20\n"},
	{"echo $((0x10))", "16\n"},
	{"x=5; echo $((x*2))", "10\n"},
	{"x=5; echo $(($x+1))", "6\n"},
	{"echo $((x_unset+1))", "1\n"},
	{"x=1; echo $((x+=2)); echo $x", "3\n3\n"},
	{"echo $((1 && 0))", "0\n"},
	{"echo $((1 || 0))", "1\n"},
	{"echo $((!0))", "1\n"},

	// field splitting
	{"IFS=:; x=a:b:c; for f in $x; do echo $f; done", "a\nb\nc\n"},
	{"IFS=:; x=a:b; echo \"$x\"", "a:b\n"},

	// pipelines of builtins
	{"echo foo | { read x; echo got $x; }", "got foo\n"},
	{"printf 'a\\nb\\n' | while read l; do echo [$l]; done", "[a]\n[b]\n"},
	{"echo start | read x; echo $x", "start\n"},
	{"true | false | true; echo $?", "0\n"},
	{"set -o pipefail; true | false | true; echo $?", "1\n"},
	{"false | true; echo $?", "0\n"},

	// here-documents
	{"read x <<EOF\nhello world\nEOF\necho $x", "hello world\n"},
	{"x=sub; read y <<EOF\nval: $x\nEOF\necho \"$y\"", "val: sub\n"},
	{"read x <<'EOF'\n$HOME stays\nEOF\necho \"$x\"", "$HOME stays\n"},
	{"read x <<-EOF\n\tstripped\nEOF\necho $x", "stripped\n"},

	// eval and dot-free special builtins
	{"eval 'echo evaled'", "evaled\n"},
	{"eval 'x=5'; echo $x", "5\n"},
	{"x=a; eval \"echo \\$x\"", "a\n"},

	// aliases
	{"alias e='echo'; e hi", "hi\n"},
	{"alias say='echo said'; say it", "said it\n"},
	{"alias x='y z'; alias x", "alias x=\"y z\"\n"},
	{"alias e='echo'; unalias e; alias", ""},

	// export and environment behavior visible via expansion
	{"export FOO=bar; echo $FOO", "bar\n"},
	{"readonly RC=1; echo $RC", "1\n"},

	// test builtin
	{"test abc && echo t", "t\n"},
	{"test '' || echo f", "f\n"},
	{"[ 3 -gt 2 ] && echo gt", "gt\n"},
	{"[ a = a -a b = b ] && echo both", "both\n"},
	{"[ a = b -o b = b ] && echo either", "either\n"},
	{"[ ! a = b ] && echo ne", "ne\n"},
	{"test -n x && test -z '' && echo nz", "nz\n"},

	// misc builtins
	{"basename /a/b/c.txt", "c.txt\n"},
	{"basename /a/b/c.txt .txt", "c\n"},
	{"dirname /a/b/c.txt", "/a/b\n"},
	{"type echo", "echo is a shell builtin\n"},
	{"type exit", "exit is a shell builtin\n"},
	{"type if", "if is a shell keyword\n"},

	// traps
	{"trap 'echo bye' EXIT; echo hi", "hi\nbye\n"},
	{"trap 'echo bye' EXIT; trap - EXIT; echo hi", "hi\n"},

	// noglob leaves patterns alone even with no matching files
	{"set -f; echo *.doesnotexist", "*.doesnotexist\n"},
	{"echo *.doesnotexist", "*.doesnotexist\n"},

	// empty expansions
	{"x=; $x; echo $?", "0\n"},
	{"unsetvar=; echo ${unsetvar}end", "end\n"},
}

func TestRunnerFileCases(t *testing.T) {
	t.Parallel()
	for _, tc := range fileCases {
		t.Run("", func(t *testing.T) {
			out, _, err := runScript(t, t.TempDir(), tc.src)
			if err != nil {
				t.Fatalf("%q: unexpected error %v", tc.src, err)
			}
			if out != tc.want {
				t.Fatalf("%q:\nwant %q\ngot  %q", tc.src, tc.want, out)
			}
		})
	}
}

func TestRedirections(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cases := []struct {
		src  string
		want string
	}{
		{"echo foo > x; read l < x; echo $l", "foo\n"},
		{"echo one > x; echo two > x; read l < x; echo $l", "two\n"},
		{"echo one > x; echo two >> x; { read a; read b; } < x; echo $a $b", "one two\n"},
		{"echo foo > x; echo after", "after\n"},
		{"echo out 2>errs; read l < errs || echo empty-errs", "out\nempty-errs\n"},
		{"{ echo o; echo e >&2; } 2>/dev/null", "o\n"},
		{"echo dup 2>&1", "dup\n"},
		{"{ echo a > inner; echo b; } > outer; read l < outer; echo $l; read l < inner; echo $l", "b\na\n"},
	}
	for _, tc := range cases {
		out, _, err := runScript(t, dir, tc.src)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.src, err)
		}
		if out != tc.want {
			t.Fatalf("%q:\nwant %q\ngot  %q", tc.src, tc.want, out)
		}
	}
}

func TestNoClobber(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := "echo first > f; set -C; echo second > f; echo status $?; echo forced >| f; read l < f; echo $l"
	out, stderr, err := runScript(t, dir, src)
	if err != nil {
		t.Fatalf("unexpected error %v (stderr: %s)", err, stderr)
	}
	want := "status 1\nforced\n"
	if out != want {
		t.Fatalf("want %q, got %q", want, out)
	}
	if !strings.Contains(stderr, "cannot overwrite existing file") {
		t.Fatalf("missing noclobber diagnostic, got %q", stderr)
	}
}

func TestExitStatusPropagation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		src    string
		status uint8
		stdout string
	}{
		{"exit 3", 3, ""},
		{"echo a; exit 3; echo b", 3, "a\n"},
		{"set -e; false; echo never", 1, ""},
		{"exit 260", 4, ""},
		{"false", 1, ""},
	}
	for _, tc := range cases {
		out, _, err := runScript(t, t.TempDir(), tc.src)
		if out != tc.stdout {
			t.Fatalf("%q: want stdout %q, got %q", tc.src, tc.stdout, out)
		}
		status, _ := interp.IsExitStatus(err)
		if status != tc.status {
			t.Fatalf("%q: want status %d, got %d (err %v)", tc.src, tc.status, status, err)
		}
	}
}

func TestErrExitExceptions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		src  string
		want string
	}{
		// conditions and tested commands do not trigger errexit
		{"set -e; if false; then echo a; fi; echo ok", "ok\n"},
		{"set -e; while false; do echo a; done; echo ok", "ok\n"},
		{"set -e; false || echo rescued; echo ok", "rescued\nok\n"},
		{"set -e; ! true; echo ok", "ok\n"},
	}
	for _, tc := range cases {
		out, _, err := runScript(t, t.TempDir(), tc.src)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.src, err)
		}
		if out != tc.want {
			t.Fatalf("%q: want %q, got %q", tc.src, tc.want, out)
		}
	}
}

func TestNoUnset(t *testing.T) {
	t.Parallel()
	out, stderr, err := runScript(t, t.TempDir(), "set -u; echo $doesnotexist; echo never")
	if err == nil {
		t.Fatal("want an error from set -u")
	}
	if out != "" {
		t.Fatalf("want empty stdout, got %q", out)
	}
	if !strings.Contains(stderr, "parameter not set") {
		t.Fatalf("missing diagnostic, got %q", stderr)
	}
	// with a default, the same expansion succeeds
	out, _, err = runScript(t, t.TempDir(), "set -u; echo ${doesnotexist:-x}")
	if err != nil || out != "x\n" {
		t.Fatalf("want x, got %q (%v)", out, err)
	}
}

func TestKeywordInCommandPosition(t *testing.T) {
	t.Parallel()
	// a keyword produced by expansion is a syntax error with status 2
	out, stderr, err := runScript(t, t.TempDir(), "x=then; $x; echo $?")
	if err != nil {
		t.Fatalf("unexpected fatal error %v", err)
	}
	if out != "2\n" {
		t.Fatalf("want status 2, got %q (stderr %q)", out, stderr)
	}
}

func TestGlobExpansion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := `: > b.go
: > a.go
: > c.txt
: > .hidden.go
echo *.go
echo "*.go"
echo ?.txt
set -f
echo *.go`
	out, _, err := runScript(t, dir, src)
	if err != nil {
		t.Fatal(err)
	}
	want := "a.go b.go\n*.go\nc.txt\n*.go\n"
	if out != want {
		t.Fatalf("want %q, got %q", want, out)
	}
}

func TestTildeExpansion(t *testing.T) {
	t.Parallel()
	out, _, err := runScript(t, t.TempDir(), "echo ~/sub",
		interp.Env(expand.ListEnviron("HOME=/home/who")))
	if err != nil {
		t.Fatal(err)
	}
	if out != "/home/who/sub\n" {
		t.Fatalf("got %q", out)
	}
}

func TestBackgroundJobs(t *testing.T) {
	t.Parallel()
	src := "echo bg > /dev/null & echo id=$!; wait $!; echo st=$?"
	out, _, err := runScript(t, t.TempDir(), src)
	if err != nil {
		t.Fatal(err)
	}
	if out != "id=1\nst=0\n" {
		t.Fatalf("got %q", out)
	}
}

func TestSourceBuiltin(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := `printf 'echo sourced $1\nsvar=fromlib\nreturn 3\necho never\n' > lib.sh
. ./lib.sh arg1
echo status=$?
echo svar=$svar`
	out, _, err := runScript(t, dir, src)
	if err != nil {
		t.Fatal(err)
	}
	want := "sourced arg1\nstatus=3\nsvar=fromlib\n"
	if out != want {
		t.Fatalf("want %q, got %q", want, out)
	}
}

// TestExternalCommands exercises fork/exec paths using a handful of programs
// that any POSIX machine carries.
func TestExternalCommands(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX userland")
	}
	for _, prog := range []string{"cat", "wc", "sh"} {
		if _, err := exec.LookPath(prog); err != nil {
			t.Skipf("%s not found in $PATH", prog)
		}
	}
	dir := t.TempDir()
	realPath := interp.Env(expand.ListEnviron("PATH=" + os.Getenv("PATH")))
	cases := []struct {
		src  string
		want string
	}{
		{"echo foo > x; cat x", "foo\n"},
		{"printf 'x\\ny\\nz\\n' | wc -l | { read n; echo $n; }", "3\n"},
		{"echo hi | cat | cat", "hi\n"},
		{"cat <<'END'\n$HOME\nEND", "$HOME\n"},
		{"sh -c 'exit 5'; echo $?", "5\n"},
		{"FOO=bar sh -c 'echo $FOO'", "bar\n"},
	}
	for _, tc := range cases {
		out, stderr, err := runScript(t, dir, tc.src, realPath)
		if err != nil {
			t.Fatalf("%q: %v (stderr %q)", tc.src, err, stderr)
		}
		if out != tc.want {
			t.Fatalf("%q:\nwant %q\ngot  %q", tc.src, tc.want, out)
		}
	}
}

func TestCommandNotFound(t *testing.T) {
	t.Parallel()
	out, stderr, err := runScript(t, t.TempDir(), "definitely-not-a-command-xyz; echo $?")
	if err != nil {
		t.Fatal(err)
	}
	if out != "127\n" {
		t.Fatalf("want 127, got %q", out)
	}
	if stderr == "" {
		t.Fatal("want a diagnostic on stderr")
	}
}

func TestNotExecutable(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permission bits work differently")
	}
	dir := t.TempDir()
	src := ": > prog; ./prog; echo $?"
	out, _, err := runScript(t, dir, src)
	if err != nil {
		t.Fatal(err)
	}
	if out != "126\n" {
		t.Fatalf("want 126, got %q", out)
	}
}

func TestSubshellIsolation(t *testing.T) {
	t.Parallel()
	src := `x=1
f() { echo infunc; }
(x=2; f() { echo replaced; }; echo $x)
echo $x
f`
	out, _, err := runScript(t, t.TempDir(), src)
	if err != nil {
		t.Fatal(err)
	}
	want := "2\n1\ninfunc\n"
	if out != want {
		t.Fatalf("want %q, got %q", want, out)
	}
}
