// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package syntax

import (
	"strings"
	"testing"
)

func parseFile(t *testing.T, src string) *File {
	t.Helper()
	f, err := NewParser().ParseString(src, "")
	if err != nil {
		t.Fatalf("%q: %v", src, err)
	}
	return f
}

func firstCmd(t *testing.T, src string) Command {
	t.Helper()
	f := parseFile(t, src)
	if len(f.Stmts) == 0 {
		t.Fatalf("%q: no statements", src)
	}
	return f.Stmts[0].Cmd
}

func TestSimpleCommand(t *testing.T) {
	sc, ok := firstCmd(t, "echo foo bar").(*SimpleCommand)
	if !ok {
		t.Fatal("want a SimpleCommand")
	}
	if len(sc.Args) != 3 {
		t.Fatalf("want 3 args, got %d", len(sc.Args))
	}
	if sc.Args[0].Lit() != "echo" || sc.Args[2].Lit() != "bar" {
		t.Fatalf("bad args: %v", sc.Args)
	}
}

func TestAssignments(t *testing.T) {
	sc := firstCmd(t, "A=1 B= C=x$y cmd").(*SimpleCommand)
	if len(sc.Assigns) != 3 {
		t.Fatalf("want 3 assigns, got %d", len(sc.Assigns))
	}
	if sc.Assigns[0].Name.Value != "A" || sc.Assigns[0].Value.Lit() != "1" {
		t.Fatalf("bad first assign")
	}
	if sc.Assigns[1].Value != nil {
		t.Fatal("B= must have a nil value")
	}
	if len(sc.Assigns[2].Value.Parts) != 2 {
		t.Fatal("C=x$y must keep two parts")
	}
	if len(sc.Args) != 1 {
		t.Fatalf("want 1 arg, got %d", len(sc.Args))
	}

	// after the command name, name=value words are plain arguments
	sc = firstCmd(t, "cmd A=1").(*SimpleCommand)
	if len(sc.Assigns) != 0 || len(sc.Args) != 2 {
		t.Fatal("A=1 after the name must be an argument")
	}
}

func TestPipelineAndLists(t *testing.T) {
	f := parseFile(t, "a | b | c && d || e; f &")
	if len(f.Stmts) != 2 {
		t.Fatalf("want 2 statements, got %d", len(f.Stmts))
	}
	or, ok := f.Stmts[0].Cmd.(*BinaryCmd)
	if !ok || or.Op != OrStmt {
		t.Fatalf("want || at the top, got %#v", f.Stmts[0].Cmd)
	}
	and, ok := or.X.Cmd.(*BinaryCmd)
	if !ok || and.Op != AndStmt {
		t.Fatal("want && on the left of ||")
	}
	pipe, ok := and.X.Cmd.(*Pipeline)
	if !ok || len(pipe.Stmts) != 3 {
		t.Fatal("want a 3-command pipeline on the left of &&")
	}
	if !f.Stmts[1].Background {
		t.Fatal("f must be backgrounded")
	}
}

func TestNegation(t *testing.T) {
	f := parseFile(t, "! false")
	if !f.Stmts[0].Negated {
		t.Fatal("statement must be negated")
	}
	f = parseFile(t, "! a | b")
	if !f.Stmts[0].Negated {
		t.Fatal("pipeline must be negated")
	}
	if _, ok := f.Stmts[0].Cmd.(*Pipeline); !ok {
		t.Fatal("want a pipeline")
	}
}

func TestCompoundCommands(t *testing.T) {
	if _, ok := firstCmd(t, "if a; then b; fi").(*IfClause); !ok {
		t.Fatal("want IfClause")
	}
	ic := firstCmd(t, "if a; then b; elif c; then d; else e; fi").(*IfClause)
	elif, ok := ic.Else.(*IfClause)
	if !ok {
		t.Fatal("elif must nest as an IfClause")
	}
	if _, ok := elif.Else.(*Block); !ok {
		t.Fatal("else must be a Block")
	}
	wc := firstCmd(t, "until a; do b; done").(*WhileClause)
	if !wc.Until {
		t.Fatal("until flag missing")
	}
	fc := firstCmd(t, "for i in a b; do c; done").(*ForClause)
	if fc.Name.Value != "i" || !fc.HasIn || len(fc.Items) != 2 {
		t.Fatalf("bad for clause: %+v", fc)
	}
	fc = firstCmd(t, "for i; do c; done").(*ForClause)
	if fc.HasIn {
		t.Fatal("for without in must iterate the positional parameters")
	}
	cc := firstCmd(t, "case w in a|b) x;; (c) y;; esac").(*CaseClause)
	if len(cc.Items) != 2 || len(cc.Items[0].Patterns) != 2 {
		t.Fatalf("bad case clause: %+v", cc)
	}
	if _, ok := firstCmd(t, "(a; b)").(*Subshell); !ok {
		t.Fatal("want Subshell")
	}
	if _, ok := firstCmd(t, "{ a; b; }").(*Block); !ok {
		t.Fatal("want Block")
	}
}

func TestFuncDecl(t *testing.T) {
	fd, ok := firstCmd(t, "f() { echo x; }").(*FuncDecl)
	if !ok {
		t.Fatal("want FuncDecl")
	}
	if fd.Name.Value != "f" {
		t.Fatalf("bad name %q", fd.Name.Value)
	}
	if _, ok := fd.Body.Cmd.(*Block); !ok {
		t.Fatal("body must be the block")
	}
	fd = firstCmd(t, "g() ( echo sub ) > log").(*FuncDecl)
	if len(fd.Body.Redirs) != 1 {
		t.Fatal("definition redirections must attach to the body")
	}
}

func TestRedirects(t *testing.T) {
	f := parseFile(t, "cmd < in > out 2>> err 3<&1 4>&- <> both")
	rds := f.Stmts[0].Redirs
	wantOps := []RedirOperator{RdrIn, RdrOut, AppOut, DplIn, DplOut, RdrInOut}
	if len(rds) != len(wantOps) {
		t.Fatalf("want %d redirects, got %d", len(wantOps), len(rds))
	}
	for i, op := range wantOps {
		if rds[i].Op != op {
			t.Fatalf("redirect %d: want %v, got %v", i, op, rds[i].Op)
		}
	}
	if rds[2].N == nil || rds[2].N.Value != "2" {
		t.Fatal("2>> must carry io number 2")
	}
	if rds[3].N.Value != "3" || rds[3].Word.Lit() != "1" {
		t.Fatal("3<&1 malformed")
	}
	if rds[4].Word.Lit() != "-" {
		t.Fatal("4>&- must target -")
	}
}

func TestHeredoc(t *testing.T) {
	f := parseFile(t, "cmd <<EOF\nline $x\nEOF\n")
	rd := f.Stmts[0].Redirs[0]
	if rd.Op != Hdoc || rd.Hdoc == nil {
		t.Fatal("here-doc body missing")
	}
	// the unquoted delimiter keeps the expansion live
	foundParam := false
	for _, part := range rd.Hdoc.Parts {
		if _, ok := part.(*ParamExp); ok {
			foundParam = true
		}
	}
	if !foundParam {
		t.Fatal("$x must remain a parameter expansion")
	}

	f = parseFile(t, "cmd <<'EOF'\nline $x\nEOF\n")
	rd = f.Stmts[0].Redirs[0]
	if len(rd.Hdoc.Parts) != 1 {
		t.Fatal("quoted here-doc must be one literal part")
	}
	if q, ok := rd.Hdoc.Parts[0].(*SglQuoted); !ok || q.Value != "line $x\n" {
		t.Fatalf("bad quoted body: %#v", rd.Hdoc.Parts[0])
	}

	f = parseFile(t, "cmd <<-EOF\n\tindented\n\tEOF\n")
	rd = f.Stmts[0].Redirs[0]
	if q, ok := rd.Hdoc.Parts[0].(*SglQuoted); !ok || q.Value != "indented\n" {
		t.Fatalf("tab stripping failed: %#v", rd.Hdoc.Parts[0])
	}
}

func TestWordParts(t *testing.T) {
	w, err := NewParser().ParseWord(`pre'sq'"dq $v"$p$(c)` + "`b`" + `$((1+2))`)
	if err != nil {
		t.Fatal(err)
	}
	kinds := []string{}
	for _, part := range w.Parts {
		switch part.(type) {
		case *Lit:
			kinds = append(kinds, "lit")
		case *SglQuoted:
			kinds = append(kinds, "sgl")
		case *DblQuoted:
			kinds = append(kinds, "dbl")
		case *ParamExp:
			kinds = append(kinds, "param")
		case *CmdSubst:
			kinds = append(kinds, "cmd")
		case *ArithmExp:
			kinds = append(kinds, "arith")
		}
	}
	want := []string{"lit", "sgl", "dbl", "param", "cmd", "cmd", "arith"}
	if strings.Join(kinds, " ") != strings.Join(want, " ") {
		t.Fatalf("want %v, got %v", want, kinds)
	}
}

func TestParamExpOperators(t *testing.T) {
	cases := []struct {
		src string
		op  ParExpOperator
	}{
		{"${a:-b}", SubstColMinus},
		{"${a-b}", SubstMinus},
		{"${a:=b}", SubstColAssgn},
		{"${a:?b}", SubstColQuest},
		{"${a:+b}", SubstColPlus},
		{"${a#b}", RemSmallPrefix},
		{"${a##b}", RemLargePrefix},
		{"${a%b}", RemSmallSuffix},
		{"${a%%b}", RemLargeSuffix},
	}
	for _, tc := range cases {
		w, err := NewParser().ParseWord(tc.src)
		if err != nil {
			t.Fatalf("%q: %v", tc.src, err)
		}
		pe := w.Parts[0].(*ParamExp)
		if pe.Exp == nil || pe.Exp.Op != tc.op {
			t.Fatalf("%q: want op %v, got %+v", tc.src, tc.op, pe.Exp)
		}
	}
	w, _ := NewParser().ParseWord("${#name}")
	if pe := w.Parts[0].(*ParamExp); !pe.Length || pe.Param.Value != "name" {
		t.Fatal("${#name} must set Length")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"if true; then echo",
		"while x; do y",
		"case a in b) c;;",
		"'unclosed",
		`"unclosed`,
		"$(unclosed",
		"cmd <<EOF\nbody",
		"for 1bad in x; do y; done",
		"cmd |",
		")",
	}
	for _, src := range cases {
		if _, err := NewParser().ParseString(src, ""); err == nil {
			t.Fatalf("%q: want a parse error", src)
		}
	}
}

func TestIsIncomplete(t *testing.T) {
	_, err := NewParser().ParseString("while true; do", "")
	if !IsIncomplete(err) {
		t.Fatalf("want an incomplete error, got %v", err)
	}
	_, err = NewParser().ParseString(")", "")
	if IsIncomplete(err) {
		t.Fatal("a stray ) is malformed, not incomplete")
	}
}
