// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package syntax

import (
	"fmt"
	"io"
	"strings"
)

// ParseError represents an error found when parsing shell source, with its
// position within the source.
type ParseError struct {
	Filename string
	Pos      Pos
	Text     string

	// Incomplete is true when the error was caused by the source ending
	// too early, such as an unclosed quote or a missing "done". An
	// interactive front-end can use it to keep reading lines.
	Incomplete bool
}

func (e ParseError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("%s: %s", e.Pos, e.Text)
	}
	return fmt.Sprintf("%s:%s: %s", e.Filename, e.Pos, e.Text)
}

// IsIncomplete reports whether a parse error means the source was cut short,
// as opposed to being malformed.
func IsIncomplete(err error) bool {
	pe, ok := err.(ParseError)
	return ok && pe.Incomplete
}

// Parser parses shell source into the AST consumed by the execution engine.
// A parser can be reused; it holds no state between Parse calls.
type Parser struct {
	lex  *lexer
	name string
}

// NewParser constructs a Parser.
func NewParser() *Parser { return &Parser{} }

// Parse reads and parses an entire shell program.
func (p *Parser) Parse(r io.Reader, name string) (f *File, err error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return p.parseBytes(src, name)
}

// ParseString is a convenience wrapper around Parse.
func (p *Parser) ParseString(src, name string) (*File, error) {
	return p.parseBytes([]byte(src), name)
}

func (p *Parser) parseBytes(src []byte, name string) (f *File, err error) {
	p.lex = newLexer(src)
	p.name = name
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(ParseError)
			if !ok {
				panic(r)
			}
			pe.Filename = name
			f, err = nil, pe
		}
	}()
	p.next()
	f = &File{Name: name}
	f.Stmts = p.stmtList()
	if p.tok() != _EOF {
		p.posErr(p.pos(), "unexpected token %s", p.tok())
	}
	return f, nil
}

// ParseWord parses a single word, such as a redirection target or a test
// operand. Mostly useful for tests and small front-ends.
func (p *Parser) ParseWord(src string) (*Word, error) {
	words, err := p.ParseWords(src)
	if err != nil {
		return nil, err
	}
	if len(words) != 1 {
		return nil, ParseError{Text: fmt.Sprintf("want exactly one word, got %d", len(words))}
	}
	return words[0], nil
}

// ParseWords parses a blank-separated list of words.
func (p *Parser) ParseWords(src string) (words []*Word, err error) {
	p.lex = newLexer([]byte(src))
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(ParseError)
			if !ok {
				panic(r)
			}
			words, err = nil, pe
		}
	}()
	p.next()
	for p.tok() != _EOF {
		if p.tok() != _Word && p.tok() != _IoNum {
			p.posErr(p.pos(), "unexpected token %s in word list", p.tok())
		}
		words = append(words, p.lex.word)
		p.next()
	}
	return words, nil
}

func (p *Parser) tok() token { return p.lex.tok }
func (p *Parser) pos() Pos   { return p.lex.pos }

func (p *Parser) next() {
	p.lex.next()
	if p.lex.err != nil {
		pe := p.lex.err.(ParseError)
		pe.Incomplete = p.lex.eof()
		panic(pe)
	}
}

func (p *Parser) posErr(pos Pos, format string, args ...any) {
	panic(ParseError{
		Pos:        pos,
		Text:       fmt.Sprintf(format, args...),
		Incomplete: p.tok() == _EOF,
	})
}

// bareLit returns the current token's literal value if it is a single
// unquoted literal word, and an empty string otherwise.
func (p *Parser) bareLit() string {
	if p.tok() != _Word {
		return ""
	}
	return p.lex.word.Lit()
}

func (p *Parser) gotKeyword(kw string) bool {
	if p.bareLit() != kw {
		return false
	}
	p.next()
	return true
}

func (p *Parser) expectKeyword(kw string) {
	if !p.gotKeyword(kw) {
		p.posErr(p.pos(), "expected %q, found %s", kw, p.describe())
	}
}

func (p *Parser) describe() string {
	if p.tok() == _Word {
		if lit := p.lex.word.Lit(); lit != "" {
			return fmt.Sprintf("%q", lit)
		}
		return "word"
	}
	return p.tok().String()
}

func (p *Parser) skipNewlines() {
	for p.tok() == _Newl {
		p.next()
	}
}

func redirStart(t token) bool {
	switch t {
	case _RdrIn, _RdrOut, _AppOut, _ClbOut, _RdrInOut, _DplIn, _DplOut, _Hdoc, _DashHdoc:
		return true
	}
	return false
}

// listEnd reports whether the current token closes a statement list, given
// the keywords that would close the enclosing construct.
func (p *Parser) listEnd(stops []string) bool {
	switch p.tok() {
	case _EOF, _RParen, _DblSemi:
		return true
	}
	if lit := p.bareLit(); lit != "" {
		for _, s := range stops {
			if lit == s {
				return true
			}
		}
	}
	return false
}

func (p *Parser) stmtList(stops ...string) []*Stmt {
	var stmts []*Stmt
	for {
		p.skipNewlines()
		if p.listEnd(stops) {
			return stmts
		}
		st := p.andOr()
		stmts = append(stmts, st)
		switch p.tok() {
		case _Amp:
			st.Background = true
			p.next()
		case _Semi:
			p.next()
		case _Newl, _EOF, _RParen, _DblSemi:
		default:
			if !p.listEnd(stops) {
				p.posErr(p.pos(), "unexpected token %s", p.describe())
			}
		}
	}
}

func (p *Parser) andOr() *Stmt {
	st := p.pipeline()
	for p.tok() == _AndAnd || p.tok() == _OrOr {
		op := AndStmt
		if p.tok() == _OrOr {
			op = OrStmt
		}
		p.next()
		p.skipNewlines()
		y := p.pipeline()
		st = &Stmt{Position: st.Position, Cmd: &BinaryCmd{Op: op, X: st, Y: y}}
	}
	return st
}

func (p *Parser) pipeline() *Stmt {
	pos := p.pos()
	negated := false
	for p.gotKeyword("!") {
		negated = !negated
	}
	st := p.command()
	if p.tok() == _Pipe {
		stmts := []*Stmt{st}
		for p.tok() == _Pipe {
			p.next()
			p.skipNewlines()
			stmts = append(stmts, p.command())
		}
		st = &Stmt{Position: pos, Cmd: &Pipeline{Stmts: stmts}}
	}
	st.Negated = negated
	return st
}

// command parses one command of a pipeline: a simple command, a compound
// command with trailing redirections, or a function definition.
func (p *Parser) command() *Stmt {
	pos := p.pos()
	st := &Stmt{Position: pos}
	switch {
	case p.tok() == _LParen:
		p.next()
		sub := &Subshell{Position: pos}
		sub.Stmts = p.stmtList()
		if p.tok() != _RParen {
			p.posErr(pos, "subshell must end with )")
		}
		p.next()
		st.Cmd = sub
		p.trailingRedirs(st)
	case p.bareLit() == "{":
		p.next()
		bl := &Block{Position: pos}
		bl.Stmts = p.stmtList("}")
		p.expectKeyword("}")
		st.Cmd = bl
		p.trailingRedirs(st)
	case p.bareLit() == "if":
		st.Cmd = p.ifClause()
		p.trailingRedirs(st)
	case p.bareLit() == "while", p.bareLit() == "until":
		st.Cmd = p.whileClause(p.bareLit() == "until")
		p.trailingRedirs(st)
	case p.bareLit() == "for":
		st.Cmd = p.forClause()
		p.trailingRedirs(st)
	case p.bareLit() == "case":
		st.Cmd = p.caseClause()
		p.trailingRedirs(st)
	case p.tok() == _Word, p.tok() == _IoNum, redirStart(p.tok()):
		if kw := p.bareLit(); IsKeyword(kw) {
			p.posErr(pos, "unexpected keyword %q", kw)
		}
		p.simpleCommand(st)
	default:
		p.posErr(pos, "expected a command, found %s", p.describe())
	}
	return st
}

func (p *Parser) trailingRedirs(st *Stmt) {
	for {
		switch {
		case p.tok() == _IoNum:
			n := p.lex.word.Parts[0].(*Lit)
			p.next()
			st.Redirs = append(st.Redirs, p.redirect(n))
		case redirStart(p.tok()):
			st.Redirs = append(st.Redirs, p.redirect(nil))
		default:
			return
		}
	}
}

func (p *Parser) simpleCommand(st *Stmt) {
	sc := &SimpleCommand{Position: st.Position}
	prefix := true
	for {
		switch {
		case p.tok() == _IoNum:
			n := p.lex.word.Parts[0].(*Lit)
			p.next()
			st.Redirs = append(st.Redirs, p.redirect(n))
		case redirStart(p.tok()):
			st.Redirs = append(st.Redirs, p.redirect(nil))
		case p.tok() == _Word:
			w := p.lex.word
			if prefix {
				if as := assignment(w); as != nil {
					sc.Assigns = append(sc.Assigns, as)
					p.next()
					continue
				}
			}
			if len(sc.Args) == 0 && len(sc.Assigns) == 0 && len(st.Redirs) == 0 &&
				ValidName(w.Lit()) {
				name := w.Parts[0].(*Lit)
				p.next()
				if p.tok() == _LParen {
					st.Cmd = p.funcDecl(st.Position, name)
					return
				}
				prefix = false
				sc.Args = append(sc.Args, w)
				continue
			}
			prefix = false
			sc.Args = append(sc.Args, w)
			p.next()
		default:
			st.Cmd = sc
			return
		}
	}
}

func (p *Parser) funcDecl(pos Pos, name *Lit) *FuncDecl {
	p.next() // the (
	if p.tok() != _RParen {
		p.posErr(p.pos(), "expected ) after function name")
	}
	p.next()
	p.skipNewlines()
	body := p.command()
	return &FuncDecl{Position: pos, Name: name, Body: body}
}

// assignment splits a word of the form name=value into an Assign, or returns
// nil if the word is not an assignment.
func assignment(w *Word) *Assign {
	lit, ok := w.Parts[0].(*Lit)
	if !ok {
		return nil
	}
	i := strings.IndexByte(lit.Value, '=')
	if i <= 0 || !ValidName(lit.Value[:i]) {
		return nil
	}
	as := &Assign{Name: &Lit{ValuePos: lit.ValuePos, Value: lit.Value[:i]}}
	var parts []WordPart
	if rest := lit.Value[i+1:]; rest != "" {
		parts = append(parts, &Lit{ValuePos: lit.ValuePos, Value: rest})
	}
	parts = append(parts, w.Parts[1:]...)
	if len(parts) > 0 {
		as.Value = &Word{Parts: parts}
	}
	return as
}

func (p *Parser) redirect(n *Lit) *Redirect {
	rd := &Redirect{OpPos: p.pos(), N: n}
	switch p.tok() {
	case _RdrIn:
		rd.Op = RdrIn
	case _RdrOut:
		rd.Op = RdrOut
	case _AppOut:
		rd.Op = AppOut
	case _ClbOut:
		rd.Op = ClbOut
	case _RdrInOut:
		rd.Op = RdrInOut
	case _DplIn:
		rd.Op = DplIn
	case _DplOut:
		rd.Op = DplOut
	case _Hdoc:
		rd.Op = Hdoc
	case _DashHdoc:
		rd.Op = DashHdoc
	}
	p.next()
	if p.tok() != _Word && p.tok() != _IoNum {
		p.posErr(rd.OpPos, "%s must be followed by a word", rd.Op)
	}
	rd.Word = p.lex.word
	if rd.Op == Hdoc || rd.Op == DashHdoc {
		delim, quoted := hdocDelim(rd.Word)
		p.lex.pendingHdocs = append(p.lex.pendingHdocs, &pendingHdoc{
			redir:  rd,
			delim:  delim,
			quoted: quoted,
			strip:  rd.Op == DashHdoc,
		})
	}
	p.next()
	return rd
}

// hdocDelim computes the literal delimiter of a here-document and whether any
// part of it was quoted, which suppresses expansion of the body.
func hdocDelim(w *Word) (string, bool) {
	var sb strings.Builder
	quoted := false
	for _, part := range w.Parts {
		switch x := part.(type) {
		case *Lit:
			for i := 0; i < len(x.Value); i++ {
				if x.Value[i] == '\\' && i+1 < len(x.Value) {
					quoted = true
					i++
				}
				if i < len(x.Value) {
					sb.WriteByte(x.Value[i])
				}
			}
		case *SglQuoted:
			quoted = true
			sb.WriteString(x.Value)
		case *DblQuoted:
			quoted = true
			for _, inner := range x.Parts {
				if lit, ok := inner.(*Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		}
	}
	return sb.String(), quoted
}

func (p *Parser) ifClause() *IfClause {
	pos := p.pos()
	p.next() // "if" or "elif"
	ic := &IfClause{Position: pos}
	ic.Cond = p.stmtList("then")
	p.expectKeyword("then")
	ic.Then = p.stmtList("elif", "else", "fi")
	switch p.bareLit() {
	case "elif":
		ic.Else = p.ifClause() // consumes up to and including "fi"
	case "else":
		p.next()
		bl := &Block{Position: p.pos()}
		bl.Stmts = p.stmtList("fi")
		ic.Else = bl
		p.expectKeyword("fi")
	default:
		p.expectKeyword("fi")
	}
	return ic
}

func (p *Parser) whileClause(until bool) *WhileClause {
	wc := &WhileClause{Position: p.pos(), Until: until}
	p.next()
	wc.Cond = p.stmtList("do")
	p.expectKeyword("do")
	wc.Do = p.stmtList("done")
	p.expectKeyword("done")
	return wc
}

func (p *Parser) forClause() *ForClause {
	fc := &ForClause{Position: p.pos()}
	p.next()
	name := p.bareLit()
	if !ValidName(name) {
		p.posErr(p.pos(), "invalid for loop variable %s", p.describe())
	}
	fc.Name = p.lex.word.Parts[0].(*Lit)
	p.next()
	p.skipNewlines()
	if p.gotKeyword("in") {
		fc.HasIn = true
		for p.tok() == _Word || p.tok() == _IoNum {
			fc.Items = append(fc.Items, p.lex.word)
			p.next()
		}
	}
	switch p.tok() {
	case _Semi, _Newl:
		p.next()
	}
	p.skipNewlines()
	p.expectKeyword("do")
	fc.Do = p.stmtList("done")
	p.expectKeyword("done")
	return fc
}

func (p *Parser) caseClause() *CaseClause {
	cc := &CaseClause{Position: p.pos()}
	p.next()
	if p.tok() != _Word {
		p.posErr(p.pos(), "case must be followed by a word")
	}
	cc.Word = p.lex.word
	p.next()
	p.skipNewlines()
	p.expectKeyword("in")
	p.skipNewlines()
	for {
		if p.gotKeyword("esac") {
			return cc
		}
		ci := &CaseItem{}
		if p.tok() == _LParen {
			p.next()
		}
		for {
			if p.tok() != _Word && p.tok() != _IoNum {
				p.posErr(p.pos(), "expected a case pattern, found %s", p.describe())
			}
			ci.Patterns = append(ci.Patterns, p.lex.word)
			p.next()
			if p.tok() != _Pipe {
				break
			}
			p.next()
		}
		if p.tok() != _RParen {
			p.posErr(p.pos(), "case pattern must end with )")
		}
		p.next()
		ci.Stmts = p.stmtList("esac")
		cc.Items = append(cc.Items, ci)
		if p.tok() == _DblSemi {
			p.next()
			p.skipNewlines()
			continue
		}
		p.skipNewlines()
		p.expectKeyword("esac")
		return cc
	}
}
