// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

// Package expand implements POSIX word expansion: tilde expansion, parameter
// expansion, command substitution, arithmetic expansion, field splitting,
// pathname expansion, and quote removal, in that order.
package expand

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/posh-shell/posh/pattern"
	"github.com/posh-shell/posh/syntax"
)

// Config defines how to expand words. Its zero value is a valid configuration
// with an empty environment and no command substitution support.
type Config struct {
	// Env is used to get and set variables. Parameter expansion operators
	// of the ${name=word} family require it to implement [WriteEnviron].
	Env Environ

	// CmdSubst runs a command substitution's source text, writing the
	// command's standard output to w. If nil, command substitutions fail.
	CmdSubst func(w io.Writer, src string) error

	// Dir is the directory that relative glob patterns are resolved
	// against. Pathname expansion is skipped entirely when Dir is empty.
	Dir string

	// NoGlob skips pathname expansion, like the shell option noglob.
	NoGlob bool

	// NoUnset makes the expansion of unset parameters an error, like the
	// shell option nounset.
	NoUnset bool

	ifs        string
	assignMode bool
}

// UnsetParameterError is returned when an unset parameter stops an expansion:
// either ${name?message} on an unset name, or any unset parameter while
// [Config.NoUnset] is in effect.
type UnsetParameterError struct {
	Name    string
	Message string
}

func (u UnsetParameterError) Error() string {
	return fmt.Sprintf("%s: %s", u.Name, u.Message)
}

func prepareConfig(cfg *Config) *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Env == nil {
		cfg.Env = FuncEnviron(func(string) string { return "" })
	}
	cfg.ifs = " \t\n"
	if vr := cfg.Env.Get("IFS"); vr.IsSet() {
		cfg.ifs = vr.Str
	}
	return cfg
}

func (cfg *Config) ifsRune(r rune) bool {
	for _, r2 := range cfg.ifs {
		if r == r2 {
			return true
		}
	}
	return false
}

func (cfg *Config) ifsJoin(strs []string) string {
	sep := ""
	if cfg.ifs != "" {
		sep = cfg.ifs[:1]
	}
	return strings.Join(strs, sep)
}

// Literal expands a single word without field splitting or pathname
// expansion. It is the form used for redirection targets and case subjects.
func Literal(cfg *Config, word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	cfg = prepareConfig(cfg)
	field, err := cfg.wordField(word.Parts, quoteNone)
	if err != nil {
		return "", err
	}
	return fieldJoin(field), nil
}

// AssignValue is like [Literal], but additionally performs tilde expansion
// after unquoted colons, the way assignment values are expanded.
func AssignValue(cfg *Config, word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	cfg = prepareConfig(cfg)
	cfg.assignMode = true
	field, err := cfg.wordField(word.Parts, quoteNone)
	cfg.assignMode = false
	if err != nil {
		return "", err
	}
	return fieldJoin(field), nil
}

// Document expands a here-document body. The parser encodes a quoted
// delimiter as a single-quoted part, so the body passes through verbatim.
func Document(cfg *Config, word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	cfg = prepareConfig(cfg)
	field, err := cfg.wordField(word.Parts, quoteDouble)
	if err != nil {
		return "", err
	}
	return fieldJoin(field), nil
}

// Pattern expands a word into a shell pattern string, keeping quoted parts
// escaped so that they match literally. Used for case patterns.
func Pattern(cfg *Config, word *syntax.Word) (string, error) {
	cfg = prepareConfig(cfg)
	field, err := cfg.wordField(word.Parts, quoteSingle)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, part := range field {
		if part.quote > quoteNone {
			sb.WriteString(pattern.QuoteMeta(part.val))
		} else {
			sb.WriteString(part.val)
		}
	}
	return sb.String(), nil
}

// Fields expands a number of words as if they were arguments to a command,
// performing the full expansion pipeline including field splitting and
// pathname expansion.
func Fields(cfg *Config, words ...*syntax.Word) ([]string, error) {
	cfg = prepareConfig(cfg)
	fields := make([]string, 0, len(words))
	for _, word := range words {
		wfields, err := cfg.wordFields(word.Parts)
		if err != nil {
			return nil, err
		}
		for _, field := range wfields {
			path, doGlob := cfg.escapedGlobField(field)
			if doGlob && !cfg.NoGlob && cfg.Dir != "" {
				if matches := cfg.glob(path); len(matches) > 0 {
					fields = append(fields, matches...)
					continue
				}
			}
			fields = append(fields, fieldJoin(field))
		}
	}
	return fields, nil
}

type fieldPart struct {
	val   string
	quote quoteLevel
}

type quoteLevel uint8

const (
	quoteNone quoteLevel = iota
	quoteDouble
	quoteSingle
)

func fieldJoin(parts []fieldPart) string {
	switch len(parts) {
	case 0:
		return ""
	case 1: // short-cut without a string copy
		return parts[0].val
	}
	var sb strings.Builder
	for _, part := range parts {
		sb.WriteString(part.val)
	}
	return sb.String()
}

// escapedGlobField rebuilds a field as a glob pattern, escaping the parts
// that came from quoted context so they cannot match as wildcards. The
// second result reports whether the field contains any live metacharacters.
func (cfg *Config) escapedGlobField(parts []fieldPart) (escaped string, glob bool) {
	var sb strings.Builder
	for _, part := range parts {
		if part.quote > quoteNone {
			sb.WriteString(pattern.QuoteMeta(part.val))
			continue
		}
		sb.WriteString(part.val)
		if pattern.HasMeta(part.val) {
			glob = true
		}
	}
	if glob { // only copy the string if it will be used
		escaped = sb.String()
	}
	return escaped, glob
}

// unquotedLit resolves backslash escapes of an unquoted literal into field
// parts, marking escaped characters as quoted so that later field splitting
// and globbing leave them alone.
func unquotedLit(parts []fieldPart, s string) []fieldPart {
	if !strings.Contains(s, "\\") {
		return append(parts, fieldPart{val: s})
	}
	var sb strings.Builder
	flush := func() {
		if sb.Len() > 0 {
			parts = append(parts, fieldPart{val: sb.String()})
			sb.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b != '\\' || i+1 >= len(s) {
			sb.WriteByte(b)
			continue
		}
		i++
		flush()
		parts = append(parts, fieldPart{val: string(s[i]), quote: quoteSingle})
	}
	flush()
	return parts
}

func (cfg *Config) wordField(wps []syntax.WordPart, ql quoteLevel) ([]fieldPart, error) {
	var field []fieldPart
	for i, wp := range wps {
		switch x := wp.(type) {
		case *syntax.Lit:
			s := x.Value
			if i == 0 && ql == quoteNone {
				s = cfg.expandUser(s)
			}
			switch ql {
			case quoteNone:
				field = unquotedLit(field, s)
			case quoteDouble:
				field = append(field, fieldPart{val: dblUnescape(s)})
			default: // pattern context: keep escapes for the matcher
				field = append(field, fieldPart{val: s})
			}
		case *syntax.SglQuoted:
			field = append(field, fieldPart{quote: quoteSingle, val: x.Value})
		case *syntax.DblQuoted:
			inner, err := cfg.wordField(x.Parts, quoteDouble)
			if err != nil {
				return nil, err
			}
			for _, part := range inner {
				part.quote = quoteDouble
				field = append(field, part)
			}
		case *syntax.ParamExp:
			val, err := cfg.paramExp(x)
			if err != nil {
				return nil, err
			}
			field = append(field, fieldPart{val: val})
		case *syntax.CmdSubst:
			val, err := cfg.cmdSubst(x)
			if err != nil {
				return nil, err
			}
			field = append(field, fieldPart{val: val})
		case *syntax.ArithmExp:
			n, err := Arithm(cfg, x.SrcText)
			if err != nil {
				return nil, err
			}
			field = append(field, fieldPart{val: strconv.FormatInt(n, 10)})
		default:
			panic(fmt.Sprintf("unhandled word part: %T", x))
		}
	}
	return field, nil
}

// dblUnescape resolves the backslash escapes that are special within double
// quotes, leaving all other backslashes alone.
func dblUnescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '$', '`':
				continue
			}
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

func (cfg *Config) cmdSubst(cs *syntax.CmdSubst) (string, error) {
	if cfg.CmdSubst == nil {
		return "", fmt.Errorf("command substitution is not enabled")
	}
	var buf bytes.Buffer
	if err := cfg.CmdSubst(&buf, cs.SrcText); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n\r"), nil
}

func (cfg *Config) wordFields(wps []syntax.WordPart) ([][]fieldPart, error) {
	var fields [][]fieldPart
	var curField []fieldPart
	allowEmpty := false
	flush := func() {
		if len(curField) == 0 {
			return
		}
		fields = append(fields, curField)
		curField = nil
	}
	splitAdd := func(val string) {
		fieldStart := -1
		for i, r := range val {
			if cfg.ifsRune(r) {
				if fieldStart >= 0 {
					curField = append(curField, fieldPart{val: val[fieldStart:i]})
					fieldStart = -1
				}
				flush()
			} else if fieldStart < 0 {
				fieldStart = i
			}
		}
		if fieldStart >= 0 {
			curField = append(curField, fieldPart{val: val[fieldStart:]})
		}
	}
	for i, wp := range wps {
		switch x := wp.(type) {
		case *syntax.Lit:
			s := x.Value
			if i == 0 {
				s = cfg.expandUser(s)
			}
			curField = unquotedLit(curField, s)
		case *syntax.SglQuoted:
			allowEmpty = true
			curField = append(curField, fieldPart{quote: quoteSingle, val: x.Value})
		case *syntax.DblQuoted:
			allowEmpty = true
			if len(x.Parts) == 1 {
				if elems := cfg.quotedElems(x.Parts[0]); elems != nil {
					for i, elem := range elems {
						if i > 0 {
							flush()
						}
						curField = append(curField, fieldPart{
							quote: quoteDouble,
							val:   elem,
						})
					}
					continue
				}
			}
			inner, err := cfg.wordField(x.Parts, quoteDouble)
			if err != nil {
				return nil, err
			}
			for _, part := range inner {
				part.quote = quoteDouble
				curField = append(curField, part)
			}
		case *syntax.ParamExp:
			val, err := cfg.paramExp(x)
			if err != nil {
				return nil, err
			}
			splitAdd(val)
		case *syntax.CmdSubst:
			val, err := cfg.cmdSubst(x)
			if err != nil {
				return nil, err
			}
			splitAdd(val)
		case *syntax.ArithmExp:
			n, err := Arithm(cfg, x.SrcText)
			if err != nil {
				return nil, err
			}
			splitAdd(strconv.FormatInt(n, 10))
		default:
			panic(fmt.Sprintf("unhandled word part: %T", x))
		}
	}
	flush()
	if allowEmpty && len(fields) == 0 {
		fields = append(fields, curField)
	}
	return fields, nil
}

// quotedElems checks if a word part is exactly ${@} or $@, whose quoted
// expansion produces one field per positional parameter.
func (cfg *Config) quotedElems(wp syntax.WordPart) []string {
	pe, ok := wp.(*syntax.ParamExp)
	if !ok || pe.Length || pe.Exp != nil || pe.Param.Value != "@" {
		return nil
	}
	return cfg.Env.Get("@").List
}

func (cfg *Config) expandUser(field string) string {
	if cfg.assignMode && strings.Contains(field, ":") {
		segments := strings.Split(field, ":")
		for i, seg := range segments {
			segments[i] = cfg.tilde(seg)
		}
		return strings.Join(segments, ":")
	}
	return cfg.tilde(field)
}

func (cfg *Config) tilde(field string) string {
	if len(field) == 0 || field[0] != '~' {
		return field
	}
	name := field[1:]
	rest := ""
	if i := strings.IndexByte(name, '/'); i >= 0 {
		rest = name[i:]
		name = name[:i]
	}
	if name == "" {
		return cfg.Env.Get("HOME").String() + rest
	}
	u, err := user.Lookup(name)
	if err != nil {
		return field
	}
	return u.HomeDir + rest
}

// glob expands a single pattern against the filesystem. The returned matches
// are sorted; nil means the literal field should survive.
func (cfg *Config) glob(pat string) []string {
	base := cfg.Dir
	prefix := ""
	if filepath.IsAbs(pat) {
		base = string(filepath.Separator)
		prefix = base
		pat = strings.TrimLeft(pat, string(filepath.Separator))
	}
	// Move leading metacharacter-free components into the base directory,
	// so that patterns like ../*.go work against an fs.FS root.
	for {
		head, rest, ok := strings.Cut(pat, "/")
		if !ok || pattern.HasMeta(head) || rest == "" {
			break
		}
		lit := globUnescape(head)
		base = filepath.Join(base, lit)
		prefix += lit + "/"
		pat = rest
	}
	if !pattern.HasMeta(pat) {
		return nil
	}
	matches, err := doublestar.Glob(os.DirFS(base), pat)
	if err != nil || len(matches) == 0 {
		return nil
	}
	hideDotfiles := !strings.HasPrefix(globUnescape(lastComponent(pat)), ".")
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if hideDotfiles && strings.HasPrefix(lastComponent(m), ".") {
			continue
		}
		out = append(out, prefix+m)
	}
	sort.Strings(out)
	return out
}

func lastComponent(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func globUnescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// ReadFields splits a string into at most n fields using the IFS rules of
// the read builtin. With raw set, backslashes lose their escaping role.
func ReadFields(cfg *Config, s string, n int, raw bool) []string {
	cfg = prepareConfig(cfg)
	type span struct {
		start, end int
	}
	var spans []span

	runes := make([]rune, 0, len(s))
	infield := false
	esc := false
	for _, r := range s {
		if infield {
			if cfg.ifsRune(r) && (raw || !esc) {
				spans[len(spans)-1].end = len(runes)
				infield = false
			}
		} else {
			if !cfg.ifsRune(r) && (raw || !esc) {
				spans = append(spans, span{start: len(runes), end: -1})
				infield = true
			}
		}
		if r == '\\' {
			if raw || esc {
				runes = append(runes, r)
			}
			esc = !esc
			continue
		}
		runes = append(runes, r)
		esc = false
	}
	if len(spans) == 0 {
		return nil
	}
	if infield {
		spans[len(spans)-1].end = len(runes)
	}

	switch {
	case n == 1:
		// include heading and trailing IFS characters
		spans[0].start, spans[0].end = 0, len(runes)
		spans = spans[:1]
	case n != -1 && n < len(spans):
		// combine the tail into the last field
		spans[n-1].end = spans[len(spans)-1].end
		spans = spans[:n]
	}

	fields := make([]string, len(spans))
	for i, p := range spans {
		fields[i] = string(runes[p.start:p.end])
	}
	return fields
}

// Format interprets the escape sequences and conversion specifications of
// the printf utility. It returns the formatted string along with how many
// arguments were consumed.
func Format(cfg *Config, format string, args []string) (string, int, error) {
	var sb strings.Builder
	esc := false
	var fmts []rune
	initialArgs := len(args)

	for _, c := range format {
		switch {
		case esc:
			esc = false
			switch c {
			case 'a':
				sb.WriteRune('\a')
			case 'b':
				sb.WriteRune('\b')
			case 'f':
				sb.WriteRune('\f')
			case 'n':
				sb.WriteRune('\n')
			case 'r':
				sb.WriteRune('\r')
			case 't':
				sb.WriteRune('\t')
			case 'v':
				sb.WriteRune('\v')
			case '\\':
				sb.WriteRune('\\')
			default:
				sb.WriteRune('\\')
				sb.WriteRune(c)
			}

		case len(fmts) > 0:
			switch c {
			case '%':
				sb.WriteByte('%')
				fmts = nil
			case 'c':
				var b byte
				if len(args) > 0 {
					arg := ""
					arg, args = args[0], args[1:]
					if len(arg) > 0 {
						b = arg[0]
					}
				}
				sb.WriteByte(b)
				fmts = nil
			case '+', '-', ' ':
				if len(fmts) > 1 {
					return "", 0, fmt.Errorf("invalid format char: %c", c)
				}
				fmts = append(fmts, c)
			case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
				fmts = append(fmts, c)
			case 's', 'd', 'i', 'u', 'o', 'x', 'X':
				arg := ""
				if len(args) > 0 {
					arg, args = args[0], args[1:]
				}
				var farg any = arg
				if c != 's' {
					n, _ := strconv.ParseInt(strings.TrimSpace(arg), 0, 64)
					if c == 'i' || c == 'd' {
						farg = n
					} else {
						farg = uint64(n)
					}
					if c == 'i' || c == 'u' {
						c = 'd'
					}
				}
				fmts = append(fmts, c)
				fmt.Fprintf(&sb, string(fmts), farg)
				fmts = nil
			default:
				return "", 0, fmt.Errorf("invalid format char: %c", c)
			}
		case c == '\\':
			esc = true
		case args != nil && c == '%':
			// with nil args we are only doing escapes, not formatting
			fmts = []rune{c}
		default:
			sb.WriteRune(c)
		}
	}
	if len(fmts) > 0 {
		return "", 0, fmt.Errorf("missing format char")
	}
	return sb.String(), initialArgs - len(args), nil
}
