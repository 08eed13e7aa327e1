// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package expand

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/posh-shell/posh/pattern"
	"github.com/posh-shell/posh/syntax"
)

func (cfg *Config) paramExp(pe *syntax.ParamExp) (string, error) {
	name := pe.Param.Value
	vr := cfg.Env.Get(name)
	set := vr.IsSet()
	str := vr.Str
	switch name {
	case "@":
		str = strings.Join(vr.List, " ")
	case "*":
		str = cfg.ifsJoin(vr.List)
	}

	if pe.Length {
		if vr.List != nil {
			return strconv.Itoa(len(vr.List)), nil
		}
		return strconv.Itoa(utf8.RuneCountInString(str)), nil
	}

	if pe.Exp == nil {
		if !set && cfg.NoUnset {
			return "", UnsetParameterError{Name: name, Message: "parameter not set"}
		}
		return str, nil
	}

	arg, err := Literal(cfg, pe.Exp.Word)
	if err != nil {
		return "", err
	}
	switch op := pe.Exp.Op; op {
	case syntax.SubstColPlus:
		if str == "" {
			return "", nil
		}
		fallthrough
	case syntax.SubstPlus:
		if set {
			return arg, nil
		}
		return "", nil
	case syntax.SubstMinus:
		if set {
			return str, nil
		}
		return arg, nil
	case syntax.SubstColMinus:
		if str == "" {
			return arg, nil
		}
		return str, nil
	case syntax.SubstQuest:
		if set {
			return str, nil
		}
		return "", cfg.questErr(name, arg)
	case syntax.SubstColQuest:
		if str == "" {
			return "", cfg.questErr(name, arg)
		}
		return str, nil
	case syntax.SubstAssgn:
		if set {
			return str, nil
		}
		return arg, cfg.envSet(name, arg)
	case syntax.SubstColAssgn:
		if str == "" {
			return arg, cfg.envSet(name, arg)
		}
		return str, nil
	case syntax.RemSmallPrefix, syntax.RemLargePrefix,
		syntax.RemSmallSuffix, syntax.RemLargeSuffix:
		if !set && cfg.NoUnset {
			return "", UnsetParameterError{Name: name, Message: "parameter not set"}
		}
		suffix := op == syntax.RemSmallSuffix || op == syntax.RemLargeSuffix
		large := op == syntax.RemLargePrefix || op == syntax.RemLargeSuffix
		pat, err := Pattern(cfg, pe.Exp.Word)
		if err != nil {
			return "", err
		}
		return removePattern(str, pat, suffix, large), nil
	default:
		panic(fmt.Sprintf("unhandled parameter operator: %v", op))
	}
}

func (cfg *Config) questErr(name, arg string) error {
	if arg == "" {
		arg = "parameter null or not set"
	}
	return UnsetParameterError{Name: name, Message: arg}
}

func (cfg *Config) envSet(name, value string) error {
	wenv, ok := cfg.Env.(WriteEnviron)
	if !ok {
		return fmt.Errorf("%s: environment is read-only", name)
	}
	return wenv.Set(name, StringVar(value))
}

// removePattern implements the four ${name#pat} family operators by
// anchoring the translated pattern at the relevant end of the string.
func removePattern(str, pat string, fromEnd, greedy bool) string {
	mode := pattern.Mode(0)
	if !greedy {
		mode |= pattern.Shortest
	}
	expr, err := pattern.Regexp(pat, mode)
	if err != nil {
		return str
	}
	switch {
	case fromEnd && !greedy:
		// use .* to push the submatch to the right-most (shortest) spot
		expr = "(?s).*(" + expr + ")$"
	case fromEnd:
		expr = "(" + expr + ")$"
	default:
		expr = "^(" + expr + ")"
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return str
	}
	if loc := rx.FindStringSubmatchIndex(str); loc != nil {
		// drop the submatch, which is the original pattern
		str = str[:loc[2]] + str[loc[3]:]
	}
	return str
}
