// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package expand

import (
	"sort"
	"strings"
)

// Environ is the base interface for a shell's environment, allowing it to
// fetch variables by name and to iterate over all the currently set
// variables.
type Environ interface {
	// Get retrieves a variable by its name. To check if the variable is
	// set, use Variable.IsSet.
	Get(name string) Variable

	// Each iterates over all the currently set variables, calling the
	// supplied function on each variable. Iteration is stopped if the
	// function returns false.
	//
	// The names used in the calls aren't required to be unique or sorted.
	// If a variable name appears twice, the latest occurrence takes
	// priority.
	//
	// Each is required to forward exported variables when executing
	// programs.
	Each(func(name string, vr Variable) bool)
}

// WriteEnviron is an extension on Environ that supports modifying variables.
// The ${name=word} family of expansion operators requires it.
type WriteEnviron interface {
	Environ
	// Set sets a variable by name. An error may be returned if the
	// operation is invalid, such as overwriting a read-only variable.
	Set(name string, vr Variable) error
}

// Variable describes a shell variable: a value plus its attributes.
type Variable struct {
	// Set is true when the variable has been given a value, which may be
	// empty.
	Set bool

	Exported bool
	ReadOnly bool

	Str string

	// List holds the elements of the positional-parameter pseudo
	// variables "@" and "*". It is nil for ordinary string variables.
	List []string
}

// IsSet reports whether the variable has been set to a value.
// The zero value of a Variable is unset.
func (v Variable) IsSet() bool { return v.Set }

// String returns the variable's value as a string.
func (v Variable) String() string {
	if v.List != nil && v.Str == "" {
		return strings.Join(v.List, " ")
	}
	return v.Str
}

// StringVar is a shorthand constructor for a plain set string variable.
func StringVar(s string) Variable {
	return Variable{Set: true, Str: s}
}

// FuncEnviron wraps a function mapping variable names to their string
// values, and implements [Environ]. Empty strings returned by the function
// are treated as unset variables. All variables are exported.
//
// Note that the returned Environ's Each method is a no-op.
func FuncEnviron(fn func(string) string) Environ {
	return funcEnviron(fn)
}

type funcEnviron func(string) string

func (f funcEnviron) Get(name string) Variable {
	value := f(name)
	if value == "" {
		return Variable{}
	}
	return Variable{Set: true, Exported: true, Str: value}
}

func (f funcEnviron) Each(func(name string, vr Variable) bool) {}

// ListEnviron returns an [Environ] with the supplied variables, in the form
// "key=value". All variables are exported. The last value in pairs wins if a
// name is repeated.
func ListEnviron(pairs ...string) Environ {
	m := make(mapEnviron, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			continue
		}
		m[name] = value
	}
	return m
}

type mapEnviron map[string]string

func (m mapEnviron) Get(name string) Variable {
	value, ok := m[name]
	if !ok {
		return Variable{}
	}
	return Variable{Set: true, Exported: true, Str: value}
}

func (m mapEnviron) Each(fn func(name string, vr Variable) bool) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !fn(name, Variable{Set: true, Exported: true, Str: m[name]}) {
			return
		}
	}
}
