// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package expand

import "testing"

func TestArithm(t *testing.T) {
	env := ListEnviron("x=5", "y=2", "ref=x", "junk=hello")
	tests := []struct {
		src  string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"42", 42},
		{"0x1f", 31},
		{"010", 8},
		{"1+2", 3},
		{"2*3+4", 10},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"10/3", 3},
		{"10%3", 1},
		{"-5", -5},
		{"- 5 + 10", 5},
		{"+7", 7},
		{"!0", 1},
		{"!5", 0},
		{"~0", -1},
		{"1<2", 1},
		{"2<=2", 1},
		{"3>4", 0},
		{"3>=3", 1},
		{"5==5", 1},
		{"5!=5", 0},
		{"1<<4", 16},
		{"16>>2", 4},
		{"6&3", 2},
		{"6|3", 7},
		{"6^3", 5},
		{"1&&2", 1},
		{"1&&0", 0},
		{"0||0", 0},
		{"0||3", 1},
		{"1?10:20", 10},
		{"0?10:20", 20},
		{"1?2?3:4:5", 3},
		{"1,2,3", 3},
		{"x", 5},
		{"x+y", 7},
		{"$x+1", 6},
		{"${x}*2", 10},
		{"ref", 5}, // a variable holding a variable name resolves through
		{"junk", 0},
		{"nosuch", 0},
		{"nosuch+9", 9},
	}
	for _, tc := range tests {
		got, err := Arithm(&Config{Env: env}, tc.src)
		if err != nil {
			t.Fatalf("%q: %v", tc.src, err)
		}
		if got != tc.want {
			t.Fatalf("%q: want %d, got %d", tc.src, tc.want, got)
		}
	}
}

func TestArithmAssignments(t *testing.T) {
	env := writableEnv{m: map[string]string{"n": "4"}}
	tests := []struct {
		src   string
		want  int64
		name  string
		after string
	}{
		{"n=7", 7, "n", "7"},
		{"n+=3", 7, "n", "7"},
		{"n*=2", 8, "n", "8"},
		{"n++", 4, "n", "5"},
		{"++n", 5, "n", "5"},
		{"n--", 4, "n", "3"},
	}
	for _, tc := range tests {
		env.m["n"] = "4"
		got, err := Arithm(&Config{Env: env}, tc.src)
		if err != nil {
			t.Fatalf("%q: %v", tc.src, err)
		}
		if got != tc.want {
			t.Fatalf("%q: want %d, got %d", tc.src, tc.want, got)
		}
		if env.m[tc.name] != tc.after {
			t.Fatalf("%q: want %s=%s, got %s", tc.src, tc.name, tc.after, env.m[tc.name])
		}
	}
}

type writableEnv struct {
	m map[string]string
}

func (e writableEnv) Get(name string) Variable {
	v, ok := e.m[name]
	if !ok {
		return Variable{}
	}
	return Variable{Set: true, Str: v}
}

func (e writableEnv) Each(fn func(string, Variable) bool) {
	for k, v := range e.m {
		if !fn(k, Variable{Set: true, Str: v}) {
			return
		}
	}
}

func (e writableEnv) Set(name string, vr Variable) error {
	e.m[name] = vr.Str
	return nil
}

func TestArithmErrors(t *testing.T) {
	env := ListEnviron()
	for _, src := range []string{
		"1/0",
		"1%0",
		"1+",
		"(1",
		"1?2",
		"2=3",
		"++5",
	} {
		if _, err := Arithm(&Config{Env: env}, src); err == nil {
			t.Fatalf("%q: want an error", src)
		}
	}
}
