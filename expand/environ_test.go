// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package expand

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestListEnviron(t *testing.T) {
	env := ListEnviron("A=1", "B=two", "B=three", "malformed", "=skipped")

	if got := env.Get("A").Str; got != "1" {
		t.Fatalf("A: got %q", got)
	}
	if got := env.Get("B").Str; got != "three" {
		t.Fatalf("B: got %q", got)
	}
	if env.Get("missing").IsSet() {
		t.Fatal("missing must be unset")
	}
	if env.Get("malformed").IsSet() {
		t.Fatal("malformed entries must be dropped")
	}

	var names []string
	env.Each(func(name string, vr Variable) bool {
		names = append(names, name+"="+vr.Str)
		return true
	})
	want := []string{"A=1", "B=three"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFuncEnviron(t *testing.T) {
	env := FuncEnviron(func(name string) string {
		if name == "ONLY" {
			return "value"
		}
		return ""
	})
	if got := env.Get("ONLY"); !got.IsSet() || got.Str != "value" || !got.Exported {
		t.Fatalf("got %+v", got)
	}
	if env.Get("other").IsSet() {
		t.Fatal("other must be unset")
	}
}

func TestVariableString(t *testing.T) {
	if got := StringVar("x").String(); got != "x" {
		t.Fatalf("got %q", got)
	}
	v := Variable{Set: true, List: []string{"a", "b"}}
	if got := v.String(); got != "a b" {
		t.Fatalf("got %q", got)
	}
	if (Variable{}).IsSet() {
		t.Fatal("zero Variable must be unset")
	}
}
