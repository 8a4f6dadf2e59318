package core

import (
	"reflect"
	"testing"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"/cmd", []string{"/cmd"}},
		{"/cmd a b", []string{"/cmd", "a", "b"}},
		{`/cmd "a b" c`, []string{"/cmd", "a b", "c"}},
		{`/cmd 'a b'`, []string{"/cmd", "a b"}},
		{`/cmd a\ b`, []string{"/cmd", "a b"}},
		{"/cmd\ta\nb", []string{"/cmd", "a", "b"}},
		{`/groupsign add_group 123456`, []string{"/groupsign", "add_group", "123456"}},
	}
	for _, tc := range tests {
		got := tokenizeCommandLine(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewReqIDUnique(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := newReqID()
		if id == "" {
			t.Fatal("empty request id")
		}
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}

func TestCommandTree(t *testing.T) {
	t.Parallel()

	root := newRoot()
	root.add(splitRoute("groupsign status"), Command{Route: "groupsign status"})
	root.add(splitRoute("groupsign add_group"), Command{Route: "groupsign add_group"})
	root.add(splitRoute("ping"), Command{Route: "ping"})

	if n := root.find([]string{"groupsign", "status"}); n == nil || n.cmd == nil {
		t.Fatal("nested route not found")
	}
	if n := root.find([]string{"groupsign"}); n == nil || n.cmd != nil {
		t.Error("container node should exist without a handler")
	}
	if n := root.find([]string{"GROUPSIGN", "Status"}); n == nil {
		t.Error("lookup should be case-insensitive")
	}
	if root.find([]string{"nope"}) != nil {
		t.Error("unknown route must return nil")
	}

	gs, _ := root.child("groupsign")
	names := gs.childNames()
	if len(names) != 2 || names[0] != "add_group" || names[1] != "status" {
		t.Errorf("childNames = %v", names)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := parseDurationField("x", ""); err != nil || d != 0 {
		t.Errorf("empty = (%v, %v)", d, err)
	}
	if d, err := parseDurationField("x", "90s"); err != nil || d.Seconds() != 90 {
		t.Errorf("90s = (%v, %v)", d, err)
	}
	if _, err := parseDurationField("x", "-5s"); err == nil {
		t.Error("negative duration must be rejected")
	}
	if _, err := parseDurationField("x", "bogus"); err == nil {
		t.Error("garbage must be rejected")
	}
}
