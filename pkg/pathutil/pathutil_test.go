package pathutil

import "testing"

func TestBasename(t *testing.T) {
	cases := []struct {
		in       string
		want     string
		wantOk   bool
	}{
		{"/a/b/c.txt", "c.txt", true},
		{"c.txt", "c.txt", true},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := Basename(c.in)
		if got != c.want || ok != c.wantOk {
			t.Errorf("Basename(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.wantOk)
		}
	}
}

func TestDirname(t *testing.T) {
	got, ok := Dirname("/a/b/c.txt")
	if !ok || got != "/a/b" {
		t.Errorf("Dirname = (%q, %v), want (/a/b, true)", got, ok)
	}
	if _, ok := Dirname(""); ok {
		t.Errorf("Dirname(\"\") should report ok=false")
	}
}

func TestExt(t *testing.T) {
	got, ok := Ext("/a/b/c.txt")
	if !ok || got != "txt" {
		t.Errorf("Ext = (%q, %v), want (txt, true)", got, ok)
	}
	if _, ok := Ext("/a/b/noext"); ok {
		t.Errorf("Ext(noext) should report ok=false")
	}
}
