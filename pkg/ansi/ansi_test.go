package ansi

import "testing"

func TestStripRemovesColorCodes(t *testing.T) {
	in := "\x1b[31mError:\x1b[0m build failed"
	want := "Error: build failed"
	if got := Strip(in); got != want {
		t.Errorf("Strip(%q) = %q, want %q", in, got, want)
	}
}

func TestStripRemovesShiftInOut(t *testing.T) {
	in := "hello\x0eworld\x0f"
	want := "helloworld"
	if got := Strip(in); got != want {
		t.Errorf("Strip(%q) = %q, want %q", in, got, want)
	}
}

func TestStripLeavesPlainTextAlone(t *testing.T) {
	in := "just a plain line"
	if got := Strip(in); got != in {
		t.Errorf("Strip(%q) = %q, want unchanged", in, got)
	}
}

func TestStripRemovesEscParen(t *testing.T) {
	in := "\x1b(Bline\x1b(B"
	if got := Strip(in); got != "line" {
		t.Errorf("Strip(%q) = %q, want %q", in, got, "line")
	}
}
