package errchain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSprintNil(t *testing.T) {
	if got := Sprint(nil); got != "<nil>" {
		t.Errorf("Sprint(nil) = %q, want <nil>", got)
	}
}

func TestSprintWrapsEachLayer(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("load script: %w", base)
	out := Sprint(wrapped)
	if !strings.Contains(out, "boom") || !strings.Contains(out, "load script") {
		t.Errorf("Sprint output missing expected layers: %q", out)
	}
	if strings.Count(out, "\n") != 2 {
		t.Errorf("expected one line per chain layer, got: %q", out)
	}
}

func TestDumpVerboseWritesSomething(t *testing.T) {
	var sb strings.Builder
	DumpVerbose(&sb, fmt.Errorf("outer: %w", errors.New("inner")))
	if sb.Len() == 0 {
		t.Error("expected non-empty verbose dump")
	}
}
