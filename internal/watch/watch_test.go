package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatcherCoalescesBurstIntoOneEvent(t *testing.T) {
	dir := t.TempDir()

	w, err := New(zap.NewNop(), dir, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	target := filepath.Join(dir, "a.txt")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(target, []byte("x"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.After(500 * time.Millisecond)
	finalSeen := 0
	for finalSeen == 0 {
		select {
		case ev := <-w.Events():
			if ev.Kind == Write && ev.Path == target {
				finalSeen++
			}
		case <-deadline:
			t.Fatal("timed out waiting for coalesced write event")
		}
	}

	quiet := time.After(150 * time.Millisecond)
	for {
		select {
		case ev := <-w.Events():
			if ev.Kind == Write && ev.Path == target {
				t.Fatal("burst produced more than one coalesced write event")
			}
		case <-quiet:
			return
		}
	}
}
