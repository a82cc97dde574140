package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "watcher.lua")
	if err := os.WriteFile(script, []byte("return {}"), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	lock, err := Acquire(script)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(lock.path); err != nil {
		t.Fatalf("lockfile not created: %v", err)
	}

	lock.Release()
	if _, err := os.Stat(lock.path); !os.IsNotExist(err) {
		t.Errorf("lockfile still present after Release")
	}
}

func TestAcquireTwiceFails(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "watcher.lua")
	if err := os.WriteFile(script, []byte("return {}"), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	first, err := Acquire(script)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	_, err = Acquire(script)
	var alreadyRunning *ErrAlreadyRunning
	if !errors.As(err, &alreadyRunning) {
		t.Fatalf("second Acquire = %v, want ErrAlreadyRunning", err)
	}
}
