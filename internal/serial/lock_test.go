//go:build unix

package serial

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockPath(t *testing.T) {
	if got := LockPath("/var/lock", "/dev/ttyUSB0"); got != "/var/lock/LCK..ttyUSB0" {
		t.Errorf("LockPath = %q", got)
	}
}

func TestLockCreatesPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LCK..ttyS0")

	lock, err := Lock(path)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := fmt.Sprintf("%10d\n", os.Getpid()); string(b) != want {
		t.Errorf("content = %q, want %q", b, want)
	}

	// relocking from the same process succeeds
	if _, err := Lock(path); err != nil {
		t.Errorf("relock: %v", err)
	}

	if err := lock.Unlock(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file still present: %v", err)
	}
}

func TestLockStale(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero pid", fmt.Sprintf("%10d\n", 0)},
		{"garbage", "not a pid\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "LCK..ttyS1")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			lock, err := Lock(path)
			if err != nil {
				t.Fatalf("Lock: %v", err)
			}
			defer lock.Unlock()

			b, _ := os.ReadFile(path)
			if strings.TrimSpace(string(b)) != fmt.Sprint(os.Getpid()) {
				t.Errorf("content = %q", b)
			}
		})
	}
}

func TestLockHeld(t *testing.T) {
	if os.Getpid() == 1 {
		t.Skip("running as init")
	}
	path := filepath.Join(t.TempDir(), "LCK..ttyS2")
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%10d\n", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Lock(path)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("Lock error = %v, want ErrLocked", err)
	}
}
