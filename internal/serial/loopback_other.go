//go:build !linux && !darwin

package serial

import (
	"log/slog"
	"runtime"

	"github.com/pkg/errors"
)

// Loopback is only available on Linux and macOS.
type Loopback struct {
	*Memory
}

func NewLoopback(log *slog.Logger) (*Loopback, error) {
	return nil, errors.Errorf("loopback device not supported on %s", runtime.GOOS)
}

func (l *Loopback) Name() string                { return LoopbackName }
func (l *Loopback) ReadFd() int                 { return -1 }
func (l *Loopback) WriteFd() int                { return -1 }
func (l *Loopback) Read(b []byte) (int, error)  { return 0, errors.New("not supported") }
func (l *Loopback) Write(b []byte) (int, error) { return 0, errors.New("not supported") }
func (l *Loopback) Close() error                { return nil }
