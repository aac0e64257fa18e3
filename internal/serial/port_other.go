//go:build !linux

package serial

import (
	"log/slog"
	"runtime"

	"github.com/pkg/errors"

	"git2.jad.ru/MeterRS485/sercd/internal/rfc2217"
)

// Port is only available on Linux.
type Port struct{ rfc2217.Port }

func Open(name, lockDir string, log *slog.Logger) (*Port, error) {
	return nil, errors.Errorf("open %s: tty control not supported on %s", name, runtime.GOOS)
}

func (p *Port) Name() string                { return "" }
func (p *Port) ReadFd() int                 { return -1 }
func (p *Port) WriteFd() int                { return -1 }
func (p *Port) Read(b []byte) (int, error)  { return 0, errors.New("not supported") }
func (p *Port) Write(b []byte) (int, error) { return 0, errors.New("not supported") }
func (p *Port) Close() error                { return nil }
