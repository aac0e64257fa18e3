//go:build !linux && !darwin

package poll

import (
	"runtime"
	"time"

	"github.com/pkg/errors"

	"git2.jad.ru/MeterRS485/sercd/internal/session"
)

// Poller is only available on Linux and macOS.
type Poller struct{}

func New() (*Poller, error) {
	return nil, errors.Errorf("poller not supported on %s", runtime.GOOS)
}

func (p *Poller) Wait([]session.Interest, time.Duration) (session.Event, error) {
	return 0, errors.New("not supported")
}

func (p *Poller) Wake()        {}
func (p *Poller) Close() error { return nil }
