package events

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"git2.jad.ru/MeterRS485/sercd/internal/session"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []message
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{topic, retained, payload.([]byte)})
	return doneToken{}
}

func newTestPublisher() (*Publisher, *fakeClient) {
	fc := &fakeClient{}
	p := newPublisher(fc, "sercd/port1", "/dev/ttyS0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return p, fc
}

func TestStatePublishedRetained(t *testing.T) {
	p, fc := newTestPublisher()
	p.StateChanged(session.Ready, nil)

	if len(fc.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(fc.msgs))
	}
	m := fc.msgs[0]
	if m.topic != "sercd/port1/state" || !m.retained {
		t.Errorf("message = %s retained=%v", m.topic, m.retained)
	}
	want := `{"state":"ready","time":"2024-05-01T12:00:00Z","device":"/dev/ttyS0"}`
	if string(m.payload) != want {
		t.Errorf("payload = %s\nwant      %s", m.payload, want)
	}
}

func TestRejected(t *testing.T) {
	p, fc := newTestPublisher()
	p.Rejected("10.0.0.9:5000")

	if len(fc.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(fc.msgs))
	}
	m := fc.msgs[0]
	if m.topic != "sercd/port1/rejected" || m.retained {
		t.Errorf("message = %s retained=%v", m.topic, m.retained)
	}
	var ev Event
	if err := json.Unmarshal(m.payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Remote != "10.0.0.9:5000" {
		t.Errorf("remote = %q", ev.Remote)
	}
}

func TestRejectedCarriesCurrentState(t *testing.T) {
	p, fc := newTestPublisher()
	p.StateChanged(session.PortOpened, nil)
	p.Rejected("10.0.0.9:5000")

	if len(fc.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(fc.msgs))
	}
	want := `{"state":"port_opened","time":"2024-05-01T12:00:00Z","device":"/dev/ttyS0","remote":"10.0.0.9:5000"}`
	if got := string(fc.msgs[1].payload); got != want {
		t.Errorf("payload = %s\nwant      %s", got, want)
	}
}

func TestNilPublisher(t *testing.T) {
	var p *Publisher
	p.StateChanged(session.Crashed, nil)
	p.Rejected("x")
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestConnectNeedsBroker(t *testing.T) {
	if _, err := Connect(Options{Topic: "sercd"}, "/dev/ttyS0", nil); err == nil {
		t.Error("expected an error without a broker")
	}
}
