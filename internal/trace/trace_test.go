package trace

import (
	"bytes"
	"testing"

	"github.com/smallnest/ringbuffer"
)

func TestRollingWindow(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		writes []string
		want   string
	}{
		{"fits", 8, []string{"abc", "def"}, "abcdef"},
		{"drops oldest", 8, []string{"abcdef", "ghij"}, "cdefghij"},
		{"exact", 4, []string{"abcd"}, "abcd"},
		{"larger than window", 4, []string{"abcdefgh"}, "efgh"},
		{"many small", 3, []string{"a", "b", "c", "d", "e"}, "cde"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(tt.size)
			for _, w := range tt.writes {
				tr.FromDevice([]byte(w))
			}
			got := tr.Snapshot().FromDevice
			if string(got) != tt.want {
				t.Errorf("window = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnapshotDoesNotConsume(t *testing.T) {
	tr := New(16)
	tr.ToDevice([]byte{0x01, 0xff})
	first := tr.Snapshot()
	second := tr.Snapshot()
	if !bytes.Equal(first.ToDevice, second.ToDevice) {
		t.Fatalf("snapshots differ: %x vs %x", first.ToDevice, second.ToDevice)
	}
	if len(first.FromDevice) != 0 {
		t.Errorf("from device = %x, want empty", first.FromDevice)
	}

	tr.ToDevice([]byte{0x02})
	if got := tr.Snapshot().ToDevice; !bytes.Equal(got, []byte{0x01, 0xff, 0x02}) {
		t.Errorf("after append = %x", got)
	}
}

func TestDump(t *testing.T) {
	tr := New(16)
	tr.FromDevice([]byte{0xde, 0xad})
	d := tr.Snapshot().Dump()
	if d.FromDevice != "dead" {
		t.Errorf("hex = %q, want dead", d.FromDevice)
	}
	if d.ToDevice != "" || d.ToDeviceDump != "" {
		t.Errorf("empty direction rendered as %q / %q", d.ToDevice, d.ToDeviceDump)
	}
}

func TestDisabled(t *testing.T) {
	tr := New(0)
	if tr != nil {
		t.Fatal("New(0) should disable tracing")
	}
	tr.FromDevice([]byte("x"))
	if s := tr.Snapshot(); s.FromDevice != nil || s.ToDevice != nil {
		t.Errorf("nil trace snapshot = %+v", s)
	}
}

// shortWindow accepts at most limit bytes per write.
type shortWindow struct {
	*ringbuffer.RingBuffer
	limit int
}

func (w *shortWindow) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		p = p[:w.limit]
	}
	return w.RingBuffer.Write(p)
}

func TestShortWriteClearsWindow(t *testing.T) {
	tr := New(16)
	tr.rx = &shortWindow{RingBuffer: ringbuffer.New(16), limit: 4}

	tr.FromDevice([]byte("abc"))
	tr.FromDevice([]byte("defgh"))

	s := tr.Snapshot()
	if len(s.FromDevice) != 0 {
		t.Errorf("window = %q, want empty after a short write", s.FromDevice)
	}
	if s.Lost != 8 {
		t.Errorf("lost = %d, want 8", s.Lost)
	}
	if d := s.Dump(); d.Lost != 8 {
		t.Errorf("dump lost = %d, want 8", d.Lost)
	}
}
