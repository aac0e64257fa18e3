package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func listen(t *testing.T, opts Options) *Listener {
	t.Helper()
	opts.Addr = "127.0.0.1:0"
	ln, err := Listen(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func accept(t *testing.T, ln *Listener) *Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := ln.Accept()
		if err == nil {
			t.Cleanup(func() { c.Close() })
			return c
		}
		if !errors.Is(err, syscall.EAGAIN) {
			t.Fatalf("Accept: %v", err)
		}
	}
	t.Fatal("no connection accepted")
	return nil
}

// readAll reads from c until want bytes arrived, retrying on EAGAIN.
func readAll(t *testing.T, c *Conn, want int) []byte {
	t.Helper()
	var got []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		n, err := c.Read(buf)
		if errors.Is(err, syscall.EAGAIN) {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	return got
}

func TestAcceptWithoutPending(t *testing.T) {
	ln := listen(t, Options{})
	if _, err := ln.Accept(); !errors.Is(err, syscall.EAGAIN) {
		t.Fatalf("Accept = %v, want EAGAIN", err)
	}
}

func TestConnReadWrite(t *testing.T) {
	ln := listen(t, Options{KeepAlive: &KeepAlive{Idle: 10 * time.Second, Interval: 5 * time.Second, Count: 3}})

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	c := accept(t, ln)
	if c.ReadFd() < 0 || c.ReadFd() != c.WriteFd() {
		t.Errorf("descriptors = %d/%d", c.ReadFd(), c.WriteFd())
	}
	if c.RemoteAddr() != client.LocalAddr().String() {
		t.Errorf("remote = %q, want %q", c.RemoteAddr(), client.LocalAddr())
	}

	if _, err := c.Read(make([]byte, 8)); !errors.Is(err, syscall.EAGAIN) {
		t.Errorf("idle read = %v, want EAGAIN", err)
	}

	client.Write([]byte("ping"))
	if got := readAll(t, c, 4); string(got) != "ping" {
		t.Errorf("read %q, want ping", got)
	}

	if _, err := c.Write([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(client, buf); err != nil || string(buf) != "pong" {
		t.Errorf("client read %q, %v", buf, err)
	}

	client.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err := c.Read(buf)
		if errors.Is(err, syscall.EAGAIN) {
			time.Sleep(time.Millisecond)
			continue
		}
		if !errors.Is(err, io.EOF) {
			t.Errorf("read after close = %v, want EOF", err)
		}
		return
	}
	t.Error("no EOF after client close")
}

func TestProxyHeader(t *testing.T) {
	tests := []struct {
		name       string
		send       string
		wantRemote string
		wantData   string
	}{
		{
			name:       "v1 header",
			send:       "PROXY TCP4 192.0.2.1 192.0.2.2 5555 7000\r\nhello",
			wantRemote: "192.0.2.1:5555",
			wantData:   "hello",
		},
		{
			name:     "no header",
			send:     "\xff\xfb\x2c",
			wantData: "\xff\xfb\x2c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln := listen(t, Options{ProxyProtocol: true, HeaderTimeout: 2 * time.Second})

			client, err := net.Dial("tcp", ln.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer client.Close()
			client.Write([]byte(tt.send))

			c := accept(t, ln)
			want := tt.wantRemote
			if want == "" {
				want = client.LocalAddr().String()
			}
			if c.RemoteAddr() != want {
				t.Errorf("remote = %q, want %q", c.RemoteAddr(), want)
			}
			if got := readAll(t, c, len(tt.wantData)); string(got) != tt.wantData {
				t.Errorf("data = %q, want %q", got, tt.wantData)
			}
		})
	}
}

func TestTuneSetsSocketOptions(t *testing.T) {
	ln := listen(t, Options{})

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	c := accept(t, ln)
	tos, err := unix.GetsockoptInt(c.ReadFd(), unix.IPPROTO_IP, unix.IP_TOS)
	if err != nil {
		t.Fatal(err)
	}
	if tos != iptosLowDelay {
		t.Errorf("IP_TOS = %#x, want %#x", tos, iptosLowDelay)
	}
	oob, err := unix.GetsockoptInt(c.ReadFd(), unix.SOL_SOCKET, unix.SO_OOBINLINE)
	if err != nil {
		t.Fatal(err)
	}
	if oob == 0 {
		t.Error("SO_OOBINLINE not set")
	}
}

// waitReadable polls fd until it can be read or two seconds pass.
func waitReadable(t *testing.T, fd int) {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 2000)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n == 0 {
		t.Fatal("descriptor never became readable")
	}
}

func TestProxyHeaderReadOffLoop(t *testing.T) {
	ln := listen(t, Options{ProxyProtocol: true, HeaderTimeout: 2 * time.Second})

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if _, err := ln.Accept(); !errors.Is(err, syscall.EAGAIN) {
		t.Fatalf("Accept before header = %v, want EAGAIN", err)
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("Accept waited %v for a header", d)
	}

	client.Write([]byte("PROXY TCP4 192.0.2.1 192.0.2.2 5555 7000\r\n"))
	waitReadable(t, ln.Fd())
	c, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept after header: %v", err)
	}
	defer c.Close()
	if c.RemoteAddr() != "192.0.2.1:5555" {
		t.Errorf("remote = %q, want 192.0.2.1:5555", c.RemoteAddr())
	}
}

func TestBusyListenerSkipsProxyHeader(t *testing.T) {
	ln := listen(t, Options{ProxyProtocol: true, HeaderTimeout: 5 * time.Second})
	ln.SetBusy(true)

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	start := time.Now()
	waitReadable(t, ln.Fd())
	c, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("busy Accept took %v", d)
	}
	if c.RemoteAddr() != client.LocalAddr().String() {
		t.Errorf("remote = %q, want %q", c.RemoteAddr(), client.LocalAddr())
	}
	c.Close()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("client read = %v, want EOF", err)
	}
}

func TestSilentClientDroppedAfterHeaderTimeout(t *testing.T) {
	ln := listen(t, Options{ProxyProtocol: true, HeaderTimeout: 100 * time.Millisecond})

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("client read = %v, want EOF", err)
	}
	if _, err := ln.Accept(); !errors.Is(err, syscall.EAGAIN) {
		t.Errorf("Accept = %v, want EAGAIN", err)
	}
}
