package session_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"git2.jad.ru/MeterRS485/sercd/internal/ringbuf"
	"git2.jad.ru/MeterRS485/sercd/internal/session"
)

// initialNegotiation is WILL/DO BINARY, WILL ECHO, WILL/DO SGA, DO COMPORT.
const initialNegotiation = "fffb00" + "fffd00" + "fffb01" + "fffb03" + "fffd03" + "fffd2c"

func hexBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	Expect(err).NotTo(HaveOccurred())
	return b
}

var _ = Describe("Loop", func() {
	var (
		opts     session.Options
		poller   *readyPoller
		dev      *fakeDevice
		openErr  error
		listener *fakeListener
		rec      *recorder
		manager  *session.Manager
		loop     *session.Loop
	)

	newLoop := func() {
		loop = session.New(opts, poller, func(string) (session.Device, error) {
			if openErr != nil {
				return nil, openErr
			}
			return dev, nil
		}, logger)
		loop.SetObserver(session.Observers{rec, manager})
	}

	step := func(n int) {
		for i := 0; i < n; i++ {
			_, err := loop.Step()
			Expect(err).NotTo(HaveOccurred())
		}
	}

	// connect accepts conn and lets the initial negotiation go out.
	connect := func(conn *fakeConn) {
		listener.queue = append(listener.queue, conn)
		step(2)
		Expect(conn.take()).To(Equal(hexBytes(initialNegotiation)))
	}

	BeforeEach(func() {
		opts = session.Options{
			DeviceName: "fake",
			Signature:  "sercd test fake",
			BufferSize: 2048,
		}
		poller = &readyPoller{}
		dev = newDevice()
		openErr = nil
		listener = &fakeListener{}
		rec = &recorder{}
		manager = session.NewManager()
	})

	JustBeforeEach(func() {
		newLoop()
		loop.SetListener(listener)
	})

	Context("Connection setup", func() {
		It("should send the initial negotiation and open the device", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			Expect(rec.states()).To(Equal([]session.State{session.Connected, session.PortOpened}))
			Expect(loop.Session()).NotTo(BeNil())
			Expect(loop.Session().Remote).To(Equal("10.0.0.1:4000"))
			Expect(loop.Session().PortControl()).To(BeFalse())
		})

		It("should drop the client when the device cannot be opened", func() {
			openErr = errors.New("no such device")
			conn := newConn("10.0.0.1:4000")
			listener.queue = append(listener.queue, conn)
			step(1)

			Expect(conn.closed).To(BeTrue())
			Expect(loop.Session()).To(BeNil())
			Expect(rec.seen).To(Equal([]transition{
				{session.Connected, ""},
				{session.Ready, session.ReasonOpenFailed},
			}))
		})

		It("should turn away a second client while a session is active", func() {
			first := newConn("10.0.0.1:4000")
			connect(first)

			second := newConn("10.0.0.2:4000")
			listener.queue = append(listener.queue, second)
			step(1)

			Expect(second.closed).To(BeTrue())
			Expect(second.out).To(BeEmpty())
			Expect(loop.Session().Remote).To(Equal("10.0.0.1:4000"))
			Expect(manager.Stats().Rejected).To(Equal(uint64(1)))
		})

		It("should tell the listener while the port is taken", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)
			Expect(listener.busy).To(Equal([]bool{true}))

			conn.eof = true
			step(1)
			Expect(loop.Session()).To(BeNil())
			Expect(listener.busy).To(Equal([]bool{true, false}))
		})
	})

	Context("Com port control", func() {
		It("should answer a baud rate query after WILL COM-PORT-OPTION", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			// our DO is pending, so the WILL needs no reply
			conn.send(hexBytes("fffb2c")...)
			conn.send(hexBytes("fffa2c0100000000fff0")...)
			step(10)

			Expect(loop.Session().PortControl()).To(BeTrue())
			Expect(conn.take()).To(Equal(hexBytes("fffa2c6500002580fff0")))
		})

		It("should agree to DO COM-PORT-OPTION with WILL", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			conn.send(hexBytes("fffd2c")...)
			step(3)

			Expect(conn.take()).To(Equal(hexBytes("fffb2c")))
			Expect(loop.Session().PortControl()).To(BeTrue())
		})

		It("should keep serving a client without RFC 2217", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			conn.send(hexBytes("fffc2c")...)
			dev.in = []byte("data")
			step(3)

			Expect(loop.Session()).NotTo(BeNil())
			Expect(loop.Session().PortControl()).To(BeFalse())
			Expect(conn.take()).To(Equal([]byte("data")))
		})

		It("should ignore subnegotiations before the option is enabled", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			conn.send(hexBytes("fffa2c0100000000fff0")...)
			step(10)

			Expect(conn.take()).To(BeEmpty())
		})

		It("should apply a baud rate change to the device", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			conn.send(hexBytes("fffb2c")...)
			conn.send(hexBytes("fffa2c010001c200fff0")...)
			step(10)

			Expect(dev.Baud).To(Equal(uint32(115200)))
			Expect(conn.take()).To(Equal(hexBytes("fffa2c650001c200fff0")))
		})
	})

	Context("Modem state", func() {
		BeforeEach(func() {
			opts.PollInterval = time.Nanosecond
		})

		It("should notify the client when a modem line changes", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			conn.send(hexBytes("fffb2c")...)
			step(3)
			Expect(conn.take()).To(BeEmpty())

			// DTR on raises DSR and RLSD on the null-modem
			conn.send(hexBytes("fffa2c0508fff0")...)
			step(10)

			Expect(conn.take()).To(Equal(hexBytes("fffa2c6901fff0" + "fffa2c6baafff0")))
		})

		It("should not poll without com port control", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			dev.Memory.DTR = true
			step(5)

			Expect(conn.take()).To(BeEmpty())
		})
	})

	Context("Flow control", func() {
		It("should stop reading the device while suspended", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			conn.send(hexBytes("fffb2c")...)
			conn.send(hexBytes("fffa2c08fff0")...)
			step(5)

			dev.in = []byte("held")
			step(5)
			Expect(conn.take()).To(BeEmpty())
			Expect(dev.in).To(Equal([]byte("held")))

			conn.send(hexBytes("fffa2c09fff0")...)
			step(5)
			Expect(conn.take()).To(Equal([]byte("held")))
		})

		It("should size device reads by the room left for escaped bytes", func() {
			opts.BufferSize = 1019 // 1000 bytes of room after the negotiation
			newLoop()
			loop.SetListener(listener)

			conn := newConn("10.0.0.1:4000")
			listener.queue = append(listener.queue, conn)
			conn.blocked = true
			dev.in = bytes.Repeat([]byte{'a'}, 3000)

			step(20)
			Expect(dev.readSizes).NotTo(BeEmpty())
			Expect(dev.readSizes[0]).To(Equal(500))
			consumed := 3000 - len(dev.in)
			Expect(consumed).To(BeNumerically("<=", 1000))

			conn.blocked = false
			step(100)
			Expect(dev.in).To(BeEmpty())
			out := conn.take()
			Expect(out[:18]).To(Equal(hexBytes(initialNegotiation)))
			Expect(out[18:]).To(Equal(bytes.Repeat([]byte{'a'}, 3000)))
		})
	})

	Context("Network reads", func() {
		DescribeTable("should size reads by the room left for replies",
			func(bufferSize, want int) {
				opts.BufferSize = bufferSize
				newLoop()
				loop.SetListener(listener)

				conn := newConn("10.0.0.1:4000")
				connect(conn)

				Expect(conn.readSizes).NotTo(BeEmpty())
				Expect(conn.readSizes[0]).To(Equal(want))
			},
			Entry("default buffers", 2048, 3),
			Entry("large buffers", 8192, 15),
			Entry("capped at one chunk", 300000, 512),
		)
	})

	Context("Data relay", func() {
		It("should relay client data to the device without Telnet escapes", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			conn.send('x', 0xff, 0xff, 'y', '\r', 0x00, 'z')
			step(10)

			Expect(dev.out).To(Equal([]byte{'x', 0xff, 'y', '\r', 'z'}))
			Expect(loop.Session().BytesIn()).To(Equal(int64(5)))
		})

		It("should escape device data for the client", func() {
			conn := newConn("10.0.0.1:4000")
			connect(conn)

			dev.in = []byte{'a', 0xff, '\r', 'b'}
			step(2)

			Expect(conn.take()).To(Equal([]byte{'a', 0xff, 0xff, '\r', 0x00, 'b'}))
			Expect(loop.Session().BytesOut()).To(Equal(int64(4)))
		})
	})

	Context("Teardown", func() {
		It("should drop a closed client and start the next one fresh", func() {
			first := newConn("10.0.0.1:4000")
			connect(first)
			first.send(hexBytes("fffb2c")...)
			step(2)
			Expect(loop.Session().PortControl()).To(BeTrue())

			first.eof = true
			step(1)
			Expect(first.closed).To(BeTrue())
			Expect(dev.closed).To(BeTrue())
			Expect(loop.Session()).To(BeNil())
			Expect(rec.seen[len(rec.seen)-1]).To(Equal(transition{session.Ready, session.ReasonNetClosed}))

			last, ok := manager.Last()
			Expect(ok).To(BeTrue())
			Expect(last.Remote).To(Equal("10.0.0.1:4000"))
			Expect(last.EndedAt).NotTo(BeNil())

			dev = newDevice()
			second := newConn("10.0.0.2:4000")
			connect(second)
			Expect(loop.Session().PortControl()).To(BeFalse())
			Expect(manager.Stats().Sessions).To(Equal(uint64(2)))
		})
	})

	Context("Run", func() {
		JustBeforeEach(func() {
			newLoop()
		})

		It("should exit once an attached connection drops", func() {
			conn := newConn("stdin")
			conn.eof = true
			loop.Attach(conn)

			Expect(loop.Run(context.Background())).To(Succeed())
			Expect(conn.take()).To(Equal(hexBytes(initialNegotiation)))
			Expect(rec.seen).To(Equal([]transition{
				{session.Ready, ""},
				{session.Connected, ""},
				{session.PortOpened, ""},
				{session.Ready, session.ReasonNetClosed},
				{session.Stopped, ""},
			}))
			Expect(manager.State()).To(Equal(session.Stopped))
		})

		It("should crash when the negotiation overflows the buffer", func() {
			opts.BufferSize = 10
			newLoop()

			conn := newConn("stdin")
			loop.Attach(conn)

			err := loop.Run(context.Background())
			Expect(errors.Is(err, ringbuf.ErrOverflow)).To(BeTrue())
			Expect(conn.closed).To(BeTrue())
			Expect(loop.Session()).To(BeNil())
			Expect(rec.seen[len(rec.seen)-1]).To(Equal(transition{session.Crashed, session.ReasonCrash}))
			Expect(manager.State()).To(Equal(session.Crashed))
		})

		It("should shut down the session when the context ends", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			conn := newConn("stdin")
			loop.Attach(conn)
			loop.SetListener(listener)

			Expect(loop.Run(ctx)).To(Succeed())
			Expect(conn.closed).To(BeTrue())
			Expect(rec.seen[len(rec.seen)-1]).To(Equal(transition{session.Stopped, session.ReasonShutdown}))
		})
	})
})
