package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"git2.jad.ru/MeterRS485/sercd/internal/api"
	"git2.jad.ru/MeterRS485/sercd/internal/config"
	"git2.jad.ru/MeterRS485/sercd/internal/connection"
	"git2.jad.ru/MeterRS485/sercd/internal/events"
	"git2.jad.ru/MeterRS485/sercd/internal/history"
	"git2.jad.ru/MeterRS485/sercd/internal/logger"
	"git2.jad.ru/MeterRS485/sercd/internal/metrics"
	"git2.jad.ru/MeterRS485/sercd/internal/poll"
	"git2.jad.ru/MeterRS485/sercd/internal/serial"
	"git2.jad.ru/MeterRS485/sercd/internal/session"
	"git2.jad.ru/MeterRS485/sercd/internal/trace"
)

type serveFlags struct {
	cisco         bool
	stderr        bool
	inetd         bool
	port          string
	listen        string
	lockDir       string
	logLevel      string
	logFile       string
	apiPort       string
	bufferSize    int
	traceSize     int
	historyDB     string
	proxyProtocol bool
}

func newServeCmd(configPath *string) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "sercd [flags] [device [poll-interval-ms]]",
		Short: "RFC 2217 serial port redirector",
		Long: "sercd shares a serial port over the network using the Telnet\n" +
			"COM-PORT-OPTION (RFC 2217). It runs standalone or under inetd.",
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, *configPath, args, f)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	f.bind(cmd.Flags())
	return cmd
}

func (f *serveFlags) bind(fl *pflag.FlagSet) {
	fl.BoolVarP(&f.cisco, "cisco", "i", false, "Cisco IOS bug compatibility")
	fl.BoolVarP(&f.stderr, "stderr", "e", false, "log to standard error only, ignoring the log file")
	fl.BoolVar(&f.inetd, "inetd", false, "serve the connection on stdin/stdout")
	fl.StringVarP(&f.port, "port", "p", "", "listen on this port instead of 7000")
	fl.StringVarP(&f.listen, "listen", "l", "", "standalone mode, bind to this address; empty for all")
	fl.StringVar(&f.lockDir, "lock-dir", "", "UUCP lock file directory; empty disables locking")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn, error or a syslog priority 0-7")
	fl.StringVar(&f.logFile, "log-file", "", "also append logs to this file")
	fl.StringVar(&f.apiPort, "api-port", "", "serve the status API on this port")
	fl.IntVar(&f.bufferSize, "buffer-size", 0, "size of each direction's buffer in bytes")
	fl.IntVar(&f.traceSize, "trace-size", 0, "bytes of recent traffic kept per direction; 0 disables")
	fl.StringVar(&f.historyDB, "history-db", "", "SQLite file for session history")
	fl.BoolVar(&f.proxyProtocol, "proxy-protocol", false, "expect a PROXY protocol header on each connection")
}

// buildConfig layers environment defaults, the config file, explicit flags
// and the positional arguments, in that order.
func buildConfig(cmd *cobra.Command, configPath string, args []string, f *serveFlags) (*config.Config, error) {
	cfg := config.Load()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, err
		}
	}

	fl := cmd.Flags()
	if fl.Changed("cisco") {
		cfg.CiscoCompat = f.cisco
	}
	if fl.Changed("stderr") && f.stderr {
		cfg.LogFile = ""
	}
	if fl.Changed("inetd") {
		cfg.Inetd = f.inetd
	}
	if fl.Changed("port") {
		cfg.Port = f.port
	}
	if fl.Changed("listen") {
		cfg.ListenAddr = f.listen
		if cfg.ListenAddr == "" {
			cfg.ListenAddr = "0.0.0.0"
		}
		cfg.Inetd = false
	}
	if fl.Changed("lock-dir") {
		cfg.LockDir = f.lockDir
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if fl.Changed("api-port") {
		cfg.APIPort = f.apiPort
	}
	if fl.Changed("buffer-size") {
		cfg.BufferSize = f.bufferSize
	}
	if fl.Changed("trace-size") {
		cfg.TraceSize = f.traceSize
	}
	if fl.Changed("history-db") {
		cfg.HistoryDB = f.historyDB
	}
	if fl.Changed("proxy-protocol") {
		cfg.ProxyProtocol = f.proxyProtocol
	}

	if len(args) > 0 {
		cfg.Device = args[0]
	}
	if len(args) > 1 {
		ms, err := strconv.Atoi(args[1])
		if err != nil || ms < 0 {
			return nil, errors.Errorf("invalid polling interval %q", args[1])
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(cfg *config.Config) error {
	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	log, logCloser, err := logger.Setup(logger.Options{Level: level, File: cfg.LogFile})
	if err != nil {
		return errors.Wrap(err, "setup logging")
	}
	defer logCloser.Close()

	log.Info("sercd starting", "version", Version, "build", BuildDate, "commit", GitCommit)
	mode := "standalone"
	if cfg.Inetd {
		mode = "inetd"
	}
	log.Info("config", "mode", mode, "device", cfg.Device, "port", cfg.Port,
		"poll_interval", cfg.PollInterval, "cisco", cfg.CiscoCompat, "api_port", cfg.APIPort)

	// Writes to a vanished client must fail with EPIPE instead of killing us.
	signal.Ignore(syscall.SIGPIPE)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	poller, err := poll.New()
	if err != nil {
		return err
	}
	defer poller.Close()

	sessions := session.NewManager()
	stats := metrics.New()
	tr := trace.New(cfg.TraceSize)

	var store *history.Store
	if cfg.HistoryDB != "" {
		store, err = history.Open(cfg.HistoryDB, log.With("component", "history"))
		if err != nil {
			return err
		}
		defer store.Close()
	}

	sessions.SetCallbacks(
		func(s *session.Session) {
			log.Debug("session started", "session", s.ID, "remote", s.Remote)
		},
		func(s *session.Session) {
			store.Record(s.Info())
		},
	)

	observers := session.Observers{sessions, stats}
	if cfg.MQTT.Broker != "" {
		pub, err := events.Connect(events.Options{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, cfg.Device, log.With("component", "mqtt"))
		if err != nil {
			log.Warn("lifecycle events disabled", "err", err)
		} else {
			defer pub.Close()
			observers = append(observers, pub)
		}
	}

	taps := session.Taps{stats}
	if tr != nil {
		taps = append(taps, tr)
	}

	loopLog := log.With("component", "loop")
	open := func(name string) (session.Device, error) {
		dev, err := serial.OpenDevice(name, cfg.LockDir, loopLog)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	loop := session.New(session.Options{
		DeviceName:   cfg.Device,
		PollInterval: cfg.PollInterval,
		CiscoCompat:  cfg.CiscoCompat,
		Signature:    signature(cfg.Device),
		BufferSize:   cfg.BufferSize,
		OnCommand:    stats.Command,
	}, poller, open, loopLog)
	loop.SetObserver(observers)
	loop.SetTap(taps)

	if cfg.Inetd {
		conn, err := connection.Inherited()
		if err != nil {
			return err
		}
		loop.Attach(conn)
	} else {
		var ka *connection.KeepAlive
		if cfg.KeepAlive > 0 {
			ka = &connection.KeepAlive{Idle: cfg.KeepAlive, Interval: cfg.KeepAlive / 3, Count: 3}
		}
		ln, err := connection.Listen(ctx, connection.Options{
			Addr:          net.JoinHostPort(cfg.ListenAddr, cfg.Port),
			ProxyProtocol: cfg.ProxyProtocol,
			HeaderTimeout: cfg.InitTimeout,
			KeepAlive:     ka,
		}, log.With("component", "listener"))
		if err != nil {
			return err
		}
		defer ln.Close()
		loop.SetListener(listenerAdapter{ln})
	}

	errCh := make(chan error, 1)
	if cfg.APIPort != "" {
		apiServer := api.NewServer(cfg, api.Deps{
			Sessions: sessions,
			History:  historyLister(store),
			Trace:    tr,
			Metrics:  stats.Handler(),
		}, log.With("component", "api"))
		go func() {
			errCh <- apiServer.Start(ctx)
		}()
	}

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- loop.Run(ctx)
	}()

	// Wait for the loop, stopping it early if the API server fails
	select {
	case err = <-loopDone:
	case apiErr := <-errCh:
		if apiErr != nil {
			log.Error("api server error", "err", apiErr)
		}
		cancel()
		err = <-loopDone
	}

	log.Info("sercd stopped")
	return err
}

func signature(device string) string {
	return "sercd " + Version + " " + device
}

// historyLister keeps a missing store out of the API as an untyped nil.
func historyLister(s *history.Store) api.HistoryLister {
	if s == nil {
		return nil
	}
	return s
}

// listenerAdapter narrows *connection.Listener to session.Listener.
type listenerAdapter struct {
	ln *connection.Listener
}

func (a listenerAdapter) Fd() int           { return a.ln.Fd() }
func (a listenerAdapter) SetBusy(busy bool) { a.ln.SetBusy(busy) }

func (a listenerAdapter) Accept() (session.Conn, error) {
	conn, err := a.ln.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}
