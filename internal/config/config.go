package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Device       string        `yaml:"device"`
	LockDir      string        `yaml:"lock_dir"` // empty disables UUCP locking
	ListenAddr   string        `yaml:"listen_addr"`
	Port         string        `yaml:"port"`
	Inetd        bool          `yaml:"inetd"`
	PollInterval time.Duration `yaml:"poll_interval"` // modem state polling, 0 disables it
	CiscoCompat  bool          `yaml:"cisco_compat"`
	BufferSize   int           `yaml:"buffer_size"`

	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	Debug     bool   `yaml:"debug"`
	DebugHTTP bool   `yaml:"debug_http"`

	APIPort string `yaml:"api_port"` // empty disables the status API
	WebUser string `yaml:"web_user"`
	WebPass string `yaml:"web_pass"`

	KeepAlive     time.Duration `yaml:"keepalive"` // idle time before the first probe, 0 disables it
	InitTimeout   time.Duration `yaml:"init_timeout"`
	ProxyProtocol bool          `yaml:"proxy_protocol"`

	TraceSize int    `yaml:"trace_size"` // bytes kept per direction, 0 disables tracing
	HistoryDB string `yaml:"history_db"`

	MQTT MQTT `yaml:"mqtt"`
}

// MQTT configures the lifecycle event publisher. An empty Broker disables
// it.
type MQTT struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func Load() *Config {
	return &Config{
		Device:       getEnv("DEVICE", "/dev/ttyS0"),
		LockDir:      getEnv("LOCK_DIR", "/var/lock"),
		ListenAddr:   getEnv("LISTEN_ADDR", "0.0.0.0"),
		Port:         getEnv("PORT", "7000"),
		Inetd:        getBoolEnv("INETD", false),
		PollInterval: getMillisEnv("POLL_INTERVAL", 100*time.Millisecond),
		CiscoCompat:  getBoolEnv("CISCO_COMPAT", false),
		BufferSize:   getIntEnv("BUFFER_SIZE", 2048),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFile:   getEnv("LOG_FILE", ""),
		Debug:     getBoolEnv("DEBUG", false),
		DebugHTTP: getBoolEnv("DEBUG_HTTP", false),

		APIPort: getEnv("API_PORT", ""),
		WebUser: getEnv("WEB_USER", "admin"),
		WebPass: getEnv("WEB_PASS", "admin"),

		KeepAlive:     getDurationEnv("KEEPALIVE", 30*time.Second),
		InitTimeout:   getDurationEnv("INIT_TIMEOUT", 5*time.Second),
		ProxyProtocol: getBoolEnv("PROXY_PROTOCOL", false),

		TraceSize: getIntEnv("TRACE_SIZE", 4096),
		HistoryDB: getEnv("HISTORY_DB", ""),

		MQTT: MQTT{
			Broker:   getEnv("MQTT_BROKER", ""),
			Topic:    getEnv("MQTT_TOPIC", "sercd"),
			ClientID: getEnv("MQTT_CLIENT_ID", ""),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
		},
	}
}

// LoadFile overlays a YAML file on c. Environment references in the file
// are expanded first; keys missing from the file keep their values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

// Validate rejects settings the redirector cannot run with.
func (c *Config) Validate() error {
	if c.Device == "" {
		return errors.New("no device configured")
	}
	if !c.Inetd {
		port, err := strconv.Atoi(c.Port)
		if err != nil || port < 1 || port > 65535 {
			return errors.Errorf("invalid port %q", c.Port)
		}
	}
	if c.PollInterval < 0 {
		return errors.Errorf("invalid poll interval %v", c.PollInterval)
	}
	if c.BufferSize < 1024 {
		return errors.Errorf("buffer size %d is below 1024", c.BufferSize)
	}
	if c.TraceSize < 0 {
		return errors.Errorf("invalid trace size %d", c.TraceSize)
	}
	return nil
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "1" || val == "true" || val == "yes"
	}
	return defaultVal
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getMillisEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
