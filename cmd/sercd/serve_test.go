package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"git2.jad.ru/MeterRS485/sercd/internal/config"
)

func configFor(t *testing.T, configPath string, argv ...string) (*config.Config, error) {
	t.Helper()
	for _, key := range []string{"DEVICE", "PORT", "INETD", "CISCO_COMPAT", "POLL_INTERVAL", "LOCK_DIR", "LOG_FILE"} {
		t.Setenv(key, "")
	}
	f := &serveFlags{}
	cmd := &cobra.Command{Use: "sercd"}
	f.bind(cmd.Flags())
	if err := cmd.ParseFlags(argv); err != nil {
		t.Fatal(err)
	}
	return buildConfig(cmd, configPath, cmd.Flags().Args(), f)
}

func TestBuildConfig(t *testing.T) {
	tests := []struct {
		name   string
		argv   []string
		device string
		port   string
		inetd  bool
		cisco  bool
		poll   time.Duration
	}{
		{"defaults", nil, "/dev/ttyS0", "7000", false, false, 100 * time.Millisecond},
		{"positional device and poll", []string{"/dev/ttyUSB1", "250"}, "/dev/ttyUSB1", "7000", false, false, 250 * time.Millisecond},
		{"polling off", []string{"/dev/ttyUSB1", "0"}, "/dev/ttyUSB1", "7000", false, false, 0},
		{"short flags", []string{"-i", "-p", "7001", "loop://"}, "loop://", "7001", false, true, 100 * time.Millisecond},
		{"inetd skips port check", []string{"--inetd", "-p", "bogus"}, "/dev/ttyS0", "bogus", true, false, 100 * time.Millisecond},
		{"listen forces standalone", []string{"--inetd", "-l", ""}, "/dev/ttyS0", "7000", false, false, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := configFor(t, "", tt.argv...)
			if err != nil {
				t.Fatalf("buildConfig: %v", err)
			}
			if cfg.Device != tt.device || cfg.Port != tt.port || cfg.Inetd != tt.inetd ||
				cfg.CiscoCompat != tt.cisco || cfg.PollInterval != tt.poll {
				t.Errorf("got device=%s port=%s inetd=%v cisco=%v poll=%v",
					cfg.Device, cfg.Port, cfg.Inetd, cfg.CiscoCompat, cfg.PollInterval)
			}
		})
	}
}

func TestBuildConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		argv []string
	}{
		{"bad poll interval", []string{"/dev/ttyS0", "soon"}},
		{"negative poll interval", []string{"--", "/dev/ttyS0", "-5"}},
		{"bad port", []string{"-p", "70000"}},
		{"small buffer", []string{"--buffer-size", "100"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := configFor(t, "", tt.argv...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sercd.yaml")
	if err := os.WriteFile(path, []byte("device: /dev/ttyAMA0\nport: \"7100\"\ncisco_compat: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := configFor(t, path, "-p", "7200")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Device != "/dev/ttyAMA0" || cfg.Port != "7200" || !cfg.CiscoCompat {
		t.Errorf("got device=%s port=%s cisco=%v", cfg.Device, cfg.Port, cfg.CiscoCompat)
	}
}

func TestSignature(t *testing.T) {
	if got := signature("/dev/ttyS0"); got != "sercd "+Version+" /dev/ttyS0" {
		t.Errorf("signature = %q", got)
	}
}
