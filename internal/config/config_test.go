package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q (dev defaults to text)", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v (dev defaults to debug)", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
	if cfg.RelayPolicy != RelayPolicyTarget {
		t.Errorf("RelayPolicy = %q", cfg.RelayPolicy)
	}
	if cfg.ReadySignal {
		t.Errorf("ReadySignal should default to false")
	}
	if cfg.SendQueueSize != DefaultSendQueueSize {
		t.Errorf("SendQueueSize = %d", cfg.SendQueueSize)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Errorf("MaxSignalingMessageBytes = %d", cfg.MaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != DefaultMaxSignalingMessagesPerSecond {
		t.Errorf("MaxSignalingMessagesPerSecond = %d", cfg.MaxSignalingMessagesPerSecond)
	}
}

func TestLoadFromEnv(t *testing.T) {
	env := map[string]string{
		"SIGNAL_RELAY_LISTEN_ADDR":          "0.0.0.0:9000",
		"SIGNAL_RELAY_MODE":                 "prod",
		"SIGNAL_RELAY_SHUTDOWN_TIMEOUT":     "30s",
		"HEARTBEAT_INTERVAL":                "10s",
		"RELAY_POLICY":                      "broadcast",
		"READY_SIGNAL":                      "true",
		"SEND_QUEUE_SIZE":                   "64",
		"MAX_SIGNALING_MESSAGE_BYTES":       "4096",
		"MAX_SIGNALING_MESSAGES_PER_SECOND": "10",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeProd {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q (prod defaults to json)", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v (prod defaults to info)", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
	if cfg.RelayPolicy != RelayPolicyBroadcast {
		t.Errorf("RelayPolicy = %q", cfg.RelayPolicy)
	}
	if !cfg.ReadySignal {
		t.Errorf("ReadySignal should be enabled")
	}
	if cfg.SendQueueSize != 64 {
		t.Errorf("SendQueueSize = %d", cfg.SendQueueSize)
	}
	if cfg.MaxSignalingMessageBytes != 4096 {
		t.Errorf("MaxSignalingMessageBytes = %d", cfg.MaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != 10 {
		t.Errorf("MaxSignalingMessagesPerSecond = %d", cfg.MaxSignalingMessagesPerSecond)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	env := map[string]string{
		"SIGNAL_RELAY_MODE": "prod",
		"RELAY_POLICY":      "broadcast",
	}
	cfg, err := load(lookupFrom(env), []string{
		"-listen-addr", "127.0.0.1:9999",
		"-mode", "dev",
		"-relay-policy", "target",
		"-ready-signal",
		"-heartbeat-interval", "5s",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.RelayPolicy != RelayPolicyTarget {
		t.Errorf("RelayPolicy = %q", cfg.RelayPolicy)
	}
	if !cfg.ReadySignal {
		t.Errorf("ReadySignal should be enabled by flag")
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
}

func TestLoadAllowedOriginsNormalized(t *testing.T) {
	env := map[string]string{
		"ALLOWED_ORIGINS": " https://App.Example.com:443 , http://localhost:3000 , * ",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []string{"https://app.example.com", "http://localhost:3000", "*"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
		}
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{
			name: "bad mode",
			env:  map[string]string{"SIGNAL_RELAY_MODE": "staging"},
			want: "invalid mode",
		},
		{
			name: "bad log format",
			env:  map[string]string{"SIGNAL_RELAY_LOG_FORMAT": "xml"},
			want: "invalid log format",
		},
		{
			name: "bad log level",
			env:  map[string]string{"SIGNAL_RELAY_LOG_LEVEL": "verbose"},
			want: "invalid log level",
		},
		{
			name: "bad relay policy",
			env:  map[string]string{"RELAY_POLICY": "multicast"},
			want: "invalid RELAY_POLICY",
		},
		{
			name: "bad heartbeat interval",
			env:  map[string]string{"HEARTBEAT_INTERVAL": "soon"},
			want: "invalid HEARTBEAT_INTERVAL",
		},
		{
			name: "non-positive heartbeat interval",
			args: []string{"-heartbeat-interval", "0s"},
			want: "invalid HEARTBEAT_INTERVAL",
		},
		{
			name: "bad ready signal",
			env:  map[string]string{"READY_SIGNAL": "yep"},
			want: "invalid READY_SIGNAL",
		},
		{
			name: "bad queue size",
			env:  map[string]string{"SEND_QUEUE_SIZE": "many"},
			want: "invalid SEND_QUEUE_SIZE",
		},
		{
			name: "bad allowed origin",
			env:  map[string]string{"ALLOWED_ORIGINS": "not a url"},
			want: "invalid ALLOWED_ORIGINS entry",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupFrom(tc.env), tc.args)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
}
