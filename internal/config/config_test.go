package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "listen": {"host": "127.0.0.1", "port": 4000},
  "chat": {"join_notice_to_self": true, "write_timeout": "3s", "max_line_bytes": 1024},
  "websocket": {"enabled": true, "addr": "127.0.0.1:4001", "path": "/chat"},
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "stats": {"schedule": "@every 1m"},
  "storage": {"driver": "file", "path": "./store"},
  "systemd": {"notify": false}
}`

const sampleYAML = `
listen:
  host: 127.0.0.1
  port: 4000
chat:
  join_notice_to_self: true
  write_timeout: 3s
  max_line_bytes: 1024
websocket:
  enabled: true
  addr: 127.0.0.1:4001
  path: /chat
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
stats:
  schedule: "@every 1m"
storage:
  driver: file
  path: ./store
systemd:
  notify: false
`

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDecodeJSONAndYAMLAgree(t *testing.T) {
	j, err := Decode("c.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	y, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !reflect.DeepEqual(j, y) {
		t.Fatalf("json and yaml differ:\n%+v\n%+v", j, y)
	}
	if j.Listen.Port != 4000 || !j.Chat.JoinNoticeToSelf || j.WebSocket.Path != "/chat" {
		t.Fatalf("unexpected decode: %+v", j)
	}
	if j.Systemd.NotifyEnabled() {
		t.Fatal("systemd.notify=false not honored")
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	if _, err := Decode("c.json", []byte(`{"listen":{"port":1,"bogus":true}}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("c.yml", []byte("chat:\n  shout: true\n")); err == nil {
		t.Fatal("expected unknown field error for yaml")
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"listen":{}} {"listen":{}}`))
	if err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("err = %v, want trailing data error", err)
	}
}

func TestValidate(t *testing.T) {
	good, _ := Decode("c.json", []byte(sampleJSON))
	if err := Validate(good); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := *good
	bad.Listen.Port = 70000
	bad.Chat.WriteTimeout = "soon"
	bad.Chat.MaxLineBytes = -1
	bad.Logging.Level = "loud"
	bad.Stats.Schedule = "every now and then"
	bad.Storage = &StorageConfig{Driver: "redis"}
	err := Validate(&bad)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"listen.port", "chat.write_timeout", "chat.max_line_bytes", "logging.level", "stats.schedule", "storage.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestStatsSchedule(t *testing.T) {
	cases := []struct {
		raw  string
		spec string
		on   bool
	}{
		{"", DefaultStatsSchedule, true},
		{"off", "", false},
		{"*/10 * * * *", "*/10 * * * *", true},
	}
	for _, tc := range cases {
		spec, on := StatsConfig{Schedule: tc.raw}.StatsSchedule()
		if spec != tc.spec || on != tc.on {
			t.Errorf("StatsSchedule(%q) = %q,%v want %q,%v", tc.raw, spec, on, tc.spec, tc.on)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{EnvHost: " 0.0.0.0 ", EnvPort: "5555", EnvLogLevel: "warn"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := &Config{}
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Listen.Host != "0.0.0.0" || cfg.Listen.Port != 5555 || cfg.Logging.Level != "warn" {
		t.Fatalf("env not applied: %+v", cfg)
	}

	env[EnvPort] = "abc"
	if err := ApplyEnv(cfg, lookup); err == nil {
		t.Fatal("expected invalid port error")
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env must be ignored: %v", err)
	}
}

func TestManagerLoadAppliesEnvOverride(t *testing.T) {
	p := writeFile(t, "chatd.json", sampleJSON)
	m := NewConfigManager(p)
	m.SetEnvLookup(func(k string) (string, bool) {
		if k == EnvPort {
			return "6000", true
		}
		return "", false
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen.Port != 6000 {
		t.Fatalf("port = %d, want env override 6000", cfg.Listen.Port)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the config")
	}
}

func TestManagerLoadRejectsInvalid(t *testing.T) {
	p := writeFile(t, "chatd.json", `{"listen":{"port":-1}}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	if _, err := m.Load(); err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestManagerWatchPublishesValidChanges(t *testing.T) {
	p := writeFile(t, "chatd.json", sampleJSON)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	if err := os.WriteFile(p, []byte(strings.Replace(sampleJSON, `"port": 4000`, `"port": 99999`, 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	select {
	case cfg := <-sub:
		t.Fatalf("invalid config published: %+v", cfg.Listen)
	default:
	}

	if err := os.WriteFile(p, []byte(strings.Replace(sampleJSON, `"max_line_bytes": 1024`, `"max_line_bytes": 2048`, 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-sub:
		if cfg.Chat.MaxLineBytes != 2048 {
			t.Fatalf("max_line_bytes = %d, want 2048", cfg.Chat.MaxLineBytes)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}

	cancel()
	<-done
}

func TestSummarizeConfigChange(t *testing.T) {
	a, _ := Decode("c.json", []byte(sampleJSON))
	b, _ := Decode("c.json", []byte(sampleJSON))

	if changed, _, _ := SummarizeConfigChange(a, b); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}

	b.Chat.MaxLineBytes = 10
	b.Listen.Port = 4242
	b.Pprof.Token = "secret"
	changed, attrs, restart := SummarizeConfigChange(a, b)
	if want := []string{"chat", "listen", "pprof"}; !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if want := []string{"listen"}; !reflect.DeepEqual(restart, want) {
		t.Fatalf("restart = %v, want %v", restart, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
}
