package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"linechat/internal/storage"
	"linechat/pkg/logx"
)

// DefaultStatsSchedule is used when stats.schedule is empty.
const DefaultStatsSchedule = "@every 5m"

// CronParser accepts five-field specs and descriptors such as "@every 1m".
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// StatsSchedule returns the effective reporter schedule and whether it is on.
func (c StatsConfig) StatsSchedule() (string, bool) {
	s := strings.TrimSpace(c.Schedule)
	switch strings.ToLower(s) {
	case "":
		return DefaultStatsSchedule, true
	case "off", "none", "disabled":
		return "", false
	}
	return s, true
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if p := cfg.Listen.Port; p < 0 || p > 65535 {
		add("listen.port out of range: %d", p)
	}
	if cfg.Listen.AcceptRetryPerSec < 0 {
		add("listen.accept_retry_per_sec must be >= 0")
	}

	if _, err := ParseDurationField("chat.write_timeout", cfg.Chat.WriteTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Chat.MaxLineBytes < 0 {
		add("chat.max_line_bytes must be >= 0")
	}

	if cfg.WebSocket.Enabled {
		if p := strings.TrimSpace(cfg.WebSocket.Path); p != "" && !strings.HasPrefix(p, "/") {
			add("websocket.path must start with '/', got %q", p)
		}
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add("logging.level: unknown level %q", lvl)
	}

	for _, f := range []struct{ key, raw string }{
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.key, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if spec, on := cfg.Stats.StatsSchedule(); on {
		if _, err := CronParser.Parse(spec); err != nil {
			add("stats.schedule: invalid %q: %w", spec, err)
		}
	}

	if st := cfg.Storage; st != nil {
		if !storage.ValidDriver(st.Driver) {
			add("storage.driver: unknown driver %q", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
