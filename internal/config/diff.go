package config

import (
	"reflect"
	"sort"
	"strings"

	"linechat/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"listen":    true,
	"websocket": true,
	"storage":   true,
	"systemd":   true,
}

// SummarizeConfigChange returns the changed section names, safe log fields
// describing them (tokens are never logged), and the subset of sections that
// need a restart to take effect.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Listen != newCfg.Listen {
		changed = append(changed, "listen")
		attrs = append(attrs,
			logx.String("listen.host", newCfg.Listen.Host),
			logx.Int("listen.port", newCfg.Listen.Port),
		)
	}

	if oldCfg.Chat != newCfg.Chat {
		changed = append(changed, "chat")
		attrs = append(attrs,
			logx.Bool("chat.join_notice_to_self", newCfg.Chat.JoinNoticeToSelf),
			logx.String("chat.write_timeout", strings.TrimSpace(newCfg.Chat.WriteTimeout)),
			logx.Int("chat.max_line_bytes", newCfg.Chat.MaxLineBytes),
		)
	}

	if !reflect.DeepEqual(oldCfg.WebSocket, newCfg.WebSocket) {
		changed = append(changed, "websocket")
		attrs = append(attrs,
			logx.Bool("websocket.enabled", newCfg.WebSocket.Enabled),
			logx.String("websocket.addr", newCfg.WebSocket.Addr),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	op, np := oldCfg.Pprof, newCfg.Pprof
	tokenSetChanged := (strings.TrimSpace(op.Token) != "") != (strings.TrimSpace(np.Token) != "")
	op.Token, np.Token = "", ""
	if op != np || tokenSetChanged {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", np.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(np.Addr)),
			logx.String("pprof.prefix", strings.TrimSpace(np.Prefix)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", np.AllowInsecure),
		)
	}

	if strings.TrimSpace(oldCfg.Stats.Schedule) != strings.TrimSpace(newCfg.Stats.Schedule) {
		changed = append(changed, "stats")
		spec, on := newCfg.Stats.StatsSchedule()
		attrs = append(attrs, logx.String("stats.schedule", spec), logx.Bool("stats.enabled", on))
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Systemd.NotifyEnabled() != newCfg.Systemd.NotifyEnabled() {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.NotifyEnabled()))
	}

	sort.Strings(changed)
	var restart []string
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
