package app

import (
	"fmt"
	"strings"
	"time"

	"linechat/internal/chat"
	"linechat/internal/config"
	"linechat/internal/observability/pprof"
	"linechat/internal/storage"
	"linechat/pkg/logx"
)

func mapServerConfig(cfg *config.Config) chat.Config {
	port := cfg.Listen.Port
	if port == 0 {
		port = chat.DefaultPort
	}
	return chat.Config{
		Host:              strings.TrimSpace(cfg.Listen.Host),
		Port:              port,
		AcceptRetryPerSec: cfg.Listen.AcceptRetryPerSec,
	}
}

func mapChatOptions(cfg *config.Config) (chat.Options, error) {
	wt, err := config.ParseDurationOrDefault("chat.write_timeout", cfg.Chat.WriteTimeout, chat.DefaultWriteTimeout)
	if err != nil {
		return chat.Options{}, err
	}
	if cfg.Chat.MaxLineBytes < 0 {
		return chat.Options{}, fmt.Errorf("chat.max_line_bytes must be >= 0")
	}
	maxLine := cfg.Chat.MaxLineBytes
	if maxLine == 0 {
		maxLine = chat.DefaultMaxLineBytes
	}
	return chat.Options{
		JoinNoticeToSelf: cfg.Chat.JoinNoticeToSelf,
		WriteTimeout:     wt,
		MaxLineBytes:     maxLine,
	}, nil
}

func mapWebSocketConfig(cfg *config.Config) (chat.WebSocketConfig, bool) {
	ws := cfg.WebSocket
	return chat.WebSocketConfig{
		Addr:           strings.TrimSpace(ws.Addr),
		Path:           strings.TrimSpace(ws.Path),
		AllowedOrigins: ws.AllowedOrigins,
	}, ws.Enabled
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Pprof
	read, err := config.ParseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 5*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	write, err := config.ParseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, 60*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 strings.TrimSpace(pc.Addr),
		Prefix:               strings.TrimSpace(pc.Prefix),
		Token:                strings.TrimSpace(pc.Token),
		AllowInsecure:        pc.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
		MemProfileRate:       pc.MemProfileRate,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./chatd_store"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
