package config

// Config is the chatd configuration file.
//
// Zero values mean "use the default"; see the per-section comments. Durations
// are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Listen    ListenConfig    `json:"listen"`
	Chat      ChatConfig      `json:"chat"`
	WebSocket WebSocketConfig `json:"websocket"`
	Logging   LoggingConfig   `json:"logging"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
	Stats     StatsConfig     `json:"stats"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Systemd   SystemdConfig   `json:"systemd"`
}

// ListenConfig is the TCP chat listener. Changes need a restart.
//
// Defaults: host "" (all interfaces), port 12345, accept_retry_per_sec 20.
type ListenConfig struct {
	Host              string  `json:"host"`
	Port              int     `json:"port"`
	AcceptRetryPerSec float64 `json:"accept_retry_per_sec,omitempty"`
}

// ChatConfig holds per-connection behavior. Applied live on reload.
//
// Defaults: write_timeout "10s", max_line_bytes 65536.
type ChatConfig struct {
	JoinNoticeToSelf bool   `json:"join_notice_to_self"`
	WriteTimeout     string `json:"write_timeout,omitempty"`
	MaxLineBytes     int    `json:"max_line_bytes,omitempty"`
}

// WebSocketConfig enables the optional WebSocket gateway.
//
// Defaults: addr "127.0.0.1:12346", path "/ws".
type WebSocketConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"`
	Path           string   `json:"path,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PprofConfig controls the optional ops HTTP server (/healthz, /stats, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// StatsConfig controls the periodic stats log line.
//
// Schedule is a cron spec or descriptor ("@every 5m", "*/10 * * * *").
// Empty means "@every 5m"; "off" disables the reporter.
type StatsConfig struct {
	Schedule string `json:"schedule,omitempty"`
}

// StorageConfig controls the optional session audit log.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./chatd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SystemdConfig controls sd_notify. Notify defaults to true when omitted; it
// is a no-op outside systemd.
type SystemdConfig struct {
	Notify *bool `json:"notify,omitempty"`
}

func (c SystemdConfig) NotifyEnabled() bool { return c.Notify == nil || *c.Notify }
