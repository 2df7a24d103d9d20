package app

import (
	"sync"

	"github.com/robfig/cron/v3"

	"linechat/internal/chat"
	"linechat/internal/config"
	"linechat/internal/eventbus"
	"linechat/internal/runtime/supervisor"
	"linechat/pkg/logx"
)

// Stats is the /stats document and the payload of the periodic stats log.
type Stats struct {
	Joined          int      `json:"joined"`
	Names           []string `json:"names"`
	SessionsActive  int64    `json:"sessions_active"`
	SessionsStarted uint64   `json:"sessions_started"`
	EventsDropped   uint64   `json:"events_dropped"`

	Supervisor supervisor.Snapshot `json:"supervisor"`
}

func collectStats(srv *chat.Server, bus eventbus.Bus) Stats {
	names := srv.Registry().Names()
	sc := srv.Sessions()
	return Stats{
		Joined:          len(names),
		Names:           names,
		SessionsActive:  sc.Active,
		SessionsStarted: sc.Started,
		EventsDropped:   eventbus.Dropped(bus),
		Supervisor:      srv.Supervisor().Snapshot(),
	}
}

// statsReporter logs Stats on a cron schedule. The schedule can be swapped live.
type statsReporter struct {
	log     logx.Logger
	collect func() Stats

	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
	spec  string
}

func newStatsReporter(log logx.Logger, collect func() Stats) *statsReporter {
	r := &statsReporter{log: log, collect: collect}
	r.cron = cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLogger(cronLogger{log: log}),
		cron.WithChain(cron.Recover(cronLogger{log: log}), cron.SkipIfStillRunning(cronLogger{log: log})),
	)
	return r
}

func (r *statsReporter) Start() { r.cron.Start() }

// Stop halts the scheduler and returns a channel closed once a running report finishes.
func (r *statsReporter) Stop() <-chan struct{} {
	ctx := r.cron.Stop()
	return ctx.Done()
}

// Apply installs spec, or removes the job when enabled is false.
func (r *statsReporter) Apply(spec string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !enabled {
		spec = ""
	}
	if spec == r.spec {
		return nil
	}
	if r.entry != 0 {
		r.cron.Remove(r.entry)
		r.entry = 0
	}
	r.spec = spec
	if spec == "" {
		r.log.Info("stats reporter disabled")
		return nil
	}
	id, err := r.cron.AddFunc(spec, r.report)
	if err != nil {
		r.spec = ""
		return err
	}
	r.entry = id
	r.log.Info("stats reporter scheduled", logx.String("schedule", spec))
	return nil
}

func (r *statsReporter) Schedule() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

func (r *statsReporter) report() {
	st := r.collect()
	r.log.Info("chat stats",
		logx.Int("joined", st.Joined),
		logx.Strings("names", st.Names),
		logx.Int64("sessions_active", st.SessionsActive),
		logx.Uint64("sessions_started", st.SessionsStarted),
		logx.Uint64("events_dropped", st.EventsDropped),
		logx.Int64("goroutines_active", st.Supervisor.Counters.Active),
	)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
