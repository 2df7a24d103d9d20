package app

import (
	"context"
	"time"

	"linechat/internal/chat"
	"linechat/internal/eventbus"
	"linechat/internal/storage"
	"linechat/pkg/logx"
)

var auditKinds = map[string]string{
	eventbus.TypeJoined:  storage.EventJoined,
	eventbus.TypeLeft:    storage.EventLeft,
	eventbus.TypeEvicted: storage.EventEvicted,
}

// sessionRecord converts a bus event. ok is false for events that are not
// session lifecycle events.
func sessionRecord(e eventbus.Event) (storage.SessionRecord, bool) {
	kind, ok := auditKinds[e.Type]
	if !ok {
		return storage.SessionRecord{}, false
	}
	se, ok := e.Data.(chat.SessionEvent)
	if !ok {
		return storage.SessionRecord{}, false
	}
	return storage.SessionRecord{
		At:         e.Time,
		Event:      kind,
		ConnID:     se.ID,
		Name:       se.Name,
		Remote:     se.Remote,
		Transport:  se.Transport,
		Reason:     se.Reason,
		DurationMS: se.Duration.Milliseconds(),
	}, true
}

// runAudit drains session events into store (if any) until ctx is done.
func runAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if store == nil {
				continue
			}
			rec, ok := sessionRecord(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, time.Second)
			err := store.AppendSession(wctx, rec)
			cancel()
			if err != nil {
				log.Warn("audit append failed", logx.String("event", rec.Event), logx.Err(err))
			}
		}
	}
}
