package chat

import (
	"time"

	"linechat/internal/eventbus"
	"linechat/pkg/logx"
)

// Result summarizes one broadcast.
type Result struct {
	Delivered int
	Evicted   []string
}

// Broadcaster delivers a line to a snapshot of the Registry.
type Broadcaster struct {
	reg *Registry
	bus eventbus.Bus
	log logx.Logger
}

func NewBroadcaster(reg *Registry, bus eventbus.Bus, log logx.Logger) *Broadcaster {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broadcaster{reg: reg, bus: bus, log: log}
}

// Broadcast writes text to every registered member except exclude ("" excludes
// nobody). Write failures are not returned: the failing members are removed
// from the Registry and closed after the whole snapshot has been processed.
func (b *Broadcaster) Broadcast(text, exclude string) Result {
	var (
		res    Result
		failed []Member
		errs   []error
	)
	for _, m := range b.reg.Snapshot() {
		if m.ID() == exclude {
			continue
		}
		if err := m.WriteLine(text); err != nil {
			failed = append(failed, m)
			errs = append(errs, err)
			continue
		}
		res.Delivered++
	}

	for i, m := range failed {
		// Only the call that actually removed the member closes it.
		if _, ok := b.reg.Remove(m.ID()); !ok {
			continue
		}
		_ = m.Close()
		res.Evicted = append(res.Evicted, m.ID())

		b.log.Warn("member evicted after write failure",
			logx.String("conn", m.ID()),
			logx.String("name", m.Name()),
			logx.Err(errs[i]),
		)
		b.bus.Publish(eventbus.Event{
			Type: eventbus.TypeEvicted,
			Time: time.Now(),
			Data: SessionEvent{ID: m.ID(), Name: m.Name(), Reason: errs[i].Error()},
		})
	}

	if len(res.Evicted) == 0 {
		b.log.Trace("broadcast delivered", logx.Int("delivered", res.Delivered))
	}
	return res
}
