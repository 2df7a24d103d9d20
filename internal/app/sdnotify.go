package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"linechat/pkg/logx"
)

// sdNotify reports state to systemd. Outside systemd it does nothing.
func sdNotify(enabled bool, state string, log logx.Logger) {
	if !enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
