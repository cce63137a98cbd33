package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "taskbot/pkg/logx"
)

// sdNotifier reports service state to systemd. Outside a unit with
// NOTIFY_SOCKET every call is a no-op.
type sdNotifier struct {
	log      logx.Logger
	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)

	// lastTick is the unix nano time of the last reminder pass.
	lastTick atomic.Int64
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	n := &sdNotifier{
		log:      log,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
	n.lastTick.Store(time.Now().UnixNano())
	return n
}

func (n *sdNotifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Tick records a finished reminder pass.
func (n *sdNotifier) Tick() { n.lastTick.Store(time.Now().UnixNano()) }

// runWatchdog pings the systemd watchdog at half its interval while the
// reminder pass keeps running. alive reports whether the pass is expected
// to tick at all and how long it may go quiet. It returns at once when
// the unit has no watchdog.
func (n *sdNotifier) runWatchdog(ctx context.Context, alive func() (bool, time.Duration)) {
	interval, err := n.watchdog()
	if err != nil {
		n.log.Warn("watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			enabled, grace := alive()
			since := time.Since(time.Unix(0, n.lastTick.Load()))
			if enabled && since > grace {
				// let systemd restart the unit
				n.log.Warn("reminder pass stalled; skipping watchdog ping", logx.Duration("since", since))
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
