package torrent

import (
	"context"
	"time"
)

const shutdownPoll = 100 * time.Millisecond

// Close stops the core. It pauses the engine, saves the resume state of
// every changed torrent and waits, bounded by the configured close timeout,
// until all persistence requests are answered. New operations fail with
// ErrClosing from the moment Close is called.
func (c *Core) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		return ErrClosing
	}

	close(c.stop)
	if c.running.Swap(true) {
		<-c.done
	}

	c.log.Info().Msg("closing torrent core")

	c.bus.publish(Busy{Busy: true})
	c.stopDebounce()
	c.eng.Pause()
	for _, rec := range c.reg.Records() {
		if rec.unsaved() {
			c.persist(rec)
		}
	}

	timeout := time.Duration(c.config().Session.CloseTimeoutSec) * time.Second
	c.waitPersisted(ctx, timeout)
	c.bus.publish(Busy{Busy: false})

	c.saveStats()
	c.reg.Clear()
	c.hib.Release()
	c.stopWatcher()

	if op := c.lastOp; op != nil {
		c.completeOp(op.kind, op.handle, op.index, ErrClosing)
	}
	c.cancelJobs()

	c.log.Info().Msg("torrent core closed")
	return nil
}

// waitPersisted drains events until nothing is pending and the engine is
// paused. It reports false on timeout.
func (c *Core) waitPersisted(ctx context.Context, timeout time.Duration) bool {
	poll := time.NewTicker(shutdownPoll)
	defer poll.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.alertTick()
		if c.pending.Load() == 0 && c.eng.IsPaused() {
			return true
		}

		select {
		case <-poll.C:
		case <-deadline.C:
			c.log.Warn().Int64("pending", c.pending.Load()).Bool("paused", c.eng.IsPaused()).
				Msg("timed out waiting for the engine, closing anyway")
			return false
		case <-ctx.Done():
			c.log.Warn().Err(ctx.Err()).Int64("pending", c.pending.Load()).Msg("close interrupted")
			return false
		}
	}
}
