package torrent

import (
	"errors"
	"fmt"

	"github.com/jkaberg/torsync/torrent/engine"
)

// dispatcher routes engine events. It runs on the reactive goroutine only.
type dispatcher struct {
	c *Core
}

var _ engine.Handler = dispatcher{}

// dispatch handles a drained batch. A failing event is logged and counted;
// the rest of the batch still runs.
func (c *Core) dispatch(evs []engine.Event) {
	d := dispatcher{c: c}
	for _, ev := range evs {
		c.metrics.events.WithLabelValues(ev.Kind()).Inc()
		if err := dispatchOne(d, ev); err != nil {
			c.metrics.dispatchErrors.Inc()
			c.log.Error().Err(err).Str("kind", ev.Kind()).Msg("error handling engine event")
		}
	}
}

func dispatchOne(d dispatcher, ev engine.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ev.Dispatch(d)
}

func (d dispatcher) StatusUpdate(e engine.StatusUpdate) error {
	var ids []uint64
	var changed Field
	for _, s := range e.Torrents {
		rec := d.c.reg.FindByHandle(s.Handle)
		if rec == nil {
			continue
		}
		if f := rec.replace(s); f != 0 {
			ids = append(ids, rec.ID())
			changed |= f
		}
	}

	if changed != 0 {
		d.c.registryChanged(ids, changed)
	}
	return nil
}

func (d dispatcher) Added(e engine.Added) error {
	c := d.c
	if e.Token == 0 && c.restoring > 0 {
		c.restoring--
		if c.restoring == 0 {
			c.bus.publish(Busy{Busy: false})
			c.log.Info().Int("torrents", c.reg.Len()).Msg("restore finished")
		}
	}

	if e.Err != nil {
		c.callbacks.Discard(e.Token)
		if errors.Is(e.Err, engine.ErrDuplicate) {
			c.log.Debug().Str("name", e.Name).Msg("torrent already added")
			return nil
		}
		c.bus.publish(AddError{
			Kind:    AddErrorRejected,
			Names:   []string{e.Name},
			Message: e.Err.Error(),
		})
		return nil
	}

	rec, err := c.reg.Add(e.Handle, e.InfoHash, e.Name)
	if errors.Is(err, ErrDuplicateHandle) {
		c.callbacks.Discard(e.Token)
		c.log.Debug().Str("hash", e.InfoHash).Msg("added event for a known torrent")
		return nil
	}

	magnet, fresh := c.callbacks.Invoke(e.Token, e.Handle, rec)
	rec.setMagnet(magnet)
	c.settle(rec, fresh)
	c.persist(rec)

	c.log.Info().Str("name", e.Name).Str("hash", e.InfoHash).Bool("fresh", fresh).Msg("torrent added")
	return nil
}

func (d dispatcher) PersistCompleted(e engine.PersistCompleted) error {
	d.c.persistDone()

	rec := d.c.reg.FindByHandle(e.Handle)
	if rec == nil {
		return nil
	}

	desc := e.Descriptor
	if desc.InfoHash == "" {
		desc.InfoHash = rec.InfoHash()
	}
	if err := d.c.store.SaveDescriptor(desc); err != nil {
		return fmt.Errorf("error saving resume state of %s: %w", rec.InfoHash(), err)
	}
	rec.markSaved()
	return nil
}

func (d dispatcher) PersistFailed(e engine.PersistFailed) error {
	d.c.persistDone()
	d.c.log.Warn().Err(e.Err).Str("handle", string(e.Handle)).Msg("error saving resume state")
	return nil
}

func (d dispatcher) Finished(e engine.Finished) error {
	rec := d.c.reg.FindByHandle(e.Handle)
	if rec == nil {
		return nil
	}
	d.c.log.Info().Str("name", rec.Status().Name).Msg("torrent finished")
	d.c.persist(rec)
	return nil
}

func (d dispatcher) Paused(e engine.Paused) error {
	if rec := d.c.reg.FindByHandle(e.Handle); rec != nil {
		d.c.persist(rec)
	}
	return nil
}

func (d dispatcher) StorageMoved(e engine.StorageMoved) error {
	if rec := d.c.reg.FindByHandle(e.Handle); rec != nil {
		if rec.setSavePath(e.Path) {
			d.c.registryChanged([]uint64{rec.ID()}, FieldSavePath)
		}
		d.c.persist(rec)
	}
	d.c.completeOp(opMove, e.Handle, 0, nil)
	return nil
}

func (d dispatcher) StorageMoveFailed(e engine.StorageMoveFailed) error {
	if !d.c.completeOp(opMove, e.Handle, 0, e.Err) {
		d.c.log.Warn().Err(e.Err).Str("handle", string(e.Handle)).Msg("error moving torrent storage")
	}
	return nil
}

func (d dispatcher) FileRenamed(e engine.FileRenamed) error {
	if rec := d.c.reg.FindByHandle(e.Handle); rec != nil {
		d.c.persist(rec)
	}
	d.c.completeOp(opRename, e.Handle, e.Index, nil)
	return nil
}

func (d dispatcher) FileRenameFailed(e engine.FileRenameFailed) error {
	if !d.c.completeOp(opRename, e.Handle, e.Index, e.Err) {
		d.c.log.Warn().Err(e.Err).Str("handle", string(e.Handle)).Int("file", e.Index).Msg("error renaming file")
	}
	return nil
}

func (d dispatcher) AggregateCounters(e engine.AggregateCounters) error {
	d.c.stats.Feed(e.Counters, e.At)
	gs := d.c.stats.GlobalStats()
	d.c.metrics.downloadRate.Set(gs.DownloadRate)
	d.c.metrics.uploadRate.Set(gs.UploadRate)
	return nil
}
