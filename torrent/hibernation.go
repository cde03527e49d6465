package torrent

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Inhibitor blocks system sleep until the returned closer is closed.
type Inhibitor interface {
	Inhibit(reason string) (io.Closer, error)
}

type noopInhibitor struct{}

func (noopInhibitor) Inhibit(string) (io.Closer, error) { return io.NopCloser(nil), nil }

// Hibernation toggles the inhibitor on edges of the allowed state only. A
// failed inhibition is tried again on the next update.
type Hibernation struct {
	backend Inhibitor
	log     zerolog.Logger

	denied bool
	held   io.Closer
}

func NewHibernation(backend Inhibitor) *Hibernation {
	if backend == nil {
		backend = noopInhibitor{}
	}
	return &Hibernation{
		backend: backend,
		log:     log.Logger.With().Str("component", "hibernation").Logger(),
	}
}

// Update applies the current preference and number of active torrents.
func (h *Hibernation) Update(preventSleep bool, active int) {
	allowed := !preventSleep || active == 0

	switch {
	case !allowed && !h.denied:
		c, err := h.backend.Inhibit("torrents are active")
		if err != nil {
			h.log.Warn().Err(err).Msg("error inhibiting system sleep")
			return
		}
		h.denied = true
		h.held = c
		h.log.Debug().Int("active", active).Msg("system sleep inhibited")
	case allowed && h.denied:
		h.denied = false
		h.release()
	}
}

// Release drops a held inhibition regardless of the current state.
func (h *Hibernation) Release() {
	h.denied = false
	h.release()
}

func (h *Hibernation) Inhibited() bool {
	return h.held != nil
}

func (h *Hibernation) release() {
	if h.held == nil {
		return
	}
	if err := h.held.Close(); err != nil {
		h.log.Warn().Err(err).Msg("error releasing sleep inhibition")
	}
	h.held = nil
	h.log.Debug().Msg("system sleep allowed")
}
