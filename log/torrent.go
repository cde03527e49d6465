package log

import (
	"strings"

	"github.com/anacrolix/log"
	"github.com/rs/zerolog"
)

var _ log.Handler = &Torrent{}

// noisy engine messages that are expected during normal operation
var engineNoise = []string{
	"webrtc PeerConnection state changed",
	"unhandled announce response",
	"error announcing to dht",
}

// Torrent forwards anacrolix engine log records to zerolog.
type Torrent struct {
	L zerolog.Logger
}

func (l *Torrent) Handle(r log.Record) {
	text := r.Text()
	for _, n := range engineNoise {
		if strings.Contains(text, n) {
			l.L.Trace().Msg(text)
			return
		}
	}

	var e *zerolog.Event
	switch r.Level {
	case log.Debug:
		e = l.L.Debug()
	case log.Info:
		e = l.L.Debug().Str("engine-level", "info")
	case log.Warning:
		e = l.L.Warn()
	case log.Error:
		e = l.L.Warn().Str("engine-level", "error")
	case log.Critical:
		e = l.L.Warn().Str("engine-level", "critical")
	default:
		e = l.L.Info()
	}

	e.Msg(text)
}
