package torrent

import "errors"

var (
	ErrDuplicateHandle = errors.New("torrent handle already registered")
	ErrUnknownHandle   = errors.New("unknown torrent handle")
	ErrNotFound        = errors.New("torrent not found")
	ErrClosing         = errors.New("torrent core is closing")
	// ErrSuperseded is passed to a pending move or rename callback when a
	// newer operation takes its slot.
	ErrSuperseded = errors.New("operation superseded")
)
