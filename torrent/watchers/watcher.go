package watchers

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const torrentExt = ".torrent"

// DirWatcher reports torrent files created or written in a folder.
type DirWatcher struct {
	folder string
	w      *fsnotify.Watcher
	paths  chan string
	log    zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewDirWatcher(folder string) (*DirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DirWatcher{
		folder: folder,
		w:      w,
		paths:  make(chan string, 64),
		log:    log.Logger.With().Str("component", "watch-dir").Str("folder", folder).Logger(),
		done:   make(chan struct{}),
	}, nil
}

// Paths delivers discovered torrent files. Duplicates are expected.
func (dw *DirWatcher) Paths() <-chan string {
	return dw.paths
}

// Start watches the folder and reports the torrent files already in it.
func (dw *DirWatcher) Start() error {
	if err := os.MkdirAll(dw.folder, 0744); err != nil {
		return err
	}

	if err := dw.w.Add(dw.folder); err != nil {
		return err
	}

	entries, err := os.ReadDir(dw.folder)
	if err != nil {
		return err
	}

	go func() {
		for _, e := range entries {
			if e.Type().IsRegular() && isTorrentFile(e.Name()) {
				dw.send(filepath.Join(dw.folder, e.Name()))
			}
		}

		for {
			select {
			case event, ok := <-dw.w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if !isTorrentFile(event.Name) {
					continue
				}
				dw.send(event.Name)
			case err, ok := <-dw.w.Errors:
				if !ok {
					return
				}
				dw.log.Error().Err(err).Msg("watcher error")
			case <-dw.done:
				return
			}
		}
	}()

	dw.log.Info().Msg("watch folder started")
	return nil
}

func (dw *DirWatcher) send(p string) {
	select {
	case dw.paths <- p:
	case <-dw.done:
	}
}

func (dw *DirWatcher) Close() error {
	var err error
	dw.closeOnce.Do(func() {
		close(dw.done)
		err = dw.w.Close()
	})
	return err
}

func isTorrentFile(p string) bool {
	return strings.EqualFold(filepath.Ext(p), torrentExt)
}

// MarkAdded renames p so the watch folder does not pick it up again.
func MarkAdded(p string) error {
	return os.Rename(p, p+".added")
}

// MarkInvalid renames a file that could not be added.
func MarkInvalid(p string) error {
	return os.Rename(p, p+".invalid")
}
