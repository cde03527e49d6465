package watchers

import (
	"os"
	"time"
)

type watchEntry struct {
	path string
	info os.FileInfo
}

// Debouncer holds discovered files until they stop changing. A file is ready
// once its modification time is at least window old.
type Debouncer struct {
	window  time.Duration
	stat    func(string) (os.FileInfo, error)
	entries []watchEntry
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		stat:   os.Stat,
	}
}

// Track starts watching path. It reports false when the file is gone or the
// same file is already tracked, under this name or another one.
func (d *Debouncer) Track(path string) bool {
	fi, err := d.stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}

	for _, e := range d.entries {
		if e.path == path || os.SameFile(e.info, fi) {
			return false
		}
	}

	d.entries = append(d.entries, watchEntry{path: path, info: fi})
	return true
}

// Tick returns the files that are stable at now and stops tracking them.
// Files that disappeared are dropped.
func (d *Debouncer) Tick(now time.Time) []string {
	var ready []string
	keep := d.entries[:0]
	for _, e := range d.entries {
		fi, err := d.stat(e.path)
		if err != nil {
			continue
		}

		if now.Sub(fi.ModTime()) >= d.window {
			ready = append(ready, e.path)
			continue
		}

		e.info = fi
		keep = append(keep, e)
	}

	clear(d.entries[len(keep):])
	d.entries = keep

	return ready
}

func (d *Debouncer) Len() int {
	return len(d.entries)
}
