package anacrolix

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
)

// partSuffix is appended by the file storage to data that is not complete.
const partSuffix = ".part"

// renameKey identifies a file of a torrent in a rename map.
func renameKey(fi *metainfo.FileInfo) string {
	return strings.Join(fi.BestPath(), "/")
}

// relPath is where fi is stored below the save path. A renamed file keeps its
// directory and only changes its base name.
func relPath(info *metainfo.Info, fi *metainfo.FileInfo, renamed map[string]string) string {
	var parts []string
	if name := info.BestName(); name != metainfo.NoName {
		parts = append(parts, name)
	}
	parts = append(parts, fi.BestPath()...)
	if n, ok := renamed[renameKey(fi)]; ok && len(parts) != 0 {
		parts[len(parts)-1] = n
	}
	return filepath.Join(parts...)
}

func filePathMaker(renamed map[string]string) storage.FilePathMaker {
	return func(o storage.FilePathMakerOpts) string {
		return relPath(o.Info, o.File, renamed)
	}
}

// planRename returns the rename map with fi stored as name, plus the old and
// new locations of fi relative to the save path. renamed is not modified.
func planRename(info *metainfo.Info, fi metainfo.FileInfo, renamed map[string]string, name string) (map[string]string, string, string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, "", "", fmt.Errorf("invalid file name %q", name)
	}

	next := maps.Clone(renamed)
	if next == nil {
		next = make(map[string]string)
	}
	key := renameKey(&fi)
	if filepath.Base(relPath(info, &fi, nil)) == name {
		delete(next, key)
	} else {
		next[key] = name
	}
	if len(next) == 0 {
		next = nil
	}

	return next, relPath(info, &fi, renamed), relPath(info, &fi, next), nil
}

// displayPath applies a rename to a path as reported by the torrent, whose
// components are joined by '/'.
func displayPath(p string, fi *metainfo.FileInfo, renamed map[string]string) string {
	n, ok := renamed[renameKey(fi)]
	if !ok {
		return p
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i+1] + n
	}
	return n
}

// moveData renames src to dst together with its partial sibling. Sources that
// do not exist are skipped. On failure the renames already done are undone.
func moveData(src, dst string) error {
	var done []string
	for _, s := range []string{"", partSuffix} {
		err := os.Rename(src+s, dst+s)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			for _, d := range done {
				os.Rename(dst+d, src+d)
			}
			return err
		}
		done = append(done, s)
	}
	return nil
}

// exists reports whether p or its partial sibling is on disk.
func exists(p string) bool {
	for _, s := range []string{"", partSuffix} {
		if _, err := os.Lstat(p + s); err == nil {
			return true
		}
	}
	return false
}
