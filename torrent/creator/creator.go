// Package creator builds .torrent files from local data on a worker
// goroutine.
package creator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

var ErrCanceled = errors.New("torrent creation canceled")

type Options struct {
	Root        string   `json:"root"`
	PieceLength int64    `json:"pieceLength,omitempty"`
	Trackers    []string `json:"trackers,omitempty"`
	Comment     string   `json:"comment,omitempty"`
	Private     bool     `json:"private,omitempty"`
}

// Job hashes the data under Options.Root. Cancel is advisory: the worker
// checks it on every read. A zero PieceLength is chosen from the total size.
type Job struct {
	opts Options

	canceled atomic.Bool
	hashed   atomic.Int64
	total    atomic.Int64

	startOnce sync.Once
	done      chan struct{}
	result    []byte
	err       error
}

func New(opts Options) *Job {
	if opts.PieceLength < 0 {
		opts.PieceLength = 0
	}
	return &Job{
		opts: opts,
		done: make(chan struct{}),
	}
}

// Start launches the worker. Calling it again has no effect.
func (j *Job) Start() {
	j.startOnce.Do(func() {
		go func() {
			defer close(j.done)
			j.result, j.err = j.run()
		}()
	})
}

func (j *Job) Cancel() {
	j.canceled.Store(true)
}

// Progress is the hashed fraction of the data, from 0 to 1.
func (j *Job) Progress() float64 {
	total := j.total.Load()
	if total == 0 {
		return 0
	}
	return float64(j.hashed.Load()) / float64(total)
}

func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result blocks until the job ends and returns the encoded torrent.
func (j *Job) Result() ([]byte, error) {
	<-j.done
	return j.result, j.err
}

func (j *Job) run() ([]byte, error) {
	root := filepath.Clean(j.opts.Root)
	info := metainfo.Info{PieceLength: j.opts.PieceLength}
	if err := layout(&info, root); err != nil {
		return nil, err
	}

	total := info.TotalLength()
	if total == 0 {
		return nil, fmt.Errorf("no data to hash under %s", root)
	}
	j.total.Store(total)
	if info.PieceLength == 0 {
		info.PieceLength = metainfo.ChoosePieceLength(total)
	}
	if j.opts.Private {
		private := true
		info.Private = &private
	}

	err := info.GeneratePieces(func(fi metainfo.FileInfo) (io.ReadCloser, error) {
		if j.canceled.Load() {
			return nil, ErrCanceled
		}
		f, err := os.Open(filepath.Join(root, filepath.Join(fi.BestPath()...)))
		if err != nil {
			return nil, err
		}
		return &jobReader{j: j, f: f}, nil
	})
	// the library flattens reader errors into strings
	if j.canceled.Load() {
		return nil, ErrCanceled
	}
	if err != nil {
		return nil, fmt.Errorf("error hashing pieces: %w", err)
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("error encoding info: %w", err)
	}

	mi := metainfo.MetaInfo{
		InfoBytes:    infoBytes,
		CreatedBy:    "torsync",
		CreationDate: time.Now().Unix(),
		Comment:      j.opts.Comment,
	}
	if len(j.opts.Trackers) != 0 {
		mi.Announce = j.opts.Trackers[0]
		for _, tr := range j.opts.Trackers {
			mi.AnnounceList = append(mi.AnnounceList, []string{tr})
		}
	}

	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		return nil, fmt.Errorf("error writing torrent: %w", err)
	}

	return buf.Bytes(), nil
}

// layout fills the name and file list the way Info.BuildFromFilePath does,
// without hashing, so the pieces are generated once through jobReader.
func layout(info *metainfo.Info, root string) error {
	info.Name = filepath.Base(root)
	err := filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		if p == root {
			info.Length = fi.Size()
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info.Files = append(info.Files, metainfo.FileInfo{
			Path:   strings.Split(rel, string(filepath.Separator)),
			Length: fi.Size(),
		})
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(info.Files, func(i, k int) bool {
		return strings.Join(info.Files[i].BestPath(), "/") < strings.Join(info.Files[k].BestPath(), "/")
	})
	return nil
}

// jobReader reports hashing progress and stops reading once the job is
// canceled.
type jobReader struct {
	j *Job
	f *os.File
}

func (r *jobReader) Read(p []byte) (int, error) {
	if r.j.canceled.Load() {
		return 0, ErrCanceled
	}
	n, err := r.f.Read(p)
	r.j.hashed.Add(int64(n))
	return n, err
}

func (r *jobReader) Close() error {
	return r.f.Close()
}
