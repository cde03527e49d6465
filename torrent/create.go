package torrent

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/jkaberg/torsync/torrent/creator"
)

// CreateJob is a torrent creation started through the core.
type CreateJob struct {
	ID      uint64
	Options creator.Options
	Add     bool

	*creator.Job
}

// Create starts hashing opts.Root. With add set, the finished torrent is
// added and seeded from the data it was built from.
func (c *Core) Create(opts creator.Options, add bool) (*CreateJob, error) {
	if c.closing.Load() {
		return nil, ErrClosing
	}

	j := &CreateJob{
		Options: opts,
		Add:     add,
		Job:     creator.New(opts),
	}

	c.jobsMu.Lock()
	c.jobID++
	j.ID = c.jobID
	c.jobs[j.ID] = j
	c.jobsMu.Unlock()

	j.Start()

	if add {
		go func() {
			b, err := j.Result()
			if err != nil {
				c.log.Warn().Err(err).Str("root", opts.Root).Msg("torrent creation failed")
				return
			}
			err = c.Add(context.Background(), AddParams{
				MetaInfo: b,
				SavePath: filepath.Dir(filepath.Clean(opts.Root)),
				Name:     filepath.Base(opts.Root),
			})
			if err != nil {
				c.log.Warn().Err(err).Str("root", opts.Root).Msg("error adding created torrent")
			}
		}()
	}

	return j, nil
}

func (c *Core) CreateJob(id uint64) (*CreateJob, bool) {
	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()
	j, ok := c.jobs[id]
	return j, ok
}

func (c *Core) CreateJobs() []*CreateJob {
	c.jobsMu.Lock()
	out := make([]*CreateJob, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, j)
	}
	c.jobsMu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (c *Core) cancelJobs() {
	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()
	for _, j := range c.jobs {
		j.Cancel()
	}
}
