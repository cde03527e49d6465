package torrent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/jkaberg/torsync/torrent/engine"
)

var errPromptDone = errors.New("prompt already answered")

// descriptorInfo is what can be learned from an add request before the
// engine sees it.
type descriptorInfo struct {
	Name      string
	InfoHash  string
	Magnet    string
	TotalSize int64
	Files     []engine.FileProgress
}

func describe(p AddParams) (descriptorInfo, error) {
	switch {
	case len(p.MetaInfo) != 0 && p.Magnet != "":
		return descriptorInfo{}, errors.New("both metainfo and magnet given")
	case len(p.MetaInfo) != 0:
		mi, err := metainfo.Load(bytes.NewReader(p.MetaInfo))
		if err != nil {
			return descriptorInfo{}, fmt.Errorf("error parsing torrent: %w", err)
		}
		info, err := mi.UnmarshalInfo()
		if err != nil {
			return descriptorInfo{}, fmt.Errorf("error parsing torrent info: %w", err)
		}

		ih := mi.HashInfoBytes()
		d := descriptorInfo{
			Name:      info.Name,
			InfoHash:  ih.HexString(),
			Magnet:    metainfo.Magnet{InfoHash: ih, DisplayName: info.Name}.String(),
			TotalSize: info.TotalLength(),
		}
		for _, f := range info.UpvertedFiles() {
			path := info.Name
			if len(f.Path) != 0 {
				path = strings.Join(append([]string{info.Name}, f.Path...), "/")
			}
			d.Files = append(d.Files, engine.FileProgress{Path: path, Length: f.Length})
		}
		return d, nil
	case p.Magnet != "":
		m, err := metainfo.ParseMagnetUri(p.Magnet)
		if err != nil {
			return descriptorInfo{}, fmt.Errorf("error parsing magnet: %w", err)
		}
		name := m.DisplayName
		if name == "" {
			name = m.InfoHash.HexString()
		}
		return descriptorInfo{
			Name:     name,
			InfoHash: m.InfoHash.HexString(),
			Magnet:   p.Magnet,
		}, nil
	default:
		return descriptorInfo{}, errors.New("no metainfo or magnet given")
	}
}

// Prompt is an add waiting for the user to pick the save path.
type Prompt struct {
	ID        uint64                `json:"id"`
	Name      string                `json:"name"`
	InfoHash  string                `json:"infoHash"`
	TotalSize int64                 `json:"totalSize"`
	SavePath  string                `json:"savePath"`
	Paused    bool                  `json:"paused"`
	Files     []engine.FileProgress `json:"files,omitempty"`

	c        *Core
	params   AddParams
	answered atomic.Bool
}

// AddWithPrompt parses p and returns a prompt. Nothing is submitted until
// the prompt is confirmed.
func (c *Core) AddWithPrompt(p AddParams) (*Prompt, error) {
	if c.closing.Load() {
		return nil, ErrClosing
	}

	d, err := describe(p)
	if err != nil {
		c.bus.publish(AddError{Kind: AddErrorCorrupt, Names: []string{p.Name}, Message: err.Error()})
		return nil, err
	}

	savePath := p.SavePath
	if savePath == "" {
		savePath = c.config().Session.SavePath
	}

	c.promptsMu.Lock()
	defer c.promptsMu.Unlock()
	c.promptID++
	pr := &Prompt{
		ID:        c.promptID,
		Name:      d.Name,
		InfoHash:  d.InfoHash,
		TotalSize: d.TotalSize,
		SavePath:  savePath,
		Paused:    p.Paused || c.config().Session.StartPaused,
		Files:     d.Files,
		c:         c,
		params:    p,
	}
	c.prompts[pr.ID] = pr

	return pr, nil
}

// Prompt returns an unanswered prompt.
func (c *Core) Prompt(id uint64) (*Prompt, bool) {
	c.promptsMu.Lock()
	defer c.promptsMu.Unlock()
	pr, ok := c.prompts[id]
	return pr, ok
}

func (c *Core) dropPrompt(id uint64) {
	c.promptsMu.Lock()
	defer c.promptsMu.Unlock()
	delete(c.prompts, id)
}

// Confirm submits the add with the chosen save path.
func (p *Prompt) Confirm(ctx context.Context, savePath string, paused bool) error {
	if !p.answered.CompareAndSwap(false, true) {
		return errPromptDone
	}
	p.c.dropPrompt(p.ID)

	params := p.params
	params.Paused = paused
	if savePath != "" {
		params.SavePath = savePath
	} else {
		params.SavePath = p.SavePath
	}

	return p.c.Add(ctx, params)
}

func (p *Prompt) Cancel() {
	if p.answered.CompareAndSwap(false, true) {
		p.c.dropPrompt(p.ID)
	}
}
