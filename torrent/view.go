package torrent

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/jkaberg/torsync/torrent/engine"
)

type compareFunc func(a, b *engine.Status) int

type sortMode struct {
	primary compareFunc
	// tie breaks equal primary keys before falling back to the record id
	tie    compareFunc
	fields Field
}

func byName(a, b *engine.Status) int {
	return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
}

func byQueue(a, b *engine.Status) int {
	return cmp.Compare(a.QueuePosition, b.QueuePosition)
}

var sortModes = map[string]sortMode{
	"name": {
		primary: byName,
		tie:     byQueue,
		fields:  FieldName | FieldQueue,
	},
	"age": {
		primary: func(a, b *engine.Status) int { return a.AddedAt.Compare(b.AddedAt) },
		tie:     byName,
		fields:  FieldAddedAt | FieldName,
	},
	"size": {
		primary: func(a, b *engine.Status) int { return cmp.Compare(a.TotalSize, b.TotalSize) },
		tie:     byName,
		fields:  FieldSize | FieldName,
	},
	"progress": {
		primary: func(a, b *engine.Status) int { return cmp.Compare(a.Progress, b.Progress) },
		tie:     byName,
		fields:  FieldProgress | FieldName,
	},
	"activity": {
		primary: func(a, b *engine.Status) int {
			return cmp.Compare(a.DownloadRate+a.UploadRate, b.DownloadRate+b.UploadRate)
		},
		tie:    byName,
		fields: FieldDownloadRate | FieldUploadRate | FieldName,
	},
	"eta": {
		primary: func(a, b *engine.Status) int { return cmp.Compare(a.ETA, b.ETA) },
		tie:     byName,
		fields:  FieldETA | FieldName,
	},
	"queue": {
		primary: byQueue,
		tie:     byName,
		fields:  FieldQueue | FieldName,
	},
	"state": {
		primary: func(a, b *engine.Status) int { return cmp.Compare(a.State, b.State) },
		tie:     byQueue,
		fields:  FieldState | FieldQueue,
	},
}

// SortModes lists the supported sort mode names.
func SortModes() []string {
	out := make([]string, 0, len(sortModes))
	for n := range sortModes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Filter restricts the rows of a View. Zero value matches everything.
type Filter struct {
	States []engine.State `json:"states,omitempty"`
	Search string         `json:"search,omitempty"`
}

func (f Filter) fields() Field {
	var out Field
	if len(f.States) != 0 {
		out |= FieldState
	}
	if f.Search != "" {
		out |= FieldName
	}
	return out
}

func (f Filter) match(s *engine.Status) bool {
	if len(f.States) != 0 && !slices.Contains(f.States, s.State) {
		return false
	}
	if f.Search != "" && !fuzzy.MatchFold(f.Search, s.Name) {
		return false
	}
	return true
}

// View is a sorted and filtered projection of the registry. Rows are rebuilt
// lazily, and only after a change that can affect the order or the filter.
type View struct {
	mu       sync.Mutex
	reg      *Registry
	name     string
	mode     sortMode
	reversed bool
	filter   Filter
	dirty    bool
	rows     []*Record
}

func NewView(reg *Registry, mode string, reversed bool) (*View, error) {
	v := &View{
		reg:      reg,
		reversed: reversed,
		dirty:    true,
	}
	if err := v.SetMode(mode); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *View) SetMode(name string) error {
	m, ok := sortModes[name]
	if !ok {
		return fmt.Errorf("unknown sort mode %q", name)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.name != name {
		v.name = name
		v.mode = m
		v.dirty = true
	}
	return nil
}

func (v *View) Mode() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.name
}

func (v *View) SetReversed(r bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.reversed != r {
		v.reversed = r
		v.dirty = true
	}
}

func (v *View) Reversed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reversed
}

func (v *View) SetFilter(f Filter) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filter = f
	v.dirty = true
}

func (v *View) Filter() Filter {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter
}

// Compare orders a and b under the current mode. It returns 0 only when a
// and b are the same record.
func (v *View) Compare(a, b *Record) int {
	v.mu.Lock()
	m, rev := v.mode, v.reversed
	v.mu.Unlock()

	sa, sb := a.Status(), b.Status()
	return compareRecords(m, rev, a.id, b.id, &sa, &sb)
}

func compareRecords(m sortMode, reversed bool, ida, idb uint64, a, b *engine.Status) int {
	c := m.primary(a, b)
	if c == 0 {
		c = m.tie(a, b)
	}
	if c == 0 {
		c = cmp.Compare(ida, idb)
	}
	if reversed {
		c = -c
	}
	return c
}

// OnRegistryChanged marks the rows stale when f touches the sort key, the
// filter or the membership. It reports whether it did.
func (v *View) OnRegistryChanged(f Field) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	relevant := v.mode.fields | v.filter.fields() | FieldAdded | FieldRemoved
	if f&relevant == 0 {
		return false
	}
	v.dirty = true
	return true
}

// Rows returns the filtered records in display order.
func (v *View) Rows() []*Record {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.dirty {
		v.rows = v.build()
		v.dirty = false
	}

	return slices.Clone(v.rows)
}

type row struct {
	rec *Record
	st  engine.Status
}

func (v *View) build() []*Record {
	var rows []row
	for _, rec := range v.reg.Records() {
		st := rec.Status()
		if !v.filter.match(&st) {
			continue
		}
		rows = append(rows, row{rec: rec, st: st})
	}

	slices.SortFunc(rows, func(a, b row) int {
		return compareRecords(v.mode, v.reversed, a.rec.id, b.rec.id, &a.st, &b.st)
	})

	out := make([]*Record, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out
}
