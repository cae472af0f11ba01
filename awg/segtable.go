package awg

import (
	"sort"
	"strconv"

	"github.com/rs/zerolog"
)

// SegmentEntry is one row of a channel's segment catalog
type SegmentEntry struct {
	ID   int
	Name string
}

// Cataloger reads the authoritative segment catalog for a channel from
// the device.  Implementations surface SegmentTableCorruptionError when
// the device returns differing numbers of ids and names.
type Cataloger interface {
	ReadSegmentCatalog(ch int) ([]SegmentEntry, error)
}

// SegmentTable is a read-through mirror of the device segment catalogs,
// one per channel.  Every mutation of device memory marks the affected
// channels dirty, and a dirty channel is always refreshed before a read
// is trusted; a read never observes a stale mirror.  The owning driver
// is the sole mutator, so there is no locking here.
type SegmentTable struct {
	source Cataloger
	mirror map[int][]SegmentEntry
	dirty  map[int]bool

	Log zerolog.Logger
}

// NewSegmentTable builds a mirror over the given channels, all initially
// dirty so first reads hit the device
func NewSegmentTable(source Cataloger, channels ...int) *SegmentTable {
	t := &SegmentTable{
		source: source,
		mirror: make(map[int][]SegmentEntry, len(channels)),
		dirty:  make(map[int]bool, len(channels)),
		Log:    zerolog.Nop(),
	}
	for _, ch := range channels {
		t.dirty[ch] = true
	}
	return t
}

// Get returns the catalog for a channel, refreshing first if the mirror
// is dirty.  Callers must not modify the returned slice.
func (t *SegmentTable) Get(ch int) ([]SegmentEntry, error) {
	if t.dirty[ch] {
		t.Log.Debug().Int("channel", ch).Msg("segment table out of date, fetching")
		if err := t.Refresh(ch); err != nil {
			return nil, err
		}
	}
	return t.mirror[ch], nil
}

// Refresh fetches the authoritative catalog for a channel and clears its
// dirty flag.  On error the flag stays set.
func (t *SegmentTable) Refresh(ch int) error {
	entries, err := t.source.ReadSegmentCatalog(ch)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	t.mirror[ch] = entries
	t.dirty[ch] = false
	return nil
}

// NameToID resolves a segment name on a channel to its id
func (t *SegmentTable) NameToID(ch int, name string) (int, error) {
	entries, err := t.Get(ch)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.ID, nil
		}
	}
	return 0, NotFoundError{Kind: "segment", Name: name, Channel: ch}
}

// IDToName resolves a segment id on a channel to its name
func (t *SegmentTable) IDToName(ch int, id int) (string, error) {
	entries, err := t.Get(ch)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.ID == id {
			return e.Name, nil
		}
	}
	return "", NotFoundError{Kind: "segment id", Name: strconv.Itoa(id), Channel: ch}
}

// MarkDirty flags channels whose device catalog may have changed
func (t *SegmentTable) MarkDirty(channels ...int) {
	for _, ch := range channels {
		t.dirty[ch] = true
	}
}

// MarkAllDirty flags every channel
func (t *SegmentTable) MarkAllDirty() {
	for ch := range t.dirty {
		t.dirty[ch] = true
	}
}

// Dirty reports whether a channel's mirror needs a refresh before use
func (t *SegmentTable) Dirty(ch int) bool {
	return t.dirty[ch]
}
