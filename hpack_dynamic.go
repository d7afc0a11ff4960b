package h2

// dynEntry is one live entry of the HPACK dynamic table.
type dynEntry struct {
	name  string
	value string
	size  uint32 // 32 + len(name) + len(value), RFC 7541 §4.1
}

// nameHit records one dynamic-table occurrence of a name, for the
// two-level index below.
type nameHit struct {
	value string
	// gen is this entry's generation counter at insertion time; the
	// live dynamic index is derived from it relative to the table's
	// current head, so eviction never requires rewriting every hit.
	gen uint64
}

// dynamicTable is the per-connection HPACK dynamic table: a FIFO of
// entries bounded by maxSize, plus a two-level index (name -> occurrences
// with their value) so name-only and (name,value) lookups share
// structure without building a composite "name\x00value" key on every
// encode call (spec.md §9: re-architect away from the source's
// string-keyed composite).
//
// entries is a slice ordered newest first: the newest entry has the
// highest generation number, and HPACK index 62 always maps to the
// newest live entry. Because indices shift by one on every insert/evict,
// we never store raw HPACK indices in the index map — only the
// insertion generation, which is stable — and translate gen -> index at
// lookup time.
type dynamicTable struct {
	entries  []dynEntry // entries[0] is newest
	gens     []uint64   // parallel to entries: generation of entries[i]
	nextGen  uint64
	size     uint32
	maxSize  uint32

	byName map[string][]nameHit
}

func newDynamicTable(maxSize uint32) *dynamicTable {
	return &dynamicTable{
		maxSize: maxSize,
		byName:  make(map[string][]nameHit),
	}
}

func (t *dynamicTable) Len() int { return len(t.entries) }
func (t *dynamicTable) Size() uint32 { return t.size }

func entrySize(name, value string) uint32 {
	return uint32(len(name)+len(value)) + 32
}

// SetMaxSize adjusts the table's capacity (triggered by a
// dynamic-table-size-update or a local HEADER_TABLE_SIZE change) and
// evicts oldest-first until size fits (RFC 7541 §4.2, §6.3).
func (t *dynamicTable) SetMaxSize(n uint32) {
	t.maxSize = n
	t.evictToFit(0)
}

// Insert adds a new entry, evicting oldest entries first until it fits.
// If the new entry alone exceeds maxSize, the table ends up empty (RFC
// 7541 §4.4).
func (t *dynamicTable) Insert(name, value string) {
	sz := entrySize(name, value)
	t.evictToFit(sz)
	if sz > t.maxSize {
		return
	}

	gen := t.nextGen
	t.nextGen++

	t.entries = append([]dynEntry{{name: name, value: value, size: sz}}, t.entries...)
	t.gens = append([]uint64{gen}, t.gens...)
	t.size += sz

	t.byName[name] = append(t.byName[name], nameHit{value: value, gen: gen})
}

func (t *dynamicTable) evictToFit(incoming uint32) {
	for t.size+incoming > t.maxSize && len(t.entries) > 0 {
		last := len(t.entries) - 1
		e := t.entries[last]
		t.size -= e.size
		t.entries = t.entries[:last]
		t.gens = t.gens[:last]
		t.pruneName(e.name, e.value)
	}
}

// pruneName removes the name-index entry matching (name, value) whose
// underlying entry was just evicted. The hit list is small in practice
// (repeated header names), so a linear scan is fine.
func (t *dynamicTable) pruneName(name, value string) {
	hits := t.byName[name]
	for i, h := range hits {
		if h.value == value {
			t.byName[name] = append(hits[:i], hits[i+1:]...)
			break
		}
	}
	if len(t.byName[name]) == 0 {
		delete(t.byName, name)
	}
}

// indexOf converts an entry's stable generation to its current HPACK
// dynamic index (62 + position from the newest entry).
func (t *dynamicTable) indexOf(gen uint64) (int, bool) {
	for i, g := range t.gens {
		if g == gen {
			return staticTableLen + 1 + i, true
		}
	}
	return 0, false
}

// Get returns the entry at absolute HPACK index idx (idx > staticTableLen).
func (t *dynamicTable) Get(idx int) (HeaderField, bool) {
	pos := idx - staticTableLen - 1
	if pos < 0 || pos >= len(t.entries) {
		return HeaderField{}, false
	}
	e := t.entries[pos]
	return HeaderField{Name: e.name, Value: e.value}, true
}

// FindFull looks for an exact (name, value) match, newest first, without
// allocating a composite key.
func (t *dynamicTable) FindFull(name, value string) (int, bool) {
	hits := t.byName[name]
	var best uint64
	bestIdx := -1
	found := false
	for _, h := range hits {
		if h.value == value {
			if idx, ok := t.indexOf(h.gen); ok {
				if !found || h.gen > best {
					best = h.gen
					bestIdx = idx
					found = true
				}
			}
		}
	}
	return bestIdx, found
}

// FindName looks for any entry carrying name, returning the newest.
func (t *dynamicTable) FindName(name string) (int, bool) {
	hits := t.byName[name]
	if len(hits) == 0 {
		return 0, false
	}
	newest := hits[len(hits)-1]
	return t.indexOf(newest.gen)
}

func (t *dynamicTable) Clear() {
	t.entries = t.entries[:0]
	t.gens = t.gens[:0]
	t.size = 0
	for k := range t.byName {
		delete(t.byName, k)
	}
}
