// Package lexicon defines the term->id lookup this engine consumes but
// never owns (spec.md §1: "the database's higher-level column/table
// machinery... is OUT OF SCOPE, consumed via interfaces only"). It also
// ships a reference in-memory implementation used by tests and cmd/iictl.
package lexicon

import (
	"bytes"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned by Lookup when key has no assigned term id.
var ErrNotFound = errors.New("lexicon: key not found")

// Lexicon maps term keys (tokenized strings) to term ids and back, and
// supports the neighborhood/prefix/suffix cursors internal/updater and
// internal/query need.
type Lexicon interface {
	// GetOrAdd returns key's term id, assigning a fresh one if key is new.
	GetOrAdd(key []byte) (tid uint32, created bool, err error)
	// Lookup returns key's term id without creating one.
	Lookup(key []byte) (tid uint32, err error)
	// Key returns the key a term id was assigned, if still live.
	Key(tid uint32) (key []byte, ok bool, err error)
	// Cursor walks keys in sorted order starting at or after from. If
	// prefix is non-empty, only keys sharing that prefix are visited.
	Cursor(from, prefix []byte) (Cursor, error)
	// SuffixCursor walks keys whose suffix matches, used for EX_SUFFIX.
	SuffixCursor(suffix []byte) (Cursor, error)
}

// Cursor iterates term keys in lexicon order.
type Cursor interface {
	// Next returns the next (key, tid) pair, or ok==false when exhausted.
	Next() (key []byte, tid uint32, ok bool, err error)
	Close() error
}

// Memory is a reference in-memory Lexicon backed by a sorted key table,
// with optional msgpack snapshot persistence (SPEC_FULL.md §B).
type Memory struct {
	mu      sync.RWMutex
	byKey   map[string]uint32
	byTID   map[uint32][]byte
	sorted  [][]byte // kept sorted; rebuilt lazily by the cursors after GetOrAdd marks it dirty
	dirty   bool
	nextTID uint32
}

// NewMemory returns an empty reference lexicon. Term ids start at 1; 0 is
// reserved as "no term" throughout the engine.
func NewMemory() *Memory {
	return &Memory{
		byKey:   make(map[string]uint32),
		byTID:   make(map[uint32][]byte),
		nextTID: 1,
	}
}

func (m *Memory) GetOrAdd(key []byte) (uint32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tid, ok := m.byKey[string(key)]; ok {
		return tid, false, nil
	}
	tid := m.nextTID
	m.nextTID++
	k := append([]byte(nil), key...)
	m.byKey[string(k)] = tid
	m.byTID[tid] = k
	m.dirty = true
	return tid, true, nil
}

func (m *Memory) Lookup(key []byte) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tid, ok := m.byKey[string(key)]
	if !ok {
		return 0, ErrNotFound
	}
	return tid, nil
}

func (m *Memory) Key(tid uint32) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.byTID[tid]
	return k, ok, nil
}

func (m *Memory) ensureSorted() {
	if !m.dirty {
		return
	}
	m.sorted = m.sorted[:0]
	for k := range m.byKey {
		m.sorted = append(m.sorted, []byte(k))
	}
	sort.Slice(m.sorted, func(i, j int) bool { return bytes.Compare(m.sorted[i], m.sorted[j]) < 0 })
	m.dirty = false
}

type memCursor struct {
	m      *Memory
	keys   [][]byte
	idx    int
	prefix []byte
	suffix []byte
}

func (c *memCursor) Next() ([]byte, uint32, bool, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	for c.idx < len(c.keys) {
		k := c.keys[c.idx]
		c.idx++
		if c.prefix != nil && !bytes.HasPrefix(k, c.prefix) {
			continue
		}
		if c.suffix != nil && !bytes.HasSuffix(k, c.suffix) {
			continue
		}
		tid := c.m.byKey[string(k)]
		return k, tid, true, nil
	}
	return nil, 0, false, nil
}

func (c *memCursor) Close() error { return nil }

// Cursor walks keys in sorted order starting at or after from.
func (m *Memory) Cursor(from, prefix []byte) (Cursor, error) {
	m.mu.Lock()
	m.ensureSorted()
	keys := m.sorted
	m.mu.Unlock()

	start := 0
	if from != nil {
		start = sort.Search(len(keys), func(i int) bool { return bytes.Compare(keys[i], from) >= 0 })
	} else if prefix != nil {
		start = sort.Search(len(keys), func(i int) bool { return bytes.Compare(keys[i], prefix) >= 0 })
	}
	return &memCursor{m: m, keys: keys[start:], prefix: prefix}, nil
}

// SuffixCursor walks every key ending in suffix, in lexicon order (there is
// no secondary index on suffixes in the reference implementation, so this
// is a full scan — acceptable for the reference/test lexicon, not a
// production one).
func (m *Memory) SuffixCursor(suffix []byte) (Cursor, error) {
	m.mu.Lock()
	m.ensureSorted()
	keys := m.sorted
	m.mu.Unlock()
	return &memCursor{m: m, keys: keys, suffix: suffix}, nil
}

// snapshot is the on-disk msgpack form of a Memory lexicon.
type snapshot struct {
	NextTID uint32
	Entries map[string]uint32
}

// SaveSnapshot serializes the lexicon as msgpack to path.
func (m *Memory) SaveSnapshot(path string) error {
	m.mu.RLock()
	snap := snapshot{NextTID: m.nextTID, Entries: make(map[string]uint32, len(m.byKey))}
	for k, v := range m.byKey {
		snap.Entries[k] = v
	}
	m.mu.RUnlock()

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadSnapshot replaces the lexicon's contents with a previously saved
// snapshot.
func LoadSnapshot(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	m := NewMemory()
	m.nextTID = snap.NextTID
	for k, v := range snap.Entries {
		kb := []byte(k)
		m.byKey[k] = v
		m.byTID[v] = kb
	}
	m.dirty = true
	return m, nil
}
