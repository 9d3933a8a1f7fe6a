package mapping

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no mapping has the requested ID.
	ErrNotFound = errors.New("mapping not found")
	// ErrDuplicateID is returned when adding a mapping whose ID is already present.
	ErrDuplicateID = errors.New("duplicate mapping id")
)

// Snapshot is an immutable view of the table at one point in time.
type Snapshot struct {
	all       []Mapping
	byAddress map[string][]Mapping
}

func newSnapshot(items []Mapping) *Snapshot {
	s := &Snapshot{
		all:       items,
		byAddress: make(map[string][]Mapping),
	}
	for _, m := range items {
		s.byAddress[m.Address] = append(s.byAddress[m.Address], m)
	}
	return s
}

// Resolve returns every mapping whose address equals address exactly,
// in table insertion order. The result must not be modified.
func (s *Snapshot) Resolve(address string) []Mapping {
	return s.byAddress[address]
}

// Len returns the number of mappings in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.all)
}

// Addresses returns the number of distinct addresses.
func (s *Snapshot) Addresses() int {
	return len(s.byAddress)
}

// Table is an ordered, goroutine-safe collection of mappings. Readers take a
// Snapshot; writers replace it, so a cycle never observes a partial edit.
type Table struct {
	mu       sync.Mutex
	items    []Mapping
	snap     atomic.Pointer[Snapshot]
	onChange func([]Mapping)
	version  uint64

	// notifyMu serialises OnChange calls; notified is the last version delivered.
	notifyMu sync.Mutex
	notified uint64
}

// NewTable returns an empty table.
func NewTable() *Table {
	t := &Table{}
	t.snap.Store(newSnapshot(nil))
	return t
}

// OnChange registers fn to be called with the full list after every mutation.
// fn runs with the table unlocked, one call at a time, in mutation order.
// A list superseded before fn got to it is skipped, so the last call always
// carries the current contents.
func (t *Table) OnChange(fn func([]Mapping)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// change is a published table state waiting to be handed to OnChange.
type change struct {
	fn      func([]Mapping)
	items   []Mapping
	version uint64
}

// publish installs a new snapshot; callers hold t.mu.
func (t *Table) publish() change {
	items := make([]Mapping, len(t.items))
	copy(items, t.items)
	t.snap.Store(newSnapshot(items))
	t.version++
	return change{fn: t.onChange, items: items, version: t.version}
}

func (t *Table) notify(c change) {
	if c.fn == nil {
		return
	}
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if c.version <= t.notified {
		return
	}
	t.notified = c.version
	c.fn(c.items)
}

// Snapshot returns the current immutable view.
func (t *Table) Snapshot() *Snapshot {
	return t.snap.Load()
}

// Add validates m, assigns an ID when empty, and appends it.
func (t *Table) Add(m Mapping) (Mapping, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	compiled, err := m.Compile()
	if err != nil {
		return Mapping{}, err
	}

	t.mu.Lock()
	for _, existing := range t.items {
		if existing.ID == compiled.ID {
			t.mu.Unlock()
			return Mapping{}, fmt.Errorf("%w: %s", ErrDuplicateID, compiled.ID)
		}
	}
	t.items = append(t.items, compiled)
	c := t.publish()
	t.mu.Unlock()

	t.notify(c)
	return compiled, nil
}

// AddAll appends every mapping or none of them.
func (t *Table) AddAll(ms []Mapping) ([]Mapping, error) {
	compiled := make([]Mapping, 0, len(ms))
	for i, m := range ms {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		c, err := m.Compile()
		if err != nil {
			return nil, fmt.Errorf("mapping %d (%s): %w", i, m.Address, err)
		}
		compiled = append(compiled, c)
	}

	t.mu.Lock()
	seen := make(map[string]struct{}, len(t.items)+len(compiled))
	for _, existing := range t.items {
		seen[existing.ID] = struct{}{}
	}
	for _, c := range compiled {
		if _, dup := seen[c.ID]; dup {
			t.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	t.items = append(t.items, compiled...)
	c := t.publish()
	t.mu.Unlock()

	t.notify(c)
	return compiled, nil
}

// Remove deletes the mapping with the given ID.
func (t *Table) Remove(id string) error {
	t.mu.Lock()
	idx := t.indexOf(id)
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.items = append(t.items[:idx:idx], t.items[idx+1:]...)
	c := t.publish()
	t.mu.Unlock()

	t.notify(c)
	return nil
}

// Duplicate appends a copy of the mapping with the given ID under a new ID.
func (t *Table) Duplicate(id string) (Mapping, error) {
	t.mu.Lock()
	idx := t.indexOf(id)
	if idx < 0 {
		t.mu.Unlock()
		return Mapping{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	dup := t.items[idx]
	dup.ID = uuid.NewString()
	if dup.AutoKey != nil {
		v := *dup.AutoKey
		dup.AutoKey = &v
	}
	t.items = append(t.items, dup)
	c := t.publish()
	t.mu.Unlock()

	t.notify(c)
	return dup, nil
}

// Get returns the mapping with the given ID.
func (t *Table) Get(id string) (Mapping, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexOf(id)
	if idx < 0 {
		return Mapping{}, false
	}
	return t.items[idx], true
}

// List returns a copy of all mappings in insertion order.
func (t *Table) List() []Mapping {
	s := t.Snapshot()
	out := make([]Mapping, len(s.all))
	copy(out, s.all)
	return out
}

// Len returns the number of mappings.
func (t *Table) Len() int {
	return t.Snapshot().Len()
}

// Replace swaps the whole table. Either every mapping is valid and the table
// is replaced, or nothing changes.
func (t *Table) Replace(ms []Mapping) error {
	compiled := make([]Mapping, 0, len(ms))
	seen := make(map[string]struct{}, len(ms))
	for i, m := range ms {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("mapping %d: %w: %s", i, ErrDuplicateID, m.ID)
		}
		seen[m.ID] = struct{}{}
		c, err := m.Compile()
		if err != nil {
			return fmt.Errorf("mapping %d (%s): %w", i, m.Address, err)
		}
		compiled = append(compiled, c)
	}

	t.mu.Lock()
	t.items = compiled
	c := t.publish()
	t.mu.Unlock()

	t.notify(c)
	return nil
}

func (t *Table) indexOf(id string) int {
	for i, m := range t.items {
		if m.ID == id {
			return i
		}
	}
	return -1
}
