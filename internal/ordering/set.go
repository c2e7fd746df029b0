package ordering

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownSlide indicates a local delete or reorder addressed a slide the
// replica does not hold; callers treat this as a desync signal.
var ErrUnknownSlide = errors.New("ordering: unknown slide")

// Set is the replicated ordering set: an in-memory, per-room mirror of slide
// identity records. It is a deduplicated operation log; the observable order
// is materialized by replaying all held operations in (Timestamp, OpID) order
// with sequential insert/delete/reorder semantics, then re-deriving dense
// positions from list order. Two replicas holding the same operations
// therefore always materialize the same sequence, and a full read always
// yields distinct positions covering 0..n-1.
type Set struct {
	mu    sync.Mutex
	ops   map[string]Op
	clock int64
	view  []Record
	dirty bool
}

// NewSet constructs an empty replicated ordering set.
func NewSet() *Set {
	return &Set{ops: make(map[string]Op)}
}

// Len returns the number of live records.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.materializeLocked())
}

// IsEmpty reports whether the set holds no live records.
func (s *Set) IsEmpty() bool {
	return s.Len() == 0
}

// Contains reports whether a live record exists for the slide.
func (s *Set) Contains(slideID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(s.materializeLocked(), slideID) >= 0
}

// Slides returns the materialized records sorted by position.
func (s *Set) Slides() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := s.materializeLocked()
	out := make([]Record, len(view))
	copy(out, view)
	return out
}

// Apply merges one replicated operation into the set. It returns false when
// the operation was already held. The local Lamport clock advances to cover
// the operation's timestamp so later local operations sort after it.
func (s *Set) Apply(op Op) (bool, error) {
	if err := op.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.ops[op.OpID]; held {
		return false, nil
	}
	s.ops[op.OpID] = op
	if op.Timestamp > s.clock {
		s.clock = op.Timestamp
	}
	s.dirty = true
	return true, nil
}

// Insert creates and applies a local insert operation for the record at the
// given position, returning the operation for replication.
func (s *Set) Insert(record Record, atPosition int) (Op, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := Op{
		Schema:    RecordSchemaVersion,
		Kind:      OpInsert,
		OpID:      uuid.NewString(),
		Timestamp: s.tickLocked(),
		SlideID:   record.SlideID,
		Position:  atPosition,
		Record:    record,
	}
	if err := op.Validate(); err != nil {
		return Op{}, err
	}
	s.ops[op.OpID] = op
	s.dirty = true
	return op, nil
}

// Delete creates and applies a local delete operation, returning the
// operation for replication.
func (s *Set) Delete(slideID string) (Op, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.materializeLocked(), slideID) < 0 {
		return Op{}, fmt.Errorf("%w: %s", ErrUnknownSlide, slideID)
	}
	op := Op{
		Schema:    RecordSchemaVersion,
		Kind:      OpDelete,
		OpID:      uuid.NewString(),
		Timestamp: s.tickLocked(),
		SlideID:   slideID,
	}
	s.ops[op.OpID] = op
	s.dirty = true
	return op, nil
}

// Reorder creates and applies a local reorder operation moving the slide to
// newPosition, returning the operation for replication.
func (s *Set) Reorder(slideID string, newPosition int) (Op, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.materializeLocked(), slideID) < 0 {
		return Op{}, fmt.Errorf("%w: %s", ErrUnknownSlide, slideID)
	}
	if newPosition < 0 {
		newPosition = 0
	}
	op := Op{
		Schema:    RecordSchemaVersion,
		Kind:      OpReorder,
		OpID:      uuid.NewString(),
		Timestamp: s.tickLocked(),
		SlideID:   slideID,
		Position:  newPosition,
	}
	s.ops[op.OpID] = op
	s.dirty = true
	return op, nil
}

// Seed populates an untouched set from durable records. Seed operations carry
// deterministic identifiers derived from the slide ids, so two replicas
// seeding the same room from the same store state produce identical
// operations that deduplicate instead of double-inserting. Seeding a set that
// has already seen any operation is a no-op reported by the second return
// value.
func (s *Set) Seed(records []Record) ([]Op, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ops) > 0 {
		return nil, false, nil
	}

	ops := make([]Op, 0, len(records))
	for i, record := range records {
		op := Op{
			Schema:    RecordSchemaVersion,
			Kind:      OpInsert,
			OpID:      "seed:" + record.SlideID,
			Timestamp: int64(i + 1),
			SlideID:   record.SlideID,
			Position:  i,
			Record:    record,
		}
		if err := op.Validate(); err != nil {
			return nil, false, err
		}
		ops = append(ops, op)
	}
	for _, op := range ops {
		s.ops[op.OpID] = op
		if op.Timestamp > s.clock {
			s.clock = op.Timestamp
		}
	}
	s.dirty = true
	return ops, true, nil
}

// Replace discards the whole operation log and reloads the set from durable
// records. This is the re-seed recovery primitive: no partial rollback of the
// replica is attempted after a failed mutation.
func (s *Set) Replace(records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops := make(map[string]Op, len(records))
	for i, record := range records {
		timestamp := s.clock + int64(i) + 1
		op := Op{
			Schema:    RecordSchemaVersion,
			Kind:      OpInsert,
			OpID:      fmt.Sprintf("seed:%s:%d", record.SlideID, timestamp),
			Timestamp: timestamp,
			SlideID:   record.SlideID,
			Position:  i,
			Record:    record,
		}
		if err := op.Validate(); err != nil {
			return err
		}
		ops[op.OpID] = op
	}
	s.ops = ops
	s.clock += int64(len(records))
	s.dirty = true
	return nil
}

func (s *Set) tickLocked() int64 {
	s.clock++
	return s.clock
}

// materializeLocked replays the operation log into the ordered record slice.
// Positions are the rendering of list order, recomputed after every replay,
// never trusted in isolation.
func (s *Set) materializeLocked() []Record {
	if !s.dirty {
		return s.view
	}

	ops := make([]Op, 0, len(s.ops))
	for _, op := range s.ops {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].less(ops[j]) })

	var order []Record
	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			if indexOf(order, op.SlideID) >= 0 {
				continue
			}
			at := op.Position
			if at < 0 {
				at = 0
			}
			if at > len(order) {
				at = len(order)
			}
			order = append(order, Record{})
			copy(order[at+1:], order[at:])
			order[at] = op.Record
		case OpDelete:
			if idx := indexOf(order, op.SlideID); idx >= 0 {
				order = append(order[:idx], order[idx+1:]...)
			}
		case OpReorder:
			idx := indexOf(order, op.SlideID)
			if idx < 0 {
				continue
			}
			at := op.Position
			if at > len(order)-1 {
				at = len(order) - 1
			}
			if at < 0 {
				at = 0
			}
			record := order[idx]
			order = append(order[:idx], order[idx+1:]...)
			order = append(order, Record{})
			copy(order[at+1:], order[at:])
			order[at] = record
		}
	}

	for i := range order {
		order[i].Position = i
	}
	s.view = order
	s.dirty = false
	return s.view
}

func indexOf(order []Record, slideID string) int {
	for i, record := range order {
		if record.SlideID == slideID {
			return i
		}
	}
	return -1
}
