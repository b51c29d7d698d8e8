package proofrequest

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process, in insertion order. It backs local
// development (PROOF_STORE=memory) and tests.
type MemoryStore struct {
	mu      sync.Mutex
	order   []string
	records map[string]Record
}

func NewMemoryStore(seed ...Record) *MemoryStore {
	s := &MemoryStore{records: make(map[string]Record, len(seed))}
	for _, r := range seed {
		if _, ok := s.records[r.ID]; ok {
			continue
		}
		s.order = append(s.order, r.ID)
		s.records[r.ID] = r.clone()
	}
	return s
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].clone())
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r.clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return Record{}, ErrDuplicateID
	}
	s.order = append(s.order, rec.ID)
	s.records[rec.ID] = rec.clone()
	return rec.clone(), nil
}

func (s *MemoryStore) ApplyTransition(ctx context.Context, id string, t Transition) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	next, err := Apply(current, t)
	if err != nil {
		return Record{}, err
	}
	s.records[id] = next
	return next.clone(), nil
}

func (s *MemoryStore) BulkApplyTransition(ctx context.Context, ids []string, t Transition) ([]TransitionResult, error) {
	return bulkApplyEach(ctx, ids, t, s.ApplyTransition), nil
}
