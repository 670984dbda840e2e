package saga

import (
	"context"
	"sync"
)

// NoopStore discards every journal write.
type NoopStore struct{}

func (NoopStore) Start(context.Context, string, Kind, string) error { return nil }

func (NoopStore) UpdateStatus(context.Context, string, Status) error { return nil }

func (NoopStore) AddStep(context.Context, string, string, string, string) error { return nil }

// MemoryStore keeps saga runs in memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	steps   map[string][]Step
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		steps:   make(map[string][]Step),
	}
}

func (m *MemoryStore) Start(_ context.Context, sagaID string, kind Kind, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[sagaID]; ok {
		return ErrSagaExists
	}
	m.records[sagaID] = Record{ID: sagaID, Kind: kind, OwnerID: ownerID, Status: StatusStarted}
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, sagaID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sagaID]
	if !ok {
		return nil
	}
	rec.Status = status
	m.records[sagaID] = rec
	return nil
}

func (m *MemoryStore) AddStep(_ context.Context, sagaID, step, status, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[sagaID] = append(m.steps[sagaID], Step{SagaID: sagaID, Name: step, Status: status, Detail: detail})
	return nil
}

// Record returns a saga run by id.
func (m *MemoryStore) Record(sagaID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sagaID]
	return rec, ok
}

// Records returns every saga run of the given kind.
func (m *MemoryStore) Records(kind Kind) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// Steps returns the journal lines of a run in insertion order.
func (m *MemoryStore) Steps(sagaID string) []Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Step(nil), m.steps[sagaID]...)
}
