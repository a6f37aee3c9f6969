package resolution

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRunRepository keeps the journal in process memory. It is used
// when no database is configured.
type InMemoryRunRepository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*Run
}

// NewInMemoryRunRepository creates an empty journal.
func NewInMemoryRunRepository() *InMemoryRunRepository {
	return &InMemoryRunRepository{runs: make(map[uuid.UUID]*Run)}
}

func (m *InMemoryRunRepository) Create(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *InMemoryRunRepository) GetByID(_ context.Context, id uuid.UUID) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *InMemoryRunRepository) List(_ context.Context, limit, offset int) ([]*Run, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		cp := *r
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	total := len(all)
	if offset >= total {
		return []*Run{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}
