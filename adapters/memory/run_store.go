package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gosens/domain/core"
	"gosens/ports"
)

// RunStore keeps run records in memory
type RunStore struct {
	mu   sync.RWMutex
	runs map[core.RunID]*ports.RunRecord
}

// NewRunStore creates an empty store
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[core.RunID]*ports.RunRecord)}
}

// SaveRun inserts or replaces a record
func (s *RunStore) SaveRun(ctx context.Context, run *ports.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := *run
	s.mu.Lock()
	s.runs[run.ID] = &cp
	s.mu.Unlock()
	return nil
}

// GetRun returns a copy of the record
func (s *RunStore) GetRun(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns the most recent runs first
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]*ports.RunRecord, error) {
	s.mu.RLock()
	out := make([]*ports.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ ports.RunRepository = (*RunStore)(nil)
