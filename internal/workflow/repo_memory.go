package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu       sync.Mutex
	configs  map[string]Config
	runs     map[string]Run
	stepRuns map[string][]StepRun

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:  map[string]Config{},
		runs:     map[string]Run{},
		stepRuns: map[string][]StepRun{},
		now:      time.Now,
	}
}

func (s *MemoryStore) GetConfig(ctx context.Context, tag string) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best Config
	found := false
	for _, c := range s.configs {
		if c.Tag == tag && c.Active && (!found || c.Version > best.Version) {
			best, found = c, true
		}
	}
	if !found {
		return Config{}, ErrConfigNotFound
	}
	return best, nil
}

func (s *MemoryStore) GetConfigByID(ctx context.Context, id string) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	if !ok {
		return Config{}, ErrConfigNotFound
	}
	return c, nil
}

func (s *MemoryStore) PutConfig(ctx context.Context, cfg Config) (Config, error) {
	if err := cfg.Tree.Validate(); err != nil {
		return Config{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Version == 0 {
		for _, c := range s.configs {
			if c.Tag == cfg.Tag && c.Version > cfg.Version {
				cfg.Version = c.Version
			}
		}
		cfg.Version++
	}
	if cfg.Active {
		for id, c := range s.configs {
			if c.Tag == cfg.Tag && c.Active {
				c.Active = false
				s.configs[id] = c
			}
		}
	}
	cfg.CreatedAt = s.now()
	s.configs[cfg.ID] = cfg
	return cfg, nil
}

func (s *MemoryStore) CreateRun(ctx context.Context, run Run) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.CreatedAt = s.now()
	run.UpdatedAt = run.CreatedAt
	if run.Status == "" {
		run.Status = RunStatusActive
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) FindActiveRunByLeg(ctx context.Context, legID string) (Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.LegID == legID && r.Status == RunStatusActive {
			return r, true, nil
		}
	}
	return Run{}, false, nil
}

func (s *MemoryStore) ListStepRuns(ctx context.Context, runID string) ([]StepRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.stepRuns[runID]
	out := make([]StepRun, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) CommitTurn(ctx context.Context, c TurnCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[c.RunID]
	if !ok {
		return ErrNotFound
	}

	order := len(s.stepRuns[c.RunID])
	for _, sr := range c.Steps {
		sr.ID = uuid.NewString()
		sr.RunID = c.RunID
		order++
		sr.RunOrder = order
		sr.CreatedAt = s.now()
		s.stepRuns[c.RunID] = append(s.stepRuns[c.RunID], sr)
	}

	run.SessionBlob = c.SessionBlob
	run.OutputsJSON = c.OutputsJSON
	run.CurrentQueueID = c.CurrentQueueID
	run.Status = c.Status
	run.UpdatedAt = s.now()
	s.runs[c.RunID] = run
	return nil
}
