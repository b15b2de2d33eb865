package builderstub

import (
	"context"
	"sort"
	"sync"
)

// Store persists project records. Implementations must be safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, project Project) error
	Get(ctx context.Context, id string) (Project, error)
	List(ctx context.Context) ([]Project, error)
	Close() error
}

// MemStore keeps projects in memory.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]Project
}

func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]Project)}
}

func (s *MemStore) Save(_ context.Context, project Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project.Features = append([]string(nil), project.Features...)
	s.items[project.ID] = project
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.items[id]
	if !ok {
		return Project{}, ErrProjectNotFound
	}
	return project, nil
}

// List returns projects newest first.
func (s *MemStore) List(_ context.Context) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Project, 0, len(s.items))
	for _, project := range s.items {
		result = append(result, project)
	}
	sortNewestFirst(result)
	return result, nil
}

func (s *MemStore) Close() error { return nil }

func sortNewestFirst(projects []Project) {
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
}
