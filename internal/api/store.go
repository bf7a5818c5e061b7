package api

import (
	"sync"

	"github.com/google/uuid"
)

// PlanStore keeps computed plans so clients can fetch them again by id.
// Oldest plans are evicted once limit is reached.
type PlanStore struct {
	mu    sync.Mutex
	plans map[string]PlanResponse
	order []string
	limit int
}

func NewPlanStore(limit int) *PlanStore {
	if limit <= 0 {
		limit = 256
	}
	return &PlanStore{
		plans: make(map[string]PlanResponse),
		limit: limit,
	}
}

// Save assigns an id to p and stores it.
func (s *PlanStore) Save(p PlanResponse) PlanResponse {
	p.ID = "plan_" + uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) >= s.limit {
		delete(s.plans, s.order[0])
		s.order = s.order[1:]
	}
	s.plans[p.ID] = p
	s.order = append(s.order, p.ID)
	return p
}

func (s *PlanStore) Get(id string) (PlanResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	return p, ok
}

func (s *PlanStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return false
	}
	delete(s.plans, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *PlanStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plans)
}
