package features

import (
	"sync"
	"time"

	"InferCore/internal/domain/models"
)

// VectorStore keeps the most recent feature vector per subject. Vectors past
// the staleness horizon are treated as absent rather than served.
type VectorStore struct {
	mu        sync.RWMutex
	vectors   map[string]*models.FeatureVector
	staleness time.Duration
	now       func() time.Time
}

func NewVectorStore(staleness time.Duration) *VectorStore {
	return &VectorStore{
		vectors:   make(map[string]*models.FeatureVector),
		staleness: staleness,
		now:       time.Now,
	}
}

// Latest returns the current vector for a subject, or (nil, false) when none
// exists or the stored one is stale.
func (s *VectorStore) Latest(subjectID string) (*models.FeatureVector, bool) {
	s.mu.RLock()
	v, ok := s.vectors[subjectID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.staleness > 0 && s.now().Sub(v.AsOf) > s.staleness {
		return nil, false
	}
	return v, true
}

// Put replaces the stored vector if the incoming one is newer.
func (s *VectorStore) Put(v *models.FeatureVector) {
	if v == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.vectors[v.SubjectID]; ok && cur.AsOf.After(v.AsOf) {
		return
	}
	s.vectors[v.SubjectID] = v
}

// Len reports the number of subjects currently tracked.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}
