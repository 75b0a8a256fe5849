package memory

import (
	"context"
	"fmt"
	"sync"

	"coach-assessment-service/internal/domain"
)

// Store is an in-memory implementation of app.SessionRepository. Every write checks the
// caller's version under one lock, so each unit of work is atomic.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]domain.Assessment
	responses map[string][]domain.ClientResponse
}

func NewStore() *Store {
	return &Store{
		sessions:  make(map[string]domain.Assessment),
		responses: make(map[string][]domain.ClientResponse),
	}
}

func (s *Store) Create(_ context.Context, a domain.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[a.ID]; ok {
		return fmt.Errorf("%w: assessment %s already exists", domain.ErrConcurrentUpdate, a.ID)
	}
	s.sessions[a.ID] = a.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, assessmentID string) (domain.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.sessions[assessmentID]
	if !ok {
		return domain.Assessment{}, domain.ErrAssessmentNotFound
	}
	return a.Clone(), nil
}

func (s *Store) FindActive(_ context.Context, clientID string) (domain.Assessment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.Assessment
	for _, a := range s.sessions {
		if a.ClientID != clientID || a.Status != domain.StatusInProgress {
			continue
		}
		if found == nil || a.StartedAt.After(found.StartedAt) {
			a := a
			found = &a
		}
	}
	if found == nil {
		return domain.Assessment{}, false, nil
	}
	return found.Clone(), true, nil
}

func (s *Store) Responses(_ context.Context, assessmentID string) ([]domain.ClientResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ClientResponse(nil), s.responses[assessmentID]...), nil
}

func (s *Store) CommitTurn(_ context.Context, a domain.Assessment, resp domain.ClientResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersionLocked(a); err != nil {
		return err
	}
	for _, r := range s.responses[a.ID] {
		if r.QuestionID == resp.QuestionID {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateResponse, resp.QuestionID)
		}
	}
	s.responses[a.ID] = append(s.responses[a.ID], resp)
	s.saveLocked(a)
	return nil
}

func (s *Store) RewindTurn(_ context.Context, a domain.Assessment, responseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersionLocked(a); err != nil {
		return err
	}
	list := s.responses[a.ID]
	if len(list) == 0 || list[len(list)-1].ID != responseID {
		return fmt.Errorf("%w: response %s is not the latest", domain.ErrConcurrentUpdate, responseID)
	}
	s.responses[a.ID] = list[:len(list)-1:len(list)-1]
	s.saveLocked(a)
	return nil
}

func (s *Store) Update(_ context.Context, a domain.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersionLocked(a); err != nil {
		return err
	}
	s.saveLocked(a)
	return nil
}

func (s *Store) checkVersionLocked(a domain.Assessment) error {
	stored, ok := s.sessions[a.ID]
	if !ok {
		return domain.ErrAssessmentNotFound
	}
	if stored.Version != a.Version {
		return fmt.Errorf("%w: assessment %s at version %d, write expected %d", domain.ErrConcurrentUpdate, a.ID, stored.Version, a.Version)
	}
	return nil
}

func (s *Store) saveLocked(a domain.Assessment) {
	next := a.Clone()
	next.Version++
	s.sessions[a.ID] = next
}

// SessionLocker is a process-local app.SessionLocker.
type SessionLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewSessionLocker() *SessionLocker {
	return &SessionLocker{held: make(map[string]struct{})}
}

func (l *SessionLocker) Lock(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, domain.ErrSessionBusy
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
