// Package memstore keeps every persisted game record in process memory. It backs tests and the
// STORE_DRIVER=memory development mode.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brainquiz/backend/internal/models"
)

// Store implements the session, progress, result, multi-session and user repositories.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]models.Session
	progress map[uuid.UUID][]models.Progress
	finished []models.FinishedSession
	multi    map[string]models.MultiSession
	users    map[string]models.User
	nextID   int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]models.Session),
		progress: make(map[uuid.UUID][]models.Progress),
		multi:    make(map[string]models.MultiSession),
		users:    make(map[string]models.User),
	}
}

// CreateSession stores a new session row.
func (s *Store) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	s.sessions[sess.ID] = *sess
	return nil
}

// GetSession returns a session or nil.
func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// AddScore adds delta to the session score and returns the new total.
func (s *Store) AddScore(_ context.Context, id uuid.UUID, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return 0, nil
	}
	sess.Score += delta
	s.sessions[id] = sess
	return sess.Score, nil
}

// DeleteSession removes a session and its progress rows.
func (s *Store) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.progress, id)
	return nil
}

// GetActiveProgress returns the active progress row of a session, or nil.
func (s *Store) GetActiveProgress(_ context.Context, sessionID uuid.UUID) (*models.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.progress[sessionID] {
		if p.IsActive {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

// DeactivateProgress marks every progress row of a session inactive.
func (s *Store) DeactivateProgress(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.progress[sessionID]
	for i := range rows {
		rows[i].IsActive = false
	}
	return nil
}

// InsertProgress appends a progress row and assigns its ID.
func (s *Store) InsertProgress(_ context.Context, p *models.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.progress[p.SessionID] = append(s.progress[p.SessionID], *p)
	return nil
}

// UpdateProgress overwrites the row with p.ID.
func (s *Store) UpdateProgress(_ context.Context, p *models.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.progress[p.SessionID]
	for i := range rows {
		if rows[i].ID == p.ID {
			rows[i] = *p
		}
	}
	return nil
}

// ListProgress returns every progress row of a session in insertion order.
func (s *Store) ListProgress(_ context.Context, sessionID uuid.UUID) ([]models.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Progress(nil), s.progress[sessionID]...), nil
}

// CorrectRegions returns the regions answered correctly in a session.
func (s *Store) CorrectRegions(_ context.Context, sessionID uuid.UUID) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int
	for _, p := range s.progress[sessionID] {
		if p.IsCorrect {
			out = append(out, p.RegionID)
		}
	}
	return out, nil
}

// DeleteProgress removes every progress row of a session.
func (s *Store) DeleteProgress(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progress, sessionID)
	return nil
}

// CreateFinished stores a finished session unless one already exists for (SessionRef, UserID).
func (s *Store) CreateFinished(_ context.Context, f *models.FinishedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.finished {
		if existing.SessionRef == f.SessionRef && existing.UserID == f.UserID {
			return nil
		}
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	s.finished = append(s.finished, *f)
	return nil
}

// Finished returns a copy of all finished sessions.
func (s *Store) Finished() []models.FinishedSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.FinishedSession(nil), s.finished...)
}

// CreateMulti stores a multi-session row.
func (s *Store) CreateMulti(_ context.Context, m *models.MultiSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.multi[m.Code] = *m
	return nil
}

// GetMulti returns a multi-session row or nil.
func (s *Store) GetMulti(_ context.Context, code string) (*models.MultiSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.multi[code]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// MultiExists reports whether code has a persisted row.
func (s *Store) MultiExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.multi[code]
	return ok, nil
}

// DeleteMulti removes a multi-session row.
func (s *Store) DeleteMulti(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.multi, code)
	return nil
}

// ListMultiBefore returns codes of rows created before cutoff, sorted.
func (s *Store) ListMultiBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for code, m := range s.multi {
		if m.CreatedAt.Before(cutoff) {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out, nil
}

// AddUser registers an account name.
func (s *Store) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(u.Username)] = u
}

// UsernameExists reports whether a registered account uses username.
func (s *Store) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[strings.ToLower(username)]
	return ok, nil
}
