package session

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	sess      *Session
	expiresAt time.Time
}

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]memoryRecord
	byUser map[string]map[string]struct{}
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		byID:   make(map[string]memoryRecord),
		byUser: make(map[string]map[string]struct{}),
		now:    now,
	}
}

func (m *MemoryStore) Save(_ context.Context, sess *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		m.deleteLocked(sess.ID)
		return nil
	}
	m.byID[sess.ID] = memoryRecord{sess: sess.clone(), expiresAt: m.now().Add(ttl)}
	ids, ok := m.byUser[sess.UserID]
	if !ok {
		ids = make(map[string]struct{})
		m.byUser[sess.UserID] = ids
	}
	ids[sess.ID] = struct{}{}
	return nil
}

func (m *MemoryStore) Update(_ context.Context, sess *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[sess.ID]
	if !ok || !m.now().Before(rec.expiresAt) {
		m.deleteLocked(sess.ID)
		return ErrNotFound
	}
	if ttl <= 0 {
		m.deleteLocked(sess.ID)
		return ErrNotFound
	}
	m.byID[sess.ID] = memoryRecord{sess: sess.clone(), expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.now().Before(rec.expiresAt) {
		m.deleteLocked(id)
		return nil, ErrNotFound
	}
	return rec.sess.clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	m.deleteLocked(id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.byUser[userID] {
		delete(m.byID, id)
	}
	delete(m.byUser, userID)
	return nil
}

func (m *MemoryStore) ListForUser(_ context.Context, userID string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := []*Session{}
	for id := range m.byUser[userID] {
		rec, ok := m.byID[id]
		if !ok || !now.Before(rec.expiresAt) {
			m.deleteLocked(id)
			continue
		}
		out = append(out, rec.sess.clone())
	}
	return out, nil
}

func (m *MemoryStore) deleteLocked(id string) {
	rec, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	if ids := m.byUser[rec.sess.UserID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.byUser, rec.sess.UserID)
		}
	}
}
