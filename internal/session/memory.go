package session

import (
	"context"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu            sync.Mutex
	items         map[string]*item
	defaultBudget float64
	ttl           time.Duration
	done          chan struct{}
	closeOnce     sync.Once
}

type item struct {
	session   Session
	expiresAt time.Time
}

func NewInMemoryStore(defaultBudget float64, ttl time.Duration) *InMemoryStore {
	s := &InMemoryStore{
		items:         make(map[string]*item),
		defaultBudget: defaultBudget,
		ttl:           ttl,
		done:          make(chan struct{}),
	}
	go s.cleanup()
	return s
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.load(id)
	return &sess, nil
}

func (s *InMemoryStore) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.load(id)
	if err := fn(&sess); err != nil {
		return nil, err
	}
	sess.UpdatedAt = time.Now()
	sess.Gate.Commit()

	s.items[id] = &item{
		session:   sess,
		expiresAt: sess.UpdatedAt.Add(s.ttl),
	}

	out := sess
	return &out, nil
}

func (s *InMemoryStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// load must be called with mu held.
func (s *InMemoryStore) load(id string) Session {
	it, ok := s.items[id]
	if !ok || time.Now().After(it.expiresAt) {
		return *New(id, s.defaultBudget)
	}
	return it.session
}

func (s *InMemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for id, it := range s.items {
				if now.After(it.expiresAt) {
					delete(s.items, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
