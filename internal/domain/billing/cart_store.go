package billing

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CartStore keeps carts in memory until they are submitted or expire.
type CartStore struct {
	mu    sync.Mutex
	carts map[uuid.UUID]Cart
	ttl   time.Duration
	now   func() time.Time
}

func NewCartStore(ttl time.Duration) *CartStore {
	return &CartStore{carts: make(map[uuid.UUID]Cart), ttl: ttl, now: time.Now}
}

func (s *CartStore) Put(c Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[c.ID] = c
}

func (s *CartStore) Get(id uuid.UUID) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[id]
	if !ok || s.expired(c) {
		delete(s.carts, id)
		return Cart{}, ErrCartNotFound
	}
	return c, nil
}

// Update applies fn to the stored cart and stores the result.
func (s *CartStore) Update(id uuid.UUID, fn func(Cart) Cart) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[id]
	if !ok || s.expired(c) {
		delete(s.carts, id)
		return Cart{}, ErrCartNotFound
	}
	c = fn(c)
	s.carts[id] = c
	return c, nil
}

func (s *CartStore) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, id)
}

// Sweep drops expired carts and returns how many were dropped.
func (s *CartStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.carts {
		if s.expired(c) {
			delete(s.carts, id)
			n++
		}
	}
	return n
}

func (s *CartStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts)
}

func (s *CartStore) expired(c Cart) bool {
	return s.ttl > 0 && s.now().Sub(c.UpdatedAt) > s.ttl
}
