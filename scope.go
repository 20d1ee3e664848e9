package gioc

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// ScopeID represents a unique identifier for a scope context
type ScopeID string

var (
	scopeCounter      int
	scopeCounterMutex sync.Mutex
)

// ScopeContext maintains the beans of a single request
type ScopeContext struct {
	id        ScopeID
	beans     map[string]*BeanData
	listeners map[any]func(beans []*BeanData) error
	ended     bool
	mu        sync.RWMutex
}

// NewScopeContext creates a new scope context
func NewScopeContext() *ScopeContext {
	// time alone is not unique for contexts created in the same nanosecond
	scopeCounterMutex.Lock()
	scopeCounter++
	uniqueCounter := scopeCounter
	scopeCounterMutex.Unlock()

	return &ScopeContext{
		id:        ScopeID(fmt.Sprintf("scope-%d-%d", time.Now().UnixNano(), uniqueCounter)),
		beans:     make(map[string]*BeanData),
		listeners: make(map[any]func([]*BeanData) error),
	}
}

// ID returns the identifier of the scope context
func (s *ScopeContext) ID() ScopeID {
	return s.id
}

// Get returns a bean from the scope context
func (s *ScopeContext) Get(name string) (*BeanData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bd, exists := s.beans[name]
	return bd, exists
}

// Set stores a bean in the scope context
func (s *ScopeContext) Set(bd *BeanData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beans[bd.Name()] = bd
}

// Delete removes a bean from the scope context and returns it
func (s *ScopeContext) Delete(name string) (*BeanData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bd, exists := s.beans[name]
	delete(s.beans, name)
	return bd, exists
}

// Len returns the number of beans in the scope context
func (s *ScopeContext) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.beans)
}

// OnEnd registers fn to be called with the remaining beans when the context ends.
// Only the first registration per owner is kept.
func (s *ScopeContext) OnEnd(owner any, fn func(beans []*BeanData) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if _, ok := s.listeners[owner]; ok {
		return
	}
	s.listeners[owner] = fn
}

// Ended reports whether End was called
func (s *ScopeContext) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// End removes all beans from the scope context and passes them to the end listeners.
// Calling End more than once is a no-op.
func (s *ScopeContext) End() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	beans := make([]*BeanData, 0, len(s.beans))
	for _, bd := range s.beans {
		beans = append(beans, bd)
	}
	listeners := s.listeners
	s.beans = make(map[string]*BeanData)
	s.listeners = nil
	s.mu.Unlock()

	var err error
	for _, fn := range listeners {
		err = multierr.Append(err, fn(beans))
	}
	return err
}
