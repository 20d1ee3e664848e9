package gioc

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// SingletonScope keeps one instance per bean for the lifetime of the container
type SingletonScope struct {
	destroyables
	mu        sync.RWMutex
	instances map[string]*BeanData
}

// NewSingletonScope creates a singleton scope
func NewSingletonScope(log logr.Logger) *SingletonScope {
	return &SingletonScope{
		destroyables: destroyables{log: log.WithName("singleton-scope")},
		instances:    make(map[string]*BeanData, 16),
	}
}

func (s *SingletonScope) Lookup(_ context.Context, name string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bd, ok := s.instances[name]
	if !ok {
		return nil, false, nil
	}
	return bd.Bean, true, nil
}

func (s *SingletonScope) Register(_ context.Context, def *BeanDefinition, bean any) error {
	bd := NewBeanData(def, bean)
	s.mu.Lock()
	prev := s.instances[def.Name]
	s.instances[def.Name] = bd
	s.mu.Unlock()

	s.register(bd)
	return s.replaced(prev, bd)
}

func (s *SingletonScope) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	bd, ok := s.instances[name]
	delete(s.instances, name)
	s.mu.Unlock()

	if !ok || s.total() == 0 {
		return nil
	}
	return s.destroy(bd)
}

// Accept allows references to other singletons only
func (s *SingletonScope) Accept(ref Scope) bool {
	_, ok := ref.(*SingletonScope)
	return ok
}

// Shutdown destroys all destroyable singletons and forgets every instance
func (s *SingletonScope) Shutdown() error {
	s.mu.Lock()
	s.instances = make(map[string]*BeanData, 16)
	s.mu.Unlock()
	return s.shutdown()
}

// Len returns the number of stored instances
func (s *SingletonScope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}
