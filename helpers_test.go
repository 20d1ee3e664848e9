package gioc

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// testSession is a minimal host session
type testSession struct {
	id    string
	mu    sync.Mutex
	attrs map[string]any
}

func newTestSession(id string) *testSession {
	return &testSession{id: id, attrs: make(map[string]any)}
}

func (s *testSession) ID() string { return s.id }

func (s *testSession) Attribute(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attrs[name]
}

func (s *testSession) SetAttribute(name string, value any) error {
	s.mu.Lock()
	prev := s.attrs[name]
	s.attrs[name] = value
	s.mu.Unlock()
	if l, ok := value.(SessionBindingListener); ok {
		l.ValueBound(s, name)
	}
	if l, ok := prev.(SessionBindingListener); ok {
		return l.ValueUnbound(s, name)
	}
	return nil
}

func (s *testSession) RemoveAttribute(name string) error {
	s.mu.Lock()
	prev := s.attrs[name]
	delete(s.attrs, name)
	s.mu.Unlock()
	if l, ok := prev.(SessionBindingListener); ok {
		return l.ValueUnbound(s, name)
	}
	return nil
}

// end unbinds every attribute, the way a host invalidates a session
func (s *testSession) end() error {
	s.mu.Lock()
	attrs := s.attrs
	s.attrs = make(map[string]any)
	s.mu.Unlock()

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var err error
	for _, name := range names {
		if l, ok := attrs[name].(SessionBindingListener); ok {
			err = multierr.Append(err, l.ValueUnbound(s, name))
		}
	}
	return err
}

type testRequest struct {
	session Session
}

func (r testRequest) Session() Session { return r.session }

func sessionCtx(s Session) context.Context {
	return WithRequest(context.Background(), testRequest{session: s})
}

// trackedBean counts how often it was destroyed
type trackedBean struct {
	name      string
	destroyed atomic.Int32
	fail      bool
	panics    bool
}

func (b *trackedBean) Destroy() error {
	b.destroyed.Add(1)
	if b.panics {
		panic("destroy " + b.name)
	}
	if b.fail {
		return errors.New("cannot destroy " + b.name)
	}
	return nil
}

func beanDef(name string, kind ScopeKind) *BeanDefinition {
	return &BeanDefinition{
		Name:  name,
		Scope: kind,
		Factory: func(context.Context, *Container) (any, error) {
			return &trackedBean{name: name}, nil
		},
	}
}
