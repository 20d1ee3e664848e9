package httpsession

import (
	"errors"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/mstgnz/gioc/v2"
	"go.uber.org/multierr"
)

// ErrInvalidated is returned when an attribute is set on an invalidated session
var ErrInvalidated = errors.New("httpsession: session invalidated")

// Session is an in-memory HTTP session. Attribute values implementing
// gioc.SessionBindingListener are notified when they are bound and unbound.
type Session struct {
	id      string
	manager *Manager

	mu         sync.Mutex
	attrs      map[string]any
	lastAccess time.Time
	invalid    bool
}

var _ gioc.Session = (*Session)(nil)

func (s *Session) ID() string {
	return s.id
}

// Attribute returns the value stored under name, nil when absent
func (s *Session) Attribute(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attrs[name]
}

// AttributeNames returns the sorted attribute names
func (s *Session) AttributeNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.attrs))
	for name := range s.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetAttribute stores value under name. A replaced listener value is unbound.
func (s *Session) SetAttribute(name string, value any) error {
	s.mu.Lock()
	if s.invalid {
		s.mu.Unlock()
		return ErrInvalidated
	}
	prev, had := s.attrs[name]
	s.attrs[name] = value
	s.mu.Unlock()

	if had && same(prev, value) {
		return nil
	}
	if l, ok := value.(gioc.SessionBindingListener); ok {
		l.ValueBound(s, name)
	}
	if l, ok := prev.(gioc.SessionBindingListener); ok && had {
		return l.ValueUnbound(s, name)
	}
	return nil
}

// RemoveAttribute deletes name, unbinding a listener value
func (s *Session) RemoveAttribute(name string) error {
	s.mu.Lock()
	prev, had := s.attrs[name]
	delete(s.attrs, name)
	s.mu.Unlock()

	if l, ok := prev.(gioc.SessionBindingListener); ok && had {
		return l.ValueUnbound(s, name)
	}
	return nil
}

// LastAccess returns the time the session was last used by a request
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Touch records an access at now
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastAccess) {
		s.lastAccess = now
	}
}

// Valid reports whether the session was not invalidated yet
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.invalid
}

// Invalidate ends the session: it is removed from its manager and every
// attribute is unbound. Unbind failures of all attributes are returned together.
func (s *Session) Invalidate() error {
	s.mu.Lock()
	if s.invalid {
		s.mu.Unlock()
		return nil
	}
	s.invalid = true
	attrs := s.attrs
	s.attrs = make(map[string]any)
	s.mu.Unlock()

	if s.manager != nil {
		s.manager.forget(s.id)
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var err error
	for _, name := range names {
		if l, ok := attrs[name].(gioc.SessionBindingListener); ok {
			err = multierr.Append(err, l.ValueUnbound(s, name))
		}
	}
	return err
}

func (s *Session) expired(now time.Time, idle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccess) > idle
}

// same reports whether a and b are the same value, treating incomparable values as different
func same(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}
