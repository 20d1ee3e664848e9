package gioc

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// SessionBeansAttribute prefixes the session attribute a SessionScope keeps
// its bean table under. Each scope appends its own sequence number.
const SessionBeansAttribute = "github.com/mstgnz/gioc/v2.SessionScope.beans"

var sessionScopeSeq atomic.Uint64

// SessionScope stores unique bean instances per HTTP session.
//
// The bean table of a session is created on the first registration and kept as
// a session attribute. When the host unbinds it, which happens when the session
// is invalidated, every bean of the table is destroyed. The session is taken
// from the request bound with WithRequest.
type SessionScope struct {
	destroyables
	attr string
	// serializes bean table creation
	mu sync.Mutex

	tablesMu sync.Mutex
	tables   map[*SessionBeans]struct{}
}

// NewSessionScope creates a session scope
func NewSessionScope(log logr.Logger) *SessionScope {
	return &SessionScope{
		destroyables: destroyables{log: log.WithName("session-scope")},
		attr:         SessionBeansAttribute + "#" + strconv.FormatUint(sessionScopeSeq.Add(1), 10),
		tables:       make(map[*SessionBeans]struct{}),
	}
}

// Attribute returns the session attribute name of the scope's bean tables
func (sc *SessionScope) Attribute() string {
	return sc.attr
}

// SessionBeans is the bean table of one session.
type SessionBeans struct {
	scope *SessionScope
	mu    sync.Mutex
	beans map[string]*BeanData
	ended bool
}

// ValueBound does nothing
func (sb *SessionBeans) ValueBound(Session, string) {}

// ValueUnbound destroys every bean of the session. A failing bean does not
// keep the others from being destroyed; all failures are returned together.
// The table refuses registrations afterwards.
func (sb *SessionBeans) ValueUnbound(s Session, _ string) error {
	list := sb.end()
	sb.scope.untrack(sb)

	sb.scope.log.V(1).Info("session ended", "session", s.ID(), "beans", len(list))
	return sb.scope.destroyAll(list)
}

// end marks the table ended and returns the beans it held
func (sb *SessionBeans) end() []*BeanData {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	list := make([]*BeanData, 0, len(sb.beans))
	for _, bd := range sb.beans {
		list = append(list, bd)
	}
	sb.beans = make(map[string]*BeanData)
	sb.ended = true
	return list
}

// Names returns the sorted names of the beans in the table
func (sb *SessionBeans) Names() []string {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	names := make([]string, 0, len(sb.beans))
	for name := range sb.beans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (sb *SessionBeans) get(name string) (*BeanData, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	bd, ok := sb.beans[name]
	return bd, ok
}

// put stores bd and returns the entry it replaced. It stores nothing and
// returns false once the table has ended. The bean is remembered for
// destruction under the table lock, so an ending table always sees it.
func (sb *SessionBeans) put(bd *BeanData) (*BeanData, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.ended {
		return nil, false
	}
	prev := sb.beans[bd.Name()]
	sb.beans[bd.Name()] = bd
	sb.scope.register(bd)
	return prev, true
}

func (sb *SessionBeans) delete(name string) (*BeanData, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	bd, ok := sb.beans[name]
	delete(sb.beans, name)
	return bd, ok
}

// Beans returns the bean table stored in s by this scope, or nil if none was created yet.
func (sc *SessionScope) Beans(s Session) *SessionBeans {
	sb, _ := s.Attribute(sc.attr).(*SessionBeans)
	return sb
}

func (sc *SessionScope) sessionBeans(s Session, create bool) (*SessionBeans, error) {
	if sb := sc.Beans(s); sb != nil || !create {
		return sb, nil
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sb := sc.Beans(s); sb != nil {
		return sb, nil
	}
	sb := &SessionBeans{scope: sc, beans: make(map[string]*BeanData)}
	if err := s.SetAttribute(sc.attr, sb); err != nil {
		return nil, fmt.Errorf("bind session beans: %w", err)
	}
	sc.tablesMu.Lock()
	sc.tables[sb] = struct{}{}
	sc.tablesMu.Unlock()
	return sb, nil
}

func (sc *SessionScope) untrack(sb *SessionBeans) {
	sc.tablesMu.Lock()
	delete(sc.tables, sb)
	sc.tablesMu.Unlock()
}

// Lookup returns the bean stored under name in the current session
func (sc *SessionScope) Lookup(ctx context.Context, name string) (any, bool, error) {
	s, err := currentSession(ctx)
	if err != nil {
		return nil, false, err
	}
	sb, _ := sc.sessionBeans(s, false)
	if sb == nil {
		return nil, false, nil
	}
	bd, ok := sb.get(name)
	if !ok {
		return nil, false, nil
	}
	return bd.Bean, true, nil
}

// Register stores bean in the current session, replacing and destroying a
// previous instance of the same name.
func (sc *SessionScope) Register(ctx context.Context, def *BeanDefinition, bean any) error {
	s, err := currentSession(ctx)
	if err != nil {
		return err
	}
	sb, err := sc.sessionBeans(s, true)
	if err != nil {
		return err
	}

	bd := NewBeanData(def, bean)
	prev, ok := sb.put(bd)
	if !ok {
		if err := destroyBean(bd); err != nil {
			sc.log.Error(err, "bean destroy failed", "bean", def.Name)
		}
		return fmt.Errorf("register %q: session %s already ended: %w", def.Name, s.ID(), ErrNoSession)
	}
	return sc.replaced(prev, bd)
}

// Remove deletes the bean stored under name in the current session and
// destroys it. Removing an unknown name is a no-op.
func (sc *SessionScope) Remove(ctx context.Context, name string) error {
	s, err := currentSession(ctx)
	if err != nil {
		return err
	}
	sb, _ := sc.sessionBeans(s, false)
	if sb == nil {
		return nil
	}
	bd, ok := sb.delete(name)
	if !ok || sc.total() == 0 {
		return nil
	}
	return sc.destroy(bd)
}

// Accept allows references to singleton and session beans only
func (sc *SessionScope) Accept(ref Scope) bool {
	switch ref.(type) {
	case *SingletonScope, *SessionScope:
		return true
	}
	return false
}

// Shutdown ends the bean table of every session still alive and destroys
// their destroyable beans. The tables stay bound to their sessions but are
// empty and refuse new beans.
func (sc *SessionScope) Shutdown() error {
	sc.tablesMu.Lock()
	tables := sc.tables
	sc.tables = make(map[*SessionBeans]struct{})
	sc.tablesMu.Unlock()

	for sb := range tables {
		sb.end()
	}
	return sc.shutdown()
}

// Partition returns the current session ID
func (sc *SessionScope) Partition(ctx context.Context) (string, error) {
	s, err := currentSession(ctx)
	if err != nil {
		return "", err
	}
	return "session:" + s.ID(), nil
}
