// Package httpsession hosts gioc session and request scopes on net/http.
//
// Manager keeps sessions in memory, identified by a cookie. Its Middleware
// binds every request to the request context so that session scoped beans
// can be resolved from handlers.
//
// Example:
//
//	m, err := httpsession.New(httpsession.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	go m.Run(ctx)
//	defer m.Close(context.Background())
//
//	http.Handle("/cart", m.Middleware(cartHandler))
package httpsession

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/mstgnz/gioc/v2"
	"golang.org/x/sync/errgroup"
)

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(log logr.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager stores HTTP sessions in memory
type Manager struct {
	cfg Config
	log logr.Logger
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a Manager
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		log:      logr.Discard(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithName("httpsession")
	return m, nil
}

// Config returns the configuration of the manager
func (m *Manager) Config() Config {
	return m.cfg
}

// Create starts a new session
func (m *Manager) Create() *Session {
	s := &Session{
		id:         uuid.NewString(),
		manager:    m,
		attrs:      make(map[string]any),
		lastAccess: m.now(),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.log.V(1).Info("session created", "session", s.id)
	return s
}

// Get returns the live session with id
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	return s, ok
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Invalidate ends the session with id. Unknown ids are ignored.
func (m *Manager) Invalidate(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return nil
	}
	return m.invalidate(s, "invalidated")
}

func (m *Manager) invalidate(s *Session, reason string) error {
	err := s.Invalidate()
	if err != nil {
		m.log.Error(err, "session destroy failed", "session", s.id, "reason", reason)
	} else {
		m.log.V(1).Info("session ended", "session", s.id, "reason", reason)
	}
	return err
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}

// Sweep invalidates every session idle for longer than the configured timeout
func (m *Manager) Sweep() error {
	now := m.now()
	var g errgroup.Group
	for _, s := range m.snapshot() {
		if !s.expired(now, m.cfg.IdleTimeout) {
			continue
		}
		s := s
		g.Go(func() error {
			return m.invalidate(s, "idle")
		})
	}
	return g.Wait()
}

// Run sweeps idle sessions every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// failures were logged by invalidate
			_ = m.Sweep()
		}
	}
}

// Close invalidates every live session. It returns the first destroy
// failure, or the context error for sessions left when ctx ends. A failing
// session does not stop the others from being invalidated.
func (m *Manager) Close(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(8)
	for _, s := range m.snapshot() {
		s := s
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return m.invalidate(s, "shutdown")
		})
	}
	return g.Wait()
}

// Middleware binds a gioc.Request to every request served by next. The
// session is created on first use and the session cookie is set then, so
// session beans should be resolved before the response body is written.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &request{m: m, w: w}
		if c, err := r.Cookie(m.cfg.CookieName); err == nil {
			if s, ok := m.Get(c.Value); ok && s.Valid() {
				s.Touch(m.now())
				req.session = s
			}
		}

		ctx := gioc.WithRequest(r.Context(), req)
		defer func() {
			if err := gioc.EndRequest(ctx); err != nil {
				m.log.Error(err, "request beans destroy failed", "path", r.URL.Path)
			}
		}()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Current returns the session of the request bound to ctx, creating it when
// the request has none.
func Current(ctx context.Context) (*Session, bool) {
	req, ok := gioc.RequestFromContext(ctx)
	if !ok {
		return nil, false
	}
	s, ok := req.Session().(*Session)
	return s, ok
}

type request struct {
	m *Manager
	w http.ResponseWriter

	mu      sync.Mutex
	session *Session
}

func (r *request) Session() gioc.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil && r.session.Valid() {
		return r.session
	}
	r.session = r.m.Create()
	http.SetCookie(r.w, &http.Cookie{
		Name:     r.m.cfg.CookieName,
		Value:    r.session.id,
		Path:     r.m.cfg.CookiePath,
		HttpOnly: true,
		Secure:   r.m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return r.session
}
