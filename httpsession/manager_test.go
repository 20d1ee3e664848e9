package httpsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/go-logr/logr/testr"
	"github.com/mstgnz/gioc/v2"
)

type cart struct {
	items     int
	destroyed atomic.Int32
}

func (c *cart) Destroy() error {
	c.destroyed.Add(1)
	return nil
}

type audit struct {
	destroyed atomic.Int32
}

func (a *audit) Destroy() error {
	a.destroyed.Add(1)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type app struct {
	manager   *Manager
	container *gioc.Container
	handler   http.Handler
	clock     *clock

	mu     sync.Mutex
	carts  []*cart
	audits []*audit
}

func newApp(t *testing.T) *app {
	t.Helper()
	a := &app{clock: &clock{now: time.Unix(1_700_000_000, 0)}}

	m, err := New(DefaultConfig(), WithLogger(testr.New(t)), WithClock(a.clock.Now))
	assert.NoError(t, err)
	a.manager = m

	c := gioc.New(gioc.WithLogger(testr.New(t)))
	c.MustRegister(gioc.BeanDefinition{Name: "cart", Scope: gioc.SessionScoped, Factory: func(context.Context, *gioc.Container) (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		ct := &cart{}
		a.carts = append(a.carts, ct)
		return ct, nil
	}})
	c.MustRegister(gioc.BeanDefinition{Name: "audit", Scope: gioc.RequestScoped, Factory: func(context.Context, *gioc.Container) (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		au := &audit{}
		a.audits = append(a.audits, au)
		return au, nil
	}})
	assert.NoError(t, c.Validate())
	a.container = c

	mux := http.NewServeMux()
	mux.HandleFunc("/add", func(w http.ResponseWriter, r *http.Request) {
		ct, err := gioc.Get[*cart](r.Context(), c, "cart")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if _, err := gioc.Get[*audit](r.Context(), c, "audit"); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ct.items++
		fmt.Fprint(w, ct.items)
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		s, ok := Current(r.Context())
		if !ok {
			http.Error(w, "no session", http.StatusInternalServerError)
			return
		}
		if err := s.Invalidate(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	a.handler = m.Middleware(mux)
	return a
}

func (a *app) do(t *testing.T, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultConfig().CookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestMiddlewareKeepsBeansPerSession(t *testing.T) {
	a := newApp(t)

	first := a.do(t, "/add")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Body.String())
	cookie := sessionCookie(t, first)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)

	second := a.do(t, "/add", cookie)
	assert.Equal(t, "2", second.Body.String())
	assert.Equal(t, 0, len(second.Result().Cookies()))

	// another client gets its own cart
	other := a.do(t, "/add")
	assert.Equal(t, "1", other.Body.String())

	assert.Equal(t, 2, len(a.carts))
	assert.Equal(t, 2, a.manager.Len())
}

func TestMiddlewareEndsRequestBeans(t *testing.T) {
	a := newApp(t)
	cookie := sessionCookie(t, a.do(t, "/add"))
	a.do(t, "/add", cookie)

	assert.Equal(t, 2, len(a.audits))
	for _, au := range a.audits {
		assert.Equal(t, int32(1), au.destroyed.Load())
	}
	assert.Equal(t, int32(0), a.carts[0].destroyed.Load())
}

func TestMiddlewareUnknownCookieStartsNewSession(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, "/add", &http.Cookie{Name: DefaultConfig().CookieName, Value: "stale"})
	assert.Equal(t, "1", rec.Body.String())
	assert.NotEqual(t, "stale", sessionCookie(t, rec).Value)
}

func TestInvalidateDestroysSessionBeans(t *testing.T) {
	a := newApp(t)
	c1 := sessionCookie(t, a.do(t, "/add"))
	c2 := sessionCookie(t, a.do(t, "/add"))

	assert.NoError(t, a.manager.Invalidate(c1.Value))
	assert.Equal(t, int32(1), a.carts[0].destroyed.Load())
	assert.Equal(t, int32(0), a.carts[1].destroyed.Load())
	assert.Equal(t, 1, a.manager.Len())

	_, ok := a.manager.Get(c1.Value)
	assert.False(t, ok)
	_, ok = a.manager.Get(c2.Value)
	assert.True(t, ok)

	// unknown and repeated ids are ignored
	assert.NoError(t, a.manager.Invalidate(c1.Value))
	assert.NoError(t, a.manager.Invalidate("unknown"))

	// the old cookie starts over with a fresh cart
	rec := a.do(t, "/add", c1)
	assert.Equal(t, "1", rec.Body.String())
}

func TestLogoutInsideRequest(t *testing.T) {
	a := newApp(t)
	cookie := sessionCookie(t, a.do(t, "/add"))

	rec := a.do(t, "/logout", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), a.carts[0].destroyed.Load())
	assert.Equal(t, 0, a.manager.Len())
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	a := newApp(t)
	idle := sessionCookie(t, a.do(t, "/add"))

	a.clock.Advance(20 * time.Minute)
	active := sessionCookie(t, a.do(t, "/add"))

	a.clock.Advance(15 * time.Minute)
	a.do(t, "/add", active)

	assert.NoError(t, a.manager.Sweep())
	_, ok := a.manager.Get(idle.Value)
	assert.False(t, ok)
	_, ok = a.manager.Get(active.Value)
	assert.True(t, ok)
	assert.Equal(t, int32(1), a.carts[0].destroyed.Load())
	assert.Equal(t, int32(0), a.carts[1].destroyed.Load())
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	cfg.IdleTimeout = time.Millisecond
	m, err := New(cfg, WithLogger(testr.New(t)))
	assert.NoError(t, err)

	m.Create()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for m.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, m.Len())

	cancel()
	assert.NoError(t, <-done)
}

func TestCloseInvalidatesEverySession(t *testing.T) {
	a := newApp(t)
	for i := 0; i < 20; i++ {
		a.do(t, "/add")
	}
	assert.Equal(t, 20, a.manager.Len())

	assert.NoError(t, a.manager.Close(context.Background()))
	assert.Equal(t, 0, a.manager.Len())
	for _, ct := range a.carts {
		assert.Equal(t, int32(1), ct.destroyed.Load())
	}
}

func TestCloseWithCancelledContext(t *testing.T) {
	m, err := New(DefaultConfig())
	assert.NoError(t, err)
	m.Create()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.IsError(t, m.Close(ctx), context.Canceled)
	assert.Equal(t, 1, m.Len())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CookieName = ""
	_, err := New(cfg)
	assert.Error(t, err)
}

type listener struct {
	bound   []string
	unbound []string
	err     error
}

func (l *listener) ValueBound(_ gioc.Session, name string) { l.bound = append(l.bound, name) }

func (l *listener) ValueUnbound(_ gioc.Session, name string) error {
	l.unbound = append(l.unbound, name)
	return l.err
}

func TestSessionAttributes(t *testing.T) {
	m, err := New(DefaultConfig())
	assert.NoError(t, err)
	s := m.Create()

	l1, l2 := &listener{}, &listener{}
	assert.NoError(t, s.SetAttribute("a", l1))
	assert.NoError(t, s.SetAttribute("a", l1))
	assert.Equal(t, []string{"a"}, l1.bound)
	assert.Equal(t, 0, len(l1.unbound))

	assert.NoError(t, s.SetAttribute("a", l2))
	assert.Equal(t, []string{"a"}, l1.unbound)
	assert.Equal(t, []string{"a"}, l2.bound)

	assert.NoError(t, s.SetAttribute("plain", map[string]int{"x": 1}))
	assert.NoError(t, s.SetAttribute("plain", map[string]int{"x": 2}))
	assert.Equal(t, []string{"a", "plain"}, s.AttributeNames())

	assert.NoError(t, s.RemoveAttribute("a"))
	assert.Equal(t, []string{"a"}, l2.unbound)
	assert.Equal(t, nil, s.Attribute("a"))
}

func TestSessionInvalidate(t *testing.T) {
	m, err := New(DefaultConfig())
	assert.NoError(t, err)
	s := m.Create()

	failing := &listener{err: errors.New("unbind failed")}
	ok := &listener{}
	assert.NoError(t, s.SetAttribute("failing", failing))
	assert.NoError(t, s.SetAttribute("ok", ok))

	err = s.Invalidate()
	assert.EqualError(t, err, "unbind failed")
	assert.Equal(t, []string{"ok"}, ok.unbound)
	assert.False(t, s.Valid())
	assert.Equal(t, 0, m.Len())

	assert.NoError(t, s.Invalidate())
	assert.Equal(t, 1, len(failing.unbound))
	assert.IsError(t, s.SetAttribute("x", 1), ErrInvalidated)
}

func TestCurrentWithoutRequest(t *testing.T) {
	_, ok := Current(context.Background())
	assert.False(t, ok)
}
