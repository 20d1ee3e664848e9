// Package gioc provides a lightweight Inversion of Control (IoC) container for Go.
// Beans are registered by name together with the scope they live in: one
// instance per container, per request, per HTTP session, or a new instance on
// every lookup.
//
// Example:
//
//	c := gioc.New()
//	_ = c.Register(gioc.BeanDefinition{
//	    Name:  "cart",
//	    Scope: gioc.SessionScoped,
//	    Factory: func(ctx context.Context, c *gioc.Container) (any, error) {
//	        return &Cart{}, nil
//	    },
//	})
//
//	func handle(w http.ResponseWriter, r *http.Request) {
//	    cart, err := gioc.Get[*Cart](r.Context(), c, "cart")
//	    // ...
//	}
package gioc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// Option configures a Container
type Option func(*Container)

// WithLogger sets the logger of the container and of its default scopes
func WithLogger(log logr.Logger) Option {
	return func(c *Container) {
		c.log = log
	}
}

// WithScope replaces the scope used for kind
func WithScope(kind ScopeKind, scope Scope) Option {
	return func(c *Container) {
		c.scopes[kind] = scope
	}
}

// Container resolves named beans and keeps them in their scopes
type Container struct {
	defs   map[string]*BeanDefinition
	scopes map[ScopeKind]Scope
	log    logr.Logger
	group  singleflight.Group
}

// shutdown order, narrowest lifetime first
var scopeKinds = []ScopeKind{RequestScoped, SessionScoped, Transient, Singleton}

// New creates a container with the default singleton, transient, request and session scopes.
func New(opts ...Option) *Container {
	c := &Container{
		defs:   make(map[string]*BeanDefinition, 16),
		scopes: make(map[ScopeKind]Scope, len(scopeKinds)),
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithName("gioc")

	if _, ok := c.scopes[Singleton]; !ok {
		c.scopes[Singleton] = NewSingletonScope(c.log)
	}
	if _, ok := c.scopes[Transient]; !ok {
		c.scopes[Transient] = TransientScope{}
	}
	if _, ok := c.scopes[RequestScoped]; !ok {
		c.scopes[RequestScoped] = NewRequestScope(c.log)
	}
	if _, ok := c.scopes[SessionScoped]; !ok {
		c.scopes[SessionScoped] = NewSessionScope(c.log)
	}
	return c
}

// Scope returns the scope used for kind
func (c *Container) Scope(kind ScopeKind) (Scope, bool) {
	s, ok := c.scopes[kind]
	return s, ok
}

// Register adds a bean definition. Definitions are expected to be registered
// before the container serves any lookup.
func (c *Container) Register(def BeanDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if def.Factory == nil {
		return fmt.Errorf("%w: bean %q has no factory", ErrInvalidDefinition, def.Name)
	}
	if _, ok := c.scopes[def.Scope]; !ok {
		return fmt.Errorf("%w: bean %q has unknown scope %s", ErrInvalidDefinition, def.Name, def.Scope)
	}
	if _, ok := c.defs[def.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateBean, def.Name)
	}
	c.defs[def.Name] = &def
	return nil
}

// MustRegister is like Register but panics on error
func (c *Container) MustRegister(def BeanDefinition) {
	if err := c.Register(def); err != nil {
		panic(err)
	}
}

// Names returns the sorted names of all registered beans
func (c *Container) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the declared dependencies of every definition against the
// registered beans and their scopes. Cycles are reported too. All problems
// are returned together.
func (c *Container) Validate() error {
	var err error
	for _, name := range c.Names() {
		def := c.defs[name]
		scope := c.scopes[def.Scope]
		for _, dep := range def.DependsOn {
			depDef, ok := c.defs[dep]
			if !ok {
				err = multierr.Append(err, fmt.Errorf("bean %q depends on %q: %w", name, dep, ErrBeanNotFound))
				continue
			}
			if !scope.Accept(c.scopes[depDef.Scope]) {
				err = multierr.Append(err, fmt.Errorf("%w: %s bean %q cannot reference %s bean %q",
					ErrScopeMismatch, def.Scope, name, depDef.Scope, dep))
			}
		}
	}
	return multierr.Append(err, c.checkCycles())
}

// checkCycles walks DependsOn depth first and reports the first cycle found
func (c *Container) checkCycles() error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(c.defs))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			for i, n := range path {
				if n == name {
					return fmt.Errorf("%w: %s", ErrCircularDependency, strings.Join(append(path[i:], name), " -> "))
				}
			}
		}
		def, ok := c.defs[name]
		if !ok {
			return nil
		}
		state[name] = visiting
		path = append(path, name)
		for _, dep := range def.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	for _, name := range c.Names() {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

type pathKey struct{}

// resolutionPath returns the beans being created along ctx
func resolutionPath(ctx context.Context) []string {
	path, _ := ctx.Value(pathKey{}).([]string)
	return path
}

// Get returns the bean registered under name, creating it in its scope when
// the scope holds no instance yet. Factories resolve their dependencies by
// calling Get with the context they receive, which lets the container detect
// cycles and references into narrower-lived scopes.
//
// Concurrent calls for the same bean in the same scope storage run the
// factory once. Dependency cycles between beans that are created concurrently
// by different callers are only reported by Validate.
func (c *Container) Get(ctx context.Context, name string) (any, error) {
	def, ok := c.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBeanNotFound, name)
	}
	scope := c.scopes[def.Scope]

	path := resolutionPath(ctx)
	for i, n := range path {
		if n == name {
			return nil, fmt.Errorf("%w: %s", ErrCircularDependency, strings.Join(append(append([]string(nil), path[i:]...), name), " -> "))
		}
	}
	if len(path) > 0 {
		parent := c.defs[path[len(path)-1]]
		if !c.scopes[parent.Scope].Accept(scope) {
			return nil, fmt.Errorf("%w: %s bean %q cannot reference %s bean %q",
				ErrScopeMismatch, parent.Scope, parent.Name, def.Scope, name)
		}
	}

	if bean, found, err := scope.Lookup(ctx, name); err != nil {
		return nil, fmt.Errorf("lookup %q: %w", name, err)
	} else if found {
		return bean, nil
	}

	if def.Scope == Transient {
		return c.create(ctx, def, scope, path)
	}

	key := def.Scope.String() + "/" + name
	if p, ok := scope.(Partitioner); ok {
		part, err := p.Partition(ctx)
		if err != nil {
			return nil, fmt.Errorf("lookup %q: %w", name, err)
		}
		key = part + "/" + name
	}

	bean, err, _ := c.group.Do(key, func() (any, error) {
		if bean, found, err := scope.Lookup(ctx, name); err != nil || found {
			return bean, err
		}
		return c.create(ctx, def, scope, path)
	})
	return bean, err
}

func (c *Container) create(ctx context.Context, def *BeanDefinition, scope Scope, path []string) (any, error) {
	next := make([]string, len(path), len(path)+1)
	copy(next, path)
	next = append(next, def.Name)

	bean, err := def.Factory(context.WithValue(ctx, pathKey{}, next), c)
	if err != nil {
		return nil, fmt.Errorf("create bean %q: %w", def.Name, err)
	}
	if err := scope.Register(ctx, def, bean); err != nil {
		return nil, fmt.Errorf("register bean %q: %w", def.Name, err)
	}
	c.log.V(1).Info("bean created", "bean", def.Name, "scope", def.Scope.String(), "type", fmt.Sprintf("%T", bean))
	return bean, nil
}

// Remove removes the instance of name from its scope, destroying it.
func (c *Container) Remove(ctx context.Context, name string) error {
	def, ok := c.defs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBeanNotFound, name)
	}
	return c.scopes[def.Scope].Remove(ctx, name)
}

// Shutdown shuts every scope down, narrowest lifetime first, and returns
// the destroy failures of all of them.
func (c *Container) Shutdown() error {
	var err error
	for _, kind := range scopeKinds {
		if scope, ok := c.scopes[kind]; ok {
			err = multierr.Append(err, scope.Shutdown())
		}
	}
	if err != nil {
		c.log.Error(err, "container shutdown finished with errors")
	}
	return err
}

// Get returns the bean registered under name as a T.
//
// Example:
//
//	cart, err := gioc.Get[*Cart](ctx, c, "cart")
func Get[T any](ctx context.Context, c *Container, name string) (T, error) {
	var zero T
	bean, err := c.Get(ctx, name)
	if err != nil {
		return zero, err
	}
	typed, ok := bean.(T)
	if !ok {
		return zero, fmt.Errorf("%w: bean %q: expected %T, got %T", ErrTypeMismatch, name, zero, bean)
	}
	return typed, nil
}

// MustGet is like Get but panics on error
func MustGet[T any](ctx context.Context, c *Container, name string) T {
	bean, err := Get[T](ctx, c, name)
	if err != nil {
		panic(err)
	}
	return bean
}

// WithRequestScope executes fn with a request bound to the context and ends
// the request afterwards, regardless of whether fn panics or not.
//
// Example:
//
//	err := gioc.WithRequestScope(ctx, req, func(ctx context.Context) error {
//	    svc, err := gioc.Get[*RequestService](ctx, c, "requestService")
//	    // Use svc...
//	    return err
//	})
func WithRequestScope(ctx context.Context, req Request, fn func(ctx context.Context) error) (err error) {
	ctx = WithRequest(ctx, req)
	defer func() {
		err = multierr.Append(err, EndRequest(ctx))
	}()
	return fn(ctx)
}
