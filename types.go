package gioc

import (
	"context"
	"errors"
	"fmt"
)

// ScopeKind names the lifetime of a bean in the container
type ScopeKind int

const (
	// Singleton scope (default): One instance per container lifetime
	Singleton ScopeKind = iota
	// Transient scope: New instance each time
	Transient
	// Request scope: One instance per bound request
	RequestScoped
	// Session scope: One instance per HTTP session
	SessionScoped
)

func (k ScopeKind) String() string {
	switch k {
	case Singleton:
		return "singleton"
	case Transient:
		return "transient"
	case RequestScoped:
		return "request"
	case SessionScoped:
		return "session"
	}
	return fmt.Sprintf("scope(%d)", int(k))
}

var (
	// ErrNoSession is returned by request and session scopes when no request is bound to the context.
	ErrNoSession = errors.New("gioc: no HTTP request bound to the context; is the session middleware installed?")
	// ErrBeanNotFound is returned when no definition exists for a bean name.
	ErrBeanNotFound = errors.New("gioc: bean not found")
	// ErrDuplicateBean is returned when a bean name is registered twice.
	ErrDuplicateBean = errors.New("gioc: duplicate bean")
	// ErrInvalidDefinition is returned for definitions the container cannot use.
	ErrInvalidDefinition = errors.New("gioc: invalid bean definition")
	// ErrScopeMismatch is returned when a bean references a bean of a narrower-lived scope.
	ErrScopeMismatch = errors.New("gioc: scope mismatch")
	// ErrCircularDependency is returned when a bean depends on itself through other beans.
	ErrCircularDependency = errors.New("gioc: circular dependency detected")
	// ErrTypeMismatch is returned by Get when the bean has a different type than requested.
	ErrTypeMismatch = errors.New("gioc: type mismatch")
)

// Factory creates a bean instance. Dependencies are resolved by calling
// c.Get with the ctx passed in, so the container can follow the resolution path.
type Factory func(ctx context.Context, c *Container) (any, error)

// BeanDefinition describes how a named bean is created and how long it lives
type BeanDefinition struct {
	Name  string
	Scope ScopeKind
	// Factory creates the instance.
	Factory Factory
	// DependsOn lists the beans Factory resolves. It is only used by Validate.
	DependsOn []string
	// DestroyFuncs run, in order, when the instance is destroyed.
	DestroyFuncs []func(bean any) error
}

// Destroyer is implemented by beans that need cleanup when their scope ends
type Destroyer interface {
	Destroy() error
}

// BeanData pairs a definition with a live instance
type BeanData struct {
	Definition *BeanDefinition
	Bean       any
}

// NewBeanData creates a BeanData
func NewBeanData(def *BeanDefinition, bean any) *BeanData {
	return &BeanData{Definition: def, Bean: bean}
}

// Name returns the bean name of the definition
func (bd *BeanData) Name() string {
	return bd.Definition.Name
}

// Destroyable reports whether the bean has any destroy logic
func (bd *BeanData) Destroyable() bool {
	if _, ok := bd.Bean.(Destroyer); ok {
		return true
	}
	return bd.Definition != nil && len(bd.Definition.DestroyFuncs) > 0
}

// Scope stores bean instances for one lifetime policy.
//
// Lookup reports whether an instance is stored under name. Register stores an
// instance and remembers it for destruction when it is destroyable. Remove
// deletes an instance. Accept tells whether a bean living in this scope may
// hold a reference to a bean living in ref. Shutdown destroys every
// destroyable bean the scope still knows about.
type Scope interface {
	Lookup(ctx context.Context, name string) (any, bool, error)
	Register(ctx context.Context, def *BeanDefinition, bean any) error
	Remove(ctx context.Context, name string) error
	Accept(ref Scope) bool
	Shutdown() error
}

// Partitioner is implemented by scopes whose storage depends on the context.
// Partition returns the identity of the storage used for ctx.
type Partitioner interface {
	Partition(ctx context.Context) (string, error)
}
