package gioc

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
)

// RequestScope stores unique bean instances per request bound with WithRequest.
// The beans are destroyed when the host calls EndRequest.
type RequestScope struct {
	destroyables
}

// NewRequestScope creates a request scope
func NewRequestScope(log logr.Logger) *RequestScope {
	return &RequestScope{destroyables: destroyables{log: log.WithName("request-scope")}}
}

func (r *RequestScope) Lookup(ctx context.Context, name string) (any, bool, error) {
	sc, err := requestBeans(ctx)
	if err != nil {
		return nil, false, err
	}
	bd, ok := sc.Get(name)
	if !ok {
		return nil, false, nil
	}
	return bd.Bean, true, nil
}

func (r *RequestScope) Register(ctx context.Context, def *BeanDefinition, bean any) error {
	sc, err := requestBeans(ctx)
	if err != nil {
		return err
	}
	if sc.Ended() {
		return fmt.Errorf("register %q: request %s already ended: %w", def.Name, sc.ID(), ErrNoSession)
	}

	sc.OnEnd(r, r.destroyAll)
	prev, _ := sc.Get(def.Name)
	bd := NewBeanData(def, bean)
	sc.Set(bd)
	r.register(bd)
	return r.replaced(prev, bd)
}

func (r *RequestScope) Remove(ctx context.Context, name string) error {
	sc, err := requestBeans(ctx)
	if err != nil {
		return err
	}
	bd, ok := sc.Delete(name)
	if !ok || r.total() == 0 {
		return nil
	}
	return r.destroy(bd)
}

// Accept allows references to singleton, session and request beans
func (r *RequestScope) Accept(ref Scope) bool {
	switch ref.(type) {
	case *SingletonScope, *SessionScope, *RequestScope:
		return true
	}
	return false
}

func (r *RequestScope) Shutdown() error {
	return r.shutdown()
}

// Partition returns the ID of the bound request bean table
func (r *RequestScope) Partition(ctx context.Context) (string, error) {
	sc, err := requestBeans(ctx)
	if err != nil {
		return "", err
	}
	return "request:" + string(sc.ID()), nil
}
