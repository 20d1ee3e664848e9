package gioc

import "context"

// TransientScope never stores instances, every lookup creates a new bean.
// Transient beans are not destroyed by the container.
type TransientScope struct{}

func (TransientScope) Lookup(context.Context, string) (any, bool, error) { return nil, false, nil }

func (TransientScope) Register(context.Context, *BeanDefinition, any) error { return nil }

func (TransientScope) Remove(context.Context, string) error { return nil }

// Accept allows references to every scope
func (TransientScope) Accept(Scope) bool { return true }

func (TransientScope) Shutdown() error { return nil }
