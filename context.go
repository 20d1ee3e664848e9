package gioc

import "context"

// Session is the host-provided HTTP session the session scope stores its beans in.
type Session interface {
	ID() string
	Attribute(name string) any
	SetAttribute(name string, value any) error
	RemoveAttribute(name string) error
}

// SessionBindingListener is implemented by attribute values that want to know
// when they are bound to or unbound from a session. Hosts call ValueUnbound
// when the attribute is replaced, removed, or when the session is invalidated.
type SessionBindingListener interface {
	ValueBound(s Session, name string)
	ValueUnbound(s Session, name string) error
}

// Request is the host's view of the request being served
type Request interface {
	// Session returns the session of the request, creating it when none exists.
	Session() Session
}

type requestKey struct{}

type boundRequest struct {
	req   Request
	beans *ScopeContext
}

// WithRequest binds req and a fresh request bean table to ctx. Hosts must call
// EndRequest with the returned context once the request has been served.
//
// Example:
//
//	func (h *host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
//	    ctx := gioc.WithRequest(r.Context(), h.request(w, r))
//	    defer gioc.EndRequest(ctx)
//	    h.next.ServeHTTP(w, r.WithContext(ctx))
//	}
func WithRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestKey{}, &boundRequest{req: req, beans: NewScopeContext()})
}

// RequestFromContext returns the request bound by WithRequest
func RequestFromContext(ctx context.Context) (Request, bool) {
	b, ok := ctx.Value(requestKey{}).(*boundRequest)
	if !ok {
		return nil, false
	}
	return b.req, true
}

// EndRequest ends the request bean table bound to ctx, destroying its beans.
func EndRequest(ctx context.Context) error {
	b, ok := ctx.Value(requestKey{}).(*boundRequest)
	if !ok {
		return ErrNoSession
	}
	return b.beans.End()
}

func requestBeans(ctx context.Context) (*ScopeContext, error) {
	b, ok := ctx.Value(requestKey{}).(*boundRequest)
	if !ok {
		return nil, ErrNoSession
	}
	return b.beans, nil
}

func currentSession(ctx context.Context) (Session, error) {
	req, ok := RequestFromContext(ctx)
	if !ok || req == nil {
		return nil, ErrNoSession
	}
	s := req.Session()
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}
