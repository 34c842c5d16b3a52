package pool

import "context"

// DefaultHandle is the handle a lookup falls back to when nothing more
// specific is registered.
const DefaultHandle = "Default"

// Registry maps pool names and logical handles to pools. It replaces the
// process-global pool tables: build one at startup and pass it to whatever
// needs a named pool.
//
// Registration happens during startup wiring, before lookups begin, so
// lookups take no lock.
type Registry struct {
	pools   map[string]*Pool
	handles map[string]*Pool
}

func NewRegistry() *Registry {
	return &Registry{
		pools:   make(map[string]*Pool),
		handles: make(map[string]*Pool),
	}
}

// Register installs p under name and routes the given handles to it. The
// first installed pool also becomes the Default fallback unless a pool was
// explicitly routed there.
func (r *Registry) Register(name string, p *Pool, handles ...string) {
	r.pools[name] = p
	for _, h := range handles {
		r.handles[h] = p
	}
	if _, ok := r.handles[DefaultHandle]; !ok {
		r.handles[DefaultHandle] = p
	}
}

// Pool returns the pool routed to handle, falling back to Default. The
// second return is false when no pool serves the handle at all (e.g. every
// pool disabled by configuration).
func (r *Registry) Pool(handle string) (*Pool, bool) {
	if p, ok := r.handles[handle]; ok {
		return p, true
	}
	p, ok := r.handles[DefaultHandle]
	return p, ok
}

// Close shuts every installed pool down.
func (r *Registry) Close(ctx context.Context) error {
	var first error
	for _, p := range r.pools {
		if err := p.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
