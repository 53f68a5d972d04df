package record

import (
	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
)

// State is the tri-state of one proxy field slot.
type State int

const (
	// Unset means the field was never touched.
	Unset State = iota
	// Null means the field was explicitly nullified.
	Null
	// Value means the field carries a value.
	Value
)

// Accessor is the two-way bridge between one record field and a typed
// proxy struct. Accessors are plain closures built once at registration, so
// proxy materialization needs no runtime reflection.
type Accessor struct {
	// Get reads the field slot from the proxy, reporting its state.
	Get func(proxy any) (any, State)
	// Set writes the field slot on the proxy.
	Set func(proxy any, value any, state State)
}

// proxyBinding holds the registered accessor table for one type.
type proxyBinding struct {
	factory   func() any
	accessors map[string]Accessor
	id        struct {
		get func(proxy any) string
		set func(proxy any, id string)
	}
}

// ProxyRegistry maps type names to registered proxy accessor tables.
// Application code registers one typed struct per platform type and then
// moves between Records and proxies without losing field state.
type ProxyRegistry struct {
	bindings map[string]*proxyBinding
}

// NewProxyRegistry creates an empty proxy registry.
func NewProxyRegistry() *ProxyRegistry {
	return &ProxyRegistry{bindings: map[string]*proxyBinding{}}
}

// Register installs the accessor table for a qualified type name. factory
// produces an empty proxy; idGet/idSet bridge the record identifier;
// accessors bridge each mapped field.
func (p *ProxyRegistry) Register(qualifiedName string, factory func() any,
	idGet func(any) string, idSet func(any, string), accessors map[string]Accessor) {
	b := &proxyBinding{factory: factory, accessors: accessors}
	b.id.get = idGet
	b.id.set = idSet
	p.bindings[qualifiedName] = b
}

// GenerateProxy materializes a registered proxy from a record, copying the
// exact tri-state of every bound field.
func (p *ProxyRegistry) GenerateProxy(r *Record) (any, error) {
	b, ok := p.bindings[r.Type().QualifiedName()]
	if !ok {
		return nil, errdef.NotFound("no proxy registered for type %s", r.Type().QualifiedName())
	}
	proxy := b.factory()
	b.id.set(proxy, string(r.ID()))
	for field, acc := range b.accessors {
		switch {
		case !r.IsSet(field):
			acc.Set(proxy, nil, Unset)
		case r.IsNull(field):
			acc.Set(proxy, nil, Null)
		default:
			v, _ := r.Get(field)
			acc.Set(proxy, v, Value)
		}
	}
	return proxy, nil
}

// GenerateRecord materializes a record from a registered proxy, copying the
// exact tri-state of every bound field.
func (p *ProxyRegistry) GenerateRecord(t *meta.Type, proxy any) (*Record, error) {
	b, ok := p.bindings[t.QualifiedName()]
	if !ok {
		return nil, errdef.NotFound("no proxy registered for type %s", t.QualifiedName())
	}
	r := New(t)
	if id := b.id.get(proxy); id != "" {
		r.SetID(kid.KID(id))
	}
	for field, acc := range b.accessors {
		v, state := acc.Get(proxy)
		switch state {
		case Unset:
			// leave untouched
		case Null:
			if err := r.Nullify(field); err != nil {
				return nil, err
			}
		case Value:
			if err := r.Set(field, v); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}
