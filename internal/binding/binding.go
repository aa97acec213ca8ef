// Package binding implements the Binding Registry (C5): named
// credentialed clients exposed to untrusted code by method name only.
//
// Maps to: spec.md §4.5
package binding

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/mfateev/codemode-sandbox/internal/netpolicy"
	"github.com/mfateev/codemode-sandbox/internal/vault"
)

// Factory authenticates a credential into an opaque client handle.
type Factory func(cred vault.Credential) (any, error)

// Binding is a named, method-restricted handle to an authenticated
// client, with an optional per-binding network policy override.
type Binding struct {
	Name           string
	Kind           string
	Methods        map[string]struct{}
	PolicyOverride *netpolicy.Policy

	client any
}

// NotAuthenticated indicates execute() was called before authenticate().
type NotAuthenticated struct{ Name string }

func (e *NotAuthenticated) Error() string {
	return fmt.Sprintf("binding %q is not authenticated", e.Name)
}

// MethodNotAllowed indicates the named method is outside the binding's
// declared method set, or the client does not expose it.
type MethodNotAllowed struct {
	Name   string
	Method string
	Reason string
}

func (e *MethodNotAllowed) Error() string {
	return fmt.Sprintf("binding %q: method %q not allowed: %s", e.Name, e.Method, e.Reason)
}

// NotSerializable is a programming error: a bound method returned a value
// that cannot be marshaled to JSON for return to the isolate.
type NotSerializable struct {
	Name   string
	Method string
	Err    error
}

func (e *NotSerializable) Error() string {
	return fmt.Sprintf("binding %q method %q returned a non-serializable value: %v", e.Name, e.Method, e.Err)
}

// Registry is the process-wide Binding Registry. Reads are concurrency
// safe; register/create/authenticate/remove mutations are serialized at
// the host level via mu, per spec.md §4 "Shared-resource policy".
type Registry struct {
	vault *vault.Vault

	mu       sync.RWMutex
	bindings map[string]*Binding
}

// NewRegistry creates a Binding Registry backed by v for credential storage.
func NewRegistry(v *vault.Vault) *Registry {
	return &Registry{
		vault:    v,
		bindings: make(map[string]*Binding),
	}
}

// Snapshot returns each authenticated binding's name and declared method
// set, carrying no credential or client handle — the "snapshot Binding
// list (no credentials)" step of spec.md §4.8's Analyzing→Executing
// transition, and the shape internal/isolate.BuildPredeclared needs to
// expose binding.method(...) calls to untrusted code.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.bindings))
	for name, b := range r.bindings {
		if b.client == nil {
			continue
		}
		methods := make([]string, 0, len(b.Methods))
		for m := range b.Methods {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		out[name] = methods
	}
	return out
}

// RegisterCredential stores cred in the backing vault under name, making
// it available to a later Authenticate call for a binding of the same name.
func (r *Registry) RegisterCredential(ctx context.Context, name string, cred vault.Credential) error {
	return r.vault.Store(ctx, name, cred)
}

// CreateBinding declares a named binding with its allowed method set and
// optional per-binding network policy override. The binding is not yet
// usable until Authenticate is called.
func (r *Registry) CreateBinding(name, kind string, methods []string, override *netpolicy.Policy) (*Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	methodSet := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		methodSet[m] = struct{}{}
	}
	b := &Binding{
		Name:           name,
		Kind:           kind,
		Methods:        methodSet,
		PolicyOverride: override,
	}
	r.bindings[name] = b
	return b, nil
}

// Authenticate retrieves the credential registered under name and runs
// factory to produce an opaque client handle, stored under the binding.
func (r *Registry) Authenticate(ctx context.Context, name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[name]
	if !ok {
		return &NotAuthenticated{Name: name}
	}
	cred, ok := r.vault.Retrieve(ctx, name)
	if !ok {
		return fmt.Errorf("no credential registered for binding %q", name)
	}
	client, err := factory(*cred)
	if err != nil {
		return fmt.Errorf("authenticate binding %q: %w", name, err)
	}
	b.client = client
	return nil
}

// Execute invokes method on the named binding's authenticated client with
// args, returning a JSON-serializable result. It refuses if the binding
// has no authenticated client, the method is outside the declared method
// set, or the client does not expose the named method.
func (r *Registry) Execute(ctx context.Context, name, method string, args []any) (any, error) {
	r.mu.RLock()
	b, ok := r.bindings[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotAuthenticated{Name: name}
	}
	if b.client == nil {
		return nil, &NotAuthenticated{Name: name}
	}
	if _, allowed := b.Methods[method]; !allowed {
		return nil, &MethodNotAllowed{Name: name, Method: method, Reason: "not in binding's method set"}
	}

	fn := reflect.ValueOf(b.client).MethodByName(method)
	if !fn.IsValid() {
		return nil, &MethodNotAllowed{Name: name, Method: method, Reason: "client does not expose this method"}
	}

	in := make([]reflect.Value, 0, len(args)+1)
	fnType := fn.Type()
	argOffset := 0
	if fnType.NumIn() > 0 && fnType.In(0).Implements(reflect.TypeOf((*context.Context)(nil)).Elem()) {
		in = append(in, reflect.ValueOf(ctx))
		argOffset = 1
	}
	for i, a := range args {
		if fnType.NumIn() <= i+argOffset {
			break
		}
		in = append(in, reflect.ValueOf(a))
	}

	out := fn.Call(in)
	result, err := splitCallResult(out)
	if err != nil {
		return nil, fmt.Errorf("execute binding %q method %q: %w", name, method, err)
	}

	if result == nil {
		return nil, nil
	}
	if _, err := json.Marshal(result); err != nil {
		return nil, &NotSerializable{Name: name, Method: method, Err: err}
	}
	return result, nil
}

// splitCallResult interprets a reflect.Call result as (value, error) or
// (value) or (error) or (), matching Go's common method-return idioms.
func splitCallResult(out []reflect.Value) (any, error) {
	errType := reflect.TypeOf((*error)(nil)).Elem()
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type().Implements(errType) {
			if out[0].IsNil() {
				return nil, nil
			}
			return nil, out[0].Interface().(error)
		}
		return out[0].Interface(), nil
	default:
		last := out[len(out)-1]
		if last.Type().Implements(errType) && !last.IsNil() {
			return nil, last.Interface().(error)
		}
		return out[0].Interface(), nil
	}
}
