package plugin

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"indexao/pkg/capability"
)

// Factory constructs an adapter instance from its resolved options.
type Factory func(ctx context.Context, opts Options) (any, error)

// AdapterClass is an unconstructed adapter: the concrete type it produces
// and the factory that builds it.
type AdapterClass struct {
	TypeName string
	Type     reflect.Type
	New      Factory
	// Configurable is false when the factory ignores its options.
	Configurable bool
}

// Class describes an adapter type T built by fn.
func Class[T any](fn func(ctx context.Context, opts Options) (T, error)) AdapterClass {
	typ := reflect.TypeFor[T]()
	return AdapterClass{
		TypeName:     typeName(typ),
		Type:         typ,
		Configurable: true,
		New: func(ctx context.Context, opts Options) (any, error) {
			return fn(ctx, opts)
		},
	}
}

// ClassNoConfig describes an adapter type T whose constructor takes no options.
func ClassNoConfig[T any](fn func(ctx context.Context) (T, error)) AdapterClass {
	typ := reflect.TypeFor[T]()
	return AdapterClass{
		TypeName: typeName(typ),
		Type:     typ,
		New: func(ctx context.Context, _ Options) (any, error) {
			return fn(ctx)
		},
	}
}

// HasMethod reports whether the adapter type exposes the named method.
func (c AdapterClass) HasMethod(name string) bool {
	if c.Type == nil {
		return false
	}
	_, ok := c.Type.MethodByName(name)
	return ok
}

func (c AdapterClass) construct(ctx context.Context, opts Options) (any, error) {
	if c.New == nil {
		return nil, errors.New("adapter class has no factory")
	}
	inst, err := c.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	if isNil(inst) {
		return nil, fmt.Errorf("factory for %s returned nil", c.TypeName)
	}
	return inst, nil
}

func typeName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// sameInstance compares adapter instances by identity without panicking on
// non-comparable dynamic types.
func sameInstance(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// validateClass checks the class against the contract of kind. Every
// missing operation is reported.
func validateClass(kind capability.Kind, class AdapterClass) error {
	required := capability.RequiredOperations(kind)
	verr := &ValidationError{Kind: kind, TypeName: class.TypeName, Required: required}
	if class.Type == nil {
		verr.Missing = required
		return verr
	}
	for _, op := range required {
		if !class.HasMethod(op) {
			verr.Missing = append(verr.Missing, op)
		}
	}
	if len(verr.Missing) == 0 && !class.Type.Implements(capability.Contract(kind)) {
		verr.Mismatched = mismatchedMethods(class.Type, capability.Contract(kind))
	}
	if len(verr.Missing) > 0 || len(verr.Mismatched) > 0 {
		return verr
	}
	return nil
}

func mismatchedMethods(t, contract reflect.Type) []string {
	var out []string
	for i := 0; i < contract.NumMethod(); i++ {
		want := contract.Method(i)
		got, ok := t.MethodByName(want.Name)
		if !ok {
			out = append(out, want.Name+" (absent)")
			continue
		}
		if !sameSignature(got.Type, want.Type, t.Kind() != reflect.Interface) {
			out = append(out, want.Name)
		}
	}
	return out
}

// sameSignature compares a method's type to an interface method type. For
// concrete types the method type carries the receiver as first input.
func sameSignature(method, want reflect.Type, hasReceiver bool) bool {
	offset := 0
	if hasReceiver {
		offset = 1
	}
	if method.NumIn()-offset != want.NumIn() || method.NumOut() != want.NumOut() || method.IsVariadic() != want.IsVariadic() {
		return false
	}
	for i := 0; i < want.NumIn(); i++ {
		if method.In(i+offset) != want.In(i) {
			return false
		}
	}
	for i := 0; i < want.NumOut(); i++ {
		if method.Out(i) != want.Out(i) {
			return false
		}
	}
	return true
}

var candidateSuffixes = []string{"Adapter", "OCR", "Translator"}

// selectClass picks the adapter class of a unit: classes named like adapters
// first, then the first one exposing the hallmark operation of kind.
func selectClass(kind capability.Kind, classes []AdapterClass) (AdapterClass, bool) {
	var candidates []AdapterClass
	for _, c := range classes {
		for _, suffix := range candidateSuffixes {
			if strings.HasSuffix(c.TypeName, suffix) {
				candidates = append(candidates, c)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return AdapterClass{}, false
	}
	hallmark := capability.Hallmark(kind)
	for _, c := range candidates {
		if c.HasMethod(hallmark) {
			return c, true
		}
	}
	return candidates[0], true
}
