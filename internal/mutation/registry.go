package mutation

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/tether/internal/payload"
)

// ErrUnknownType is returned when an operation type has no registered kind.
var ErrUnknownType = errors.New("unknown operation type")

// Kind declares one variant of the operation union: its type tag and the
// CUE schema its payload must satisfy. Schema is the body of a CUE
// definition, for example:
//
//	{
//		points: int & >0
//		reason?: string
//	}
//
// An empty Schema accepts any object.
type Kind struct {
	Type   Type
	Schema string
}

// ValidationError reports a payload that does not satisfy its kind's schema.
type ValidationError struct {
	Type    Type
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Type, e.Message)
}

// Registry holds the known operation kinds. Payloads are checked once, at
// the boundary where they enter the reliability layer.
//
// Thread-safety: Registry is safe for concurrent use. CUE evaluation is
// serialized because cue values sharing a context are not.
type Registry struct {
	mu     sync.Mutex
	ctx    *cue.Context
	kinds  map[Type]Kind
	schema map[Type]cue.Value
}

// NewRegistry creates a registry with the given kinds.
// Returns error if any schema fails to compile or a type is registered twice.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{
		ctx:    cuecontext.New(),
		kinds:  make(map[Type]Kind),
		schema: make(map[Type]cue.Value),
	}
	for _, k := range kinds {
		if err := r.Register(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a kind. The schema is compiled immediately so that a bad
// schema fails at startup rather than on the first write.
func (r *Registry) Register(k Kind) error {
	if k.Type == "" {
		return fmt.Errorf("register kind: empty type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[k.Type]; exists {
		return fmt.Errorf("register kind %s: already registered", k.Type)
	}
	if k.Schema != "" {
		v := r.ctx.CompileString("#Payload: " + k.Schema)
		if err := v.Err(); err != nil {
			return fmt.Errorf("register kind %s: compile schema: %s", k.Type, firstCUEError(err))
		}
		r.schema[k.Type] = v.LookupPath(cue.ParsePath("#Payload"))
	}
	r.kinds[k.Type] = k
	return nil
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, 0, len(r.kinds))
	for t := range r.kinds {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether t is registered.
func (r *Registry) Has(t Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.kinds[t]
	return ok
}

// Validate checks p against the schema registered for t.
func (r *Registry) Validate(t Type, p payload.Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.kinds[t]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	schema, ok := r.schema[t]
	if !ok {
		return nil
	}
	if p == nil {
		p = payload.Object{}
	}

	v := r.ctx.Encode(payload.ToAny(p))
	if err := v.Err(); err != nil {
		return &ValidationError{Type: t, Message: firstCUEError(err)}
	}
	if err := schema.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Type: t, Message: firstCUEError(err)}
	}
	return nil
}

// Decode parses raw JSON for an operation of type t and validates it.
func (r *Registry) Decode(t Type, raw []byte) (payload.Object, error) {
	p, err := payload.DecodeObject(raw)
	if err != nil {
		return nil, &ValidationError{Type: t, Message: err.Error()}
	}
	if err := r.Validate(t, p); err != nil {
		return nil, err
	}
	return p, nil
}

func firstCUEError(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	return errs[0].Error()
}
