package engine

import (
	"context"
	"fmt"

	"github.com/jscomplete/graphfront/internal/naming"
	"github.com/jscomplete/graphfront/internal/util"
)

// FieldKind tags the outcome of resolving a field on a Record.
type FieldKind int

const (
	// FieldAbsent means the field is neither stored nor resolvable as a relation.
	FieldAbsent FieldKind = iota
	// FieldScalar means the field is stored data.
	FieldScalar
	// FieldRelation means the field resolved through a relation lookup.
	FieldRelation
)

// Directive modifies how a stored scalar is returned.
type Directive struct {
	// HashWith names the digest algorithm applied to the stored value.
	HashWith string
	// AsIs skips the trim and lowercase normalization before hashing.
	AsIs bool
}

// FieldValue is the tagged result of resolving a field: a stored scalar, a
// related row (nil Record for the empty-result signal), or absent.
type FieldValue struct {
	Kind   FieldKind
	Value  any
	Record *Record
}

// Record is a row returned by the engine: a mapping from camelCased field
// name to scalar value, plus virtual relation accessors. A Record never owns
// a connection; relation lookups borrow the engine's pool for the duration of
// the lookup.
type Record struct {
	eng  *Engine
	data map[string]any
}

func (e *Engine) wrap(data map[string]any) *Record {
	return &Record{eng: e, data: data}
}

// NewRecord wraps an already camelCased row map. Exposed for the dispatch
// and schema layers; engine results are wrapped automatically.
func NewRecord(e *Engine, data map[string]any) *Record {
	return e.wrap(data)
}

// Data returns the stored field map.
func (r *Record) Data() map[string]any {
	return r.data
}

// Get returns a stored field verbatim.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.data[name]
	return v, ok
}

// Resolve returns the field as a tagged value. Stored fields come back
// verbatim, or hashed when the directive names an algorithm. A field absent
// from the stored data whose "<name>Id" counterpart is present resolves as an
// on-demand lookup of the related table's row by that identifier.
func (r *Record) Resolve(ctx context.Context, name string, directive *Directive) (*FieldValue, error) {
	if v, ok := r.data[name]; ok {
		if directive != nil && directive.HashWith != "" {
			hashed, err := util.HashWith(fmt.Sprintf("%v", v), directive.HashWith, directive.AsIs)
			if err != nil {
				return nil, err
			}
			return &FieldValue{Kind: FieldScalar, Value: hashed}, nil
		}
		return &FieldValue{Kind: FieldScalar, Value: v}, nil
	}
	if id, ok := r.data[name+"Id"]; ok {
		related, err := r.eng.Find(ctx, naming.ToTableName(name), map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		return &FieldValue{Kind: FieldRelation, Record: related}, nil
	}
	return &FieldValue{Kind: FieldAbsent}, nil
}
