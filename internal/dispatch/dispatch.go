// Package dispatch builds the operation table handed to the external
// execution engine: one handler per generated query and mutation method,
// with the authorization check applied before any mutation runs.
package dispatch

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jscomplete/graphfront/internal/compiler"
	"github.com/jscomplete/graphfront/internal/engine"
	"github.com/jscomplete/graphfront/internal/naming"
	"github.com/jscomplete/graphfront/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// KeyValidator reports whether the api key may perform verb on class. The
// host application supplies it; a nil validator allows everything.
type KeyValidator func(apiKey string, class string, verb string) bool

// ErrAccessDenied is returned for mutations the key validator rejects. The
// message is deliberately unspecific.
var ErrAccessDenied = errors.New("invalid request")

// Handler executes one operation with the caller's arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// mutationVerb splits a generated mutation method name into verb and model.
// Compound verbs must be listed before their prefixes.
var mutationVerb = regexp.MustCompile(`^(findOrCreate|createOrUpdate|create|update|delete)([A-Z]\w*)$`)

// Root is the operation table for one compiled namespace.
type Root struct {
	eng      *engine.Engine
	validate KeyValidator
	logger   logger.Logger
	handlers map[string]Handler
}

// New builds the operation table from a compiled schema.
func New(eng *engine.Engine, validate KeyValidator, log logger.Logger, schema *compiler.CompiledSchema) *Root {
	r := &Root{
		eng:      eng,
		validate: validate,
		logger:   log.WithPrefix("[dispatch]"),
		handlers: make(map[string]Handler, len(schema.QueryMethods)+len(schema.MutationMethods)+1),
	}
	r.handlers["viewer"] = r.viewerHandler(schema.Namespace)
	for _, method := range schema.QueryMethods {
		if model, ok := strings.CutPrefix(method, "find"); ok && model != "" && model[0] >= 'A' && model[0] <= 'Z' {
			r.handlers[method] = r.findHandler(method, naming.ToTableName(model))
			continue
		}
		r.handlers[method] = r.listHandler(method, naming.ToTableName(method))
	}
	for _, method := range schema.MutationMethods {
		m := mutationVerb.FindStringSubmatch(method)
		if m == nil {
			r.logger.Warn("skipping unrecognized mutation method %s", method)
			continue
		}
		verb, model := m[1], m[2]
		r.handlers[method] = r.mutationHandler(verb, model)
	}
	return r
}

// Handler returns the handler registered under name.
func (r *Root) Handler(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Methods returns the registered operation names in sorted order.
func (r *Root) Methods() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named operation.
func (r *Root) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, errors.Wrapf(ErrAccessDenied, "unknown operation %s", name)
	}
	return h(ctx, args)
}

// allowed consults the key validator. Every operation passes its class
// ("query" or "mutation") and the operation verb.
func (r *Root) allowed(args map[string]any, class, verb string) bool {
	if r.validate == nil {
		return true
	}
	apiKey, _ := args["apiKey"].(string)
	return r.validate(apiKey, class, verb)
}

func (r *Root) viewerHandler(namespace string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		if !r.allowed(args, "query", "viewer") {
			return nil, ErrAccessDenied
		}
		return map[string]any{"namespace": namespace}, nil
	}
}

func (r *Root) listHandler(method, table string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		if !r.allowed(args, "query", method) {
			return nil, ErrAccessDenied
		}
		opts := engine.ListOptions{
			Filters: toMap(args["filters"]),
			Search:  toMap(args["search"]),
			Before:  toString(args["before"]),
			After:   toString(args["after"]),
			Limit:   toInt(args["limit"]),
			IDField: toString(args["idField"]),
			SortBy:  toString(args["sortBy"]),
		}
		return r.eng.List(ctx, table, opts)
	}
}

func (r *Root) findHandler(method, table string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		if !r.allowed(args, "query", method) {
			return nil, ErrAccessDenied
		}
		rec, err := r.eng.Find(ctx, table, toMap(args["filters"]))
		if err != nil || rec == nil {
			return nil, err
		}
		return rec, nil
	}
}

// lookupFields picks the lookup columns for a match-then-mutate operation:
// the caller's findFields argument when present, otherwise the table's
// unique keys present in the input, or every input field when none of them
// is.
func (r *Root) lookupFields(table string, args, input map[string]any) []string {
	if fields := toStrings(args["findFields"]); len(fields) > 0 {
		return fields
	}
	keys := r.eng.Keys(table)
	var fields []string
	for name := range input {
		if util.SliceContains(keys.UniqueKeys, naming.ToSnakeCase(name)) {
			fields = append(fields, name)
		}
	}
	if len(fields) == 0 {
		for name := range input {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

func (r *Root) mutationHandler(verb, model string) Handler {
	table := naming.ToTableName(model)
	return func(ctx context.Context, args map[string]any) (any, error) {
		if !r.allowed(args, "mutation", verb) {
			r.logger.Warn("rejected %s on %s", verb, model)
			return nil, ErrAccessDenied
		}
		switch verb {
		case "create":
			rec, err := r.eng.CreateRecord(ctx, table, toMap(args["input"]))
			return unwrap(rec, err)
		case "findOrCreate":
			input := toMap(args["input"])
			rec, err := r.eng.FindOrCreateRecord(ctx, table, input, r.lookupFields(table, args, input))
			return unwrap(rec, err)
		case "createOrUpdate":
			input := toMap(args["input"])
			rec, err := r.eng.CreateOrUpdateRecord(ctx, table, input, r.lookupFields(table, args, input))
			return unwrap(rec, err)
		case "update":
			return r.update(ctx, table, args)
		case "delete":
			filters := toMap(args["filters"])
			return r.eng.DeleteRecord(ctx, table, filters, filterFields(args, filters))
		}
		return nil, errors.Wrapf(ErrAccessDenied, "unknown verb %s", verb)
	}
}

// update applies the requested operations in order against the row matched
// by the filters, returning the row as the last operation left it.
func (r *Root) update(ctx context.Context, table string, args map[string]any) (any, error) {
	filters := toMap(args["filters"])
	findFields := filterFields(args, filters)
	ops := toOperations(args["operations"])
	if len(ops) == 0 {
		rec, err := r.eng.UpdateRecord(ctx, table, filters, findFields, nil)
		return unwrap(rec, err)
	}
	var last *engine.Record
	for _, op := range ops {
		rec, err := r.eng.UpdateRecord(ctx, table, filters, findFields, &op)
		if err != nil {
			return nil, err
		}
		last = rec
	}
	return unwrap(last, nil)
}

// unwrap keeps a nil *Record from surfacing as a non-nil interface.
func unwrap(rec *engine.Record, err error) (any, error) {
	if err != nil || rec == nil {
		return nil, err
	}
	return rec, nil
}

func toMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// toOperations decodes the operations argument: a list of maps with type,
// field, and value entries.
func toOperations(v any) []engine.UpdateOperation {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	ops := make([]engine.UpdateOperation, 0, len(list))
	for _, item := range list {
		m := toMap(item)
		if m == nil {
			continue
		}
		ops = append(ops, engine.UpdateOperation{
			Type:  toString(m["type"]),
			Field: toString(m["field"]),
			Value: m["value"],
		})
	}
	return ops
}

// filterFields picks the lookup columns for filter-driven mutations: the
// caller's findFields argument when present, otherwise every filter field.
func filterFields(args, filters map[string]any) []string {
	if fields := toStrings(args["findFields"]); len(fields) > 0 {
		return fields
	}
	return sortedKeys(filters)
}

func toStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
