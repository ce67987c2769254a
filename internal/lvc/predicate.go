package lvc

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/marketfeed/rtcore/internal/schema"
)

// CompilePredicate turns a boolean expression over "service", "ticker"
// and one variable per schema field name into a FilterFunc, the way
// internal/tagger/classifyJob.go compiles a job-classification rule
// once and evaluates it per job. Unlike a plain service/ticker
// FilterFunc, a predicate filter can restrict ViewAll/SnapAll by field
// content, e.g. `service == "BB" && BID > 100`.
//
// The record's current fields are looked up via a live Reader.Snap
// call for every candidate (service, ticker) pair, so the predicate
// sees a consistent point-in-time view even under concurrent writes.
func CompilePredicate(r *Reader, src string) (FilterFunc, error) {
	program, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("lvc: compiling predicate %q: %w", src, err)
	}

	return func(service, ticker string) bool {
		return evalPredicate(r, program, service, ticker)
	}, nil
}

func evalPredicate(r *Reader, program *vm.Program, service, ticker string) bool {
	fields, found, _ := r.Snap(service, ticker)
	if !found {
		return false
	}

	r.mu.RLock()
	sch := r.schema
	r.mu.RUnlock()

	env := map[string]any{
		"service": service,
		"ticker":  ticker,
	}
	for _, f := range fields {
		if d, ok := sch.ByID(f.ID); ok {
			env[d.Name] = fieldValue(f)
		}
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	match, _ := out.(bool)
	return match
}

func fieldValue(f schema.Field) any {
	switch f.DeclaredType {
	case schema.Int8, schema.Int16, schema.Int32, schema.Int64:
		v, _ := f.AsInt64()
		return v
	case schema.Float32, schema.Float64, schema.Real:
		v, _ := f.AsFloat64()
		return v
	default:
		return f.AsString()
	}
}
