package coverage

import (
	"fmt"
	"strings"

	"github.com/Sharom/phpunit/internal/annotation"
	"github.com/Sharom/phpunit/internal/metadata"
	"github.com/Sharom/phpunit/internal/model"
	"github.com/Sharom/phpunit/internal/symtab"
)

// Resolver turns the @covers and @uses annotations of a test into line sets.
type Resolver struct {
	cache   *metadata.Cache
	symbols symtab.Introspector
}

// NewResolver returns a Resolver reading annotations from cache.
func NewResolver(cache *metadata.Cache) *Resolver {
	return &Resolver{cache: cache, symbols: cache.Symbols()}
}

// CoversNothing reports whether @coversNothing disables coverage for the
// test. A method-level @covers overrides a class-level @coversNothing.
func (r *Resolver) CoversNothing(class, method string) (bool, error) {
	classTags, methodTags, err := r.tags(class, method)
	if err != nil {
		return false, err
	}
	switch {
	case methodTags.Has("coversNothing"):
		return true, nil
	case methodTags.Has(string(Covers)):
		return false, nil
	}
	return classTags.Has("coversNothing"), nil
}

// Expressions returns the cleaned target expressions of the test, class
// targets first, without duplicates.
func (r *Resolver) Expressions(class, method string, mode Mode) ([]string, error) {
	classTags, methodTags, err := r.tags(class, method)
	if err != nil {
		return nil, err
	}

	defaultTag := string(mode) + "DefaultClass"
	shortcut := ""
	if defaults := classTags.Values(defaultTag); len(defaults) > 0 {
		if len(defaults) > 1 {
			return nil, &model.TargetError{
				Target: class,
				Reason: fmt.Sprintf("More than one @%s annotation in class or interface \"%s\".", defaultTag, class),
				Err:    model.ErrAmbiguousDefaultClass,
			}
		}
		shortcut = defaults[0]
	}

	var raw []string
	raw = append(raw, classTags.Values(string(mode))...)
	raw = append(raw, methodTags.Values(string(mode))...)

	var exprs []string
	seen := make(map[string]struct{}, len(raw))
	for _, v := range raw {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		exprs = append(exprs, Clean(v, shortcut))
	}
	return exprs, nil
}

// Resolve returns the lines of every symbol the test's targets name, keyed
// by file. Any unresolvable target fails the whole call.
func (r *Resolver) Resolve(class, method string, mode Mode) (map[string]model.LineSet, error) {
	exprs, err := r.Expressions(class, method, mode)
	if err != nil {
		return nil, err
	}

	var symbols []*model.Symbol
	for _, expr := range exprs {
		if mode == Covers {
			if sym, ok := r.lookupType(expr); ok && sym.Kind == model.Interface {
				return nil, model.NewInvalidTarget(expr, "Trying to @cover interface \"%s\". This is not supported.", expr)
			}
		}
		resolved, err := r.ResolveTarget(Parse(expr, r.symbols))
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, resolved...)
	}
	return r.lines(symbols), nil
}

// ResolveTarget returns the symbols one target names.
func (r *Resolver) ResolveTarget(t Target) ([]*model.Symbol, error) {
	switch t := t.(type) {
	case FunctionTarget:
		fn, ok := r.symbols.Function(t.Name)
		if !ok {
			return nil, model.NewInvalidTarget(t.Expr(), "Trying to @cover or @use not existing function \"%s\".", t.Name)
		}
		return []*model.Symbol{fn}, nil

	case VisibilityTarget:
		sym, err := r.existingType(t.Class)
		if err != nil {
			return nil, err
		}
		var out []*model.Symbol
		for _, m := range r.symbols.Methods(sym) {
			if (m.Visibility == t.Visibility) != t.Invert {
				out = append(out, m)
			}
		}
		return out, nil

	case MethodTarget:
		if t.Class == "" {
			if fn, ok := r.symbols.Function(t.Method); ok {
				return []*model.Symbol{fn}, nil
			}
		}
		if sym, ok := r.lookupType(t.Class); ok {
			if m, ok := r.symbols.Method(sym, t.Method); ok {
				return []*model.Symbol{m}, nil
			}
		}
		return nil, model.NewInvalidTarget(t.Expr(), "Trying to @cover or @use not existing method \"%s::%s\".", t.Class, t.Method)

	case HierarchyTarget:
		// Ancestors missing from the table, such as vendor base classes,
		// contribute no lines.
		sym, err := r.existingType(t.Class)
		if err != nil {
			return nil, err
		}
		out := []*model.Symbol{sym}
		out = append(out, r.symbols.Interfaces(sym)...)
		out = append(out, r.symbols.Parents(sym)...)
		return out, nil

	case TypeTarget:
		sym, err := r.existingType(t.Class)
		if err != nil {
			return nil, err
		}
		return []*model.Symbol{sym}, nil
	}
	return nil, model.NewInvalidTarget(t.Expr(), "unsupported target %T", t)
}

// lines adds the traits of every resolved type and reduces the symbols to
// their line spans.
func (r *Resolver) lines(symbols []*model.Symbol) map[string]model.LineSet {
	all := symbols
	for _, sym := range symbols {
		if sym.Kind.IsType() {
			all = append(all, r.symbols.Traits(sym)...)
		}
	}

	out := make(map[string]model.LineSet)
	for _, sym := range all {
		ls, ok := out[sym.File]
		if !ok {
			ls = make(model.LineSet)
			out[sym.File] = ls
		}
		ls.AddRange(sym.StartLine, sym.EndLine)
	}
	return out
}

func (r *Resolver) tags(class, method string) (annotation.Map, annotation.Map, error) {
	classTags, err := r.cache.Class(class)
	if err != nil {
		return nil, nil, err
	}
	methodTags, err := r.cache.Method(class, method)
	if err != nil {
		return nil, nil, err
	}
	return classTags, methodTags, nil
}

func (r *Resolver) lookupType(name string) (*model.Symbol, bool) {
	if strings.TrimSpace(name) == "" {
		return nil, false
	}
	sym, err := r.symbols.Resolve(name)
	return sym, err == nil
}

func (r *Resolver) existingType(name string) (*model.Symbol, error) {
	if sym, ok := r.lookupType(name); ok {
		return sym, nil
	}
	return nil, model.NewInvalidTarget(name, "Trying to @cover or @use not existing class or interface \"%s\".", name)
}
