// Package symtab provides the symbol table that answers introspection
// queries about the scanned source tree.
package symtab

import (
	"fmt"
	"strings"

	"github.com/Sharom/phpunit/internal/model"
)

// Introspector answers symbol queries. Names are fully qualified; lookups
// ignore case and a leading namespace separator.
type Introspector interface {
	// Resolve returns the class, interface or trait with the given name.
	// The error wraps model.ErrUnresolvableSymbol.
	Resolve(name string) (*model.Symbol, error)

	// Function returns the free function with the given name.
	Function(name string) (*model.Symbol, bool)

	// Methods returns every method callable on the type: its own declared
	// methods, then those imported from traits, then inherited ones.
	Methods(sym *model.Symbol) []*model.Symbol

	// Method returns the named method of the type, including inherited ones.
	Method(sym *model.Symbol, name string) (*model.Symbol, bool)

	// Traits returns the traits the type composes directly.
	Traits(sym *model.Symbol) []*model.Symbol

	// Parents returns the ancestors of a class, nearest first.
	Parents(sym *model.Symbol) []*model.Symbol

	// Interfaces returns every interface the type implements or extends.
	Interfaces(sym *model.Symbol) []*model.Symbol

	// Constant returns the literal value of Type::NAME.
	Constant(typeName, name string) (string, bool)
}

// Table is an in-memory Introspector built from parsed files.
// It is not safe for concurrent mutation; reads may run concurrently once
// all symbols are added.
type Table struct {
	types     map[string]*model.Symbol
	functions map[string]*model.Symbol
	order     []*model.Symbol
}

var _ Introspector = (*Table)(nil)

// New returns an empty table.
func New() *Table {
	return &Table{
		types:     make(map[string]*model.Symbol),
		functions: make(map[string]*model.Symbol),
	}
}

// Build returns a table holding every symbol of the given files.
func Build(files []model.FileInfo) *Table {
	t := New()
	for i := range files {
		for _, sym := range files[i].Symbols {
			t.Add(sym)
		}
	}
	return t
}

// Add registers a type or function. A later declaration with the same name
// replaces the earlier one.
func (t *Table) Add(sym *model.Symbol) {
	key := normalize(sym.Name)
	switch {
	case sym.Kind == model.Function:
		t.functions[key] = sym
	case sym.Kind.IsType():
		if _, dup := t.types[key]; !dup {
			t.order = append(t.order, sym)
		} else {
			for i, s := range t.order {
				if normalize(s.Name) == key {
					t.order[i] = sym
				}
			}
		}
		for _, m := range sym.Members {
			if m.Class == "" {
				m.Class = sym.Name
			}
		}
		t.types[key] = sym
	}
}

// Types returns every class, interface and trait in insertion order.
func (t *Table) Types() []*model.Symbol {
	return t.order
}

// Lookup returns the named type without constructing an error.
func (t *Table) Lookup(name string) (*model.Symbol, bool) {
	sym, ok := t.types[normalize(name)]
	return sym, ok
}

// Resolve implements Introspector.
func (t *Table) Resolve(name string) (*model.Symbol, error) {
	if sym, ok := t.Lookup(name); ok {
		return sym, nil
	}
	return nil, &model.SymbolError{Name: strings.TrimPrefix(name, `\`)}
}

// Function implements Introspector.
func (t *Table) Function(name string) (*model.Symbol, bool) {
	sym, ok := t.functions[normalize(name)]
	return sym, ok
}

// Methods implements Introspector.
func (t *Table) Methods(sym *model.Symbol) []*model.Symbol {
	var out []*model.Symbol
	seen := make(map[string]struct{})
	add := func(ms []*model.Symbol) {
		for _, m := range ms {
			key := strings.ToLower(m.Name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, m)
		}
	}

	visited := make(map[string]struct{})
	for cur := sym; cur != nil; cur = t.parentOf(cur) {
		key := normalize(cur.Name)
		if _, loop := visited[key]; loop {
			break
		}
		visited[key] = struct{}{}

		add(cur.Members)
		add(t.traitMethods(cur, make(map[string]struct{})))
		if cur.Kind == model.Interface {
			for _, iface := range t.Interfaces(cur) {
				add(iface.Members)
			}
		}
	}
	return out
}

// traitMethods returns the methods a type imports from its traits,
// including the traits those traits compose.
func (t *Table) traitMethods(sym *model.Symbol, visited map[string]struct{}) []*model.Symbol {
	var out []*model.Symbol
	for _, tr := range t.Traits(sym) {
		key := normalize(tr.Name)
		if _, loop := visited[key]; loop {
			continue
		}
		visited[key] = struct{}{}
		out = append(out, tr.Members...)
		out = append(out, t.traitMethods(tr, visited)...)
	}
	return out
}

// Method implements Introspector.
func (t *Table) Method(sym *model.Symbol, name string) (*model.Symbol, bool) {
	for _, m := range t.Methods(sym) {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return nil, false
}

// Traits implements Introspector.
func (t *Table) Traits(sym *model.Symbol) []*model.Symbol {
	var out []*model.Symbol
	for _, name := range sym.Traits {
		if tr, ok := t.Lookup(name); ok {
			out = append(out, tr)
		}
	}
	return out
}

// Parents implements Introspector.
func (t *Table) Parents(sym *model.Symbol) []*model.Symbol {
	var out []*model.Symbol
	visited := map[string]struct{}{normalize(sym.Name): {}}
	for p := t.parentOf(sym); p != nil; p = t.parentOf(p) {
		key := normalize(p.Name)
		if _, loop := visited[key]; loop {
			break
		}
		visited[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// ParentNames returns the declared ancestor names of a class, nearest first,
// including the first ancestor missing from the table.
func (t *Table) ParentNames(sym *model.Symbol) []string {
	var names []string
	visited := map[string]struct{}{normalize(sym.Name): {}}
	for cur := sym; cur != nil && cur.Parent != ""; {
		key := normalize(cur.Parent)
		if _, loop := visited[key]; loop {
			break
		}
		visited[key] = struct{}{}
		names = append(names, cur.Parent)
		cur, _ = t.Lookup(cur.Parent)
	}
	return names
}

func (t *Table) parentOf(sym *model.Symbol) *model.Symbol {
	if sym.Parent == "" {
		return nil
	}
	p, _ := t.Lookup(sym.Parent)
	return p
}

// Interfaces implements Introspector.
func (t *Table) Interfaces(sym *model.Symbol) []*model.Symbol {
	var out []*model.Symbol
	seen := map[string]struct{}{normalize(sym.Name): {}}

	var visit func(names []string)
	visit = func(names []string) {
		for _, name := range names {
			key := normalize(name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			iface, ok := t.Lookup(name)
			if !ok {
				continue
			}
			out = append(out, iface)
			visit(iface.Interfaces)
		}
	}

	visit(sym.Interfaces)
	for _, p := range t.Parents(sym) {
		visit(p.Interfaces)
	}
	return out
}

// Constant implements Introspector. Constants declared on ancestors,
// interfaces and traits are visible through the type.
func (t *Table) Constant(typeName, name string) (string, bool) {
	sym, ok := t.Lookup(typeName)
	if !ok {
		return "", false
	}
	candidates := append([]*model.Symbol{sym}, t.Parents(sym)...)
	candidates = append(candidates, t.Interfaces(sym)...)
	candidates = append(candidates, t.Traits(sym)...)
	for _, c := range candidates {
		if v, ok := c.Constants[name]; ok {
			return v, true
		}
	}
	return "", false
}

// String summarizes the table for debug logging.
func (t *Table) String() string {
	return fmt.Sprintf("symtab{types: %d, functions: %d}", len(t.types), len(t.functions))
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), `\`))
}
