// Package coverage resolves @covers and @uses target expressions to the
// source lines they name.
package coverage

import (
	"strings"

	"github.com/Sharom/phpunit/internal/model"
	"github.com/Sharom/phpunit/internal/symtab"
)

// Mode selects the annotation family being resolved.
type Mode string

const (
	Covers Mode = "covers"
	Uses   Mode = "uses"
)

// Target is one parsed target expression. The concrete types are
// FunctionTarget, MethodTarget, VisibilityTarget, HierarchyTarget and
// TypeTarget.
type Target interface {
	// Expr returns the expression the target was parsed from.
	Expr() string
	target()
}

// FunctionTarget names a namespaced free function, e.g. `\App\helper`.
type FunctionTarget struct {
	Name string
}

// MethodTarget names a single method, e.g. `Foo::bar`. An empty Class names
// a free function, e.g. `::helper`.
type MethodTarget struct {
	Class  string
	Method string
}

// VisibilityTarget selects every method of Class with the given visibility,
// e.g. `Foo::<protected>`, or every other method when Invert is set, e.g.
// `Foo::<!public>`.
type VisibilityTarget struct {
	Class      string
	Visibility model.Visibility
	Invert     bool
	member     string
}

// HierarchyTarget names a type with its parents and interfaces, e.g.
// `Foo<extended>`.
type HierarchyTarget struct {
	Class string
}

// TypeTarget names a class, interface or trait.
type TypeTarget struct {
	Class string
}

func (t FunctionTarget) Expr() string   { return t.Name }
func (t MethodTarget) Expr() string     { return t.Class + "::" + t.Method }
func (t VisibilityTarget) Expr() string { return t.Class + "::" + t.member }
func (t HierarchyTarget) Expr() string  { return t.Class + "<extended>" }
func (t TypeTarget) Expr() string       { return t.Class }

func (FunctionTarget) target()   {}
func (MethodTarget) target()     {}
func (VisibilityTarget) target() {}
func (HierarchyTarget) target()  {}
func (TypeTarget) target()       {}

// Parse classifies a cleaned target expression. A namespaced name is a
// FunctionTarget only when symbols knows a function of that name.
func Parse(expr string, symbols symtab.Introspector) Target {
	if strings.Contains(expr, `\`) && symbols != nil {
		if _, ok := symbols.Function(expr); ok {
			return FunctionTarget{Name: expr}
		}
	}

	if class, rest, ok := strings.Cut(expr, "::"); ok {
		member, _, _ := strings.Cut(rest, "::")
		if strings.HasPrefix(member, "<") {
			return parseVisibility(class, member)
		}
		return MethodTarget{Class: class, Method: member}
	}

	if strings.Contains(expr, "<extended>") {
		return HierarchyTarget{Class: strings.ReplaceAll(expr, "<extended>", "")}
	}
	return TypeTarget{Class: expr}
}

// parseVisibility reads a `<...>` member filter. The visibility is public
// unless the filter mentions protected or private; a leading `!` inverts it.
func parseVisibility(class, member string) VisibilityTarget {
	t := VisibilityTarget{Class: class, Visibility: model.Public, member: member}
	t.Invert = len(member) > 1 && member[1] == '!'
	switch {
	case strings.Contains(member, "protected"):
		t.Visibility = model.Protected
	case strings.Contains(member, "private"):
		t.Visibility = model.Private
	}
	return t
}

// Clean prepares a raw annotation value: a leading `::` is prefixed with the
// default class, trailing whitespace and parentheses are removed and anything
// after the first space is dropped.
func Clean(raw, defaultClass string) string {
	if defaultClass != "" && strings.HasPrefix(raw, "::") {
		raw = defaultClass + raw
	}
	raw = strings.TrimRight(raw, " \t\r\n\v\f()")
	if i := strings.IndexByte(raw, ' '); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
