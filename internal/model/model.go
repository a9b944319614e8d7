// Package model defines core data structures for phpunit-meta.
package model

import (
	"sort"
	"strings"
)

// SymbolKind indicates the syntactic kind of a symbol.
type SymbolKind string

const (
	Class     SymbolKind = "class"
	Interface SymbolKind = "interface"
	Trait     SymbolKind = "trait"
	Method    SymbolKind = "method"
	Function  SymbolKind = "function"
)

// IsType reports whether the kind declares a type (class, interface or trait).
func (k SymbolKind) IsType() bool {
	return k == Class || k == Interface || k == Trait
}

// Visibility is the declared visibility of a method.
type Visibility string

const (
	Public    Visibility = "public"
	Protected Visibility = "protected"
	Private   Visibility = "private"
)

// Symbol is a class, interface, trait, method or free function extracted
// from source code.
type Symbol struct {
	// Name is fully qualified for types and functions (Ns\Name) and the
	// simple name for methods.
	Name       string
	Kind       SymbolKind
	File       string
	StartLine  int
	EndLine    int
	Visibility Visibility
	Static     bool
	Abstract   bool

	// Doc is the raw doc comment attached to the declaration, and DocLine
	// the 1-based line on which it starts (0 when there is no doc comment).
	Doc     string
	DocLine int

	// Class is the fully qualified declaring type of a method.
	Class string

	Parent     string
	Interfaces []string
	Traits     []string
	Members    []*Symbol
	Constants  map[string]string
}

// QualifiedName returns Class::name for methods and Name otherwise.
func (s *Symbol) QualifiedName() string {
	if s.Kind == Method && s.Class != "" {
		return s.Class + "::" + s.Name
	}
	return s.Name
}

// ShortName returns the last namespace segment of the symbol name.
func (s *Symbol) ShortName() string {
	if i := strings.LastIndexByte(s.Name, '\\'); i >= 0 {
		return s.Name[i+1:]
	}
	return s.Name
}

// FileInfo holds the symbols extracted from a single source file.
type FileInfo struct {
	Path      string
	Namespace string
	Symbols   []*Symbol
}

// LineSet is a deduplicated set of 1-based line numbers.
type LineSet map[int]struct{}

// AddRange adds every line of the inclusive span [start, end].
func (ls LineSet) AddRange(start, end int) {
	for l := start; l <= end; l++ {
		ls[l] = struct{}{}
	}
}

// Sorted returns the lines in ascending order.
func (ls LineSet) Sorted() []int {
	lines := make([]int, 0, len(ls))
	for l := range ls {
		lines = append(lines, l)
	}
	sort.Ints(lines)
	return lines
}

// Span is an inclusive run of consecutive lines.
type Span struct {
	Start int
	End   int
}

// Spans compresses the set into ascending runs of consecutive lines.
func (ls LineSet) Spans() []Span {
	var spans []Span
	for _, l := range ls.Sorted() {
		if n := len(spans); n > 0 && spans[n-1].End == l-1 {
			spans[n-1].End = l
			continue
		}
		spans = append(spans, Span{Start: l, End: l})
	}
	return spans
}

// Size classifies a test by its size group.
type Size string

const (
	SizeUnknown Size = "unknown"
	SizeSmall   Size = "small"
	SizeMedium  Size = "medium"
	SizeLarge   Size = "large"
)

// HookSet holds the lifecycle hook methods of a test type.
type HookSet struct {
	BeforeClass []string
	Before      []string
	After       []string
	AfterClass  []string
}

// TestUnit is a single test method together with its derived metadata.
type TestUnit struct {
	Class        string
	Method       string
	File         string
	Line         int
	Groups       []string
	Size         Size
	Dependencies []string
	Missing      []string
	Coverage     map[string]LineSet
	Err          error
}

// Name returns Class::method.
func (t *TestUnit) Name() string {
	return t.Class + "::" + t.Method
}

// Plan is the complete analyzed test set, ready for serialization.
type Plan struct {
	Root         string
	CoverageMode string
	Tests        []TestUnit
	Hooks        map[string]HookSet
}
