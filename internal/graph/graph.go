// Package graph builds the @depends graph of a test set and orders tests
// after the tests they depend on.
package graph

import (
	"sort"
	"strings"

	"github.com/Sharom/phpunit/internal/model"
)

// Edge records that Test depends on DependsOn. Both are Class::method names.
type Edge struct {
	Test      string
	DependsOn string
}

var dependsPrefixes = []string{"!clone ", "!shallowClone ", "clone ", "shallowClone "}

// Target returns the Class::method a @depends value of a test in class
// refers to. Clone modifiers are stripped and a bare method name is
// qualified with class.
func Target(class, depends string) string {
	depends = strings.TrimSpace(depends)
	for _, p := range dependsPrefixes {
		if strings.HasPrefix(depends, p) {
			depends = strings.TrimSpace(depends[len(p):])
			break
		}
	}
	if strings.Contains(depends, "::") {
		return strings.TrimPrefix(depends, `\`)
	}
	return class + "::" + depends
}

func key(name string) string {
	return strings.ToLower(strings.TrimPrefix(name, `\`))
}

// BuildEdges returns the dependency edges of tests. Edges whose target is
// not in the set are returned separately as dangling. Self-dependencies are
// dropped. Both lists are sorted.
func BuildEdges(tests []model.TestUnit) (edges, dangling []Edge) {
	known := make(map[string]struct{}, len(tests))
	for i := range tests {
		known[key(tests[i].Name())] = struct{}{}
	}

	type edgeKey struct{ test, dep string }
	seen := make(map[edgeKey]struct{})

	for i := range tests {
		t := &tests[i]
		name := t.Name()
		for _, d := range t.Dependencies {
			target := Target(t.Class, d)
			if key(target) == key(name) {
				continue // no self-edges
			}
			ek := edgeKey{key(name), key(target)}
			if _, dup := seen[ek]; dup {
				continue
			}
			seen[ek] = struct{}{}

			e := Edge{Test: name, DependsOn: target}
			if _, ok := known[key(target)]; ok {
				edges = append(edges, e)
			} else {
				dangling = append(dangling, e)
			}
		}
	}

	sortEdges(edges)
	sortEdges(dangling)
	return edges, dangling
}

// Order returns tests reordered so that every test follows the tests it
// depends on. Otherwise the input order is kept: at each step the earliest
// test whose dependencies are all placed comes next. Tests on a cycle keep
// their relative order at the end.
func Order(tests []model.TestUnit) []model.TestUnit {
	if len(tests) == 0 {
		return nil
	}

	edges, _ := BuildEdges(tests)
	index := make(map[string]int, len(tests))
	for i := range tests {
		index[key(tests[i].Name())] = i
	}

	// pending[i] counts the unplaced dependencies of test i.
	pending := make([]int, len(tests))
	dependents := make(map[int][]int)
	for _, e := range edges {
		from, to := index[key(e.Test)], index[key(e.DependsOn)]
		pending[from]++
		dependents[to] = append(dependents[to], from)
	}

	placed := make([]bool, len(tests))
	ordered := make([]model.TestUnit, 0, len(tests))
	for len(ordered) < len(tests) {
		next := -1
		for i := range tests {
			if !placed[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			break // only cycles remain
		}
		placed[next] = true
		ordered = append(ordered, tests[next])
		for _, d := range dependents[next] {
			pending[d]--
		}
	}

	for i := range tests {
		if !placed[i] {
			ordered = append(ordered, tests[i])
		}
	}
	return ordered
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Test != edges[j].Test {
			return edges[i].Test < edges[j].Test
		}
		return edges[i].DependsOn < edges[j].DependsOn
	})
}
