// Package selection narrows a plan to the tests picked by group and name
// filters.
package selection

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/Sharom/phpunit/internal/model"
)

// DefaultGroup is the group of tests that declare none.
const DefaultGroup = "default"

// Criteria select tests. Empty fields select everything.
type Criteria struct {
	// Groups keeps tests in at least one of these groups.
	Groups []string
	// ExcludeGroups drops tests in any of these groups.
	ExcludeGroups []string
	// Filter is a case-insensitive regular expression matched against
	// Class::method. A filter that does not compile is matched literally.
	Filter string
}

// Empty reports whether c selects every test.
func (c Criteria) Empty() bool {
	return len(c.Groups) == 0 && len(c.ExcludeGroups) == 0 && c.Filter == ""
}

func compileFilter(filter string) (*regexp.Regexp, error) {
	if filter == "" {
		return nil, nil
	}
	if re, err := regexp.Compile("(?i)" + filter); err == nil {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(filter))
	if err != nil {
		return nil, fmt.Errorf("compiling filter %q: %w", filter, err)
	}
	return re, nil
}

// GroupsOf returns the groups of a test, DefaultGroup when it has none.
func GroupsOf(t *model.TestUnit) []string {
	if len(t.Groups) == 0 {
		return []string{DefaultGroup}
	}
	return t.Groups
}

// Select returns a new Plan holding only the tests c selects, and the
// hooks of their classes. When c is empty the plan is returned unchanged.
func Select(plan *model.Plan, c Criteria) (*model.Plan, error) {
	if c.Empty() {
		return plan, nil
	}
	re, err := compileFilter(c.Filter)
	if err != nil {
		return nil, err
	}
	include := toSet(c.Groups)
	exclude := toSet(c.ExcludeGroups)

	var tests []model.TestUnit
	classes := make(map[string]struct{})
	for i := range plan.Tests {
		t := &plan.Tests[i]
		if !matches(GroupsOf(t), include, exclude) {
			continue
		}
		if re != nil && !re.MatchString(t.Name()) {
			continue
		}
		tests = append(tests, *t)
		classes[t.Class] = struct{}{}
	}

	hooks := make(map[string]model.HookSet, len(classes))
	for class, hs := range plan.Hooks {
		if _, ok := classes[class]; ok {
			hooks[class] = hs
		}
	}

	return &model.Plan{
		Root:         plan.Root,
		CoverageMode: plan.CoverageMode,
		Tests:        tests,
		Hooks:        hooks,
	}, nil
}

func matches(groups []string, include, exclude map[string]struct{}) bool {
	for _, g := range groups {
		if _, ok := exclude[g]; ok {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, g := range groups {
		if _, ok := include[g]; ok {
			return true
		}
	}
	return false
}

// Groups returns every group used in the plan, sorted.
func Groups(plan *model.Plan) []string {
	seen := make(map[string]struct{})
	for i := range plan.Tests {
		for _, g := range GroupsOf(&plan.Tests[i]) {
			seen[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
