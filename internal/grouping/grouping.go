// Package grouping derives test groups, sizes, dependencies and lifecycle
// hooks from annotations.
package grouping

import (
	"regexp"
	"strings"
	"sync"

	"github.com/Sharom/phpunit/internal/annotation"
	"github.com/Sharom/phpunit/internal/metadata"
	"github.com/Sharom/phpunit/internal/model"
)

// DefaultBaseTypes are the framework types every test case extends. Methods
// they declare are never hooks.
var DefaultBaseTypes = []string{
	"PHPUnit\\Framework\\TestCase",
	"PHPUnit\\Framework\\Assert",
}

// Hook method names every test case has.
const (
	DefaultBefore = "setUp"
	DefaultAfter  = "tearDown"
)

var sizes = []model.Size{model.SizeSmall, model.SizeMedium, model.SizeLarge}

var (
	beforePattern = regexp.MustCompile(`@before\b`)
	afterPattern  = regexp.MustCompile(`@after\b`)
)

// Deriver computes grouping metadata. Hook sets are cached per class.
type Deriver struct {
	cache     *metadata.Cache
	baseTypes map[string]struct{}

	mu    sync.Mutex
	hooks map[string]model.HookSet
}

// NewDeriver returns a Deriver. A nil baseTypes uses DefaultBaseTypes.
func NewDeriver(cache *metadata.Cache, baseTypes []string) *Deriver {
	if baseTypes == nil {
		baseTypes = DefaultBaseTypes
	}
	d := &Deriver{
		cache:     cache,
		baseTypes: make(map[string]struct{}, len(baseTypes)),
		hooks:     make(map[string]model.HookSet),
	}
	for _, bt := range baseTypes {
		d.baseTypes[typeKey(bt)] = struct{}{}
	}
	return d
}

// IsBaseType reports whether name is one of the configured framework types.
func (d *Deriver) IsBaseType(name string) bool {
	_, ok := d.baseTypes[typeKey(name)]
	return ok
}

func (d *Deriver) tags(class, method string) (annotation.Map, annotation.Map, error) {
	classTags, err := d.cache.Class(class)
	if err != nil {
		return nil, nil, err
	}
	methodTags, err := d.cache.Method(class, method)
	if err != nil {
		return nil, nil, err
	}
	return classTags, methodTags, nil
}

// Groups returns the groups of a test: its authors (method-level authors
// replace class-level ones), then class and method @group, class and method
// @ticket, then the first size tag found on the method or else the class.
func (d *Deriver) Groups(class, method string) ([]string, error) {
	classTags, methodTags, err := d.tags(class, method)
	if err != nil {
		return nil, err
	}

	var groups []string
	if methodTags.Has("author") {
		groups = append(groups, methodTags.Values("author")...)
	} else {
		groups = append(groups, classTags.Values("author")...)
	}
	groups = append(groups, classTags.Values("group")...)
	groups = append(groups, methodTags.Values("group")...)
	groups = append(groups, classTags.Values("ticket")...)
	groups = append(groups, methodTags.Values("ticket")...)

scan:
	for _, tags := range []annotation.Map{methodTags, classTags} {
		for _, size := range sizes {
			if tags.Has(string(size)) {
				groups = append(groups, string(size))
				break scan
			}
		}
	}
	return unique(groups), nil
}

// Size returns the size of a test from its groups.
func (d *Deriver) Size(class, method string) (model.Size, error) {
	groups, err := d.Groups(class, method)
	if err != nil {
		return model.SizeUnknown, err
	}
	return SizeOf(groups), nil
}

// SizeOf returns the largest size group in groups, or SizeUnknown.
func SizeOf(groups []string) model.Size {
	has := make(map[string]bool, len(groups))
	for _, g := range groups {
		has[g] = true
	}
	for i := len(sizes) - 1; i >= 0; i-- {
		if has[string(sizes[i])] {
			return sizes[i]
		}
	}
	return model.SizeUnknown
}

// Dependencies returns the class-level then method-level @depends values.
func (d *Deriver) Dependencies(class, method string) ([]string, error) {
	classTags, methodTags, err := d.tags(class, method)
	if err != nil {
		return nil, err
	}
	var deps []string
	deps = append(deps, classTags.Values("depends")...)
	deps = append(deps, methodTags.Values("depends")...)
	return unique(deps), nil
}

// DefaultHooks is the hook set of a class without hook annotations.
func DefaultHooks() model.HookSet {
	return model.HookSet{
		Before: []string{DefaultBefore},
		After:  []string{DefaultAfter},
	}
}

// Hooks returns the lifecycle hooks of a class. Methods are visited in
// reflection order: @beforeClass and @before hooks are prepended, so a later
// visited hook runs earlier, and @afterClass and @after hooks are appended.
// Class hooks must be static, test hooks must not be. An unknown class has
// the default hooks.
func (d *Deriver) Hooks(class string) model.HookSet {
	entry, err := d.cache.ClassEntry(class)
	if err != nil {
		return DefaultHooks()
	}
	k := typeKey(entry.Symbol.Name)

	d.mu.Lock()
	defer d.mu.Unlock()
	if hs, ok := d.hooks[k]; ok {
		return copyHooks(hs)
	}

	hs := DefaultHooks()
	for _, m := range d.cache.Symbols().Methods(entry.Symbol) {
		if d.IsBaseType(m.Class) {
			continue
		}
		doc := m.Doc
		if e, err := d.cache.MethodEntry(class, m.Name); err == nil && e.Symbol != nil {
			doc = e.Symbol.Doc
		}

		if m.Static {
			if strings.Contains(doc, "@beforeClass") {
				hs.BeforeClass = append([]string{m.Name}, hs.BeforeClass...)
			}
			if strings.Contains(doc, "@afterClass") {
				hs.AfterClass = append(hs.AfterClass, m.Name)
			}
			continue
		}
		if beforePattern.MatchString(doc) {
			hs.Before = append([]string{m.Name}, hs.Before...)
		}
		if afterPattern.MatchString(doc) {
			hs.After = append(hs.After, m.Name)
		}
	}
	d.hooks[k] = hs
	return copyHooks(hs)
}

func copyHooks(hs model.HookSet) model.HookSet {
	return model.HookSet{
		BeforeClass: append([]string(nil), hs.BeforeClass...),
		Before:      append([]string(nil), hs.Before...),
		After:       append([]string(nil), hs.After...),
		AfterClass:  append([]string(nil), hs.AfterClass...),
	}
}

func unique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func typeKey(name string) string {
	return strings.ToLower(strings.TrimPrefix(name, `\`))
}
