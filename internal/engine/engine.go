// Package engine is the entry point used by the run orchestrator. It ties
// the symbol table, the annotation cache and the derivation components
// together and answers per-test metadata queries.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sharom/phpunit/internal/annotation"
	"github.com/Sharom/phpunit/internal/coverage"
	"github.com/Sharom/phpunit/internal/environment"
	"github.com/Sharom/phpunit/internal/grouping"
	"github.com/Sharom/phpunit/internal/metadata"
	"github.com/Sharom/phpunit/internal/model"
	"github.com/Sharom/phpunit/internal/requirement"
	"github.com/Sharom/phpunit/internal/symtab"
)

// Engine answers metadata queries about the tests of one source tree. It is
// safe for concurrent use.
type Engine struct {
	symbols  *symtab.Table
	cache    *metadata.Cache
	eval     *requirement.Evaluator
	resolver *coverage.Resolver
	deriver  *grouping.Deriver
	logger   *slog.Logger
}

type options struct {
	baseTypes []string
	logger    *slog.Logger
	metrics   *metadata.Metrics
}

// Option configures an Engine.
type Option func(*options)

// WithBaseTypes sets the framework base types. Their methods are never
// hooks and a class extending one of them is a test class.
func WithBaseTypes(types []string) Option {
	return func(o *options) { o.baseTypes = types }
}

// WithLogger sets the logger used by the engine and its cache.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the cache collectors.
func WithMetrics(m *metadata.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New returns an Engine over symbols, checking requirements against env.
func New(symbols *symtab.Table, env environment.Environment, opts ...Option) *Engine {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	cacheOpts := []metadata.Option{metadata.WithLogger(o.logger)}
	if o.metrics != nil {
		cacheOpts = append(cacheOpts, metadata.WithMetrics(o.metrics))
	}
	cache := metadata.New(symbols, cacheOpts...)

	return &Engine{
		symbols:  symbols,
		cache:    cache,
		eval:     requirement.NewEvaluator(env, symbols),
		resolver: coverage.NewResolver(cache),
		deriver:  grouping.NewDeriver(cache, o.baseTypes),
		logger:   o.logger,
	}
}

// Cache returns the annotation cache.
func (e *Engine) Cache() *metadata.Cache {
	return e.cache
}

// Requirements returns the merged class and method requirements of a test.
func (e *Engine) Requirements(class, method string) (requirement.Spec, error) {
	ce, err := e.cache.ClassEntry(class)
	if err != nil {
		return requirement.Spec{}, err
	}
	me, err := e.cache.MethodEntry(class, method)
	if err != nil {
		return requirement.Spec{}, err
	}

	classSpec := requirement.Collect(ce.Symbol.File, requirement.Parse(ce.Symbol.Doc, ce.Symbol.DocLine))
	methodSpec := requirement.Spec{File: ce.Symbol.File}
	if me.Symbol != nil {
		methodSpec = requirement.Collect(me.Symbol.File, requirement.Parse(me.Symbol.Doc, me.Symbol.DocLine))
	}
	return requirement.Merge(classSpec, methodSpec), nil
}

// MissingRequirements returns the diagnostics of every unmet requirement of
// a test. An empty result means the test can run.
func (e *Engine) MissingRequirements(class, method string) ([]string, error) {
	spec, err := e.Requirements(class, method)
	if err != nil {
		return nil, err
	}
	return e.eval.Missing(spec), nil
}

// CoverageTargets returns the lines a test covers or uses, keyed by file.
// A test marked @coversNothing covers no lines.
func (e *Engine) CoverageTargets(class, method string, mode coverage.Mode) (map[string]model.LineSet, error) {
	if mode == coverage.Covers {
		nothing, err := e.resolver.CoversNothing(class, method)
		if err != nil {
			return nil, err
		}
		if nothing {
			return map[string]model.LineSet{}, nil
		}
	}
	return e.resolver.Resolve(class, method, mode)
}

// CoversNothing reports whether coverage is disabled for a test.
func (e *Engine) CoversNothing(class, method string) (bool, error) {
	return e.resolver.CoversNothing(class, method)
}

// Groups returns the groups a test belongs to.
func (e *Engine) Groups(class, method string) ([]string, error) {
	return e.deriver.Groups(class, method)
}

// Size returns the size of a test.
func (e *Engine) Size(class, method string) (model.Size, error) {
	return e.deriver.Size(class, method)
}

// Dependencies returns the @depends values of a test.
func (e *Engine) Dependencies(class, method string) ([]string, error) {
	return e.deriver.Dependencies(class, method)
}

// HookMethods returns the lifecycle hooks of a test class.
func (e *Engine) HookMethods(class string) model.HookSet {
	return e.deriver.Hooks(class)
}

// IsTestUnit reports whether a method is a test: its name starts with
// "test" or it carries a @test tag.
func (e *Engine) IsTestUnit(sym *model.Symbol) bool {
	if sym == nil {
		return false
	}
	if strings.HasPrefix(sym.Name, "test") {
		return true
	}
	return annotation.Parse(sym.Doc).Has("test")
}

// ExpectedException is the exception a test declares it throws.
type ExpectedException struct {
	Class         string
	Code          string
	Message       string
	MessageRegExp string
}

var expectedExceptionPattern = regexp.MustCompile(
	`(?m)@expectedException\s+([:.\w\\\x{7f}-\x{ff}]+)(?:[\t ]+(\S*))?(?:[\t ]+(\S*))?\s*$`)

// ExpectedException returns the exception declared by @expectedException,
// or nil. The code and message may also come from @expectedExceptionCode and
// @expectedExceptionMessage; Type::CONST values are resolved.
func (e *Engine) ExpectedException(class, method string) (*ExpectedException, error) {
	me, err := e.cache.MethodEntry(class, method)
	if err != nil {
		return nil, err
	}
	if me.Symbol == nil {
		return nil, nil
	}
	m := expectedExceptionPattern.FindStringSubmatch(annotation.StripMarkers(me.Symbol.Doc))
	if m == nil {
		return nil, nil
	}

	ex := &ExpectedException{Class: m[1]}
	tags := me.Tags
	if m[2] != "" {
		ex.Message = strings.TrimSpace(m[2])
	} else if v, ok := tags.First("expectedExceptionMessage"); ok {
		ex.Message = annotation.ResolveConstant(v, e.symbols)
	}
	if v, ok := tags.First("expectedExceptionMessageRegExp"); ok {
		ex.MessageRegExp = annotation.ResolveConstant(v, e.symbols)
	}
	if m[3] != "" {
		ex.Code = m[3]
	} else if v, ok := tags.First("expectedExceptionCode"); ok {
		ex.Code = annotation.ResolveConstant(v, e.symbols)
	}
	if _, err := strconv.Atoi(ex.Code); err != nil && ex.Code != "" {
		ex.Code = annotation.ResolveConstant(ex.Code, e.symbols)
	}
	return ex, nil
}

// DataProviders returns the @dataProvider method names of a test.
func (e *Engine) DataProviders(class, method string) ([]string, error) {
	tags, err := e.cache.Method(class, method)
	if err != nil {
		return nil, err
	}
	var providers []string
	for _, v := range tags.Values("dataProvider") {
		if name, _, _ := strings.Cut(v, " "); name != "" {
			providers = append(providers, name)
		}
	}
	return providers, nil
}

// DataSets returns the rows of the @testWith block of a test, or nil.
func (e *Engine) DataSets(class, method string) ([][]any, error) {
	me, err := e.cache.MethodEntry(class, method)
	if err != nil {
		return nil, err
	}
	if me.Symbol == nil {
		return nil, nil
	}
	sets, err := annotation.TestWith(me.Symbol.Doc)
	if err != nil {
		return nil, fmt.Errorf("%s::%s: %w", class, method, err)
	}
	return sets, nil
}

// IsTestClass reports whether sym is a concrete class that extends a base
// type or whose name ends in "Test".
func (e *Engine) IsTestClass(sym *model.Symbol) bool {
	if sym == nil || sym.Kind != model.Class || sym.Abstract {
		return false
	}
	if strings.HasSuffix(sym.ShortName(), "Test") {
		return true
	}
	for _, p := range e.symbols.ParentNames(sym) {
		if e.deriver.IsBaseType(p) {
			return true
		}
	}
	return false
}

// TestUnits discovers the tests of the source tree: the public test methods
// of every test class, in declaration order.
func (e *Engine) TestUnits() []model.TestUnit {
	var units []model.TestUnit
	for _, class := range e.symbols.Types() {
		if !e.IsTestClass(class) {
			continue
		}
		for _, m := range e.symbols.Methods(class) {
			if e.deriver.IsBaseType(m.Class) || !e.IsTestUnit(m) {
				continue
			}
			if m.Visibility != model.Public {
				e.logger.Warn("test method is not public",
					slog.String("class", class.Name), slog.String("method", m.Name))
				continue
			}
			units = append(units, model.TestUnit{
				Class:  class.Name,
				Method: m.Name,
				File:   m.File,
				Line:   m.StartLine,
			})
		}
	}
	return units
}

// Analyze fills in the metadata of a test unit. Unresolvable symbols and
// invalid coverage targets are recorded on the unit; an ambiguous default
// class is returned as an error.
func (e *Engine) Analyze(u model.TestUnit, mode coverage.Mode) (model.TestUnit, error) {
	fail := func(err error) (model.TestUnit, error) {
		if errors.Is(err, model.ErrAmbiguousDefaultClass) {
			return u, err
		}
		e.logger.Debug("test metadata unavailable",
			slog.String("test", u.Name()), slog.String("error", err.Error()))
		u.Err = err
		return u, nil
	}

	var err error
	if u.Groups, err = e.Groups(u.Class, u.Method); err != nil {
		return fail(err)
	}
	u.Size = grouping.SizeOf(u.Groups)
	if u.Dependencies, err = e.Dependencies(u.Class, u.Method); err != nil {
		return fail(err)
	}
	if u.Missing, err = e.MissingRequirements(u.Class, u.Method); err != nil {
		return fail(err)
	}
	if u.Coverage, err = e.CoverageTargets(u.Class, u.Method, mode); err != nil {
		return fail(err)
	}
	return u, nil
}

// Plan discovers and analyzes every test and collects the hooks of each
// test class.
func (e *Engine) Plan(root string, mode coverage.Mode) (*model.Plan, error) {
	plan := &model.Plan{
		Root:         root,
		CoverageMode: string(mode),
		Hooks:        make(map[string]model.HookSet),
	}
	for _, u := range e.TestUnits() {
		analyzed, err := e.Analyze(u, mode)
		if err != nil {
			return nil, fmt.Errorf("analyzing %s: %w", u.Name(), err)
		}
		plan.Tests = append(plan.Tests, analyzed)
		if _, ok := plan.Hooks[u.Class]; !ok {
			plan.Hooks[u.Class] = e.HookMethods(u.Class)
		}
	}
	return plan, nil
}
