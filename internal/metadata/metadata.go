// Package metadata memoizes the parsed annotations of classes and methods.
package metadata

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/Sharom/phpunit/internal/annotation"
	"github.com/Sharom/phpunit/internal/model"
	"github.com/Sharom/phpunit/internal/symtab"
)

// Scope selects class-level or method-level annotations.
type Scope string

const (
	ScopeClass  Scope = "class"
	ScopeMethod Scope = "method"
)

// Entry is a cached annotation lookup.
type Entry struct {
	// Symbol is the introspected class or method. It is nil for a method
	// the class does not declare.
	Symbol *model.Symbol

	// Tags are the parsed annotations. For classes they include the
	// annotations of the traits the class composes.
	Tags annotation.Map
}

// Metrics counts cache activity.
type Metrics struct {
	// Requests counts lookups by scope (class, method) and result (hit, miss).
	Requests *prometheus.CounterVec

	// Introspections counts symbol table queries made to fill the cache.
	Introspections prometheus.Counter
}

// NewMetrics creates the cache collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phpunit_meta",
			Subsystem: "annotation_cache",
			Name:      "requests_total",
			Help:      "Annotation cache lookups by scope and result.",
		}, []string{"scope", "result"}),
		Introspections: f.NewCounter(prometheus.CounterOpts{
			Namespace: "phpunit_meta",
			Name:      "introspections_total",
			Help:      "Symbol table queries made to populate the annotation cache.",
		}),
	}
}

// Cache is the per-run annotation cache. Entries are never evicted.
// It is safe for concurrent use; concurrent first lookups of the same key
// introspect once.
type Cache struct {
	symbols symtab.Introspector
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records cache activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger used for cache misses.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New returns an empty cache over the given symbol table.
func New(symbols symtab.Introspector, opts ...Option) *Cache {
	c := &Cache{
		symbols: symbols,
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Symbols returns the symbol table the cache reads from.
func (c *Cache) Symbols() symtab.Introspector {
	return c.symbols
}

// Class returns the class-level annotations of the named type.
func (c *Cache) Class(class string) (annotation.Map, error) {
	e, err := c.ClassEntry(class)
	if err != nil {
		return nil, err
	}
	return e.Tags, nil
}

// Method returns the method-level annotations of class::method. A method the
// class does not have yields an empty map.
func (c *Cache) Method(class, method string) (annotation.Map, error) {
	e, err := c.MethodEntry(class, method)
	if err != nil {
		return nil, err
	}
	return e.Tags, nil
}

// ClassEntry returns the class-scope entry of the named type. The error wraps
// model.ErrUnresolvableSymbol when the type is unknown.
func (c *Cache) ClassEntry(class string) (*Entry, error) {
	return c.get(ScopeClass, key(ScopeClass, class, ""), func() (*Entry, error) {
		sym, err := c.symbols.Resolve(class)
		if err != nil {
			return nil, fmt.Errorf("class annotations: %w", err)
		}
		tags := annotation.Map{}
		for _, tr := range c.symbols.Traits(sym) {
			tags = tags.Override(annotation.Parse(tr.Doc))
		}
		return &Entry{Symbol: sym, Tags: tags.Override(annotation.Parse(sym.Doc))}, nil
	})
}

// MethodEntry returns the method-scope entry of class::method.
func (c *Cache) MethodEntry(class, method string) (*Entry, error) {
	return c.get(ScopeMethod, key(ScopeMethod, class, method), func() (*Entry, error) {
		sym, err := c.symbols.Resolve(class)
		if err != nil {
			return nil, fmt.Errorf("method annotations: %w", err)
		}
		m, ok := c.symbols.Method(sym, method)
		if !ok {
			return &Entry{Tags: annotation.Map{}}, nil
		}
		return &Entry{Symbol: m, Tags: annotation.Parse(m.Doc)}, nil
	})
}

func (c *Cache) get(scope Scope, k string, load func() (*Entry, error)) (*Entry, error) {
	if e, ok := c.lookup(k); ok {
		c.metrics.Requests.WithLabelValues(string(scope), "hit").Inc()
		return e, nil
	}

	v, err, _ := c.group.Do(k, func() (any, error) {
		if e, ok := c.lookup(k); ok {
			return e, nil
		}
		c.metrics.Introspections.Inc()
		c.logger.Debug("annotation cache miss", slog.String("scope", string(scope)), slog.String("symbol", k))

		e, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[k] = e
		c.mu.Unlock()
		return e, nil
	})
	c.metrics.Requests.WithLabelValues(string(scope), "miss").Inc()
	if err != nil {
		return nil, err
	}
	e, ok := v.(*Entry)
	if !ok {
		return nil, fmt.Errorf("unexpected type from annotation cache: got %T", v)
	}
	return e, nil
}

func (c *Cache) lookup(k string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[k]
	return e, ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// key builds the cache key. PHP type and method names are case-insensitive.
func key(scope Scope, class, method string) string {
	k := string(scope) + ":" + strings.ToLower(strings.TrimPrefix(class, `\`))
	if scope == ScopeMethod {
		k += "::" + strings.ToLower(method)
	}
	return k
}
