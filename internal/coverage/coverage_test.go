package coverage

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sharom/phpunit/internal/metadata"
	"github.com/Sharom/phpunit/internal/model"
	"github.com/Sharom/phpunit/internal/symtab"
)

func doc(tags ...string) string {
	var b strings.Builder
	b.WriteString("/**\n")
	for _, t := range tags {
		b.WriteString(" * " + t + "\n")
	}
	b.WriteString(" */")
	return b.String()
}

func method(name string, vis model.Visibility, file string, start, end int, tags ...string) *model.Symbol {
	m := &model.Symbol{Name: name, Kind: model.Method, Visibility: vis, File: file, StartLine: start, EndLine: end}
	if len(tags) > 0 {
		m.Doc = doc(tags...)
	}
	return m
}

func testMethod(name string, tags ...string) *model.Symbol {
	return method(name, model.Public, "tests/FooTest.php", 1, 1, tags...)
}

func newResolver() *Resolver {
	tab := symtab.New()
	for _, sym := range []*model.Symbol{
		{Name: "App\\Foo", Kind: model.Class, File: "src/Foo.php", StartLine: 5, EndLine: 30,
			Parent: "App\\Base", Interfaces: []string{"App\\Contract"}, Traits: []string{"App\\Helps"},
			Members: []*model.Symbol{
				method("bar", model.Public, "src/Foo.php", 10, 12),
				method("baz", model.Protected, "src/Foo.php", 14, 16),
				method("qux", model.Private, "src/Foo.php", 18, 20),
			}},
		{Name: "App\\Base", Kind: model.Class, File: "src/Base.php", StartLine: 3, EndLine: 20,
			Interfaces: []string{"App\\Root"},
			Members:    []*model.Symbol{method("inherited", model.Public, "src/Base.php", 5, 7)}},
		{Name: "App\\Contract", Kind: model.Interface, File: "src/Contract.php", StartLine: 3, EndLine: 8},
		{Name: "App\\Root", Kind: model.Interface, File: "src/Contract.php", StartLine: 10, EndLine: 12},
		{Name: "App\\Helps", Kind: model.Trait, File: "src/Helps.php", StartLine: 3, EndLine: 9,
			Members: []*model.Symbol{method("help", model.Public, "src/Helps.php", 4, 6)}},
		{Name: "App\\VendorChild", Kind: model.Class, File: "src/VendorChild.php", StartLine: 3, EndLine: 9,
			Parent: "Vendor\\Base", Interfaces: []string{"Vendor\\Contract", "App\\Root"}},
		{Name: "App\\helper", Kind: model.Function, File: "src/functions.php", StartLine: 3, EndLine: 5},
		{Name: "globalfn", Kind: model.Function, File: "src/functions.php", StartLine: 7, EndLine: 9},

		{Name: "App\\FooTest", Kind: model.Class, File: "tests/FooTest.php",
			Doc: doc("@coversDefaultClass \\App\\Foo"),
			Members: []*model.Symbol{
				testMethod("testBar", "@covers ::bar()"),
				testMethod("testNoted", "@covers \\App\\Foo::bar covers the happy path"),
				testMethod("testExtended", "@covers \\App\\Foo<extended>"),
				testMethod("testProtected", "@covers \\App\\Foo::<protected>"),
				testMethod("testNotPublic", "@covers \\App\\Foo::<!public>"),
				testMethod("testFunction", "@covers \\App\\helper", "@uses ::globalfn"),
				testMethod("testMissingClass", "@covers \\App\\Nope"),
				testMethod("testMissingMethod", "@covers ::nope"),
				testMethod("testMissingVisibilityClass", "@covers \\App\\Nope::<public>"),
				testMethod("testInterface", "@covers \\App\\Contract", "@uses \\App\\Contract"),
				testMethod("testVendorExtended", "@covers \\App\\VendorChild<extended>"),
				testMethod("testTwice", "@covers ::bar", "@covers ::bar", "@covers \\App\\Foo"),
			}},
		{Name: "App\\AmbiguousTest", Kind: model.Class, File: "tests/AmbiguousTest.php",
			Doc:     doc("@coversDefaultClass \\App\\Foo", "@coversDefaultClass \\App\\Base"),
			Members: []*model.Symbol{testMethod("testA", "@covers ::bar")}},
		{Name: "App\\NothingTest", Kind: model.Class, File: "tests/NothingTest.php",
			Doc: doc("@coversNothing"),
			Members: []*model.Symbol{
				testMethod("testA"),
				testMethod("testB", "@covers \\App\\Foo"),
				testMethod("testC", "@coversNothing", "@covers \\App\\Foo"),
			}},
		{Name: "App\\PlainTest", Kind: model.Class, File: "tests/PlainTest.php",
			Members: []*model.Symbol{testMethod("testA")}},
	} {
		tab.Add(sym)
	}
	return NewResolver(metadata.New(tab))
}

func lines(start, end int) model.LineSet {
	ls := make(model.LineSet)
	ls.AddRange(start, end)
	return ls
}

func union(sets ...model.LineSet) model.LineSet {
	out := make(model.LineSet)
	for _, s := range sets {
		for l := range s {
			out[l] = struct{}{}
		}
	}
	return out
}

func TestResolveMethod(t *testing.T) {
	t.Parallel()
	r := newResolver()

	for _, test := range []string{"testBar", "testNoted"} {
		got, err := r.Resolve("App\\FooTest", test, Covers)
		require.NoError(t, err, test)
		assert.Equal(t, map[string]model.LineSet{"src/Foo.php": lines(10, 12)}, got, test)
	}
}

func TestResolveExtended(t *testing.T) {
	t.Parallel()
	r := newResolver()

	got, err := r.Resolve("App\\FooTest", "testExtended", Covers)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.LineSet{
		"src/Foo.php":      lines(5, 30),
		"src/Base.php":     lines(3, 20),
		"src/Contract.php": union(lines(3, 8), lines(10, 12)),
		"src/Helps.php":    lines(3, 9),
	}, got)
}

func TestResolveExtendedSkipsUnscannedAncestors(t *testing.T) {
	t.Parallel()
	r := newResolver()

	got, err := r.Resolve("App\\FooTest", "testVendorExtended", Covers)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.LineSet{
		"src/VendorChild.php": lines(3, 9),
		"src/Contract.php":    lines(10, 12),
	}, got)
}

func TestResolveTargetUnknownFunction(t *testing.T) {
	t.Parallel()
	r := newResolver()

	syms, err := r.ResolveTarget(FunctionTarget{Name: "\\App\\missing"})
	require.Error(t, err)
	assert.Nil(t, syms)
	assert.True(t, errors.Is(err, model.ErrInvalidTarget))
	assert.Contains(t, err.Error(), `not existing function "\App\missing"`)

	syms, err = r.ResolveTarget(FunctionTarget{Name: "\\App\\helper"})
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "src/functions.php", syms[0].File)
}

func TestResolveVisibility(t *testing.T) {
	t.Parallel()
	r := newResolver()

	got, err := r.Resolve("App\\FooTest", "testProtected", Covers)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.LineSet{"src/Foo.php": lines(14, 16)}, got)

	got, err = r.Resolve("App\\FooTest", "testNotPublic", Covers)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.LineSet{"src/Foo.php": union(lines(14, 16), lines(18, 20))}, got)
}

func TestResolveFunctions(t *testing.T) {
	t.Parallel()
	r := newResolver()

	got, err := r.Resolve("App\\FooTest", "testFunction", Covers)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.LineSet{"src/functions.php": lines(3, 5)}, got)

	got, err = r.Resolve("App\\FooTest", "testFunction", Uses)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.LineSet{"src/functions.php": lines(7, 9)}, got)
}

func TestResolveDuplicatesCollapse(t *testing.T) {
	t.Parallel()
	r := newResolver()

	exprs, err := r.Expressions("App\\FooTest", "testTwice", Covers)
	require.NoError(t, err)
	assert.Equal(t, []string{"\\App\\Foo::bar", "\\App\\Foo"}, exprs)

	got, err := r.Resolve("App\\FooTest", "testTwice", Covers)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.LineSet{
		"src/Foo.php":   lines(5, 30),
		"src/Helps.php": lines(3, 9),
	}, got)
}

func TestResolveInvalidTargets(t *testing.T) {
	t.Parallel()
	r := newResolver()

	tests := []struct {
		method string
		mode   Mode
		want   string
	}{
		{"testMissingClass", Covers, `Trying to @cover or @use not existing class or interface "\App\Nope".`},
		{"testMissingMethod", Covers, `Trying to @cover or @use not existing method "\App\Foo::nope".`},
		{"testMissingVisibilityClass", Covers, `Trying to @cover or @use not existing class or interface "\App\Nope".`},
		{"testInterface", Covers, `Trying to @cover interface "\App\Contract". This is not supported.`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()
			_, err := r.Resolve("App\\FooTest", tt.method, tt.mode)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrInvalidTarget))
			var te *model.TargetError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.want, te.Reason)
		})
	}
}

func TestResolveInterfaceInUsesMode(t *testing.T) {
	t.Parallel()
	r := newResolver()

	got, err := r.Resolve("App\\FooTest", "testInterface", Uses)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.LineSet{"src/Contract.php": lines(3, 8)}, got)
}

func TestAmbiguousDefaultClass(t *testing.T) {
	t.Parallel()
	r := newResolver()

	_, err := r.Resolve("App\\AmbiguousTest", "testA", Covers)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAmbiguousDefaultClass))
	assert.Contains(t, err.Error(), `More than one @coversDefaultClass annotation in class or interface "App\AmbiguousTest".`)

	// The uses family has its own shortcut.
	_, err = r.Resolve("App\\AmbiguousTest", "testA", Uses)
	assert.NoError(t, err)
}

func TestResolveNoAnnotations(t *testing.T) {
	t.Parallel()
	r := newResolver()

	got, err := r.Resolve("App\\PlainTest", "testA", Covers)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Resolve("App\\PlainTest", "missingMethod", Uses)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveUnknownTestClass(t *testing.T) {
	t.Parallel()
	r := newResolver()

	_, err := r.Resolve("App\\Ghost", "testA", Covers)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnresolvableSymbol))
}

func TestCoversNothing(t *testing.T) {
	t.Parallel()
	r := newResolver()

	tests := []struct {
		class, method string
		want          bool
	}{
		{"App\\NothingTest", "testA", true},
		{"App\\NothingTest", "testB", false},
		{"App\\NothingTest", "testC", true},
		{"App\\PlainTest", "testA", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.class+"::"+tt.method, func(t *testing.T) {
			t.Parallel()
			got, err := r.CoversNothing(tt.class, tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	tab := symtab.New()
	tab.Add(&model.Symbol{Name: "App\\helper", Kind: model.Function})

	tests := []struct {
		expr string
		want Target
	}{
		{"\\App\\helper", FunctionTarget{Name: "\\App\\helper"}},
		{"helper", TypeTarget{Class: "helper"}},
		{"Foo::bar", MethodTarget{Class: "Foo", Method: "bar"}},
		{"::bar", MethodTarget{Method: "bar"}},
		{"Foo::bar::baz", MethodTarget{Class: "Foo", Method: "bar"}},
		{"Foo::<public>", VisibilityTarget{Class: "Foo", Visibility: model.Public, member: "<public>"}},
		{"Foo::<protected>", VisibilityTarget{Class: "Foo", Visibility: model.Protected, member: "<protected>"}},
		{"Foo::<!private>", VisibilityTarget{Class: "Foo", Visibility: model.Private, Invert: true, member: "<!private>"}},
		{"Foo::<!>", VisibilityTarget{Class: "Foo", Visibility: model.Public, Invert: true, member: "<!>"}},
		{"Foo<extended>", HierarchyTarget{Class: "Foo"}},
		{"Foo", TypeTarget{Class: "Foo"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.expr, tab)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw, shortcut, want string
	}{
		{"::bar", "\\App\\Foo", "\\App\\Foo::bar"},
		{"::bar", "", "::bar"},
		{"Foo::bar()", "", "Foo::bar"},
		{"Foo::bar ( ) ", "", "Foo::bar"},
		{"Foo::bar some note", "", "Foo::bar"},
		{"Foo<extended>", "Bar", "Foo<extended>"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Clean(tt.raw, tt.shortcut))
		})
	}
}
