package requirement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sharom/phpunit/internal/environment"
	"github.com/Sharom/phpunit/internal/model"
	"github.com/Sharom/phpunit/internal/symtab"
)

func collect(file string, docLine int, doc string) Spec {
	return Collect(file, Parse(doc, docLine))
}

func TestParse(t *testing.T) {
	t.Parallel()

	doc := `/**
 * @requires PHP >= 7.1
 * @requires PHP 7.1
 * @requires PHPUnit ^8.5 || ^9.0
 * @requires OSFAMILY Linux
 * @requires OS Linux|Darwin
 * @requires function mb_strlen
 * @requires function App\Util::helper
 * @requires setting display_errors On
 * @requires extension pdo_mysql
 * @requires extension mbstring >= 7.4
 */`
	reqs := Parse(doc, 10)

	assert.Equal(t, []Requirement{
		VersionRequirement{declared: declared{line: 11}, Target: PHP, Operator: ">=", Version: "7.1"},
		VersionRequirement{declared: declared{line: 12}, Target: PHP, Version: "7.1"},
		ConstraintRequirement{declared: declared{line: 13}, Target: PHPUnit, Constraint: "^8.5 || ^9.0"},
		OSFamilyRequirement{declared: declared{line: 14}, Family: "Linux"},
		OSRequirement{declared: declared{line: 15}, Pattern: "Linux|Darwin"},
		FunctionRequirement{declared: declared{line: 16}, Name: "mb_strlen"},
		FunctionRequirement{declared: declared{line: 17}, Name: "App\\Util::helper"},
		SettingRequirement{declared: declared{line: 18}, Name: "display_errors", Value: "On"},
		ExtensionRequirement{declared: declared{line: 19}, Name: "pdo_mysql"},
		ExtensionRequirement{declared: declared{line: 20}, Name: "mbstring", Operator: ">=", Version: "7.4"},
	}, reqs)
}

func TestParseConstraintAfterPlain(t *testing.T) {
	t.Parallel()

	// The plain form was seen first, so the later constraint is ignored.
	s := collect("f.php", 1, "/**\n * @requires PHP 7.1\n * @requires PHP ^8.0\n */")
	require.NotNil(t, s.PHP)
	assert.Equal(t, "7.1", s.PHP.Version)
	assert.Empty(t, s.PHPConstraint)

	// A constraint seen first is kept.
	s = collect("f.php", 1, "/**\n * @requires PHP ^8.0\n * @requires PHP 7.1\n */")
	assert.Equal(t, "^8.0", s.PHPConstraint)
	require.NotNil(t, s.PHP)
}

func TestParseSingleLine(t *testing.T) {
	t.Parallel()

	s := collect("f.php", 4, "/** @requires extension redis */")
	assert.Equal(t, []string{"redis"}, s.Extensions)
	assert.Equal(t, 4, s.Lines["extension_redis"])
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Parse("", 0))
	s := collect("f.php", 3, "/**\n * @group x\n */")
	assert.True(t, s.Empty())
	assert.Equal(t, "f.php", s.File)
}

func TestCollect(t *testing.T) {
	t.Parallel()

	s := collect("tests/FooTest.php", 2, `/**
 * @requires setting a 1
 * @requires setting b 2
 * @requires setting a 3
 * @requires OS Linux
 * @requires OS Darwin
 */`)

	assert.Equal(t, []Setting{{Name: "a", Value: "3"}, {Name: "b", Value: "2"}}, s.Settings)
	assert.Equal(t, "Darwin", s.OS)
	assert.Equal(t, 7, s.Lines["OS"])
	assert.Equal(t, 5, s.Lines["__SETTING_a"])
	assert.False(t, s.Empty())
}

func TestMerge(t *testing.T) {
	t.Parallel()

	class := collect("tests/FooTest.php", 1, `/**
 * @requires extension B
 * @requires OSFAMILY Linux
 * @requires function f
 * @requires setting a 1
 * @requires setting b 2
 * @requires extension x >= 1.0
 * @requires PHP 7.0
 */`)
	method := collect("tests/FooTest.php", 20, `/**
 * @requires extension A
 * @requires OSFAMILY Darwin
 * @requires function g
 * @requires setting a 9
 * @requires extension x < 3.0
 */`)

	got := Merge(class, method)
	assert.Equal(t, []string{"B", "x", "A", "x"}, got.Extensions)
	assert.Equal(t, "Darwin", got.OSFamily)
	assert.Equal(t, []string{"f", "g"}, got.Functions)
	assert.Equal(t, []Setting{{Name: "a", Value: "9"}, {Name: "b", Value: "2"}}, got.Settings)
	assert.Equal(t, []ExtensionVersion{{Name: "x", Operator: "<", Version: "3.0"}}, got.ExtensionVersions)
	require.NotNil(t, got.PHP)
	assert.Equal(t, "7.0", got.PHP.Version)

	assert.Equal(t, 22, got.Lines["OSFAMILY"])
	assert.Equal(t, 8, got.Lines["PHP"])

	// Inputs are not modified.
	assert.Equal(t, []Setting{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, class.Settings)
	assert.Equal(t, "Linux", class.OSFamily)
}

func TestMergeExtensionsConcatenate(t *testing.T) {
	t.Parallel()

	got := Merge(Spec{Extensions: []string{"B"}}, Spec{Extensions: []string{"A"}})
	assert.Equal(t, []string{"B", "A"}, got.Extensions)
}

func testEnv() environment.Environment {
	return environment.Environment{
		RuntimeVersion: "7.4.3",
		ToolVersion:    "8.5.2",
		OS:             "Linux",
		Functions:      []string{"strlen"},
		Settings:       map[string]string{"display_errors": "1"},
		Extensions:     map[string]string{"json": "7.4.3"},
	}
}

func testSymbols() *symtab.Table {
	tab := symtab.New()
	tab.Add(&model.Symbol{Name: "App\\Util", Kind: model.Class, Members: []*model.Symbol{
		{Name: "helper", Kind: model.Method, Visibility: model.Private},
	}})
	tab.Add(&model.Symbol{Name: "App\\fn", Kind: model.Function})
	return tab
}

func TestMissingSatisfied(t *testing.T) {
	t.Parallel()

	s := collect("tests/FooTest.php", 1, `/**
 * @requires PHP 7.1
 * @requires PHPUnit ^8.0
 * @requires OSFAMILY Linux
 * @requires OS ^lin
 * @requires function strlen
 * @requires function App\Util::helper
 * @requires function App\fn
 * @requires setting display_errors 1.0
 * @requires setting unknown_setting 0
 * @requires extension json
 * @requires extension JSON >= 7.0
 */`)
	e := NewEvaluator(testEnv(), testSymbols())
	assert.Empty(t, e.Missing(s))
}

func TestMissingRuntimeVersion(t *testing.T) {
	t.Parallel()

	s := collect("tests/FooTest.php", 10, "/**\n * @requires PHP >= 9.9.9\n */")
	got := NewEvaluator(testEnv(), nil).Missing(s)
	assert.Equal(t, []string{
		"__OFFSET_LINE=11",
		"__OFFSET_FILE=tests/FooTest.php",
		"PHP >= 9.9.9 is required.",
	}, got)
}

func TestMissingUnknownRuntime(t *testing.T) {
	t.Parallel()

	s := collect("f.php", 1, "/**\n * @requires PHP >= 9.9.9\n */")
	got := NewEvaluator(environment.Default(), nil).Missing(s)
	require.Len(t, got, 3)
	assert.Equal(t, "PHP >= 9.9.9 is required.", got[2])
}

func TestMissingAllCategories(t *testing.T) {
	t.Parallel()

	s := collect("tests/FooTest.php", 20, `/**
 * @requires PHP 8.0
 * @requires PHPUnit ^9.0
 * @requires OSFAMILY Windows
 * @requires OS Darwin/x
 * @requires function strlen
 * @requires function missing_fn
 * @requires function App\Util::nope
 * @requires setting display_errors 1
 * @requires setting memory_limit 256M
 * @requires extension json
 * @requires extension redis
 * @requires extension json >= 8.0
 */`)

	got := NewEvaluator(testEnv(), testSymbols()).Missing(s)
	assert.Equal(t, []string{
		"__OFFSET_LINE=21",
		"__OFFSET_FILE=tests/FooTest.php",
		"PHP >= 8.0 is required.",
		"PHPUnit version does not match the required constraint ^9.0.",
		"Operating system Windows is required.",
		"Operating system matching /Darwin\\/x/i is required.",
		"Function missing_fn is required.",
		"Function App\\Util::nope is required.",
		`Setting "memory_limit" must be "256M".`,
		"Extension redis is required.",
		"Extension json >= 8.0 is required.",
	}, got)
}

func TestMissingHintIsFirstUnmetCategory(t *testing.T) {
	t.Parallel()

	s := collect("tests/FooTest.php", 5, `/**
 * @requires extension redis
 * @requires OSFAMILY Windows
 */`)
	got := NewEvaluator(testEnv(), nil).Missing(s)
	require.Len(t, got, 4)
	assert.Equal(t, "__OFFSET_LINE=7", got[0])
}

func TestMissingLineDefaultsToOne(t *testing.T) {
	t.Parallel()

	s := Spec{File: "f.php", OSFamily: "Windows"}
	got := NewEvaluator(testEnv(), nil).Missing(s)
	assert.Equal(t, []string{
		"__OFFSET_LINE=1",
		"__OFFSET_FILE=f.php",
		"Operating system Windows is required.",
	}, got)
}

func TestConstraintTakesPrecedence(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(testEnv(), nil)

	// Plain form unmet, constraint met: no diagnostic.
	s := Merge(
		Spec{PHP: &VersionBound{Version: "99.0"}},
		Spec{PHPConstraint: "^7.0"},
	)
	assert.Empty(t, e.Missing(s))

	// Plain form met, constraint unmet: the constraint is reported.
	s = Merge(
		Spec{PHP: &VersionBound{Version: "5.0"}},
		Spec{PHPConstraint: "^99.0", Lines: map[string]int{"PHP_constraint": 42}},
	)
	assert.Equal(t, []string{
		"__OFFSET_LINE=42",
		"__OFFSET_FILE=",
		"PHP version does not match the required constraint ^99.0.",
	}, e.Missing(s))
}

func TestConstraintAbovePlainInOneDoc(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(testEnv(), nil)

	// Both forms survive parsing when the constraint comes first, and the
	// constraint decides the outcome.
	s := collect("tests/FooTest.php", 20, "/**\n * @requires PHP ^8.0\n * @requires PHP 5.6\n */")
	require.NotNil(t, s.PHP)
	assert.Equal(t, "5.6", s.PHP.Version)
	assert.Equal(t, "^8.0", s.PHPConstraint)
	assert.Equal(t, []string{
		"__OFFSET_LINE=21",
		"__OFFSET_FILE=tests/FooTest.php",
		"PHP version does not match the required constraint ^8.0.",
	}, e.Missing(s))

	// Reversed, the constraint is dropped and the met plain form passes.
	s = collect("tests/FooTest.php", 20, "/**\n * @requires PHP 5.6\n * @requires PHP ^8.0\n */")
	assert.Empty(t, s.PHPConstraint)
	assert.Empty(t, e.Missing(s))
}

func TestUnsupportedConstraint(t *testing.T) {
	t.Parallel()

	got := NewEvaluator(testEnv(), nil).Missing(Spec{PHPUnitConstraint: "^^7"})
	require.Len(t, got, 3)
	assert.Equal(t, "Version constraint ^^7 is not supported.", got[2])
}

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		actual, op, required string
		want                 bool
	}{
		{"7.4.3", ">=", "7.1", true},
		{"7.0.0", ">=", "7.1", false},
		{"7.0.0", "<", "7.1", true},
		{"7.1.0", "<=", "7.1", true},
		{"7.2", ">", "7.1.9", true},
		{"7.1", "!=", "7.2", true},
		{"7.1", "<>", "7.1", false},
		{"7.1", "==", "7.1.0", true},
		{"7.1", "=", "7.1", true},
		{"7.1", "!!", "7.1", false},
		{"", ">=", "1.0", false},
		{"5.6.0", ">=", "5.6.0RC1", true},
		{"8.2.12-1ubuntu", ">=", "8.2", true},
		{"7.1", ">=", "7.1-dev", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.actual+tt.op+tt.required, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, compareVersions(tt.actual, tt.op, tt.required))
		})
	}
}

func TestSanitizeVersion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "8.2.12", sanitizeVersion("8.2.12-1ubuntu"))
	assert.Equal(t, "7.4", sanitizeVersion("7.4"))
	assert.Equal(t, "8.5.0", sanitizeVersion("8.5.0-dev"))
	assert.Equal(t, "dev", sanitizeVersion("dev"))
}

func TestNormalizeConstraint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ">=7.1, <8.0.0", normalizeConstraint("~7.1"))
	assert.Equal(t, ">=7.1, <8.0.0 || >=8.0, <9.0.0", normalizeConstraint("~7.1 || ~8.0"))
	assert.Equal(t, "~7.1.3", normalizeConstraint("~7.1.3"))
	assert.Equal(t, "^7.1", normalizeConstraint(" ^7.1 "))
}

func TestSatisfiesConstraint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		actual, constraint string
		want               bool
	}{
		{"7.4.3", "~7.1", true},
		{"8.0.0", "~7.1", false},
		{"7.4.3", "^7.1 || ^8.0", true},
		{"8.2.12-1ubuntu", "^8.0", true},
		{"7.1.5", "~7.1.3", true},
		{"7.2.0", "~7.1.3", false},
		{"", "^7.0", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.actual+" "+tt.constraint, func(t *testing.T) {
			t.Parallel()
			got, err := satisfiesConstraint(tt.actual, tt.constraint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := satisfiesConstraint("7.0.0", "^^7")
	assert.Error(t, err)
}

func TestLooseEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, looseEqual("1", "1.0"))
	assert.True(t, looseEqual(" 1", "1"))
	assert.True(t, looseEqual("128M", "128M"))
	assert.False(t, looseEqual("On", "on"))
	assert.False(t, looseEqual("1", "2"))
}
