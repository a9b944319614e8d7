package requirement

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sharom/phpunit/internal/environment"
	"github.com/Sharom/phpunit/internal/symtab"
)

// Control line prefixes that precede the diagnostics of an unmet spec.
const (
	OffsetLinePrefix = "__OFFSET_LINE="
	OffsetFilePrefix = "__OFFSET_FILE="
)

// Evaluator checks requirement specs against an environment. Functions and
// methods are also looked up in the scanned sources.
type Evaluator struct {
	env     environment.Environment
	symbols symtab.Introspector
}

// NewEvaluator returns an Evaluator. symbols may be nil.
func NewEvaluator(env environment.Environment, symbols symtab.Introspector) *Evaluator {
	return &Evaluator{env: env, symbols: symbols}
}

// Missing returns one diagnostic per unmet requirement, in category order.
// When any requirement is unmet the list starts with two control lines
// locating the first unmet requirement: __OFFSET_LINE=<line> and
// __OFFSET_FILE=<file>. The line defaults to 1 when it was not recorded.
func (e *Evaluator) Missing(spec Spec) []string {
	var missing []string
	hint := ""
	fail := func(key, msg string) {
		missing = append(missing, msg)
		if hint == "" {
			hint = key
		}
	}

	e.checkVersion(PHP, spec.PHP, spec.PHPConstraint, e.env.RuntimeVersion, fail)
	e.checkVersion(PHPUnit, spec.PHPUnit, spec.PHPUnitConstraint, e.env.ToolVersion, fail)

	if spec.OSFamily != "" && spec.OSFamily != e.env.Family() {
		fail("OSFAMILY", fmt.Sprintf("Operating system %s is required.", spec.OSFamily))
	}

	if spec.OS != "" {
		pattern := "/" + strings.ReplaceAll(spec.OS, "/", `\/`) + "/i"
		re, err := regexp.Compile("(?i)" + strings.ReplaceAll(spec.OS, "/", `\/`))
		if err != nil || !re.MatchString(e.env.OS) {
			fail("OS", fmt.Sprintf("Operating system matching %s is required.", pattern))
		}
	}

	for _, fn := range spec.Functions {
		if !e.hasFunction(fn) {
			fail("function_"+fn, fmt.Sprintf("Function %s is required.", fn))
		}
	}

	for _, st := range spec.Settings {
		if !e.settingMatches(st) {
			fail("__SETTING_"+st.Name, fmt.Sprintf("Setting \"%s\" must be \"%s\".", st.Name, st.Value))
		}
	}

	versioned := make(map[string]bool, len(spec.ExtensionVersions))
	for _, ev := range spec.ExtensionVersions {
		versioned[ev.Name] = true
	}
	for _, ext := range spec.Extensions {
		if versioned[ext] {
			continue
		}
		if _, loaded := e.env.Extension(ext); !loaded {
			fail("extension_"+ext, fmt.Sprintf("Extension %s is required.", ext))
		}
	}

	for _, ev := range spec.ExtensionVersions {
		op := operatorOrDefault(ev.Operator)
		actual, loaded := e.env.Extension(ev.Name)
		if !loaded || !compareVersions(actual, op, ev.Version) {
			fail("extension_"+ev.Name, fmt.Sprintf("Extension %s %s %s is required.", ev.Name, op, ev.Version))
		}
	}

	if hint == "" {
		return nil
	}
	line, ok := spec.Lines[hint]
	if !ok {
		line = 1
	}
	return append([]string{
		OffsetLinePrefix + strconv.Itoa(line),
		OffsetFilePrefix + spec.File,
	}, missing...)
}

// checkVersion evaluates the version requirement of one target. The
// constraint form is honored instead of the plain form when both are set.
func (e *Evaluator) checkVersion(target Target, plain *VersionBound, constraint, actual string, fail func(key, msg string)) {
	switch {
	case constraint != "":
		ok, err := satisfiesConstraint(actual, constraint)
		if err != nil {
			fail(string(target)+"_constraint", fmt.Sprintf("Version constraint %s is not supported.", constraint))
			return
		}
		if !ok {
			fail(string(target)+"_constraint", fmt.Sprintf("%s version does not match the required constraint %s.", target, constraint))
		}
	case plain != nil:
		op := operatorOrDefault(plain.Operator)
		if !compareVersions(actual, op, plain.Version) {
			fail(string(target), fmt.Sprintf("%s %s %s is required.", target, op, plain.Version))
		}
	}
}

// hasFunction resolves `name` as a free function or `Class::method`.
func (e *Evaluator) hasFunction(name string) bool {
	if class, method, ok := strings.Cut(name, "::"); ok && !strings.Contains(method, "::") {
		if e.env.HasMethod(class, method) {
			return true
		}
		if e.symbols != nil {
			if sym, err := e.symbols.Resolve(class); err == nil {
				if _, ok := e.symbols.Method(sym, method); ok {
					return true
				}
			}
		}
	}
	if e.env.HasFunction(name) {
		return true
	}
	if e.symbols != nil {
		if _, ok := e.symbols.Function(name); ok {
			return true
		}
	}
	return false
}

func (e *Evaluator) settingMatches(st Setting) bool {
	actual, ok := e.env.Setting(st.Name)
	if !ok {
		return falsy(st.Value)
	}
	return looseEqual(actual, st.Value)
}
