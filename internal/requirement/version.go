package requirement

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-version"
)

// defaultOperator applies when a version requirement names no operator.
const defaultOperator = ">="

func operatorOrDefault(op string) string {
	if op == "" {
		return defaultOperator
	}
	return op
}

// compareVersions reports whether actual op required holds. Unknown operators
// and unparseable versions never hold.
func compareVersions(actual, op, required string) bool {
	a, err := version.NewVersion(actual)
	if err != nil {
		if a, err = version.NewVersion(sanitizeVersion(actual)); err != nil {
			return false
		}
	}
	r, err := version.NewVersion(required)
	if err != nil {
		return false
	}

	c := a.Compare(r)
	switch op {
	case "<", "lt":
		return c < 0
	case "<=", "le":
		return c <= 0
	case ">", "gt":
		return c > 0
	case ">=", "ge":
		return c >= 0
	case "==", "=", "eq":
		return c == 0
	case "!=", "<>", "ne":
		return c != 0
	}
	return false
}

var sanitizePattern = regexp.MustCompile(`^(\d+\.\d+(?:.\d+)?).*$`)

// sanitizeVersion reduces a version such as "8.2.12-1ubuntu" to its numeric
// core, "8.2.12".
func sanitizeVersion(v string) string {
	return sanitizePattern.ReplaceAllString(v, "$1")
}

// tildePattern matches a two-part tilde term such as "~7.1". Such a term allows
// every later minor release of the same major version.
var tildePattern = regexp.MustCompile(`~\s*(\d+)\.(\d+)(\s|\||,|$)`)

// normalizeConstraint rewrites a constraint expression into the syntax of
// semver constraints.
func normalizeConstraint(expr string) string {
	expr = tildePattern.ReplaceAllStringFunc(expr, func(term string) string {
		m := tildePattern.FindStringSubmatch(term)
		major, err := strconv.Atoi(m[1])
		if err != nil {
			return term
		}
		return fmt.Sprintf(">=%s.%s, <%d.0.0%s", m[1], m[2], major+1, m[3])
	})
	return strings.TrimSpace(expr)
}

// satisfiesConstraint reports whether actual satisfies the constraint
// expression. The error is set when the expression cannot be parsed.
func satisfiesConstraint(actual, expr string) (bool, error) {
	c, err := semver.NewConstraint(normalizeConstraint(expr))
	if err != nil {
		return false, err
	}
	v, err := semver.NewVersion(sanitizeVersion(actual))
	if err != nil {
		return false, nil
	}
	return c.Check(v), nil
}

// looseEqual compares an ini value with an expected value the way PHP's ==
// does for two strings: numerically when both are numeric.
func looseEqual(actual, expected string) bool {
	a, aErr := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	e, eErr := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if aErr == nil && eErr == nil {
		return a == e
	}
	return actual == expected
}

// falsy reports whether a string is false when PHP casts it to bool.
func falsy(s string) bool {
	return s == "" || s == "0"
}
