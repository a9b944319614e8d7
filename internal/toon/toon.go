// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Sharom/phpunit/internal/model"
	"github.com/Sharom/phpunit/internal/requirement"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a Plan into TOON format.
func Encode(plan *model.Plan) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(plan.Root)))
	parts = append(parts, fmt.Sprintf("coverage: %s", encodeValue(plan.CoverageMode)))

	var testRows [][]string
	for i := range plan.Tests {
		t := &plan.Tests[i]
		testRows = append(testRows, []string{
			t.Class,
			t.Method,
			t.File,
			strconv.Itoa(t.Line),
			string(t.Size),
			strings.Join(t.Groups, " "),
			strings.Join(t.Dependencies, " "),
		})
	}
	parts = append(parts, formatTabular("tests",
		[]string{"class", "method", "file", "line", "size", "groups", "depends"}, testRows))

	var skippedRows [][]string
	for i := range plan.Tests {
		t := &plan.Tests[i]
		file, line, reasons := splitMissing(t.Missing)
		for _, r := range reasons {
			skippedRows = append(skippedRows, []string{t.Name(), file, line, r})
		}
	}
	parts = append(parts, formatTabular("skipped", []string{"test", "file", "line", "reason"}, skippedRows))

	classes := make([]string, 0, len(plan.Hooks))
	for class := range plan.Hooks {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	var hookRows [][]string
	for _, class := range classes {
		hs := plan.Hooks[class]
		hookRows = append(hookRows, []string{
			class,
			strings.Join(hs.BeforeClass, " "),
			strings.Join(hs.Before, " "),
			strings.Join(hs.After, " "),
			strings.Join(hs.AfterClass, " "),
		})
	}
	parts = append(parts, formatTabular("hooks",
		[]string{"class", "before_class", "before", "after", "after_class"}, hookRows))

	var coverageRows [][]string
	for i := range plan.Tests {
		t := &plan.Tests[i]
		files := make([]string, 0, len(t.Coverage))
		for f := range t.Coverage {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			coverageRows = append(coverageRows, []string{t.Name(), f, formatSpans(t.Coverage[f])})
		}
	}
	parts = append(parts, formatTabular("coverage", []string{"test", "file", "lines"}, coverageRows))

	var errorRows [][]string
	for i := range plan.Tests {
		t := &plan.Tests[i]
		if t.Err != nil {
			errorRows = append(errorRows, []string{t.Name(), t.Err.Error()})
		}
	}
	if len(errorRows) > 0 {
		parts = append(parts, formatTabular("errors", []string{"test", "error"}, errorRows))
	}

	return strings.Join(parts, "\n")
}

// splitMissing separates the location control lines of a diagnostics list
// from the reasons.
func splitMissing(missing []string) (file, line string, reasons []string) {
	for _, m := range missing {
		switch {
		case strings.HasPrefix(m, requirement.OffsetFilePrefix):
			file = strings.TrimPrefix(m, requirement.OffsetFilePrefix)
		case strings.HasPrefix(m, requirement.OffsetLinePrefix):
			line = strings.TrimPrefix(m, requirement.OffsetLinePrefix)
		default:
			reasons = append(reasons, m)
		}
	}
	return file, line, reasons
}

// formatSpans renders a line set as space separated ranges, e.g. "3-7 10".
func formatSpans(ls model.LineSet) string {
	spans := ls.Spans()
	out := make([]string, len(spans))
	for i, s := range spans {
		if s.Start == s.End {
			out[i] = strconv.Itoa(s.Start)
		} else {
			out[i] = fmt.Sprintf("%d-%d", s.Start, s.End)
		}
	}
	return strings.Join(out, " ")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
