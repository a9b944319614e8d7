// Package annotation parses the @tag annotations of PHP doc comments.
package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Map holds the values of each tag of one doc comment, in the order the tags
// occur. A missing key means the tag is absent. Maps returned by the metadata
// cache are shared and must not be modified.
type Map map[string][]string

// Has reports whether the tag is present.
func (m Map) Has(tag string) bool {
	_, ok := m[tag]
	return ok
}

// Values returns every value of the tag, or nil when it is absent.
func (m Map) Values(tag string) []string {
	return m[tag]
}

// First returns the first value of the tag.
func (m Map) First(tag string) (string, bool) {
	vs := m[tag]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Override returns a new map holding the tags of m, with every tag present
// in over replacing the one in m.
func (m Map) Override(over Map) Map {
	out := make(Map, len(m)+len(over))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

var tagPattern = regexp.MustCompile(`(?m)@(?P<name>[A-Za-z_-]+)(?:[ \t]+(?P<value>.*?))?[ \t]*\r?$`)

// Parse extracts the tags of a raw doc comment. Values keep their inner
// whitespace; trailing whitespace is trimmed. Unknown tags are kept.
func Parse(doc string) Map {
	m := Map{}
	body := StripMarkers(doc)
	nameIdx := tagPattern.SubexpIndex("name")
	valueIdx := tagPattern.SubexpIndex("value")
	for _, match := range tagPattern.FindAllStringSubmatch(body, -1) {
		m[match[nameIdx]] = append(m[match[nameIdx]], match[valueIdx])
	}
	return m
}

// StripMarkers drops the leading "/**" and trailing "*/" of a doc comment.
func StripMarkers(doc string) string {
	if len(doc) < 5 {
		return ""
	}
	return doc[3 : len(doc)-2]
}

var lineBreak = regexp.MustCompile(`\r\n|\r|\n`)

// Lines splits a doc comment into its lines with the comment markers
// removed, so that index i is the i-th line of the comment.
func Lines(doc string) []string {
	lines := lineBreak.Split(doc, -1)
	for i, l := range lines {
		l = strings.TrimPrefix(l, "/**")
		l = strings.TrimSuffix(l, "*/")
		lines[i] = l
	}
	return lines
}

var leadingStar = regexp.MustCompile(`\n\s*\*\s?`)

// Unwrap removes the per-line "*" decoration of a multi-line doc comment,
// leaving one string whose lines are the annotation text.
func Unwrap(doc string) string {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	doc = leadingStar.ReplaceAllString(doc, "\n")
	if doc != "" {
		doc = doc[:len(doc)-1]
	}
	return strings.TrimRight(doc, "\n")
}

// ErrMalformedDataSet reports a @testWith block that is not valid JSON.
var ErrMalformedDataSet = errors.New("The data set for the @testWith annotation cannot be parsed")

var testWithPattern = regexp.MustCompile(`@testWith\s+`)

// TestWith decodes the JSON rows following a @testWith tag. Each row is one
// data set. It returns nil when the comment has no @testWith tag.
func TestWith(doc string) ([][]any, error) {
	doc = Unwrap(doc)
	loc := testWithPattern.FindStringIndex(doc)
	if loc == nil {
		return nil, nil
	}

	var data [][]any
	for _, row := range strings.Split(doc[loc[1]:], "\n") {
		row = strings.TrimSpace(row)
		if !strings.HasPrefix(row, "[") {
			break
		}
		var set []any
		if err := json.Unmarshal([]byte(row), &set); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDataSet, err)
		}
		data = append(data, set)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w.", ErrMalformedDataSet)
	}
	return data, nil
}

// Constants looks up class constants.
type Constants interface {
	Constant(typeName, name string) (string, bool)
}

// ResolveConstant returns the value of a Type::NAME reference when the
// constant is defined. Any other value is returned unchanged.
func ResolveConstant(value string, consts Constants) string {
	if consts == nil || strings.Count(value, "::") != 1 {
		return value
	}
	typeName, name, _ := strings.Cut(value, "::")
	if typeName == "" || name == "" {
		return value
	}
	if v, ok := consts.Constant(typeName, name); ok {
		return v
	}
	return value
}
