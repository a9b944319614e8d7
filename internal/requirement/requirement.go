// Package requirement extracts @requires annotations, merges class and method
// requirements and checks them against an environment.
package requirement

import (
	"regexp"
	"strings"

	"github.com/Sharom/phpunit/internal/annotation"
)

// Target names the software a version requirement applies to.
type Target string

const (
	PHP     Target = "PHP"
	PHPUnit Target = "PHPUnit"
)

// Requirement is one parsed @requires line. The concrete types are
// VersionRequirement, ConstraintRequirement, OSFamilyRequirement,
// OSRequirement, FunctionRequirement, SettingRequirement and
// ExtensionRequirement.
type Requirement interface {
	// Line is the source line the requirement was declared on.
	Line() int
	// hint is the key used to report where an unmet requirement came from.
	hint() string
}

type declared struct{ line int }

func (d declared) Line() int { return d.line }

// VersionRequirement is `@requires PHP >= 7.1`. An empty Operator means >=.
type VersionRequirement struct {
	declared
	Target   Target
	Operator string
	Version  string
}

func (r VersionRequirement) hint() string { return string(r.Target) }

// ConstraintRequirement is `@requires PHP ^7.1 || ^8.0`.
type ConstraintRequirement struct {
	declared
	Target     Target
	Constraint string
}

func (r ConstraintRequirement) hint() string { return string(r.Target) + "_constraint" }

// OSFamilyRequirement is `@requires OSFAMILY Linux`.
type OSFamilyRequirement struct {
	declared
	Family string
}

func (r OSFamilyRequirement) hint() string { return "OSFAMILY" }

// OSRequirement is `@requires OS Linux|Darwin`; Pattern is a regular
// expression matched case-insensitively against the OS identifier.
type OSRequirement struct {
	declared
	Pattern string
}

func (r OSRequirement) hint() string { return "OS" }

// FunctionRequirement is `@requires function mb_strlen` or
// `@requires function Class::method`.
type FunctionRequirement struct {
	declared
	Name string
}

func (r FunctionRequirement) hint() string { return "function_" + r.Name }

// SettingRequirement is `@requires setting display_errors On`.
type SettingRequirement struct {
	declared
	Name  string
	Value string
}

func (r SettingRequirement) hint() string { return "__SETTING_" + r.Name }

// ExtensionRequirement is `@requires extension mbstring >= 7.4`. Version is
// empty when only presence is required.
type ExtensionRequirement struct {
	declared
	Name     string
	Operator string
	Version  string
}

func (r ExtensionRequirement) hint() string { return "extension_" + r.Name }

var (
	versionPattern    = regexp.MustCompile(`@requires\s+(?P<name>PHP(?:Unit)?)\s+(?P<operator>[<>=!]{0,2})\s*(?P<version>[\d\.-]+(dev|(RC|alpha|beta)[\d\.])?)[ \t]*\r?$`)
	constraintPattern = regexp.MustCompile(`@requires\s+(?P<name>PHP(?:Unit)?)\s+(?P<constraint>[\d\t \-.|~^]+)[ \t]*\r?$`)
	osPattern         = regexp.MustCompile(`@requires\s+(?P<name>OS(?:FAMILY)?)\s+(?P<value>.+?)[ \t]*\r?$`)
	settingPattern    = regexp.MustCompile(`@requires\s+(?P<name>setting)\s+(?P<setting>([^ ]+?))\s*(?P<value>[\w\.-]+[\w\.]?)?[ \t]*\r?$`)
	requiresPattern   = regexp.MustCompile(`@requires\s+(?P<name>function|extension)\s+(?P<value>([^\s<>=!]+))\s*(?P<operator>[<>=!]{0,2})\s*(?P<version>[\d\.-]+[\d\.]?)?[ \t]*\r?$`)
)

func submatch(re *regexp.Regexp, line string) map[string]string {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if name != "" {
			out[name] = m[i]
		}
	}
	return out
}

// Parse extracts the @requires lines of a doc comment that starts on line
// docLine. A constraint form for PHP or PHPUnit is ignored once the plain
// version form was seen earlier in the same comment.
func Parse(doc string, docLine int) []Requirement {
	if doc == "" {
		return nil
	}

	var reqs []Requirement
	plain := make(map[Target]bool)
	for i, line := range annotation.Lines(doc) {
		at := declared{line: docLine + i}

		if m := submatch(osPattern, line); m != nil {
			if m["name"] == "OSFAMILY" {
				reqs = append(reqs, OSFamilyRequirement{declared: at, Family: m["value"]})
			} else {
				reqs = append(reqs, OSRequirement{declared: at, Pattern: m["value"]})
			}
		}
		if m := submatch(versionPattern, line); m != nil {
			target := Target(m["name"])
			plain[target] = true
			reqs = append(reqs, VersionRequirement{declared: at, Target: target, Operator: m["operator"], Version: m["version"]})
		}
		if m := submatch(constraintPattern, line); m != nil {
			target := Target(m["name"])
			if !plain[target] {
				reqs = append(reqs, ConstraintRequirement{declared: at, Target: target, Constraint: strings.TrimSpace(m["constraint"])})
			}
		}
		if m := submatch(settingPattern, line); m != nil {
			reqs = append(reqs, SettingRequirement{declared: at, Name: m["setting"], Value: m["value"]})
		}
		if m := submatch(requiresPattern, line); m != nil {
			if m["name"] == "function" {
				reqs = append(reqs, FunctionRequirement{declared: at, Name: m["value"]})
			} else {
				reqs = append(reqs, ExtensionRequirement{declared: at, Name: m["value"], Operator: m["operator"], Version: m["version"]})
			}
		}
	}
	return reqs
}

// VersionBound is a plain version requirement.
type VersionBound struct {
	Operator string
	Version  string
}

// Setting is a required ini value.
type Setting struct {
	Name  string
	Value string
}

// ExtensionVersion is a required extension version.
type ExtensionVersion struct {
	Name     string
	Operator string
	Version  string
}

// Spec is the merged set of requirements of a test.
type Spec struct {
	PHP               *VersionBound
	PHPConstraint     string
	PHPUnit           *VersionBound
	PHPUnitConstraint string
	OSFamily          string
	OS                string
	Functions         []string
	Settings          []Setting
	Extensions        []string
	ExtensionVersions []ExtensionVersion

	// File is the file the requirements were declared in.
	File string
	// Lines maps a requirement key to the line it was declared on.
	Lines map[string]int
}

// Empty reports whether the spec declares no requirement.
func (s Spec) Empty() bool {
	return s.PHP == nil && s.PHPConstraint == "" &&
		s.PHPUnit == nil && s.PHPUnitConstraint == "" &&
		s.OSFamily == "" && s.OS == "" &&
		len(s.Functions) == 0 && len(s.Settings) == 0 &&
		len(s.Extensions) == 0 && len(s.ExtensionVersions) == 0
}

// Collect folds the requirements of one doc comment into a Spec. Later
// declarations of a single-valued requirement replace earlier ones.
func Collect(file string, reqs []Requirement) Spec {
	s := Spec{File: file, Lines: make(map[string]int)}
	for _, r := range reqs {
		s.Lines[r.hint()] = r.Line()
		switch r := r.(type) {
		case VersionRequirement:
			b := &VersionBound{Operator: r.Operator, Version: r.Version}
			if r.Target == PHPUnit {
				s.PHPUnit = b
			} else {
				s.PHP = b
			}
		case ConstraintRequirement:
			if r.Target == PHPUnit {
				s.PHPUnitConstraint = r.Constraint
			} else {
				s.PHPConstraint = r.Constraint
			}
		case OSFamilyRequirement:
			s.OSFamily = r.Family
		case OSRequirement:
			s.OS = r.Pattern
		case FunctionRequirement:
			s.Functions = append(s.Functions, r.Name)
		case SettingRequirement:
			s.Settings = setSetting(s.Settings, Setting{Name: r.Name, Value: r.Value})
		case ExtensionRequirement:
			s.Extensions = append(s.Extensions, r.Name)
			if r.Version != "" {
				s.ExtensionVersions = setExtensionVersion(s.ExtensionVersions,
					ExtensionVersion{Name: r.Name, Operator: r.Operator, Version: r.Version})
			}
		}
	}
	return s
}

// Merge combines class-level and method-level requirements. Method values
// replace class values of the same key; functions and extensions are
// concatenated, class entries first. Replaced settings and extension
// versions keep the position of the class entry.
func Merge(class, method Spec) Spec {
	out := class
	out.Functions = append(append([]string(nil), class.Functions...), method.Functions...)
	out.Extensions = append(append([]string(nil), class.Extensions...), method.Extensions...)

	out.Settings = append([]Setting(nil), class.Settings...)
	for _, st := range method.Settings {
		out.Settings = setSetting(out.Settings, st)
	}
	out.ExtensionVersions = append([]ExtensionVersion(nil), class.ExtensionVersions...)
	for _, ev := range method.ExtensionVersions {
		out.ExtensionVersions = setExtensionVersion(out.ExtensionVersions, ev)
	}

	if method.PHP != nil {
		out.PHP = method.PHP
	}
	if method.PHPConstraint != "" {
		out.PHPConstraint = method.PHPConstraint
	}
	if method.PHPUnit != nil {
		out.PHPUnit = method.PHPUnit
	}
	if method.PHPUnitConstraint != "" {
		out.PHPUnitConstraint = method.PHPUnitConstraint
	}
	if method.OSFamily != "" {
		out.OSFamily = method.OSFamily
	}
	if method.OS != "" {
		out.OS = method.OS
	}
	if method.File != "" {
		out.File = method.File
	}

	out.Lines = make(map[string]int, len(class.Lines)+len(method.Lines))
	for k, v := range class.Lines {
		out.Lines[k] = v
	}
	for k, v := range method.Lines {
		out.Lines[k] = v
	}
	return out
}

func setSetting(list []Setting, st Setting) []Setting {
	for i := range list {
		if list[i].Name == st.Name {
			list[i] = st
			return list
		}
	}
	return append(list, st)
}

func setExtensionVersion(list []ExtensionVersion, ev ExtensionVersion) []ExtensionVersion {
	for i := range list {
		if list[i].Name == ev.Name {
			list[i] = ev
			return list
		}
	}
	return append(list, ev)
}
