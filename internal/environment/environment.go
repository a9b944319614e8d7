// Package environment describes the PHP runtime that requirements are
// checked against.
package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultToolVersion is the PHPUnit version whose annotation semantics the
// engine implements.
const DefaultToolVersion = "8.5.0"

// OS families, as reported by PHP_OS_FAMILY.
const (
	FamilyWindows = "Windows"
	FamilyBSD     = "BSD"
	FamilyDarwin  = "Darwin"
	FamilySolaris = "Solaris"
	FamilyLinux   = "Linux"
	FamilyUnknown = "Unknown"
)

// Environment is a snapshot of the runtime the tests would run in.
type Environment struct {
	// RuntimeVersion is the PHP version, e.g. "8.2.12".
	RuntimeVersion string `yaml:"runtime_version,omitempty" json:"version"`

	// ToolVersion is the PHPUnit version.
	ToolVersion string `yaml:"tool_version,omitempty" json:"-"`

	// OS is the PHP_OS identifier, e.g. "Linux" or "WINNT".
	OS string `yaml:"os,omitempty" json:"os"`

	// OSFamily overrides the family derived from OS.
	OSFamily string `yaml:"os_family,omitempty" json:"family"`

	// Functions lists the defined free functions.
	Functions []string `yaml:"functions,omitempty" json:"functions"`

	// Methods lists Class::method pairs available beyond the scanned sources.
	Methods []string `yaml:"methods,omitempty" json:"methods"`

	// Settings maps ini setting names to their current values.
	Settings map[string]string `yaml:"settings,omitempty" json:"settings"`

	// Extensions maps loaded extension names to their versions. An empty
	// version means the extension is loaded but reports none.
	Extensions map[string]string `yaml:"extensions,omitempty" json:"extensions"`
}

// Default returns the environment assumed when nothing is configured: the
// host operating system and the PHPUnit version the engine implements.
func Default() Environment {
	return Environment{
		ToolVersion: DefaultToolVersion,
		OS:          phpOS(runtime.GOOS),
	}
}

// phpOS maps a GOOS value to the PHP_OS identifier of the same platform.
func phpOS(goos string) string {
	switch goos {
	case "linux", "android":
		return "Linux"
	case "darwin", "ios":
		return "Darwin"
	case "windows":
		return "WINNT"
	case "freebsd":
		return "FreeBSD"
	case "openbsd":
		return "OpenBSD"
	case "netbsd":
		return "NetBSD"
	case "dragonfly":
		return "DragonFly"
	case "solaris", "illumos":
		return "SunOS"
	}
	return goos
}

// Family returns the OS family of the environment.
func (e Environment) Family() string {
	if e.OSFamily != "" {
		return e.OSFamily
	}
	return Family(e.OS)
}

// Family maps a PHP_OS identifier to its PHP_OS_FAMILY.
func Family(os string) string {
	upper := strings.ToUpper(os)
	switch {
	case strings.HasPrefix(upper, "WIN"):
		return FamilyWindows
	case strings.Contains(upper, "BSD"), upper == "DRAGONFLY":
		return FamilyBSD
	case upper == "DARWIN":
		return FamilyDarwin
	case upper == "SUNOS", upper == "SOLARIS":
		return FamilySolaris
	case upper == "LINUX":
		return FamilyLinux
	}
	return FamilyUnknown
}

// HasFunction reports whether the free function is defined. Function names
// are case-insensitive.
func (e Environment) HasFunction(name string) bool {
	return containsFold(e.Functions, strings.TrimPrefix(name, `\`))
}

// HasMethod reports whether Class::method is listed as available.
func (e Environment) HasMethod(class, method string) bool {
	return containsFold(e.Methods, strings.TrimPrefix(class, `\`)+"::"+method)
}

// Setting returns the current value of an ini setting.
func (e Environment) Setting(name string) (string, bool) {
	v, ok := e.Settings[name]
	return v, ok
}

// Extension reports whether the extension is loaded and its version.
// Extension names are case-insensitive.
func (e Environment) Extension(name string) (version string, loaded bool) {
	if v, ok := e.Extensions[name]; ok {
		return v, true
	}
	for ext, v := range e.Extensions {
		if strings.EqualFold(ext, name) {
			return v, true
		}
	}
	return "", false
}

// Merge returns e with every field set in over replacing the one in e.
// Lists and maps are replaced as a whole. Setting OS without OSFamily drops
// the family of e so that it is derived from the new OS.
func (e Environment) Merge(over Environment) Environment {
	if over.RuntimeVersion != "" {
		e.RuntimeVersion = over.RuntimeVersion
	}
	if over.ToolVersion != "" {
		e.ToolVersion = over.ToolVersion
	}
	if over.OS != "" {
		e.OS = over.OS
		e.OSFamily = ""
	}
	if over.OSFamily != "" {
		e.OSFamily = over.OSFamily
	}
	if over.Functions != nil {
		e.Functions = over.Functions
	}
	if over.Methods != nil {
		e.Methods = over.Methods
	}
	if over.Settings != nil {
		e.Settings = over.Settings
	}
	if over.Extensions != nil {
		e.Extensions = over.Extensions
	}
	return e
}

// Layer merges layers over Default in order, so later layers win. Only the
// fields a layer sets take effect.
func Layer(layers ...Environment) Environment {
	e := Default()
	for _, l := range layers {
		e = e.Merge(l)
	}
	return e
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// probeScript prints the runtime description read by ParseProbe.
const probeScript = `$e = [];
foreach (get_loaded_extensions() as $x) { $e[$x] = (string) phpversion($x); }
$s = [];
foreach (ini_get_all(null, false) as $k => $v) { $s[$k] = $v; }
echo json_encode([
  'version' => PHP_VERSION,
  'os' => PHP_OS,
  'family' => PHP_OS_FAMILY,
  'functions' => get_defined_functions()['internal'],
  'settings' => $s,
  'extensions' => $e,
]);`

// ProbeTimeout bounds the run of the php binary.
const ProbeTimeout = 10 * time.Second

// Probe runs the given php binary and describes its runtime. The result
// carries no tool version; merge it over Default.
func Probe(ctx context.Context, php string) (Environment, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, php, "-r", probeScript)
	out, err := cmd.Output()
	if err != nil {
		return Environment{}, fmt.Errorf("probing %s: %w", php, err)
	}
	env, err := ParseProbe(out)
	if err != nil {
		return Environment{}, fmt.Errorf("probing %s: %w", php, err)
	}
	return env, nil
}

// ParseProbe decodes the JSON document printed by the probe script.
// Setting values may be null, strings or numbers.
func ParseProbe(data []byte) (Environment, error) {
	var raw struct {
		Version    string            `json:"version"`
		OS         string            `json:"os"`
		Family     string            `json:"family"`
		Functions  []string          `json:"functions"`
		Settings   map[string]any    `json:"settings"`
		Extensions map[string]string `json:"extensions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Environment{}, fmt.Errorf("decoding probe output: %w", err)
	}
	if raw.Version == "" {
		return Environment{}, fmt.Errorf("decoding probe output: missing version")
	}

	env := Environment{
		RuntimeVersion: raw.Version,
		OS:             raw.OS,
		OSFamily:       raw.Family,
		Functions:      raw.Functions,
		Extensions:     raw.Extensions,
	}
	if len(raw.Settings) > 0 {
		env.Settings = make(map[string]string, len(raw.Settings))
		for k, v := range raw.Settings {
			env.Settings[k] = settingString(v)
		}
	}
	sort.Strings(env.Functions)
	return env, nil
}

// settingString converts a decoded ini value the way PHP casts it to string.
func settingString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "1"
		}
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
