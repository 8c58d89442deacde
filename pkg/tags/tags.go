// Package tags decides which wheels can run on a target interpreter and
// platform, and ranks the ones that can.
package tags

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/wheelwright/wheelwright/pkg/requirement"
)

// DefaultPythonVersion is used when no interpreter version is configured.
const DefaultPythonVersion = "3.12"

var (
	glibcMinors = []int{39, 38, 37, 36, 35, 34, 33, 32, 31, 30, 29, 28, 27, 26, 25, 24, 23, 22, 21, 20, 19, 18, 17, 12, 5}
	muslMinors  = []int{2, 1}
	macOSArm    = []int{15, 14, 13, 12, 11}
	macOSIntel  = []int{15, 14, 13, 12, 11}
)

// TargetSpec describes the interpreter and platform artifacts are prepared
// for.
type TargetSpec struct {
	Implementation string `json:"implementation,omitempty"`
	PythonVersion  string `json:"python_version,omitempty"`
	// Platform is one of linux, windows, macos, or empty for any platform.
	Platform string `json:"platform,omitempty"`
	Arch     string `json:"arch,omitempty"`
	// Libc selects musllinux tags on linux when set to "musl".
	Libc string `json:"libc,omitempty"`
}

// HostTargetSpec returns a spec for the running OS and architecture.
func HostTargetSpec(pythonVersion string) TargetSpec {
	if pythonVersion == "" {
		pythonVersion = DefaultPythonVersion
	}
	spec := TargetSpec{Implementation: "cpython", PythonVersion: pythonVersion}
	switch runtime.GOOS {
	case "linux":
		spec.Platform = "linux"
	case "windows":
		spec.Platform = "windows"
	case "darwin":
		spec.Platform = "macos"
	}
	switch runtime.GOARCH {
	case "amd64":
		spec.Arch = "x86_64"
	case "arm64":
		spec.Arch = "aarch64"
		if spec.Platform == "macos" || spec.Platform == "windows" {
			spec.Arch = "arm64"
		}
	case "386":
		spec.Arch = "x86"
	default:
		spec.Arch = runtime.GOARCH
	}
	return spec
}

// String renders the target as a path-safe identifier used in cache keys.
func (s TargetSpec) String() string {
	parts := []string{s.interpreter() + s.versionNodot()}
	if s.Platform == "" {
		parts = append(parts, "any")
	} else {
		parts = append(parts, s.Platform)
		if s.Libc != "" {
			parts = append(parts, s.Libc)
		}
		parts = append(parts, s.arch())
	}
	return strings.Join(parts, "-")
}

// Replace returns a copy of s with the non-empty fields of o applied.
func (s TargetSpec) Replace(o TargetSpec) TargetSpec {
	if o.Implementation != "" {
		s.Implementation = o.Implementation
	}
	if o.PythonVersion != "" {
		s.PythonVersion = o.PythonVersion
	}
	if o.Platform != "" {
		s.Platform = o.Platform
	}
	if o.Arch != "" {
		s.Arch = o.Arch
	}
	if o.Libc != "" {
		s.Libc = o.Libc
	}
	return s
}

func (s TargetSpec) interpreter() string {
	switch strings.ToLower(s.Implementation) {
	case "", "cpython", "cp":
		return "cp"
	case "pypy", "pp":
		return "pp"
	default:
		return "py"
	}
}

func (s TargetSpec) majorMinor() (int, int) {
	v := s.PythonVersion
	if v == "" {
		v = DefaultPythonVersion
	}
	parts := strings.Split(v, ".")
	major, _ := strconv.Atoi(parts[0])
	minor := 0
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

func (s TargetSpec) versionNodot() string {
	major, minor := s.majorMinor()
	return fmt.Sprintf("%d%d", major, minor)
}

func (s TargetSpec) arch() string {
	if s.Arch == "" {
		return "x86_64"
	}
	return s.Arch
}

// platforms returns platform tags, most specific first.
func (s TargetSpec) platforms() []string {
	arch := s.arch()
	switch s.Platform {
	case "linux":
		var out []string
		if s.Libc == "musl" {
			for _, minor := range muslMinors {
				out = append(out, fmt.Sprintf("musllinux_1_%d_%s", minor, arch))
			}
		} else {
			for _, minor := range glibcMinors {
				out = append(out, fmt.Sprintf("manylinux_2_%d_%s", minor, arch))
				switch minor {
				case 17:
					out = append(out, "manylinux2014_"+arch)
				case 12:
					out = append(out, "manylinux2010_"+arch)
				case 5:
					out = append(out, "manylinux1_"+arch)
				}
			}
		}
		return append(out, "linux_"+arch)
	case "windows":
		switch arch {
		case "x86", "i686", "win32":
			return []string{"win32"}
		case "arm64", "aarch64":
			return []string{"win_arm64"}
		default:
			return []string{"win_amd64"}
		}
	case "macos":
		var out []string
		if arch == "arm64" || arch == "aarch64" {
			for _, v := range macOSArm {
				out = append(out, fmt.Sprintf("macosx_%d_0_arm64", v), fmt.Sprintf("macosx_%d_0_universal2", v))
			}
			return out
		}
		for _, v := range macOSIntel {
			out = append(out, fmt.Sprintf("macosx_%d_0_x86_64", v), fmt.Sprintf("macosx_%d_0_universal2", v))
		}
		for minor := 16; minor >= 9; minor-- {
			out = append(out,
				fmt.Sprintf("macosx_10_%d_x86_64", minor),
				fmt.Sprintf("macosx_10_%d_intel", minor),
				fmt.Sprintf("macosx_10_%d_universal2", minor))
		}
		return out
	}
	return nil
}

// Tags returns every tag the target accepts, most preferred first.
func (s TargetSpec) Tags() []Tag {
	major, minor := s.majorMinor()
	interp := s.interpreter()
	nodot := s.versionNodot()
	plats := s.platforms()
	var out []Tag

	if interp != "py" {
		impl := interp + nodot
		abi := "none"
		if interp == "cp" {
			abi = impl
			if major == 3 && minor < 8 {
				abi += "m"
			}
		}
		for _, p := range plats {
			out = append(out, Tag{impl, abi, p})
		}
		if interp == "cp" {
			for _, p := range plats {
				out = append(out, Tag{impl, "abi3", p})
			}
			for _, p := range plats {
				out = append(out, Tag{impl, "none", p})
			}
			for m := minor - 1; m >= 2; m-- {
				for _, p := range plats {
					out = append(out, Tag{fmt.Sprintf("cp%d%d", major, m), "abi3", p})
				}
			}
		}
	}

	pyVersions := []string{fmt.Sprintf("py%d%d", major, minor), fmt.Sprintf("py%d", major)}
	for m := minor - 1; m >= 0; m-- {
		pyVersions = append(pyVersions, fmt.Sprintf("py%d%d", major, m))
	}
	for _, py := range pyVersions {
		for _, p := range plats {
			out = append(out, Tag{py, "none", p})
		}
	}
	if interp != "py" {
		out = append(out, Tag{interp + nodot, "none", "any"})
	}
	for _, py := range pyVersions {
		out = append(out, Tag{py, "none", "any"})
	}
	return out
}

// MarkerEnv returns the marker environment of the target.
func (s TargetSpec) MarkerEnv() map[string]string {
	major, minor := s.majorMinor()
	full := s.PythonVersion
	if strings.Count(full, ".") < 2 {
		full = fmt.Sprintf("%d.%d.0", major, minor)
	}
	env := map[string]string{
		"python_version":      fmt.Sprintf("%d.%d", major, minor),
		"python_full_version": full,
		"platform_machine":    s.arch(),
	}
	switch s.interpreter() {
	case "pp":
		env["implementation_name"] = "pypy"
		env["platform_python_implementation"] = "PyPy"
	default:
		env["implementation_name"] = "cpython"
		env["platform_python_implementation"] = "CPython"
	}
	switch s.Platform {
	case "linux":
		env["os_name"], env["sys_platform"], env["platform_system"] = "posix", "linux", "Linux"
	case "windows":
		env["os_name"], env["sys_platform"], env["platform_system"] = "nt", "win32", "Windows"
	case "macos":
		env["os_name"], env["sys_platform"], env["platform_system"] = "posix", "darwin", "Darwin"
	}
	return env
}

// RequiresPython reports whether the target interpreter satisfies a
// Requires-Python expression. Empty, legacy and unparseable expressions
// are accepted.
func RequiresPython(spec TargetSpec, expr string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	specifier, err := requirement.ParseSpecifier(expr)
	if err != nil || specifier.Valid() != nil {
		return true
	}
	major, minor := spec.majorMinor()
	version := spec.PythonVersion
	if version == "" {
		version = fmt.Sprintf("%d.%d", major, minor)
	}
	return specifier.Contains(version)
}
