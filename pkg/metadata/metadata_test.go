package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/wheelwright/wheelwright/internal/fixtures"
	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/requirement"
)

// fakePreparer writes a METADATA document into a fresh .dist-info
// directory, or fails with err.
type fakePreparer struct {
	dir      string
	metadata string
	err      error
	calls    int
}

func (f *fakePreparer) PrepareMetadata(_ context.Context, sourceDir string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	out := filepath.Join(f.dir, "demo.dist-info")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", err
	}
	return out, os.WriteFile(filepath.Join(out, "METADATA"), []byte(f.metadata), 0o644)
}

// baseDeps strips extra clauses from lines whose only extra is absent,
// returning the dependencies that apply without extras.
func baseDeps(t *testing.T, lines []string) []string {
	t.Helper()
	var out []string
	for _, line := range lines {
		r, err := requirement.Parse(line, false)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", line, err)
		}
		if _, extras := r.Marker.SplitExtras(); len(extras) == 0 {
			out = append(out, line)
		}
	}
	sort.Strings(out)
	return out
}

func TestParse(t *testing.T) {
	doc := `Metadata-Version: 2.1
Name: demo
Version: 0.0.1
Summary: A demo
  project
Classifier: Programming Language :: Python
Classifier: License :: OSI Approved
Requires-Dist: requests (>=2.6) ; extra == 'security'
Provides-Extra: Security

Long description.
`
	m, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if m.Name != "demo" || m.Version != "0.0.1" {
		t.Errorf("got %s %s, want demo 0.0.1", m.Name, m.Version)
	}
	if got := m.Get("summary"); got != "A demo project" {
		t.Errorf(`Get("summary") = %q`, got)
	}
	if got := m.GetAll("Classifier"); len(got) != 2 {
		t.Errorf(`GetAll("Classifier") = %v, want 2 values`, got)
	}
	if got := m.Get("Description"); got != "Long description." {
		t.Errorf(`Get("Description") = %q`, got)
	}
	if want := []string{`requests>=2.6; extra == "security"`}; !reflect.DeepEqual(m.Requires, want) {
		t.Errorf("Requires = %v, want %v", m.Requires, want)
	}
	if want := []string{"security"}; !reflect.DeepEqual(m.ProvidesExtra, want) {
		t.Errorf("ProvidesExtra = %v, want %v", m.ProvidesExtra, want)
	}
}

func TestParseRequiresNameAndVersion(t *testing.T) {
	_, err := Parse(strings.NewReader("Metadata-Version: 2.1\nName: demo\n\n"))
	if !werrors.Is(err, werrors.MetadataNotFound) {
		t.Errorf("Parse() error = %v, want MetadataNotFound", err)
	}
}

func TestMarshal(t *testing.T) {
	m, err := Parse(strings.NewReader(fixtures.DemoMetadata))
	if err != nil {
		t.Fatal(err)
	}
	again, err := Parse(strings.NewReader(string(m.Marshal())))
	if err != nil {
		t.Fatalf("Parse(Marshal()) error: %v", err)
	}
	if !reflect.DeepEqual(again.Requires, m.Requires) {
		t.Errorf("Requires = %v, want %v", again.Requires, m.Requires)
	}
	if again.Summary != m.Summary || again.RequiresPython != m.RequiresPython {
		t.Errorf("got %q %q, want %q %q", again.Summary, again.RequiresPython, m.Summary, m.RequiresPython)
	}
}

func TestFromWheel(t *testing.T) {
	dir := t.TempDir()
	whl := fixtures.DemoWheel(t, dir)

	m, err := FromWheel(whl)
	if err != nil {
		t.Fatalf("FromWheel() error: %v", err)
	}
	if m.Name != "demo" || m.Version != "0.0.1" {
		t.Errorf("got %s %s, want demo 0.0.1", m.Name, m.Version)
	}
	if got := baseDeps(t, m.Requires); !reflect.DeepEqual(got, fixtures.DemoDeps) {
		t.Errorf("deps = %v, want %v", got, fixtures.DemoDeps)
	}

	notAZip := filepath.Join(dir, "broken-1.0-py3-none-any.whl")
	os.WriteFile(notAZip, []byte("nope"), 0o644)
	if _, err := FromWheel(notAZip); !werrors.Is(err, werrors.MetadataNotFound) {
		t.Errorf("FromWheel(broken) error = %v, want MetadataNotFound", err)
	}
}

func TestPoetryConstraint(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    string
		wantErr bool
	}{
		"caret major":        {in: "^2.6", want: "<3.0,>=2.6"},
		"caret patch":        {in: "^1.2.3", want: "<2.0.0,>=1.2.3"},
		"caret zero major":   {in: "^0.2.3", want: "<0.3.0,>=0.2.3"},
		"caret zero minor":   {in: "^0.0.3", want: "<0.0.4,>=0.0.3"},
		"tilde":              {in: "~1.2.3", want: "<1.3.0,>=1.2.3"},
		"tilde major":        {in: "~1", want: "<2,>=1"},
		"compatible release": {in: "~=1.4", want: "~=1.4"},
		"any":                {in: "*", want: ""},
		"empty":              {in: "", want: ""},
		"bare version":       {in: "1.2.3", want: "==1.2.3"},
		"wildcard":           {in: "1.2.*", want: "==1.2.*"},
		"comma range":        {in: ">= 1.0, < 2.0", want: "<2.0,>=1.0"},
		"space range":        {in: ">=1.0 <2.0", want: "<2.0,>=1.0"},
		"alternatives":       {in: "^1.0 || ^2.0", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := PoetryConstraint(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("PoetryConstraint(%q) = %q, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("PoetryConstraint(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("PoetryConstraint(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	tests := map[string]struct {
		source       func(t *testing.T, dir string) Source
		wantStrategy Strategy
		wantName     string
		wantVersion  string
		wantRequires []string
		wantPython   string
	}{
		"wheel": {
			source: func(t *testing.T, dir string) Source {
				return Source{Wheel: fixtures.DemoWheel(t, dir)}
			},
			wantStrategy: Wheel,
			wantName:     "demo",
			wantVersion:  "0.0.1",
			wantRequires: []string{
				"idna",
				`chardet; os_name == "nt"`,
				`requests; python_version >= "3.6" and extra == "security"`,
				`pytest; extra == "tests"`,
			},
			wantPython: ">=3.3",
		},
		"pep621": {
			source: func(t *testing.T, dir string) Source {
				return Source{Dir: fixtures.DemoProject(t, dir)}
			},
			wantStrategy: PEP621,
			wantName:     "demo",
			wantVersion:  "0.0.1",
			wantRequires: []string{
				"idna",
				`chardet; os_name == "nt"`,
				`requests; python_version >= "3.6" and extra == "security"`,
				`pytest; extra == "tests"`,
			},
			wantPython: ">=3.3",
		},
		"static manifest beats broken setup.py": {
			source: func(t *testing.T, dir string) Source {
				return Source{Dir: fixtures.FailingProject(t, dir)}
			},
			wantStrategy: PEP621,
			wantName:     "demo",
			wantVersion:  "0.0.1",
			wantRequires: []string{
				"idna",
				`chardet; os_name == "nt"`,
				`requests; python_version >= "3.6" and extra == "security"`,
				`pytest; extra == "tests"`,
			},
			wantPython: ">=3.3",
		},
		"poetry": {
			source: func(t *testing.T, dir string) Source {
				return Source{Dir: fixtures.PoetryProject(t, dir)}
			},
			wantStrategy: Poetry,
			wantName:     "poetry-demo",
			wantVersion:  "0.1.0",
			wantRequires: []string{
				`chardet; os_name == "nt"`,
				`idna<2.9,>=2.8; python_version < "3.8"`,
				"requests<3.0,>=2.6",
				`pytest<7.0,>=6.0; extra == "tests"`,
			},
			wantPython: "<4.0,>=3.6",
		},
		"flit": {
			source: func(t *testing.T, dir string) Source {
				return Source{Dir: fixtures.FlitProject(t, dir)}
			},
			wantStrategy: Flit,
			wantName:     "pyflit",
			wantVersion:  "0.1.0",
			wantRequires: []string{
				"requests>=2.6",
				`configparser; python_version == "2.7"`,
				`pytest>=2.7.3; extra == "test"`,
			},
			wantPython: ">=3.5",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			builder := &fakePreparer{dir: t.TempDir()}
			e := &Extractor{Builder: builder}

			m, strategy, err := e.Extract(context.Background(), tc.source(t, t.TempDir()))
			if err != nil {
				t.Fatalf("Extract() error: %v", err)
			}
			if strategy != tc.wantStrategy {
				t.Errorf("strategy = %s, want %s", strategy, tc.wantStrategy)
			}
			if m.Name != tc.wantName || m.Version != tc.wantVersion {
				t.Errorf("got %s %s, want %s %s", m.Name, m.Version, tc.wantName, tc.wantVersion)
			}
			if !reflect.DeepEqual(m.Requires, tc.wantRequires) {
				t.Errorf("Requires = %#v, want %#v", m.Requires, tc.wantRequires)
			}
			if m.RequiresPython != tc.wantPython {
				t.Errorf("RequiresPython = %q, want %q", m.RequiresPython, tc.wantPython)
			}
			if builder.calls != 0 {
				t.Errorf("build backend called %d times for a static source", builder.calls)
			}
		})
	}
}

func TestExtractSameDependenciesAcrossSources(t *testing.T) {
	dir := t.TempDir()
	sources := map[string]Source{
		"wheel":       {Wheel: fixtures.DemoWheel(t, dir)},
		"source tree": {Dir: fixtures.DemoProject(t, dir)},
	}
	e := &Extractor{}
	for name, src := range sources {
		m, _, err := e.Extract(context.Background(), src)
		if err != nil {
			t.Fatalf("%s: Extract() error: %v", name, err)
		}
		if got := baseDeps(t, m.Requires); !reflect.DeepEqual(got, fixtures.DemoDeps) {
			t.Errorf("%s: deps = %v, want %v", name, got, fixtures.DemoDeps)
		}
	}
}

func TestExtractDynamicUsesBuilder(t *testing.T) {
	builder := &fakePreparer{
		dir:      t.TempDir(),
		metadata: "Metadata-Version: 2.1\nName: demo-package\nVersion: 0.1.0\n\n",
	}
	e := &Extractor{Builder: builder}
	src := Source{Dir: fixtures.DynamicProject(t, t.TempDir())}

	m, strategy, err := e.Extract(context.Background(), src)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if strategy != Build {
		t.Errorf("strategy = %s, want build", strategy)
	}
	if m.Version != "0.1.0" || len(m.Requires) != 0 {
		t.Errorf("got version %q requires %v", m.Version, m.Requires)
	}
	if builder.calls != 1 {
		t.Errorf("build backend called %d times, want 1", builder.calls)
	}
}

func TestExtractErrors(t *testing.T) {
	backendErr := werrors.New(werrors.BuildBackendFailure, "backend exited 1").WithOutput("Traceback: boom")

	tests := map[string]struct {
		source   func(t *testing.T) Source
		builder  Preparer
		wantCode werrors.Code
		wantMsg  string
	}{
		"missing path": {
			source: func(t *testing.T) Source {
				return Source{Dir: filepath.Join(t.TempDir(), "non-existing-path")}
			},
			wantCode: werrors.RequirementMissing,
			wantMsg:  "non-existing-path",
		},
		"dynamic without builder": {
			source: func(t *testing.T) Source {
				return Source{Dir: fixtures.DynamicProject(t, t.TempDir())}
			},
			wantCode: werrors.MetadataNotFound,
		},
		"builder fails": {
			source: func(t *testing.T) Source {
				return Source{Dir: fixtures.DynamicProject(t, t.TempDir())}
			},
			builder:  &fakePreparer{err: backendErr},
			wantCode: werrors.BuildBackendFailure,
			wantMsg:  "Traceback: boom",
		},
		"builder fails without a code": {
			source: func(t *testing.T) Source {
				return Source{Dir: fixtures.DynamicProject(t, t.TempDir())}
			},
			builder:  &fakePreparer{err: errors.New("python not found")},
			wantCode: werrors.BuildBackendFailure,
			wantMsg:  "python not found",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			e := &Extractor{Builder: tc.builder}
			_, _, err := e.Extract(context.Background(), tc.source(t))
			if !werrors.Is(err, tc.wantCode) {
				t.Fatalf("Extract() error = %v, want %s", err, tc.wantCode)
			}
			if tc.wantMsg != "" && !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}
