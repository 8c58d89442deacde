package requirement

import (
	"reflect"
	"testing"
)

func TestParseMarker(t *testing.T) {
	tests := map[string]struct {
		in   string
		want string
	}{
		"single quotes normalized": {
			in:   "os_name=='nt'",
			want: `os_name == "nt"`,
		},
		"or inside and keeps parens": {
			in:   `python_version >= "3.6" and (os_name == "nt" or sys_platform == "win32")`,
			want: `python_version >= "3.6" and (os_name == "nt" or sys_platform == "win32")`,
		},
		"redundant parens dropped": {
			in:   `(python_version < "3")`,
			want: `python_version < "3"`,
		},
		"not in": {
			in:   `"linux" not in sys_platform`,
			want: `"linux" not in sys_platform`,
		},
		"extra name normalized": {
			in:   `extra == "Socks_Proxy"`,
			want: `extra == "socks-proxy"`,
		},
		"dotted legacy variable": {
			in:   `os.name == "posix"`,
			want: `os_name == "posix"`,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, err := ParseMarker(tc.in)
			if err != nil {
				t.Fatalf("ParseMarker(%q) error: %v", tc.in, err)
			}
			if got := m.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSplitExtras(t *testing.T) {
	tests := map[string]struct {
		in         string
		wantRest   string
		wantExtras []string
	}{
		"extra and python": {
			in:         `extra == "socks" and python_version >= "3.6"`,
			wantRest:   `python_version >= "3.6"`,
			wantExtras: []string{"socks"},
		},
		"only extra": {
			in:         `extra == 'tests'`,
			wantExtras: []string{"tests"},
		},
		"alternative extras": {
			in:         `extra == "b" or extra == "a"`,
			wantExtras: []string{"a", "b"},
		},
		"parenthesized alternative extras and platform": {
			in:         `os_name == "nt" and (extra == "a" or extra == "b")`,
			wantRest:   `os_name == "nt"`,
			wantExtras: []string{"a", "b"},
		},
		"no extras": {
			in:       `python_version < "3"`,
			wantRest: `python_version < "3"`,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, err := ParseMarker(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			rest, extras := m.SplitExtras()
			if got := rest.String(); got != tc.wantRest {
				t.Errorf("rest = %q, want %q", got, tc.wantRest)
			}
			if !reflect.DeepEqual(extras, tc.wantExtras) {
				t.Errorf("extras = %v, want %v", extras, tc.wantExtras)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	env := map[string]string{
		"python_version": "3.11",
		"sys_platform":   "linux",
		"os_name":        "posix",
	}

	tests := map[string]struct {
		in   string
		want bool
	}{
		"version satisfied":     {in: `python_version >= "3.6"`, want: true},
		"version not satisfied": {in: `python_version < "3.8"`, want: false},
		"string equality":       {in: `sys_platform == "linux"`, want: true},
		"and short circuit":     {in: `os_name == "nt" and python_version >= "3"`, want: false},
		"or":                    {in: `os_name == "nt" or sys_platform == "linux"`, want: true},
		"in":                    {in: `"lin" in sys_platform`, want: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, err := ParseMarker(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if got := m.Evaluate(env); got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestMarkerAnd(t *testing.T) {
	base, err := ParseMarker(`python_version < "3" or os_name == "nt"`)
	if err != nil {
		t.Fatal(err)
	}
	got := base.And(ExtraMarker("Tests")).String()
	want := `(python_version < "3" or os_name == "nt") and extra == "tests"`
	if got != want {
		t.Errorf("And() = %q, want %q", got, want)
	}

	var none *Marker
	if none.And(nil) != nil {
		t.Error("nil.And(nil) should be nil")
	}
}
