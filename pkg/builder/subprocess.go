package builder

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	"sigs.k8s.io/yaml"

	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/logging"
)

//go:embed hooks.py
var hookScript string

const (
	hookPrepareMetadata = "prepare_metadata_for_build_wheel"
	hookBuildWheel      = "build_wheel"
	hookBuildEditable   = "build_editable"
)

// Subprocess runs backend hooks in a Python interpreter. The backend and
// its requirements must already be importable by that interpreter.
type Subprocess struct {
	// Python is the interpreter to run, "python3" when empty.
	Python string
	// Env is appended to the current environment.
	Env []string
}

var _ Backend = &Subprocess{}

type hookRequest struct {
	Hook           string            `json:"hook"`
	Backend        string            `json:"backend"`
	BackendPath    []string          `json:"backend_path,omitempty"`
	Source         string            `json:"source"`
	Output         string            `json:"output"`
	Result         string            `json:"result"`
	ConfigSettings map[string]string `json:"config_settings,omitempty"`
}

type hookResult struct {
	Return    string `json:"return"`
	Error     string `json:"error"`
	Traceback string `json:"traceback"`
}

func (s *Subprocess) PrepareMetadata(ctx context.Context, req BuildRequest) (string, error) {
	name, err := s.call(ctx, hookPrepareMetadata, req)
	if err != nil {
		return "", err
	}
	return filepath.Join(req.OutputDir, name), nil
}

func (s *Subprocess) Build(ctx context.Context, req BuildRequest) (string, error) {
	hook := hookBuildWheel
	if req.Editable {
		hook = hookBuildEditable
	}
	name, err := s.call(ctx, hook, req)
	if err != nil {
		return "", err
	}
	return filepath.Join(req.OutputDir, name), nil
}

func (s *Subprocess) python() string {
	if s.Python == "" {
		return "python3"
	}
	return s.Python
}

// call runs one hook and returns the hook's return value. Any failure is a
// BuildBackendFailure carrying the interpreter's output.
func (s *Subprocess) call(ctx context.Context, hook string, req BuildRequest) (string, error) {
	log := logging.FromContext(ctx)

	scratch, err := os.MkdirTemp("", "wheelwright-hook-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(scratch)

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return "", err
	}
	payload, err := json.Marshal(hookRequest{
		Hook:           hook,
		Backend:        req.System.BuildBackend,
		BackendPath:    req.System.BackendPath,
		Source:         req.SourceDir,
		Output:         req.OutputDir,
		Result:         filepath.Join(scratch, "result.json"),
		ConfigSettings: req.ConfigSettings,
	})
	if err != nil {
		return "", err
	}

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, s.python(), "-c", hookScript)
	cmd.Dir = req.SourceDir
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &output
	cmd.Stderr = &output

	log.Debug("running build hook", "hook", hook, "backend", req.System.BuildBackend, "source", req.SourceDir)
	runErr := cmd.Run()

	data, readErr := os.ReadFile(filepath.Join(scratch, "result.json"))
	if readErr != nil {
		if runErr == nil {
			runErr = readErr
		}
		return "", werrors.Wrap(werrors.BuildBackendFailure, runErr, "build backend %s failed in %s", hook, req.SourceDir).
			WithOutput(output.String())
	}

	var res hookResult
	if err := yaml.Unmarshal(data, &res); err != nil {
		return "", werrors.Wrap(werrors.BuildBackendFailure, err, "malformed %s result from %s", hook, req.System.BuildBackend).
			WithOutput(output.String())
	}
	if res.Error != "" {
		return "", werrors.New(werrors.BuildBackendFailure, "build backend %s failed in %s: %s", hook, req.SourceDir, res.Error).
			WithOutput(output.String() + res.Traceback)
	}
	if runErr != nil {
		return "", werrors.Wrap(werrors.BuildBackendFailure, runErr, "build backend %s failed in %s", hook, req.SourceDir).
			WithOutput(output.String())
	}
	if res.Return == "" {
		return "", werrors.New(werrors.BuildBackendFailure, "build backend %s returned nothing", hook).
			WithOutput(output.String())
	}
	return res.Return, nil
}
