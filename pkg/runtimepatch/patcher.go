// Package runtimepatch checks that an optional runtime dependency is present
// and recent enough. It runs alongside the trust bootstrap and never affects
// its outcome.
package runtimepatch

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const defaultVersionTimeout = 10 * time.Second

// Patcher ensures a runtime dependency is usable.
type Patcher interface {
	Patch(ctx context.Context) error
}

// MissingDependencyError reports a runtime binary that cannot be found.
type MissingDependencyError struct {
	Binary string
	Cause  error
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("runtime dependency %q not found: %v", e.Binary, e.Cause)
}

func (e *MissingDependencyError) Unwrap() error {
	return e.Cause
}

// IncompatibleVersionError reports a runtime older than required, or one
// whose version cannot be determined.
type IncompatibleVersionError struct {
	Binary   string
	Found    string
	Required string
}

func (e *IncompatibleVersionError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("runtime dependency %q: unable to determine version (need %s)", e.Binary, e.Required)
	}
	return fmt.Sprintf("runtime dependency %q version %s is older than required %s", e.Binary, e.Found, e.Required)
}

// NoopPatcher is used when no runtime dependency is configured.
type NoopPatcher struct{}

// Patch always succeeds.
func (NoopPatcher) Patch(context.Context) error { return nil }

// ExecPatcher locates Binary on PATH and checks `Binary --version` against MinVersion.
type ExecPatcher struct {
	Binary     string
	MinVersion string
	Logger     *slog.Logger

	lookPath func(string) (string, error)
	output   func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewExecPatcher returns an ExecPatcher. An empty minVersion only checks presence.
func NewExecPatcher(binary, minVersion string, logger *slog.Logger) *ExecPatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecPatcher{
		Binary:     binary,
		MinVersion: minVersion,
		Logger:     logger.With("component", "runtimepatch", "binary", binary),
		lookPath:   exec.LookPath,
		output:     commandOutput,
	}
}

// Patch returns nil, *MissingDependencyError or *IncompatibleVersionError.
func (p *ExecPatcher) Patch(ctx context.Context) error {
	path, err := p.lookPath(p.Binary)
	if err != nil {
		p.Logger.Warn("runtime dependency missing", "error", err)
		return &MissingDependencyError{Binary: p.Binary, Cause: err}
	}

	if p.MinVersion == "" {
		p.Logger.Debug("runtime dependency present", "path", path)
		return nil
	}

	required := normalizeVersion(p.MinVersion)
	if required == "" {
		// Config validation rejects this; a directly built patcher cannot be satisfied.
		p.Logger.Warn("invalid minimum runtime version", "min_version", p.MinVersion)
		return &IncompatibleVersionError{Binary: p.Binary, Required: p.MinVersion}
	}

	ctx, cancel := context.WithTimeout(ctx, defaultVersionTimeout)
	defer cancel()

	out, err := p.output(ctx, path, "--version")
	if err != nil {
		p.Logger.Warn("runtime version check failed", "error", err)
		return &IncompatibleVersionError{Binary: p.Binary, Required: required}
	}

	found := ParseVersion(string(out))
	if found == "" {
		return &IncompatibleVersionError{Binary: p.Binary, Required: required}
	}
	if semver.Compare(found, required) < 0 {
		p.Logger.Warn("runtime dependency too old", "found", found, "required", required)
		return &IncompatibleVersionError{Binary: p.Binary, Found: found, Required: required}
	}

	p.Logger.Debug("runtime dependency present", "path", path, "version", found)
	return nil
}

var versionPattern = regexp.MustCompile(`v?(\d+)(\.\d+)?(\.\d+)?`)

// ParseVersion extracts the first version number from a --version banner as
// a canonical semver string, or returns "" if none is found.
func ParseVersion(output string) string {
	match := versionPattern.FindString(output)
	if match == "" {
		return ""
	}
	return normalizeVersion(match)
}

// ValidVersion reports whether version, with or without a leading "v", is a
// semantic version usable as a minimum.
func ValidVersion(version string) bool {
	return normalizeVersion(version) != ""
}

func normalizeVersion(version string) string {
	version = strings.TrimSpace(version)
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return ""
	}
	return semver.Canonical(version)
}

func commandOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	//nolint:gosec // Binary comes from operator configuration
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
