package runtimepatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPatcher(minVersion string, lookErr error, banner string, runErr error) *ExecPatcher {
	p := NewExecPatcher("runtime", minVersion, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.lookPath = func(name string) (string, error) {
		if lookErr != nil {
			return "", lookErr
		}
		return "/usr/bin/" + name, nil
	}
	p.output = func(context.Context, string, ...string) ([]byte, error) {
		return []byte(banner), runErr
	}
	return p
}

func TestParseVersion(t *testing.T) {
	tests := map[string]string{
		"v18.17.1\n":                       "v18.17.1",
		"openjdk 17.0.2 2022-01-18":        "v17.0.2",
		"Python 3.11":                      "v3.11.0",
		"runtime version 2 (build abc)":    "v2.0.0",
		"no digits here":                   "",
	}
	for banner, want := range tests {
		assert.Equal(t, want, ParseVersion(banner), banner)
	}
}

func TestExecPatcherMissing(t *testing.T) {
	p := testPatcher("", errors.New("executable file not found in $PATH"), "", nil)

	err := p.Patch(context.Background())
	var missing *MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "runtime", missing.Binary)
}

func TestExecPatcherPresenceOnly(t *testing.T) {
	p := testPatcher("", nil, "", errors.New("must not run"))
	assert.NoError(t, p.Patch(context.Background()))
}

func TestExecPatcherVersionSatisfied(t *testing.T) {
	p := testPatcher("18.0.0", nil, "v20.1.0", nil)
	assert.NoError(t, p.Patch(context.Background()))
}

func TestExecPatcherVersionTooOld(t *testing.T) {
	p := testPatcher("v18", nil, "v16.20.2", nil)

	err := p.Patch(context.Background())
	var incompatible *IncompatibleVersionError
	require.ErrorAs(t, err, &incompatible)
	assert.Equal(t, "v16.20.2", incompatible.Found)
	assert.Equal(t, "v18.0.0", incompatible.Required)
}

func TestExecPatcherUnknownVersion(t *testing.T) {
	p := testPatcher("1.0.0", nil, "garbled", nil)

	err := p.Patch(context.Background())
	var incompatible *IncompatibleVersionError
	require.ErrorAs(t, err, &incompatible)
	assert.Empty(t, incompatible.Found)
	assert.Contains(t, err.Error(), "unable to determine version")
}

func TestExecPatcherVersionCommandFails(t *testing.T) {
	p := testPatcher("1.0.0", nil, "", errors.New("exit status 1"))

	var incompatible *IncompatibleVersionError
	require.ErrorAs(t, p.Patch(context.Background()), &incompatible)
}

func TestExecPatcherInvalidMinimum(t *testing.T) {
	p := testPatcher("latest", nil, "v1.0.0", nil)
	var incompatible *IncompatibleVersionError
	require.ErrorAs(t, p.Patch(context.Background()), &incompatible)
	assert.Equal(t, "latest", incompatible.Required)
}

func TestValidVersion(t *testing.T) {
	assert.True(t, ValidVersion("1.2.3"))
	assert.True(t, ValidVersion("v17"))
	assert.False(t, ValidVersion("latest"))
	assert.False(t, ValidVersion(""))
}

func TestNoopPatcher(t *testing.T) {
	var p Patcher = NoopPatcher{}
	assert.NoError(t, p.Patch(context.Background()))
}
