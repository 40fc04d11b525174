package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCUE(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "concord.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestValidate_Valid(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "a.example")

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+path+" is valid")
}

func TestValidate_VerboseShowsEffectiveConfig(t *testing.T) {
	path := writeCUE(t, `room_version: "11"`)

	out, err := execute(t, "validate", path, "--verbose", "--format", "json")
	require.NoError(t, err)

	var result ValidationResult
	resp := decode(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	require.NotNil(t, result.Config)
	assert.Equal(t, "11", result.Config.RoomVersion)
	assert.Equal(t, 4, result.Config.Workers, "defaults are applied")
}

func TestValidate_ConfigFlag(t *testing.T) {
	path := writeCUE(t, `workers: 8`)

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"unknown field", `bogus: 1`, "cue"},
		{"out of range", `workers: 0`, "cue"},
		{"unknown room version", `room_version: "99"`, "room_version"},
		{"bad timeout", `limits: timeout: "soon"`, "limits.timeout"},
		{"short key", `keys: "a.example": "ed25519:x": "AAAA"`, "keys.a.example.ed25519:x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "validate", writeCUE(t, tt.src), "--format", "json")
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))

			var result ValidationResult
			resp := decode(t, out, &result)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, ErrCodeConfig, resp.Error.Code)
			assert.False(t, result.Valid)
			require.NotNil(t, result.Error)
			assert.Equal(t, tt.field, result.Error.Field)
		})
	}
}

func TestValidate_TextError(t *testing.T) {
	out, err := execute(t, "validate", writeCUE(t, `room_version: "99"`))
	require.Error(t, err)
	assert.Contains(t, out, `✗ room_version: unsupported room version "99"`)
}

func TestValidate_NoFile(t *testing.T) {
	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no configuration file given")
}

func TestValidate_Unreadable(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
