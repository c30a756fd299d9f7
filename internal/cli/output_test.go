package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]int64{"rows": 2}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"rows": float64(2)}, resp.Data)
	assert.Nil(t, resp.Error)

	buf.Reset()
	require.NoError(t, formatter.Error("E009", "unknown entity \"Order\"", map[string]string{"schema": "app.cue"}))
	resp = CLIResponse{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E009", resp.Error.Code)
	assert.Equal(t, "unknown entity \"Order\"", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_Text(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		want    string
	}{
		{"quiet", false, "Error [E021]: connection refused\n"},
		{"verbose", true, "Error [E021]: connection refused\nDetails: main\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}
			require.NoError(t, formatter.Error("E021", "connection refused", "main"))
			assert.Equal(t, tt.want, buf.String())
		})
	}

	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, formatter.Success("deleted 1 row(s)"))
	assert.Equal(t, "deleted 1 row(s)\n", buf.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Fail(ExitFailure, ErrCodeNotFound, "User(9) not found", nil)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))
	assert.False(t, IsReported(NewExitError(ExitFailure, "quiet")))
	assert.Equal(t, "Error [E005]: User(9) not found\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: tt.verbose}

			formatter.VerboseLog("Loaded %d entities", 2)

			assert.Empty(t, out.String(), "diagnostics never reach the JSON stream")
			if tt.wantLog {
				assert.Equal(t, "Loaded 2 entities\n", diag.String())
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))

	wrapped := WrapExitError(ExitCommandError, "loading config", errors.New("no such file"))
	assert.Equal(t, "loading config: no such file", wrapped.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(errors.Join(errors.New("ctx"), wrapped)))
}
