package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/tally/internal/config"
	"github.com/conneroisu/tally/internal/testutils"
)

// execute runs the root command with args and fresh flag values.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfgFile = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tally ")
	assert.Contains(t, out, "Go: go")

	out, err = execute(t, "version", "--format", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
	assert.Contains(t, info, "is_release")

	out, err = execute(t, "version", "--detailed")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: ")
	assert.Contains(t, out, "Build type: ")

	_, err = execute(t, "version", "--format", "xml")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestConfigShowYAML(t *testing.T) {
	t.Setenv("TALLY_SERVER_PORT", "9191")

	out, err := execute(t, "config", "show")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "USD", cfg.Ledger.Currency)
	assert.Equal(t, 16*time.Millisecond, cfg.Runtime.FrameInterval)
	assert.Equal(t, []string{"http://localhost:9191"}, cfg.Server.AllowedOrigins)
}

func TestConfigShowJSONFromFile(t *testing.T) {
	path := testutils.WriteFile(t, "tally.yml", "ledger:\n  currency: EUR\n  locale: de-DE\nruntime:\n  frame_interval: 40ms\n")

	out, err := execute(t, "config", "show", "--format", "json", "--config", path)
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "EUR", doc["ledger"]["currency"])
	assert.Equal(t, "de-DE", doc["ledger"]["locale"])
	assert.Equal(t, "40ms", doc["runtime"]["frame_interval"])
	assert.Equal(t, "localhost", doc["server"]["host"])

	_, err = execute(t, "config", "show", "--format", "toml")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestConfigShowInvalid(t *testing.T) {
	t.Setenv("TALLY_LEDGER_CURRENCY", "NOPE")
	_, err := execute(t, "config", "show")
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestConfigValidate(t *testing.T) {
	valid := testutils.WriteFile(t, "valid.yml", "server:\n  port: 8080\n")
	out, err := execute(t, "config", "validate", "--file", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid.")

	invalid := testutils.WriteFile(t, "invalid.yml", "server:\n  port: 70000\n")
	out, err = execute(t, "config", "validate", "--file", invalid)
	assert.ErrorContains(t, err, "1 errors")
	assert.Contains(t, out, "server.port")

	privileged := testutils.WriteFile(t, "privileged.yml", "server:\n  port: 80\n")
	out, err = execute(t, "config", "validate", "--file", privileged)
	require.NoError(t, err)
	assert.Contains(t, out, "with 1 warnings")

	_, err = execute(t, "config", "validate", "--file", privileged, "--strict")
	assert.ErrorContains(t, err, "strict mode")

	_, err = execute(t, "config", "validate", "--file", filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestConfigValidateUnsafePaths(t *testing.T) {
	for _, path := range testutils.SecurityTestCases.UnsafePaths {
		t.Run(path, func(t *testing.T) {
			doc, err := yaml.Marshal(map[string]any{"ledger": map[string]any{"db_path": path}})
			require.NoError(t, err)
			file := testutils.WriteFile(t, "unsafe.yml", string(doc))

			out, err := execute(t, "config", "validate", "--file", file)
			assert.Error(t, err)
			assert.Contains(t, out, "ledger.db_path")
		})
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "tally.db")
	entries := testutils.WriteFile(t, "entries.yml", `entries:
  - date: 2026-11-03
    amount: -12.50
    category: food
`)

	out, err := execute(t, "render", "--db", db, "--import", entries, "--flags", `{"month":"2026-11"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.Contains(t, out, `<main id="tally-mount"`)
	assert.Contains(t, out, "November 2026")
	assert.Contains(t, out, "12.50")
	assert.NotContains(t, out, "bridge.js")

	assert.Equal(t, db, v.GetString("ledger.db_path"))
	assert.FileExists(t, db)
}

func TestRenderToFile(t *testing.T) {
	dir := t.TempDir()
	flags := testutils.WriteFile(t, "flags.json", `{"month":"2026-02"}`)
	output := filepath.Join(dir, "page.html")

	out, err := execute(t, "render", "--db", filepath.Join(dir, "tally.db"), "--flags", "@"+flags, "-o", output)
	require.NoError(t, err)
	assert.Empty(t, out)

	page, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(page), "February 2026")
}

func TestRenderRejectsBadFlags(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "render", "--db", filepath.Join(dir, "tally.db"), "--flags", `{"month":`)
	assert.ErrorContains(t, err, "invalid JSON")

	_, err = execute(t, "render", "--db", filepath.Join(dir, "tally.db"), "--flags", `{"month":"October"}`)
	assert.Error(t, err)
}

func TestServeRejectsBadFlags(t *testing.T) {
	_, err := execute(t, "serve", "--flags", "@"+filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read flags file")
}

func TestProgramFlags(t *testing.T) {
	tests := []struct {
		name    string
		flags   string
		want    string
		wantErr bool
	}{
		{name: "unset", flags: "", want: "null"},
		{name: "inline", flags: ` {"month":"2026-11"} `, want: `{"month":"2026-11"}`},
		{name: "file", flags: "@" + testutils.WriteFile(t, "f.json", `{"selected":"2026-11-02"}`), want: `{"selected":"2026-11-02"}`},
		{name: "invalid", flags: "{", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&ProgramFlags{Flags: tt.flags}).JSON()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
