package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withBuildVars(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	oldVersion, oldCommit, oldTime := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = version, commit, buildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldVersion, oldCommit, oldTime })
}

func TestGetFromLdflags(t *testing.T) {
	withBuildVars(t, "v1.2.0", "3f2a9c1d0e", "2026-10-01T08:00:00Z")

	info := Get()
	assert.Equal(t, "v1.2.0", info.Version)
	assert.Equal(t, "3f2a9c1d0e", info.GitCommit)
	assert.Equal(t, time.Date(2026, time.October, 1, 8, 0, 0, 0, time.UTC), info.BuildTime)
	assert.True(t, info.Release)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
	assert.Equal(t, "v1.2.0 (3f2a9c1)", info.Short())
}

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		info BuildInfo
		want string
	}{
		{"unknown commit", BuildInfo{Version: "dev", GitCommit: "unknown"}, "dev"},
		{"short commit", BuildInfo{Version: "v1.0.0", GitCommit: "abc"}, "v1.0.0"},
		{"dev build", BuildInfo{Version: "dev-3f2a9c1", GitCommit: "3f2a9c1d0e"}, "dev-3f2a9c1"},
		{"release", BuildInfo{Version: "v2.0.0", GitCommit: "0123456789"}, "v2.0.0 (0123456)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Short())
		})
	}
}

func TestString(t *testing.T) {
	info := BuildInfo{
		Version:   "v1.0.0",
		GitCommit: "unknown",
		GoVersion: "go1.24.0",
		Platform:  "linux/amd64",
		BuildUser: "ci",
	}
	assert.Equal(t, "Version: v1.0.0\nGo: go1.24.0\nPlatform: linux/amd64\nUser: ci", info.String())
}

func TestParseBuildTime(t *testing.T) {
	assert.True(t, parseBuildTime("unknown").IsZero())
	assert.True(t, parseBuildTime("").IsZero())
	assert.Equal(t, 2026, parseBuildTime("2026-10-17 09:00:00").Year())
}
