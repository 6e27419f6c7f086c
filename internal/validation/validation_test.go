package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		expectErr bool
	}{
		{"relative file", "tally.db", false},
		{"nested relative", "data/tally.db", false},
		{"absolute", "/var/lib/tally/tally.db", false},
		{"dots in name", "ledger..yml", false},
		{"empty", "", true},
		{"traversal", "../secrets.db", true},
		{"inner traversal", "data/../../x", true},
		{"proc", "/proc/self/environ", true},
		{"semicolon", "tally.db;rm", true},
		{"backtick", "`id`.db", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateHost(t *testing.T) {
	for _, host := range []string{"localhost", "0.0.0.0", "::1", "tally.example.com"} {
		assert.NoError(t, ValidateHost(host), host)
	}
	for _, host := range []string{"", "bad host", "host;rm", "-leading.example"} {
		assert.Error(t, ValidateHost(host), host)
	}
}

func TestValidateOrigin(t *testing.T) {
	tests := []struct {
		origin    string
		expectErr bool
	}{
		{"*", false},
		{"http://localhost:8080", false},
		{"https://tally.example.com", false},
		{"https://tally.example.com/", false},
		{"ftp://tally.example.com", true},
		{"javascript:alert(1)", true},
		{"http://", true},
		{"http://localhost:8080/app", true},
		{"localhost:8080", true},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			err := ValidateOrigin(tt.origin)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "lunch\twith team", SanitizeInput("lun\x00ch\twith\x07 team"))
	assert.Equal(t, "line\nbreak", SanitizeInput("line\nbreak"))
	assert.Equal(t, "café", SanitizeInput("caf\x1bé"))
	assert.Equal(t, "", SanitizeInput("\x00\x01\x7f"))
}
