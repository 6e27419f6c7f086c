package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"github.com/conneroisu/tally/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

func (vr *ValidationResult) fail(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
	}
	if len(vr.Errors) > 0 {
		write("Validation errors", vr.Errors)
	}
	if len(vr.Warnings) > 0 {
		if len(vr.Errors) > 0 {
			builder.WriteString("\n")
		}
		write("Validation warnings", vr.Warnings)
	}
	return builder.String()
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateServerConfigDetails(&config.Server, result)
	validateRuntimeConfigDetails(&config.Runtime, result)
	validateLedgerConfigDetails(&config.Ledger, result)
	validateLogConfigDetails(&config.Log, result)

	result.Valid = !result.HasErrors()
	return result
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.fail("server.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Use a port between 1024-65535 for non-privileged access",
			"Port 0 allows system to assign an available port",
		)
	} else if config.Port > 0 && config.Port < 1024 {
		result.warn("server.port", config.Port, "port below 1024 requires elevated privileges",
			"Consider using a port above 1024",
		)
	}

	if err := validation.ValidateHost(config.Host); err != nil {
		result.fail("server.host", config.Host, err.Error(),
			"Use 'localhost' for local use",
			"Use '0.0.0.0' to bind to all interfaces",
		)
	}

	for i, origin := range config.AllowedOrigins {
		if err := validation.ValidateOrigin(origin); err != nil {
			result.fail(fmt.Sprintf("server.allowed_origins[%d]", i), origin, err.Error(),
				"Use scheme://host:port, for example http://localhost:8080",
			)
		}
	}
	if slices.Contains(config.AllowedOrigins, "*") {
		result.warn("server.allowed_origins", config.AllowedOrigins, "any web page may connect to the live view",
			"List the origins that serve the page instead of '*'",
		)
	}

	if config.EventRate < 0 {
		result.fail("server.event_rate", config.EventRate, "event rate cannot be negative",
			"Use 0 to disable the limit",
		)
	}
	if config.ShutdownTimeout < 0 {
		result.fail("server.shutdown_timeout", config.ShutdownTimeout, "shutdown timeout cannot be negative")
	}
}

func validateRuntimeConfigDetails(config *RuntimeConfig, result *ValidationResult) {
	switch {
	case config.FrameInterval <= 0:
		result.fail("runtime.frame_interval", config.FrameInterval, "frame interval must be positive",
			"16ms redraws at about 60 frames per second",
		)
	case config.FrameInterval > time.Second:
		result.warn("runtime.frame_interval", config.FrameInterval, "updates will be visibly delayed",
			"Use a frame interval of 100ms or less",
		)
	}
}

func validateLedgerConfigDetails(config *LedgerConfig, result *ValidationResult) {
	if err := validation.ValidatePath(config.DBPath); err != nil {
		result.fail("ledger.db_path", config.DBPath, err.Error(),
			"Use a relative path like 'tally.db'",
			"Avoid parent directory references (..)",
		)
	}

	if config.ImportPath != "" {
		if err := validation.ValidatePath(config.ImportPath); err != nil {
			result.fail("ledger.import_path", config.ImportPath, err.Error(),
				"Point to a YAML file of entries",
			)
		} else if !strings.HasSuffix(config.ImportPath, ".yml") && !strings.HasSuffix(config.ImportPath, ".yaml") {
			result.warn("ledger.import_path", config.ImportPath, "import file should be YAML",
				"Use a .yml or .yaml file",
			)
		}
	}

	if _, err := currency.ParseISO(config.Currency); err != nil {
		result.fail("ledger.currency", config.Currency, "unknown currency code",
			"Use an ISO 4217 code such as USD, EUR or JPY",
		)
	}
	if _, err := language.Parse(config.Locale); err != nil {
		result.fail("ledger.locale", config.Locale, "unknown locale",
			"Use a BCP 47 tag such as en-US or de-DE",
		)
	}
	if config.Debounce < 0 {
		result.fail("ledger.debounce", config.Debounce, "debounce cannot be negative")
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, strings.ToLower(config.Level)) {
		result.warn("log.level", config.Level, fmt.Sprintf("unknown log level '%s', using info", config.Level),
			"Available levels: "+strings.Join(levels, ", "),
		)
	}
	formats := []string{"auto", "text", "json"}
	if !slices.Contains(formats, config.Format) {
		result.fail("log.format", config.Format, fmt.Sprintf("unknown log format '%s'", config.Format),
			"Available formats: "+strings.Join(formats, ", "),
		)
	}
}
