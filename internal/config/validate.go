package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/szibis/cloudwatch-forwarder/internal/statistic"
)

// Validate checks the configuration for errors that prevent startup.
// Lenient findings (unknown statistic tokens, list length mismatches) are
// reported by Warnings instead.
func (c *Config) Validate() error {
	var errs []string

	if c.Tag == "" {
		errs = append(errs, "tag must not be empty")
	}
	if c.CWNamespace == "" {
		errs = append(errs, "cw-namespace must not be empty")
	}
	if strings.TrimSpace(c.CWMetrics) == "" {
		errs = append(errs, "cw-metrics must not be empty")
	}
	if c.CWPeriod < time.Minute {
		errs = append(errs, fmt.Sprintf("cw-period must be >= 1m (CloudWatch aggregation granularity), got %s", c.CWPeriod))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("poll-interval must be > 0, got %s", c.PollInterval))
	}
	if c.OpenTimeout < 0 {
		errs = append(errs, fmt.Sprintf("open-timeout must be >= 0, got %s", c.OpenTimeout))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("read-timeout must be >= 0, got %s", c.ReadTimeout))
	}
	if c.TimeOffset < 0 {
		errs = append(errs, fmt.Sprintf("time-offset must be >= 0, got %s", c.TimeOffset))
	}
	if c.FluentPort < 1 || c.FluentPort > 65535 {
		errs = append(errs, fmt.Sprintf("fluent-port must be between 1 and 65535, got %d", c.FluentPort))
	}
	if c.FluentBufferLimit < 0 {
		errs = append(errs, fmt.Sprintf("fluent-buffer-limit must be >= 0, got %d", c.FluentBufferLimit))
	}
	if c.StatsLogInterval < 0 {
		errs = append(errs, fmt.Sprintf("stats-log-interval must be >= 0, got %s", c.StatsLogInterval))
	}
	if c.MemoryLimitRatio < 0 || c.MemoryLimitRatio > 1 {
		errs = append(errs, fmt.Sprintf("memory-limit-ratio must be between 0.0 and 1.0, got %g", c.MemoryLimitRatio))
	}

	switch c.CardinalityMode {
	case "bloom", "exact", "hll":
	default:
		errs = append(errs, fmt.Sprintf("cardinality-mode must be one of bloom, exact, hll, got %q", c.CardinalityMode))
	}
	if c.CardinalityFPRate <= 0 || c.CardinalityFPRate >= 1 {
		errs = append(errs, fmt.Sprintf("cardinality-fp-rate must be between 0.0 and 1.0 exclusive, got %g", c.CardinalityFPRate))
	}
	if c.CardinalityExpectedItems == 0 {
		errs = append(errs, "cardinality-expected-items must be > 0")
	}
	if c.GroupCardinalityLimit < 0 {
		errs = append(errs, fmt.Sprintf("group-cardinality-limit must be >= 0 (0 disables the warning), got %d", c.GroupCardinalityLimit))
	}

	if c.HTTPTLSEnabled {
		if c.HTTPTLSCertFile == "" {
			errs = append(errs, "http-tls-cert must be set when http-tls-enabled=true")
		}
		if c.HTTPTLSKeyFile == "" {
			errs = append(errs, "http-tls-key must be set when http-tls-enabled=true")
		}
	}
	if (c.CWTLSCertFile == "") != (c.CWTLSKeyFile == "") {
		errs = append(errs, "cw-tls-cert must be set together with cw-tls-key")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Warnings reports lenient configuration findings. The service starts
// anyway; callers decide whether to log them.
func (c *Config) Warnings() []string {
	var warns []string

	names := splitCSV(c.CWDimensionNames)
	values := splitCSV(c.CWDimensionValues)
	if len(names) > 0 && len(values) > 0 && len(names) != len(values) {
		warns = append(warns, fmt.Sprintf("cw-dimension-names has %d entries but cw-dimension-values has %d; pairs are zipped to the shorter list", len(names), len(values)))
	}

	if c.CWStatistics != "" && !statistic.Known(c.CWStatistics) {
		warns = append(warns, fmt.Sprintf("unknown statistic %q; CloudWatch will receive it as-is", c.CWStatistics))
	}
	for _, m := range splitCSV(c.CWMetrics) {
		if name, stat, ok := strings.Cut(m, ":"); ok && stat != "" && !statistic.Known(stat) {
			warns = append(warns, fmt.Sprintf("unknown statistic %q for metric %q; CloudWatch will receive it as-is", stat, name))
		}
	}

	if c.RecordAttrs != "" {
		for _, pair := range strings.Split(c.RecordAttrs, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
				warns = append(warns, fmt.Sprintf("record-attrs entry %q is not key=value; ignored", pair))
			}
		}
	}

	switch c.TelemetryProtocol {
	case "", "grpc", "http":
	default:
		warns = append(warns, fmt.Sprintf("telemetry-protocol %q is not grpc or http; falling back to grpc", c.TelemetryProtocol))
	}

	if c.EmitZero && c.CWGroupBy != "" {
		warns = append(warns, "emit-zero in grouped mode emits zero records without group fields")
	}

	return warns
}

// ValidationSeverity classes a finding as blocking or advisory.
type ValidationSeverity string

const (
	// SeverityError indicates a configuration error that prevents startup.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates a potential issue that won't prevent startup.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one finding tied to the field that raised it.
type ValidationIssue struct {
	Severity ValidationSeverity `json:"severity"`
	Field    string             `json:"field"`
	Message  string             `json:"message"`
}

// ValidationResult is the machine readable outcome of a config check.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// JSON renders the result indented for terminal output.
func (r *ValidationResult) JSON() string {
	data, _ := json.MarshalIndent(r, "", "  ")
	return string(data)
}

// ValidateFile runs the whole check pipeline against a YAML file
// without starting the daemon. check-config mode prints the result.
func ValidateFile(path string) *ValidationResult {
	result := &ValidationResult{
		Valid: true,
		File:  path,
	}

	// Check file exists
	info, err := os.Stat(path)
	if err != nil {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityError,
			Field:    "file",
			Message:  fmt.Sprintf("cannot access file: %v", err),
		})
		return result
	}
	if info.IsDir() {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityError,
			Field:    "file",
			Message:  "path is a directory, expected a file",
		})
		return result
	}

	// Parse YAML
	yamlCfg, err := LoadYAML(path)
	if err != nil {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityError,
			Field:    "yaml",
			Message:  fmt.Sprintf("YAML parse error: %v", err),
		})
		return result
	}

	// ToConfig starts from applied defaults, so fields absent from the
	// YAML hold valid default values.
	cfg := yamlCfg.ToConfig()
	cfg.ConfigFile = path

	if err := cfg.Validate(); err != nil {
		result.Valid = false
		// Parse the multi-error format from Validate()
		msg := err.Error()
		prefix := "configuration validation failed:\n  - "
		if strings.HasPrefix(msg, prefix) {
			items := strings.Split(strings.TrimPrefix(msg, prefix), "\n  - ")
			for _, item := range items {
				field, message := parseValidationError(item)
				result.Issues = append(result.Issues, ValidationIssue{
					Severity: SeverityError,
					Field:    field,
					Message:  message,
				})
			}
		} else {
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityError,
				Field:    "config",
				Message:  msg,
			})
		}
	}

	for _, w := range cfg.Warnings() {
		field, message := parseValidationError(w)
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityWarning,
			Field:    field,
			Message:  message,
		})
	}

	// Additional warnings (non-fatal)
	addWarnings(cfg, result)

	return result
}

// parseValidationError guesses which flag a message refers to. Error
// strings lead with the flag name, as in "poll-interval must be > 0".
func parseValidationError(s string) (string, string) {
	s = strings.TrimSpace(s)
	// Try to extract field name from the beginning (field-name must/has/is ...)
	for _, sep := range []string{" must ", " has ", " is ", " should ", " in "} {
		if idx := strings.Index(s, sep); idx > 0 {
			field := s[:idx]
			if !strings.Contains(field, " ") {
				return field, s
			}
		}
	}
	return "config", s
}

// addWarnings appends advisory findings that Validate and Warnings do
// not already cover.
func addWarnings(cfg *Config, result *ValidationResult) {
	// The forward protocol carries records in the clear
	if !isLocalhost(cfg.FluentHost) {
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityWarning,
			Field:    "fluent.host",
			Message:  fmt.Sprintf("forward traffic to non-local host %q is unencrypted", cfg.FluentHost),
		})
	}

	if strings.HasPrefix(cfg.CWEndpoint, "http://") {
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityWarning,
			Field:    "cloudwatch.endpoint",
			Message:  fmt.Sprintf("endpoint %q uses plain http", cfg.CWEndpoint),
		})
	}

	// Warn about very large send buffers
	if cfg.FluentBufferLimit > 134217728 {
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityWarning,
			Field:    "fluent.buffer_limit",
			Message:  fmt.Sprintf("very large buffer limit (%d bytes) may consume significant memory", cfg.FluentBufferLimit),
		})
	}

	// Polling faster than the aggregation bucket re-reads the same datapoint
	if cfg.PollInterval < cfg.CWPeriod {
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityWarning,
			Field:    "poll.interval",
			Message:  fmt.Sprintf("interval %s is shorter than the %s aggregation period; passes will re-read the same bucket", cfg.PollInterval, cfg.CWPeriod),
		})
	}

	// Warn about TLS cert files that don't exist
	if cfg.HTTPTLSEnabled {
		warnIfMissing(cfg.HTTPTLSCertFile, "stats.tls.cert_file", result)
		warnIfMissing(cfg.HTTPTLSKeyFile, "stats.tls.key_file", result)
		if cfg.HTTPTLSCAFile != "" {
			warnIfMissing(cfg.HTTPTLSCAFile, "stats.tls.ca_file", result)
		}
	}
	if cfg.CWTLSEnabled {
		if cfg.CWTLSCertFile != "" {
			warnIfMissing(cfg.CWTLSCertFile, "cloudwatch.tls.cert_file", result)
		}
		if cfg.CWTLSKeyFile != "" {
			warnIfMissing(cfg.CWTLSKeyFile, "cloudwatch.tls.key_file", result)
		}
		if cfg.CWTLSCAFile != "" {
			warnIfMissing(cfg.CWTLSCAFile, "cloudwatch.tls.ca_file", result)
		}
	}
}

func warnIfMissing(path, field string, result *ValidationResult) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityWarning,
			Field:    field,
			Message:  fmt.Sprintf("file not found: %s", path),
		})
	}
}

func isLocalhost(host string) bool {
	return strings.HasPrefix(host, "localhost") ||
		strings.HasPrefix(host, "127.0.0.1") ||
		strings.HasPrefix(host, "[::1]") ||
		strings.HasPrefix(host, "::1")
}
