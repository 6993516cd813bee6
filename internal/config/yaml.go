package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig is the root structure for YAML configuration files. Every
// flag has a YAML equivalent; CLI flags override file values.
type YAMLConfig struct {
	Tag              string                `yaml:"tag"`
	AWS              AWSYAMLConfig         `yaml:"aws"`
	CloudWatch       CloudWatchYAMLConfig  `yaml:"cloudwatch"`
	Poll             PollYAMLConfig        `yaml:"poll"`
	Fluent           FluentYAMLConfig      `yaml:"fluent"`
	Stats            StatsYAMLConfig       `yaml:"stats"`
	Telemetry        TelemetryYAMLConfig   `yaml:"telemetry"`
	Cardinality      CardinalityYAMLConfig `yaml:"cardinality"`
	Logging          LoggingYAMLConfig     `yaml:"logging"`
	MemoryLimitRatio *float64              `yaml:"memory_limit_ratio"` // Pointer to distinguish unset from 0.0
}

// AWSYAMLConfig holds AWS credential configuration.
type AWSYAMLConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	RoleARN         string `yaml:"role_arn"`
	RoleSessionName string `yaml:"role_session_name"`
}

// CloudWatchYAMLConfig holds CloudWatch query and client configuration.
type CloudWatchYAMLConfig struct {
	Endpoint        string              `yaml:"endpoint"`
	Region          string              `yaml:"region"`
	Namespace       string              `yaml:"namespace"`
	Metrics         []string            `yaml:"metrics"`    // name or name:Statistic
	Statistics      string              `yaml:"statistics"` // Default statistic token
	DimensionNames  []string            `yaml:"dimension_names"`
	DimensionValues []string            `yaml:"dimension_values"`
	GroupBy         []string            `yaml:"group_by"`
	Period          Duration            `yaml:"period"`
	OpenTimeout     Duration            `yaml:"open_timeout"`
	ReadTimeout     Duration            `yaml:"read_timeout"`
	TLS             ClientTLSYAMLConfig `yaml:"tls"`
	ForceHTTP2      bool                `yaml:"force_http2"`
}

// ClientTLSYAMLConfig holds client-side TLS configuration.
type ClientTLSYAMLConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	SkipVerify bool   `yaml:"skip_verify"`
	ServerName string `yaml:"server_name"`
}

// ServerTLSYAMLConfig holds server-side TLS configuration.
type ServerTLSYAMLConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	ClientAuth bool   `yaml:"client_auth"`
}

// PollYAMLConfig holds poll loop configuration.
type PollYAMLConfig struct {
	Interval     Duration          `yaml:"interval"`
	DelayedStart bool              `yaml:"delayed_start"`
	TimeOffset   Duration          `yaml:"time_offset"`
	EmitZero     bool              `yaml:"emit_zero"`
	RecordAttrs  map[string]string `yaml:"record_attrs"`
}

// FluentYAMLConfig holds Fluentd forward configuration.
type FluentYAMLConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Timeout      Duration `yaml:"timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	BufferLimit  ByteSize `yaml:"buffer_limit"`
}

// StatsYAMLConfig holds stats endpoint configuration.
type StatsYAMLConfig struct {
	Address     string              `yaml:"address"`
	LogInterval *Duration           `yaml:"log_interval"` // Pointer so an explicit 0s disables the log
	TLS         ServerTLSYAMLConfig `yaml:"tls"`
}

// TelemetryYAMLConfig configures the OTLP export of the daemon's own logs
// and metrics.
type TelemetryYAMLConfig struct {
	Endpoint        string                   `yaml:"endpoint"`         // OTLP endpoint (empty = disabled)
	Protocol        string                   `yaml:"protocol"`         // "grpc" or "http"
	Insecure        *bool                    `yaml:"insecure"`         // Pointer to distinguish unset from false
	Timeout         Duration                 `yaml:"timeout"`          // Per-export timeout
	PushInterval    Duration                 `yaml:"push_interval"`    // Metric push interval
	Compression     string                   `yaml:"compression"`      // "gzip" or ""
	Headers         map[string]string        `yaml:"headers"`          // Custom headers
	ShutdownTimeout Duration                 `yaml:"shutdown_timeout"` // Shutdown grace period
	Retry           TelemetryRetryYAMLConfig `yaml:"retry"`            // Retry configuration
}

// TelemetryRetryYAMLConfig configures OTLP export retries.
type TelemetryRetryYAMLConfig struct {
	Enabled     *bool    `yaml:"enabled"` // Pointer to distinguish unset from false
	Initial     Duration `yaml:"initial"`
	MaxInterval Duration `yaml:"max_interval"`
	MaxElapsed  Duration `yaml:"max_elapsed"`
}

// CardinalityYAMLConfig holds cardinality tracking configuration.
type CardinalityYAMLConfig struct {
	GroupLimit    *int    `yaml:"group_limit"` // Pointer so an explicit 0 disables the warning
	Mode          string  `yaml:"mode"`
	ExpectedItems uint    `yaml:"expected_items"`
	FPRate        float64 `yaml:"fp_rate"`
}

// LoggingYAMLConfig holds logging configuration.
type LoggingYAMLConfig struct {
	Level string `yaml:"level"`
}

// Duration lets YAML carry durations as strings like "45s" or "2m".
type Duration time.Duration

// UnmarshalYAML accepts both quoted duration strings and bare integers
// of nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML renders the duration back in compact string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize lets YAML carry sizes as "64Mi" style strings next to plain
// byte counts.
type ByteSize int64

// UnmarshalYAML accepts integers, plain numeric strings, and suffixed
// sizes.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	// Try integer first
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	// Try string with unit suffix
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*b = 0
		return nil
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// MarshalYAML renders the size with the largest exact binary suffix.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return FormatByteSize(int64(b)), nil
}

// ParseByteSize reads a size with an optional binary suffix. Ki, Mi, Gi
// and Ti multiply by powers of 1024; a bare integer is bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	type suffix struct {
		name string
		mult int64
	}
	suffixes := []suffix{
		{"Ti", 1099511627776},
		{"Gi", 1073741824},
		{"Mi", 1048576},
		{"Ki", 1024},
	}
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.name) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.name))
			// Support float values like "1.5Gi"
			var f float64
			if _, err := fmt.Sscanf(numStr, "%f", &f); err != nil {
				return 0, fmt.Errorf("invalid byte size: %q", s)
			}
			return int64(f * float64(sf.mult)), nil
		}
	}
	// Plain integer. Reject strings with non-numeric trailing characters (e.g. "8MB").
	var n int64
	var trail string
	if _, err := fmt.Sscanf(s, "%d%s", &n, &trail); err == nil && trail != "" {
		return 0, fmt.Errorf("invalid byte size: %q (use Ki, Mi, Gi, or Ti suffixes)", s)
	}
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return n, nil
}

// FormatByteSize is the inverse of ParseByteSize for exact multiples.
func FormatByteSize(b int64) string {
	if b >= 1099511627776 && b%1099511627776 == 0 {
		return fmt.Sprintf("%dTi", b/1099511627776)
	}
	if b >= 1073741824 && b%1073741824 == 0 {
		return fmt.Sprintf("%dGi", b/1073741824)
	}
	if b >= 1048576 && b%1048576 == 0 {
		return fmt.Sprintf("%dMi", b/1048576)
	}
	if b >= 1024 && b%1024 == 0 {
		return fmt.Sprintf("%dKi", b/1024)
	}
	return fmt.Sprintf("%d", b)
}

// LoadYAML reads and parses a configuration file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML decodes configuration from raw YAML.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills in default values for unset fields.
func (y *YAMLConfig) ApplyDefaults() {
	if y.Tag == "" {
		y.Tag = "cloudwatch"
	}
	if y.AWS.RoleSessionName == "" {
		y.AWS.RoleSessionName = "cloudwatch-forwarder"
	}

	// CloudWatch defaults
	if y.CloudWatch.Statistics == "" {
		y.CloudWatch.Statistics = "Average"
	}
	if y.CloudWatch.Period == 0 {
		y.CloudWatch.Period = Duration(5 * time.Minute)
	}
	if y.CloudWatch.OpenTimeout == 0 {
		y.CloudWatch.OpenTimeout = Duration(10 * time.Second)
	}
	if y.CloudWatch.ReadTimeout == 0 {
		y.CloudWatch.ReadTimeout = Duration(30 * time.Second)
	}

	// Poll defaults
	if y.Poll.Interval == 0 {
		y.Poll.Interval = Duration(5 * time.Minute)
	}

	// Fluent defaults
	if y.Fluent.Host == "" {
		y.Fluent.Host = "127.0.0.1"
	}
	if y.Fluent.Port == 0 {
		y.Fluent.Port = 24224
	}
	if y.Fluent.Timeout == 0 {
		y.Fluent.Timeout = Duration(3 * time.Second)
	}
	if y.Fluent.WriteTimeout == 0 {
		y.Fluent.WriteTimeout = Duration(3 * time.Second)
	}
	if y.Fluent.BufferLimit == 0 {
		y.Fluent.BufferLimit = 8388608
	}

	// Stats defaults
	if y.Stats.Address == "" {
		y.Stats.Address = ":9090"
	}
	if y.Stats.LogInterval == nil {
		d := Duration(time.Minute)
		y.Stats.LogInterval = &d
	}

	// Telemetry defaults
	if y.Telemetry.Protocol == "" {
		y.Telemetry.Protocol = "grpc"
	}
	if y.Telemetry.Insecure == nil {
		b := true
		y.Telemetry.Insecure = &b
	}
	if y.Telemetry.Timeout == 0 {
		y.Telemetry.Timeout = Duration(10 * time.Second)
	}
	if y.Telemetry.PushInterval == 0 {
		y.Telemetry.PushInterval = Duration(30 * time.Second)
	}
	if y.Telemetry.ShutdownTimeout == 0 {
		y.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
	if y.Telemetry.Retry.Enabled == nil {
		b := true
		y.Telemetry.Retry.Enabled = &b
	}
	if y.Telemetry.Retry.Initial == 0 {
		y.Telemetry.Retry.Initial = Duration(5 * time.Second)
	}
	if y.Telemetry.Retry.MaxInterval == 0 {
		y.Telemetry.Retry.MaxInterval = Duration(30 * time.Second)
	}
	if y.Telemetry.Retry.MaxElapsed == 0 {
		y.Telemetry.Retry.MaxElapsed = Duration(1 * time.Minute)
	}

	// Cardinality defaults
	if y.Cardinality.GroupLimit == nil {
		n := 10000
		y.Cardinality.GroupLimit = &n
	}
	if y.Cardinality.Mode == "" {
		y.Cardinality.Mode = "bloom"
	}
	if y.Cardinality.ExpectedItems == 0 {
		y.Cardinality.ExpectedItems = 100000
	}
	if y.Cardinality.FPRate == 0 {
		y.Cardinality.FPRate = 0.01
	}

	if y.Logging.Level == "" {
		y.Logging.Level = "INFO"
	}
	if y.MemoryLimitRatio == nil {
		r := 0.9
		y.MemoryLimitRatio = &r
	}
}

// ToConfig converts the YAML configuration to the flat Config structure.
func (y *YAMLConfig) ToConfig() *Config {
	return &Config{
		Tag:         y.Tag,
		RecordAttrs: joinPairs(y.Poll.RecordAttrs),

		// AWS
		AWSAccessKeyID:     y.AWS.AccessKeyID,
		AWSSecretAccessKey: y.AWS.SecretAccessKey,
		AWSRoleARN:         y.AWS.RoleARN,
		AWSRoleSessionName: y.AWS.RoleSessionName,

		// CloudWatch
		CWEndpoint:        y.CloudWatch.Endpoint,
		CWRegion:          y.CloudWatch.Region,
		CWNamespace:       y.CloudWatch.Namespace,
		CWMetrics:         strings.Join(y.CloudWatch.Metrics, ","),
		CWStatistics:      y.CloudWatch.Statistics,
		CWDimensionNames:  strings.Join(y.CloudWatch.DimensionNames, ","),
		CWDimensionValues: strings.Join(y.CloudWatch.DimensionValues, ","),
		CWGroupBy:         strings.Join(y.CloudWatch.GroupBy, ","),
		CWPeriod:          time.Duration(y.CloudWatch.Period),

		// CloudWatch client
		OpenTimeout:             time.Duration(y.CloudWatch.OpenTimeout),
		ReadTimeout:             time.Duration(y.CloudWatch.ReadTimeout),
		CWTLSEnabled:            y.CloudWatch.TLS.Enabled,
		CWTLSCertFile:           y.CloudWatch.TLS.CertFile,
		CWTLSKeyFile:            y.CloudWatch.TLS.KeyFile,
		CWTLSCAFile:             y.CloudWatch.TLS.CAFile,
		CWTLSInsecureSkipVerify: y.CloudWatch.TLS.SkipVerify,
		CWTLSServerName:         y.CloudWatch.TLS.ServerName,
		CWForceHTTP2:            y.CloudWatch.ForceHTTP2,

		// Poll
		PollInterval: time.Duration(y.Poll.Interval),
		DelayedStart: y.Poll.DelayedStart,
		TimeOffset:   time.Duration(y.Poll.TimeOffset),
		EmitZero:     y.Poll.EmitZero,

		// Fluent
		FluentHost:         y.Fluent.Host,
		FluentPort:         y.Fluent.Port,
		FluentTimeout:      time.Duration(y.Fluent.Timeout),
		FluentWriteTimeout: time.Duration(y.Fluent.WriteTimeout),
		FluentBufferLimit:  int64(y.Fluent.BufferLimit),

		// Stats
		StatsAddr:         y.Stats.Address,
		StatsLogInterval:  time.Duration(*y.Stats.LogInterval),
		HTTPTLSEnabled:    y.Stats.TLS.Enabled,
		HTTPTLSCertFile:   y.Stats.TLS.CertFile,
		HTTPTLSKeyFile:    y.Stats.TLS.KeyFile,
		HTTPTLSCAFile:     y.Stats.TLS.CAFile,
		HTTPTLSClientAuth: y.Stats.TLS.ClientAuth,

		// Cardinality
		GroupCardinalityLimit:    *y.Cardinality.GroupLimit,
		CardinalityMode:          y.Cardinality.Mode,
		CardinalityExpectedItems: y.Cardinality.ExpectedItems,
		CardinalityFPRate:        y.Cardinality.FPRate,

		// Telemetry
		TelemetryEndpoint:         y.Telemetry.Endpoint,
		TelemetryProtocol:         y.Telemetry.Protocol,
		TelemetryInsecure:         *y.Telemetry.Insecure,
		TelemetryTimeout:          time.Duration(y.Telemetry.Timeout),
		TelemetryPushInterval:     time.Duration(y.Telemetry.PushInterval),
		TelemetryCompression:      y.Telemetry.Compression,
		TelemetryHeaders:          joinPairs(y.Telemetry.Headers),
		TelemetryShutdownTimeout:  time.Duration(y.Telemetry.ShutdownTimeout),
		TelemetryRetryEnabled:     *y.Telemetry.Retry.Enabled,
		TelemetryRetryInitial:     time.Duration(y.Telemetry.Retry.Initial),
		TelemetryRetryMaxInterval: time.Duration(y.Telemetry.Retry.MaxInterval),
		TelemetryRetryMaxElapsed:  time.Duration(y.Telemetry.Retry.MaxElapsed),

		// Memory and logging
		MemoryLimitRatio: *y.MemoryLimitRatio,
		LogLevel:         y.Logging.Level,
	}
}
