// Package config handles command line flags and YAML configuration.
package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/szibis/cloudwatch-forwarder/internal/cardinality"
	"github.com/szibis/cloudwatch-forwarder/internal/cwclient"
	"github.com/szibis/cloudwatch-forwarder/internal/emitter"
	"github.com/szibis/cloudwatch-forwarder/internal/sink"
	"github.com/szibis/cloudwatch-forwarder/internal/telemetry"
	tlspkg "github.com/szibis/cloudwatch-forwarder/internal/tls"
)

// version is set at build time via -ldflags "-X .../internal/config.version=x.y.z".
var version = "dev"

// Version returns the build version string.
func Version() string {
	return version
}

// Config holds the complete service configuration.
type Config struct {
	// Config file
	ConfigFile string

	// Record settings
	Tag         string // Fluent tag attached to every record
	RecordAttrs string // Static record attributes (format: key1=value1,key2=value2)

	// AWS credential settings
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRoleARN         string // When set, credentials are obtained via STS assume-role
	AWSRoleSessionName string

	// CloudWatch query settings
	CWEndpoint        string // Custom endpoint; https is assumed when no scheme is given
	CWRegion          string // Explicit region; derived from the endpoint host when empty
	CWNamespace       string
	CWMetrics         string // Comma-separated: name or name:Statistic
	CWStatistics      string // Default statistic for metrics without an explicit one
	CWDimensionNames  string
	CWDimensionValues string
	CWGroupBy         string // Non-empty switches the poller to grouped Metrics Insights queries
	CWPeriod          time.Duration

	// CloudWatch client settings
	OpenTimeout             time.Duration
	ReadTimeout             time.Duration
	CWTLSEnabled            bool
	CWTLSCertFile           string
	CWTLSKeyFile            string
	CWTLSCAFile             string
	CWTLSInsecureSkipVerify bool
	CWTLSServerName         string
	CWForceHTTP2            bool

	// Poll settings
	PollInterval time.Duration
	DelayedStart bool // Random initial delay in [0, interval) before the first pass
	TimeOffset   time.Duration
	EmitZero     bool // Emit {metric: 0} when a query returns no datapoints

	// Fluent forward settings
	FluentHost         string
	FluentPort         int
	FluentTimeout      time.Duration
	FluentWriteTimeout time.Duration
	FluentBufferLimit  int64 // Async send buffer cap in bytes

	// Stats / ops server settings
	StatsAddr         string
	StatsLogInterval  time.Duration
	HTTPTLSEnabled    bool
	HTTPTLSCertFile   string
	HTTPTLSKeyFile    string
	HTTPTLSCAFile     string
	HTTPTLSClientAuth bool

	// Cardinality tracking settings
	GroupCardinalityLimit    int     // Warn threshold for distinct group keys (0 disables)
	CardinalityMode          string  // "bloom", "exact", or "hll"
	CardinalityExpectedItems uint    // Expected unique items for Bloom filter sizing
	CardinalityFPRate        float64 // False positive rate for Bloom filter

	// Self-telemetry (OTLP) settings
	TelemetryEndpoint         string // Empty disables telemetry entirely
	TelemetryProtocol         string
	TelemetryInsecure         bool
	TelemetryTimeout          time.Duration
	TelemetryPushInterval     time.Duration
	TelemetryCompression      string
	TelemetryHeaders          string // Custom headers (format: key1=value1,key2=value2)
	TelemetryShutdownTimeout  time.Duration
	TelemetryRetryEnabled     bool
	TelemetryRetryInitial     time.Duration
	TelemetryRetryMaxInterval time.Duration
	TelemetryRetryMaxElapsed  time.Duration

	// Memory settings
	MemoryLimitRatio float64 // Fraction of the container memory limit for GOMEMLIMIT

	// Logging settings
	LogLevel string

	// Flags
	ShowHelp    bool
	ShowVersion bool
}

// ParseFlags parses command line flags and returns the configuration.
func ParseFlags() *Config {
	cfg := DefaultConfig()

	// Config file flag
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to YAML configuration file")

	// Record flags
	flag.StringVar(&cfg.Tag, "tag", "cloudwatch", "Fluent tag attached to every forwarded record")
	flag.StringVar(&cfg.RecordAttrs, "record-attrs", "", "Static record attributes (format: key1=value1,key2=value2)")

	// AWS credential flags
	flag.StringVar(&cfg.AWSAccessKeyID, "aws-access-key-id", "", "AWS access key ID (default: SDK credential chain)")
	flag.StringVar(&cfg.AWSSecretAccessKey, "aws-secret-access-key", "", "AWS secret access key")
	flag.StringVar(&cfg.AWSRoleARN, "aws-role-arn", "", "IAM role ARN to assume via STS")
	flag.StringVar(&cfg.AWSRoleSessionName, "aws-role-session-name", "cloudwatch-forwarder", "STS assume-role session name")

	// CloudWatch query flags
	flag.StringVar(&cfg.CWEndpoint, "cw-endpoint", "", "CloudWatch endpoint (host or URL; https assumed when no scheme)")
	flag.StringVar(&cfg.CWRegion, "cw-region", "", "AWS region (default: derived from endpoint host)")
	flag.StringVar(&cfg.CWNamespace, "cw-namespace", "", "CloudWatch metric namespace (required)")
	flag.StringVar(&cfg.CWMetrics, "cw-metrics", "", "Comma-separated metrics: name or name:Statistic (required)")
	flag.StringVar(&cfg.CWStatistics, "cw-statistics", "Average", "Default statistic for metrics without an explicit one")
	flag.StringVar(&cfg.CWDimensionNames, "cw-dimension-names", "", "Comma-separated dimension names for the query filter")
	flag.StringVar(&cfg.CWDimensionValues, "cw-dimension-values", "", "Comma-separated dimension values, paired positionally with names")
	flag.StringVar(&cfg.CWGroupBy, "cw-group-by", "", "Comma-separated group-by fields; non-empty selects grouped queries")
	flag.DurationVar(&cfg.CWPeriod, "cw-period", 5*time.Minute, "CloudWatch aggregation period")

	// CloudWatch client flags
	flag.DurationVar(&cfg.OpenTimeout, "open-timeout", 10*time.Second, "CloudWatch connection establishment timeout")
	flag.DurationVar(&cfg.ReadTimeout, "read-timeout", 30*time.Second, "CloudWatch response header timeout")
	flag.BoolVar(&cfg.CWTLSEnabled, "cw-tls-enabled", false, "Enable custom TLS config for the CloudWatch client")
	flag.StringVar(&cfg.CWTLSCertFile, "cw-tls-cert", "", "Path to client certificate file (mTLS)")
	flag.StringVar(&cfg.CWTLSKeyFile, "cw-tls-key", "", "Path to client private key file (mTLS)")
	flag.StringVar(&cfg.CWTLSCAFile, "cw-tls-ca", "", "Path to CA certificate for server verification")
	flag.BoolVar(&cfg.CWTLSInsecureSkipVerify, "cw-tls-skip-verify", false, "Skip TLS certificate verification")
	flag.StringVar(&cfg.CWTLSServerName, "cw-tls-server-name", "", "Override server name for TLS verification")
	flag.BoolVar(&cfg.CWForceHTTP2, "cw-force-http2", false, "Force HTTP/2 on the CloudWatch transport")

	// Poll flags
	flag.DurationVar(&cfg.PollInterval, "poll-interval", 5*time.Minute, "Interval between poll passes")
	flag.BoolVar(&cfg.DelayedStart, "delayed-start", false, "Delay the first pass by a random duration in [0, interval)")
	flag.DurationVar(&cfg.TimeOffset, "time-offset", 0, "Static skew subtracted from the query window")
	flag.BoolVar(&cfg.EmitZero, "emit-zero", false, "Emit a zero-valued record when a query returns no datapoints")

	// Fluent forward flags
	flag.StringVar(&cfg.FluentHost, "fluent-host", "127.0.0.1", "Fluentd forward host")
	flag.IntVar(&cfg.FluentPort, "fluent-port", 24224, "Fluentd forward port")
	flag.DurationVar(&cfg.FluentTimeout, "fluent-timeout", 3*time.Second, "Fluentd connection timeout")
	flag.DurationVar(&cfg.FluentWriteTimeout, "fluent-write-timeout", 3*time.Second, "Fluentd write timeout")
	flag.Int64Var(&cfg.FluentBufferLimit, "fluent-buffer-limit", 8388608, "Async send buffer cap in bytes (8MB)")

	// Stats flags
	flag.StringVar(&cfg.StatsAddr, "stats-addr", ":9090", "Stats/metrics HTTP endpoint address")
	flag.DurationVar(&cfg.StatsLogInterval, "stats-log-interval", time.Minute, "Interval between periodic stats log lines (0 disables)")
	flag.BoolVar(&cfg.HTTPTLSEnabled, "http-tls-enabled", false, "Enable TLS for the stats endpoint")
	flag.StringVar(&cfg.HTTPTLSCertFile, "http-tls-cert", "", "Path to server certificate file")
	flag.StringVar(&cfg.HTTPTLSKeyFile, "http-tls-key", "", "Path to server private key file")
	flag.StringVar(&cfg.HTTPTLSCAFile, "http-tls-ca", "", "Path to CA certificate for client verification (mTLS)")
	flag.BoolVar(&cfg.HTTPTLSClientAuth, "http-tls-client-auth", false, "Require client certificates (mTLS)")

	// Cardinality tracking flags
	flag.IntVar(&cfg.GroupCardinalityLimit, "group-cardinality-limit", 10000, "Warn when distinct group keys exceed this (0 disables)")
	flag.StringVar(&cfg.CardinalityMode, "cardinality-mode", "bloom", "Tracking mode: bloom (memory-efficient), exact (100% accurate), or hll (fixed-memory estimate)")
	flag.UintVar(&cfg.CardinalityExpectedItems, "cardinality-expected-items", 100000, "Expected unique items per tracker for Bloom filter sizing")
	flag.Float64Var(&cfg.CardinalityFPRate, "cardinality-fp-rate", 0.01, "Bloom filter false positive rate (0.01 = 1%)")

	// Telemetry flags
	flag.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint", "", "OTLP endpoint for self-monitoring logs and metrics (empty disables)")
	flag.StringVar(&cfg.TelemetryProtocol, "telemetry-protocol", "grpc", "Telemetry protocol: grpc or http")
	flag.BoolVar(&cfg.TelemetryInsecure, "telemetry-insecure", true, "Use insecure connection for telemetry export")
	flag.DurationVar(&cfg.TelemetryTimeout, "telemetry-timeout", 10*time.Second, "Telemetry export timeout")
	flag.DurationVar(&cfg.TelemetryPushInterval, "telemetry-push-interval", 30*time.Second, "Telemetry metric push interval")
	flag.StringVar(&cfg.TelemetryCompression, "telemetry-compression", "", "Telemetry compression: gzip or empty")
	flag.StringVar(&cfg.TelemetryHeaders, "telemetry-headers", "", "Telemetry headers (format: key1=value1,key2=value2)")
	flag.DurationVar(&cfg.TelemetryShutdownTimeout, "telemetry-shutdown-timeout", 5*time.Second, "Telemetry shutdown grace period")
	flag.BoolVar(&cfg.TelemetryRetryEnabled, "telemetry-retry-enabled", true, "Enable telemetry export retry")
	flag.DurationVar(&cfg.TelemetryRetryInitial, "telemetry-retry-initial", 5*time.Second, "Initial telemetry retry interval")
	flag.DurationVar(&cfg.TelemetryRetryMaxInterval, "telemetry-retry-max-interval", 30*time.Second, "Maximum telemetry retry interval")
	flag.DurationVar(&cfg.TelemetryRetryMaxElapsed, "telemetry-retry-max-elapsed", time.Minute, "Maximum total telemetry retry time")

	// Memory flags
	flag.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", 0.9, "Ratio of container memory for GOMEMLIMIT (0.0-1.0)")

	// Logging flags
	flag.StringVar(&cfg.LogLevel, "log-level", "INFO", "Minimum log level: DEBUG, INFO, WARN, ERROR")

	// Help and version
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")

	flag.Usage = PrintUsage

	flag.Parse()

	// Load YAML config if specified
	if configFile != "" {
		yamlCfg, err := LoadYAML(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file %s: %v\n", configFile, err)
			os.Exit(1)
		}
		cfg = yamlCfg.ToConfig()
		cfg.ConfigFile = configFile
	}

	// Apply CLI overrides for explicitly set flags
	applyFlagOverrides(cfg)

	return cfg
}

// applyFlagOverrides applies CLI flag values that were explicitly set.
func applyFlagOverrides(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tag":
			cfg.Tag = f.Value.String()
		case "record-attrs":
			cfg.RecordAttrs = f.Value.String()
		case "aws-access-key-id":
			cfg.AWSAccessKeyID = f.Value.String()
		case "aws-secret-access-key":
			cfg.AWSSecretAccessKey = f.Value.String()
		case "aws-role-arn":
			cfg.AWSRoleARN = f.Value.String()
		case "aws-role-session-name":
			cfg.AWSRoleSessionName = f.Value.String()
		case "cw-endpoint":
			cfg.CWEndpoint = f.Value.String()
		case "cw-region":
			cfg.CWRegion = f.Value.String()
		case "cw-namespace":
			cfg.CWNamespace = f.Value.String()
		case "cw-metrics":
			cfg.CWMetrics = f.Value.String()
		case "cw-statistics":
			cfg.CWStatistics = f.Value.String()
		case "cw-dimension-names":
			cfg.CWDimensionNames = f.Value.String()
		case "cw-dimension-values":
			cfg.CWDimensionValues = f.Value.String()
		case "cw-group-by":
			cfg.CWGroupBy = f.Value.String()
		case "cw-period":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.CWPeriod = d
			}
		case "open-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.OpenTimeout = d
			}
		case "read-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.ReadTimeout = d
			}
		case "cw-tls-enabled":
			cfg.CWTLSEnabled = f.Value.String() == "true"
		case "cw-tls-cert":
			cfg.CWTLSCertFile = f.Value.String()
		case "cw-tls-key":
			cfg.CWTLSKeyFile = f.Value.String()
		case "cw-tls-ca":
			cfg.CWTLSCAFile = f.Value.String()
		case "cw-tls-skip-verify":
			cfg.CWTLSInsecureSkipVerify = f.Value.String() == "true"
		case "cw-tls-server-name":
			cfg.CWTLSServerName = f.Value.String()
		case "cw-force-http2":
			cfg.CWForceHTTP2 = f.Value.String() == "true"
		case "poll-interval":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.PollInterval = d
			}
		case "delayed-start":
			cfg.DelayedStart = f.Value.String() == "true"
		case "time-offset":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.TimeOffset = d
			}
		case "emit-zero":
			cfg.EmitZero = f.Value.String() == "true"
		case "fluent-host":
			cfg.FluentHost = f.Value.String()
		case "fluent-port":
			if v, ok := f.Value.(flag.Getter); ok {
				if i, ok := v.Get().(int); ok {
					cfg.FluentPort = i
				}
			}
		case "fluent-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.FluentTimeout = d
			}
		case "fluent-write-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.FluentWriteTimeout = d
			}
		case "fluent-buffer-limit":
			if v, ok := f.Value.(flag.Getter); ok {
				if i, ok := v.Get().(int64); ok {
					cfg.FluentBufferLimit = i
				}
			}
		case "stats-addr":
			cfg.StatsAddr = f.Value.String()
		case "stats-log-interval":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.StatsLogInterval = d
			}
		case "http-tls-enabled":
			cfg.HTTPTLSEnabled = f.Value.String() == "true"
		case "http-tls-cert":
			cfg.HTTPTLSCertFile = f.Value.String()
		case "http-tls-key":
			cfg.HTTPTLSKeyFile = f.Value.String()
		case "http-tls-ca":
			cfg.HTTPTLSCAFile = f.Value.String()
		case "http-tls-client-auth":
			cfg.HTTPTLSClientAuth = f.Value.String() == "true"
		case "group-cardinality-limit":
			if v, ok := f.Value.(flag.Getter); ok {
				if i, ok := v.Get().(int); ok {
					cfg.GroupCardinalityLimit = i
				}
			}
		case "cardinality-mode":
			cfg.CardinalityMode = f.Value.String()
		case "cardinality-expected-items":
			if v, ok := f.Value.(flag.Getter); ok {
				if i, ok := v.Get().(uint); ok {
					cfg.CardinalityExpectedItems = i
				}
			}
		case "cardinality-fp-rate":
			if v, ok := f.Value.(flag.Getter); ok {
				if fv, ok := v.Get().(float64); ok {
					cfg.CardinalityFPRate = fv
				}
			}
		case "telemetry-endpoint":
			cfg.TelemetryEndpoint = f.Value.String()
		case "telemetry-protocol":
			cfg.TelemetryProtocol = f.Value.String()
		case "telemetry-insecure":
			cfg.TelemetryInsecure = f.Value.String() == "true"
		case "telemetry-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.TelemetryTimeout = d
			}
		case "telemetry-push-interval":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.TelemetryPushInterval = d
			}
		case "telemetry-compression":
			cfg.TelemetryCompression = f.Value.String()
		case "telemetry-headers":
			cfg.TelemetryHeaders = f.Value.String()
		case "telemetry-shutdown-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.TelemetryShutdownTimeout = d
			}
		case "telemetry-retry-enabled":
			cfg.TelemetryRetryEnabled = f.Value.String() == "true"
		case "telemetry-retry-initial":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.TelemetryRetryInitial = d
			}
		case "telemetry-retry-max-interval":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.TelemetryRetryMaxInterval = d
			}
		case "telemetry-retry-max-elapsed":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.TelemetryRetryMaxElapsed = d
			}
		case "memory-limit-ratio":
			if v, ok := f.Value.(flag.Getter); ok {
				if fv, ok := v.Get().(float64); ok {
					cfg.MemoryLimitRatio = fv
				}
			}
		case "log-level":
			cfg.LogLevel = f.Value.String()
		case "help", "h":
			cfg.ShowHelp = f.Value.String() == "true"
		case "version", "v":
			cfg.ShowVersion = f.Value.String() == "true"
		}
	})
}

// CWClientConfig returns the CloudWatch client configuration.
func (c *Config) CWClientConfig() cwclient.Config {
	return cwclient.Config{
		Endpoint:        c.CWEndpoint,
		Region:          c.CWRegion,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
		RoleARN:         c.AWSRoleARN,
		RoleSessionName: c.AWSRoleSessionName,
		OpenTimeout:     c.OpenTimeout,
		ReadTimeout:     c.ReadTimeout,
		TLS: tlspkg.ClientConfig{
			Enabled:            c.CWTLSEnabled,
			CertFile:           c.CWTLSCertFile,
			KeyFile:            c.CWTLSKeyFile,
			CAFile:             c.CWTLSCAFile,
			InsecureSkipVerify: c.CWTLSInsecureSkipVerify,
			ServerName:         c.CWTLSServerName,
		},
		ForceHTTP2: c.CWForceHTTP2,
	}
}

// SinkConfig returns the Fluentd forward sink configuration.
func (c *Config) SinkConfig() sink.Config {
	return sink.Config{
		Host:         c.FluentHost,
		Port:         c.FluentPort,
		Timeout:      c.FluentTimeout,
		WriteTimeout: c.FluentWriteTimeout,
		BufferLimit:  int(c.FluentBufferLimit),
	}
}

// StatsTLSConfig returns the TLS configuration for the stats endpoint.
func (c *Config) StatsTLSConfig() tlspkg.ServerConfig {
	return tlspkg.ServerConfig{
		Enabled:    c.HTTPTLSEnabled,
		CertFile:   c.HTTPTLSCertFile,
		KeyFile:    c.HTTPTLSKeyFile,
		CAFile:     c.HTTPTLSCAFile,
		ClientAuth: c.HTTPTLSClientAuth,
	}
}

// CardinalityConfig returns the cardinality tracking configuration.
func (c *Config) CardinalityConfig() cardinality.Config {
	return cardinality.Config{
		Mode:              cardinality.ParseMode(c.CardinalityMode),
		ExpectedKeys:      c.CardinalityExpectedItems,
		FalsePositiveRate: c.CardinalityFPRate,
	}
}

// TelemetryConfig returns the OTLP self-monitoring configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:         c.TelemetryEndpoint,
		Protocol:         c.TelemetryProtocol,
		Insecure:         c.TelemetryInsecure,
		Timeout:          c.TelemetryTimeout,
		PushInterval:     c.TelemetryPushInterval,
		Compression:      c.TelemetryCompression,
		Headers:          parsePairs(c.TelemetryHeaders),
		ShutdownTimeout:  c.TelemetryShutdownTimeout,
		RetryEnabled:     c.TelemetryRetryEnabled,
		RetryInitial:     c.TelemetryRetryInitial,
		RetryMaxInterval: c.TelemetryRetryMaxInterval,
		RetryMaxElapsed:  c.TelemetryRetryMaxElapsed,
	}
}

// EmitterConfig returns the record emitter configuration.
func (c *Config) EmitterConfig() emitter.Config {
	return emitter.Config{
		Tag:                   c.Tag,
		EmitZero:              c.EmitZero,
		GroupBy:               c.GroupByFields(),
		ExtraAttrs:            c.RecordAttributes(),
		GroupCardinalityLimit: int64(c.GroupCardinalityLimit),
	}
}

// GroupByFields returns the group-by field names, or nil for aggregate mode.
func (c *Config) GroupByFields() []string {
	return splitCSV(c.CWGroupBy)
}

// RecordAttributes parses the record-attrs pairs. Malformed pairs are
// skipped; Warnings reports them.
func (c *Config) RecordAttributes() map[string]interface{} {
	pairs := parsePairs(c.RecordAttrs)
	if len(pairs) == 0 {
		return nil
	}
	attrs := make(map[string]interface{}, len(pairs))
	for k, v := range pairs {
		attrs[k] = v
	}
	return attrs
}

// parsePairs parses a key1=value1,key2=value2 string into a map.
// Pairs without "=" are dropped.
func parsePairs(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 && strings.TrimSpace(kv[0]) != "" {
			out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// splitCSV splits a comma-separated list, trimming whitespace and
// dropping empty entries. Returns nil for an empty list.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// joinPairs renders a string map as key1=value1,key2=value2 with sorted keys.
func joinPairs(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+m[k])
	}
	return strings.Join(pairs, ",")
}

// PrintUsage prints the help message.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `cloudwatch-forwarder - CloudWatch metrics poller with Fluentd forwarding

USAGE:
    cloudwatch-forwarder [OPTIONS]

DESCRIPTION:
    Polls CloudWatch metric statistics on a fixed interval and forwards
    every datapoint to a Fluentd forward endpoint as a tagged record.
    Group-by fields switch the poller to Metrics Insights queries that
    fan one metric out into one record per group.

OPTIONS:
    Configuration:
        -config <path>                   Path to YAML configuration file
                                         CLI flags override config file values

    Record:
        -tag <tag>                       Fluent tag for every record (default: "cloudwatch")
        -record-attrs <pairs>            Static record attributes (format: key1=value1,key2=value2)

    AWS Credentials:
        -aws-access-key-id <id>          Static AWS access key ID (default: SDK credential chain)
        -aws-secret-access-key <key>     Static AWS secret access key
        -aws-role-arn <arn>              IAM role to assume via STS
        -aws-role-session-name <name>    STS session name (default: "cloudwatch-forwarder")

    CloudWatch Query:
        -cw-endpoint <addr>              Custom CloudWatch endpoint (https assumed when no scheme)
        -cw-region <region>              AWS region (default: derived from endpoint host)
        -cw-namespace <ns>               Metric namespace, e.g. AWS/EC2 (required)
        -cw-metrics <list>               Comma-separated metrics: name or name:Statistic (required)
        -cw-statistics <stat>            Default statistic (default: "Average")
        -cw-dimension-names <list>       Comma-separated dimension names
        -cw-dimension-values <list>      Comma-separated dimension values, paired positionally
        -cw-group-by <list>              Group-by fields; non-empty selects grouped queries
        -cw-period <dur>                 Aggregation period (default: 5m, minimum 1m)

    CloudWatch Client:
        -open-timeout <dur>              Connection establishment timeout (default: 10s)
        -read-timeout <dur>              Response header timeout (default: 30s)
        -cw-force-http2                  Force HTTP/2 on the transport (default: false)

    CloudWatch TLS:
        -cw-tls-enabled                  Enable custom TLS config (default: false)
        -cw-tls-cert <path>              Path to client certificate file (mTLS)
        -cw-tls-key <path>               Path to client private key file (mTLS)
        -cw-tls-ca <path>                Path to CA certificate for server verification
        -cw-tls-skip-verify              Skip TLS certificate verification (default: false)
        -cw-tls-server-name <name>       Override server name for TLS verification

    Polling:
        -poll-interval <dur>             Interval between passes (default: 5m)
        -delayed-start                   Random first-pass delay in [0, interval) (default: false)
        -time-offset <dur>               Static query window skew (default: 0s)
        -emit-zero                       Emit {metric: 0} on empty results (default: false)

    Fluentd Forward:
        -fluent-host <host>              Forward host (default: "127.0.0.1")
        -fluent-port <port>              Forward port (default: 24224)
        -fluent-timeout <dur>            Connection timeout (default: 3s)
        -fluent-write-timeout <dur>      Write timeout (default: 3s)
        -fluent-buffer-limit <n>         Async buffer cap in bytes (default: 8388608)

    Stats:
        -stats-addr <addr>               Stats/metrics HTTP endpoint address (default: ":9090")
        -stats-log-interval <dur>        Periodic stats log cadence (default: 1m, 0 disables)

    Stats TLS:
        -http-tls-enabled                Enable TLS for the stats endpoint (default: false)
        -http-tls-cert <path>            Path to server certificate file
        -http-tls-key <path>             Path to server private key file
        -http-tls-ca <path>              Path to CA certificate for client verification (mTLS)
        -http-tls-client-auth            Require client certificates (mTLS) (default: false)

    Cardinality Tracking:
        -group-cardinality-limit <n>     Warn threshold for distinct group keys (default: 10000, 0 disables)
        -cardinality-mode <mode>         Tracking mode: bloom (memory-efficient), exact (100%% accurate), or hll (default: bloom)
        -cardinality-expected-items <n>  Expected unique items per tracker for Bloom sizing (default: 100000)
        -cardinality-fp-rate <rate>      Bloom filter false positive rate (default: 0.01 = 1%%)

    Telemetry (OTLP self-monitoring):
        -telemetry-endpoint <addr>       OTLP endpoint for own logs and metrics (empty disables)
        -telemetry-protocol <proto>      Protocol: grpc or http (default: "grpc")
        -telemetry-insecure              Use insecure connection (default: true)
        -telemetry-timeout <dur>         Export timeout (default: 10s)
        -telemetry-push-interval <dur>   Metric push interval (default: 30s)
        -telemetry-compression <type>    Compression: gzip or empty (default: none)
        -telemetry-headers <pairs>       Custom headers (format: key1=value1,key2=value2)
        -telemetry-shutdown-timeout <dur> Shutdown grace period (default: 5s)
        -telemetry-retry-enabled         Enable export retry (default: true)
        -telemetry-retry-initial <dur>   Initial retry interval (default: 5s)
        -telemetry-retry-max-interval <dur> Maximum retry interval (default: 30s)
        -telemetry-retry-max-elapsed <dur>  Maximum total retry time (default: 1m)

    Memory:
        -memory-limit-ratio <ratio>      Ratio of container memory for GOMEMLIMIT (0.0-1.0) (default: 0.9)
                                         Auto-detects container limits via cgroups (Docker/K8s)

    Logging:
        -log-level <level>               Minimum log level: DEBUG, INFO, WARN, ERROR (default: "INFO")

    General:
        -h, -help                        Show this help message
        -v, -version                     Show version

EXAMPLES:
    # Poll EC2 CPU utilization and forward to a local Fluentd
    cloudwatch-forwarder -cw-namespace AWS/EC2 -cw-metrics CPUUtilization

    # Use YAML configuration file
    cloudwatch-forwarder -config /etc/cloudwatch-forwarder/config.yaml

    # Use config file with CLI overrides
    cloudwatch-forwarder -config config.yaml -poll-interval 1m

    # Per-metric statistics
    cloudwatch-forwarder -cw-namespace AWS/ELB \
        -cw-metrics "RequestCount:Sum,Latency:p99,HealthyHostCount"

    # Filter by dimension
    cloudwatch-forwarder -cw-namespace AWS/EC2 -cw-metrics CPUUtilization \
        -cw-dimension-names InstanceId -cw-dimension-values i-0abc1234

    # Group results by region and availability zone
    cloudwatch-forwarder -cw-namespace AWS/EC2 -cw-metrics CPUUtilization \
        -cw-group-by Region,AvailabilityZone

    # Assume a role for cross-account polling
    cloudwatch-forwarder -cw-namespace AWS/EC2 -cw-metrics CPUUtilization \
        -aws-role-arn arn:aws:iam::123456789012:role/cloudwatch-reader

    # Forward to a remote Fluentd with larger buffering
    cloudwatch-forwarder -cw-namespace AWS/EC2 -cw-metrics CPUUtilization \
        -fluent-host fluentd.logging.svc -fluent-buffer-limit 33554432

    # Spread many replicas across the poll interval
    cloudwatch-forwarder -cw-namespace AWS/EC2 -cw-metrics CPUUtilization \
        -delayed-start

    # Serve stats over TLS
    cloudwatch-forwarder -cw-namespace AWS/EC2 -cw-metrics CPUUtilization \
        -http-tls-enabled \
        -http-tls-cert /etc/certs/server.crt \
        -http-tls-key /etc/certs/server.key

    # Export own logs and metrics via OTLP
    cloudwatch-forwarder -cw-namespace AWS/EC2 -cw-metrics CPUUtilization \
        -telemetry-endpoint otel-collector:4317

`)
}

// PrintVersion prints the version.
func PrintVersion() {
	fmt.Printf("cloudwatch-forwarder version %s\n", version)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Tag:                       "cloudwatch",
		AWSRoleSessionName:        "cloudwatch-forwarder",
		CWStatistics:              "Average",
		CWPeriod:                  5 * time.Minute,
		OpenTimeout:               10 * time.Second,
		ReadTimeout:               30 * time.Second,
		PollInterval:              5 * time.Minute,
		TimeOffset:                0,
		FluentHost:                "127.0.0.1",
		FluentPort:                24224,
		FluentTimeout:             3 * time.Second,
		FluentWriteTimeout:        3 * time.Second,
		FluentBufferLimit:         8388608, // 8MB
		StatsAddr:                 ":9090",
		StatsLogInterval:          time.Minute,
		GroupCardinalityLimit:     10000,
		CardinalityMode:           "bloom",
		CardinalityExpectedItems:  100000,
		CardinalityFPRate:         0.01,
		TelemetryProtocol:         "grpc",
		TelemetryInsecure:         true,
		TelemetryTimeout:          10 * time.Second,
		TelemetryPushInterval:     30 * time.Second,
		TelemetryShutdownTimeout:  5 * time.Second,
		TelemetryRetryEnabled:     true,
		TelemetryRetryInitial:     5 * time.Second,
		TelemetryRetryMaxInterval: 30 * time.Second,
		TelemetryRetryMaxElapsed:  time.Minute,
		MemoryLimitRatio:          0.9,
		LogLevel:                  "INFO",
	}
}
