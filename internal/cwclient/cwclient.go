package cwclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"

	"github.com/szibis/cloudwatch-forwarder/internal/logging"
	tlspkg "github.com/szibis/cloudwatch-forwarder/internal/tls"
)

var (
	// apiRequestsTotal tracks CloudWatch API calls by operation
	apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudwatch_forwarder_api_requests_total",
		Help: "Total number of CloudWatch API requests by operation",
	}, []string{"operation"})

	// apiErrorsTotal tracks CloudWatch API errors by operation and type
	apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudwatch_forwarder_api_errors_total",
		Help: "Total number of CloudWatch API errors by operation and error type",
	}, []string{"operation", "error_type"})
)

func init() {
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiErrorsTotal)
}

// API is the slice of the CloudWatch client the polling engine consumes.
// The SDK client satisfies it; tests substitute fakes.
type API interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
	GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// Config holds everything needed to construct the CloudWatch client.
type Config struct {
	// Endpoint is the CloudWatch endpoint. A missing scheme is normalized
	// to https. Empty means the SDK default for the region.
	Endpoint string
	// Region overrides region derivation from the endpoint host.
	Region string
	// AccessKeyID and SecretAccessKey select static credentials. When empty
	// the SDK default provider chain applies.
	AccessKeyID     string
	SecretAccessKey string
	// RoleARN, when set, wraps the base credentials in an STS assume-role
	// provider using RoleSessionName.
	RoleARN         string
	RoleSessionName string
	// OpenTimeout bounds connection establishment, ReadTimeout bounds the
	// wait for response headers.
	OpenTimeout time.Duration
	ReadTimeout time.Duration
	// TLS optionally overrides the client TLS configuration.
	TLS tlspkg.ClientConfig
	// ForceHTTP2 enables HTTP/2 on the transport.
	ForceHTTP2 bool
}

// New constructs a CloudWatch client from the config. The client is built
// once per poll worker so a replacement worker starts from a fresh
// connection pool.
func New(ctx context.Context, cfg Config) (*cloudwatch.Client, error) {
	endpoint := NormalizeEndpoint(cfg.Endpoint)
	region := DeriveRegion(cfg.Endpoint, cfg.Region)

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.RoleARN != "" {
		sessionName := cfg.RoleSessionName
		if sessionName == "" {
			sessionName = "cloudwatch-forwarder"
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.RoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = sessionName
			})
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// newHTTPClient builds the transport carrying the open/read timeouts and
// optional TLS overrides.
func newHTTPClient(cfg Config) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.OpenTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := cfg.TLS.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	} else {
		transport.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	if cfg.ForceHTTP2 {
		http2Transport, err := http2.ConfigureTransports(transport)
		if err == nil && http2Transport != nil {
			http2Transport.ReadIdleTimeout = 30 * time.Second
		}
	}

	return &http.Client{Transport: transport}, nil
}

// NormalizeEndpoint prefixes https:// when the endpoint carries no scheme.
// Empty input stays empty.
func NormalizeEndpoint(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if !hasScheme(endpoint) {
		return "https://" + endpoint
	}
	return endpoint
}

// DeriveRegion resolves the region: an explicit region wins, otherwise the
// second dot-separated label of the endpoint host (the AWS convention, e.g.
// monitoring.eu-west-1.amazonaws.com). When neither yields a region the
// fallback is us-east-1 with a warning.
func DeriveRegion(endpoint, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if endpoint != "" {
		if u, err := url.Parse(NormalizeEndpoint(endpoint)); err == nil {
			labels := strings.Split(u.Hostname(), ".")
			if len(labels) >= 2 && labels[1] != "" {
				return labels[1]
			}
		}
	}
	logging.Warn("could not derive region from endpoint, falling back to us-east-1",
		logging.F("endpoint", endpoint))
	return "us-east-1"
}

// hasScheme checks if a URL has a scheme.
func hasScheme(url string) bool {
	return len(url) >= 7 && (url[:7] == "http://" || (len(url) >= 8 && url[:8] == "https://"))
}

// Instrumented wraps an API with request and error counters.
type Instrumented struct {
	api API
}

// NewInstrumented wraps api so every call increments the request counter and
// every failure increments the error counter with its classified type.
func NewInstrumented(api API) *Instrumented {
	return &Instrumented{api: api}
}

func (c *Instrumented) GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	apiRequestsTotal.WithLabelValues("GetMetricStatistics").Inc()
	out, err := c.api.GetMetricStatistics(ctx, params, optFns...)
	if err != nil {
		apiErrorsTotal.WithLabelValues("GetMetricStatistics", string(Classify(err))).Inc()
	}
	return out, err
}

func (c *Instrumented) GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	apiRequestsTotal.WithLabelValues("GetMetricData").Inc()
	out, err := c.api.GetMetricData(ctx, params, optFns...)
	if err != nil {
		apiErrorsTotal.WithLabelValues("GetMetricData", string(Classify(err))).Inc()
	}
	return out, err
}
