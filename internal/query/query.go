package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/szibis/cloudwatch-forwarder/internal/logging"
	"github.com/szibis/cloudwatch-forwarder/internal/statistic"
)

// MetricSpec is one metric to poll plus the statistic resolved for it.
// Immutable after parsing.
type MetricSpec struct {
	Name      string
	Statistic string
}

func (m MetricSpec) String() string {
	return m.Name + ":" + m.Statistic
}

// ParseMetricList parses a comma-separated metric list where each entry is
// either "name" or "name:Statistic". Entries without an explicit statistic
// get defaultStatistic. Unrecognized statistic tokens are kept as-is with a
// warning; the query layer passes them through and the emitter absorbs the
// resulting empty lookups.
func ParseMetricList(csv, defaultStatistic string) []MetricSpec {
	var specs []MetricSpec
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name := entry
		stat := defaultStatistic
		if idx := strings.Index(entry, ":"); idx >= 0 {
			name = entry[:idx]
			stat = entry[idx+1:]
		}
		if !statistic.Known(stat) {
			logging.Warn("unrecognized statistic token, passing through unchanged",
				logging.F("metric", name, "statistic", stat))
		}
		specs = append(specs, MetricSpec{Name: name, Statistic: stat})
	}
	return specs
}

// Builder constructs CloudWatch request inputs for one service instance.
// Mode is fixed at construction: group-by fields present means every metric
// is fetched with a grouped metric-data query, otherwise with an aggregate
// statistics query.
type Builder struct {
	Namespace  string
	Period     time.Duration
	Offset     time.Duration
	Dimensions []cwtypes.Dimension
	GroupBy    []string
}

// Grouped reports whether the builder produces grouped metric-data queries.
func (b *Builder) Grouped() bool {
	return len(b.GroupBy) > 0
}

// AggregateInput builds a GetMetricStatistics request for one metric over a
// look-back window of 10 periods ending at now minus the configured offset.
func (b *Builder) AggregateInput(spec MetricSpec, now time.Time) *cloudwatch.GetMetricStatisticsInput {
	end := now.Add(-b.Offset)
	start := end.Add(-10 * b.Period)
	return &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(b.Namespace),
		MetricName: aws.String(spec.Name),
		Statistics: []cwtypes.Statistic{cwtypes.Statistic(spec.Statistic)},
		Dimensions: b.Dimensions,
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(int32(b.Period / time.Second)),
	}
}

// GroupedInput builds a GetMetricData request carrying a single Metrics
// Insights expression, over a look-back window of exactly one period ending
// at now minus the configured offset.
func (b *Builder) GroupedInput(spec MetricSpec, now time.Time) *cloudwatch.GetMetricDataInput {
	end := now.Add(-b.Offset)
	start := end.Add(-b.Period)
	code, _ := statistic.ShortForm(spec.Statistic)
	expr := fmt.Sprintf("SELECT %s(%s) FROM %s GROUP BY %s",
		code, quoteIdent(spec.Name), quoteIdent(b.Namespace), strings.Join(b.GroupBy, ", "))
	return &cloudwatch.GetMetricDataInput{
		StartTime: aws.Time(start),
		EndTime:   aws.Time(end),
		MetricDataQueries: []cwtypes.MetricDataQuery{
			{
				Id:         aws.String("q0"),
				Expression: aws.String(expr),
				Period:     aws.Int32(int32(b.Period / time.Second)),
			},
		},
	}
}

// quoteIdent double-quotes a Metrics Insights identifier unless it is a
// plain identifier. Namespaces like AWS/EC2 require quoting.
func quoteIdent(s string) string {
	if isPlainIdent(s) {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
