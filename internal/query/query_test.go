package query

import (
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

func TestParseMetricList(t *testing.T) {
	tests := []struct {
		name     string
		csv      string
		defStat  string
		expected []MetricSpec
	}{
		{
			name:     "single name uses default",
			csv:      "CPUUtilization",
			defStat:  "Average",
			expected: []MetricSpec{{Name: "CPUUtilization", Statistic: "Average"}},
		},
		{
			name:     "explicit statistic",
			csv:      "NetworkIn:Sum",
			defStat:  "Average",
			expected: []MetricSpec{{Name: "NetworkIn", Statistic: "Sum"}},
		},
		{
			name:    "mixed list",
			csv:     "CPUUtilization,NetworkIn:Sum,DiskReadOps:Maximum",
			defStat: "Average",
			expected: []MetricSpec{
				{Name: "CPUUtilization", Statistic: "Average"},
				{Name: "NetworkIn", Statistic: "Sum"},
				{Name: "DiskReadOps", Statistic: "Maximum"},
			},
		},
		{
			name:    "whitespace and empty entries",
			csv:     " CPUUtilization , ,NetworkIn:Sum,",
			defStat: "Average",
			expected: []MetricSpec{
				{Name: "CPUUtilization", Statistic: "Average"},
				{Name: "NetworkIn", Statistic: "Sum"},
			},
		},
		{
			name:     "unknown statistic kept as-is",
			csv:      "Latency:p99",
			defStat:  "Average",
			expected: []MetricSpec{{Name: "Latency", Statistic: "p99"}},
		},
		{
			name:     "empty list",
			csv:      "",
			defStat:  "Average",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMetricList(tt.csv, tt.defStat)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d specs, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("spec %d = %+v, want %+v", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestMetricListRejoin(t *testing.T) {
	csv := "CPUUtilization:Average,NetworkIn:Sum,DiskReadOps:Maximum"
	specs := ParseMetricList(csv, "Average")

	parts := make([]string, 0, len(specs))
	for _, s := range specs {
		parts = append(parts, s.String())
	}
	if rejoined := strings.Join(parts, ","); rejoined != csv {
		t.Errorf("rejoin mismatch: got %q, want %q", rejoined, csv)
	}
}

func TestAggregateInput(t *testing.T) {
	b := &Builder{
		Namespace: "AWS/EC2",
		Period:    300 * time.Second,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("InstanceId"), Value: aws.String("i-12345")},
		},
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	input := b.AggregateInput(MetricSpec{Name: "CPUUtilization", Statistic: "Average"}, now)

	if *input.Namespace != "AWS/EC2" {
		t.Errorf("expected namespace AWS/EC2, got %s", *input.Namespace)
	}
	if *input.MetricName != "CPUUtilization" {
		t.Errorf("expected metric CPUUtilization, got %s", *input.MetricName)
	}
	if len(input.Statistics) != 1 || input.Statistics[0] != cwtypes.Statistic("Average") {
		t.Errorf("expected statistics [Average], got %v", input.Statistics)
	}
	if *input.Period != 300 {
		t.Errorf("expected period 300, got %d", *input.Period)
	}
	if !input.EndTime.Equal(now) {
		t.Errorf("expected end time %v, got %v", now, *input.EndTime)
	}
	wantStart := now.Add(-3000 * time.Second)
	if !input.StartTime.Equal(wantStart) {
		t.Errorf("expected start time %v (10 periods back), got %v", wantStart, *input.StartTime)
	}
	if len(input.Dimensions) != 1 || *input.Dimensions[0].Name != "InstanceId" {
		t.Errorf("expected dimensions to pass through, got %v", input.Dimensions)
	}
}

func TestAggregateInputOffsetShiftsWindow(t *testing.T) {
	b := &Builder{Namespace: "ns", Period: 60 * time.Second, Offset: 120 * time.Second}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	input := b.AggregateInput(MetricSpec{Name: "m", Statistic: "Sum"}, now)

	wantEnd := now.Add(-120 * time.Second)
	if !input.EndTime.Equal(wantEnd) {
		t.Errorf("expected end time %v, got %v", wantEnd, *input.EndTime)
	}
	wantStart := wantEnd.Add(-600 * time.Second)
	if !input.StartTime.Equal(wantStart) {
		t.Errorf("expected start time %v, got %v", wantStart, *input.StartTime)
	}
}

func TestGroupedInput(t *testing.T) {
	b := &Builder{
		Namespace: "AWS/EC2",
		Period:    300 * time.Second,
		GroupBy:   []string{"region", "env"},
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	input := b.GroupedInput(MetricSpec{Name: "CPUUtilization", Statistic: "Average"}, now)

	if len(input.MetricDataQueries) != 1 {
		t.Fatalf("expected 1 query, got %d", len(input.MetricDataQueries))
	}
	q := input.MetricDataQueries[0]
	wantExpr := `SELECT AVG(CPUUtilization) FROM "AWS/EC2" GROUP BY region, env`
	if *q.Expression != wantExpr {
		t.Errorf("expression = %q, want %q", *q.Expression, wantExpr)
	}
	if *q.Id != "q0" {
		t.Errorf("expected id q0, got %s", *q.Id)
	}
	if *q.Period != 300 {
		t.Errorf("expected period 300, got %d", *q.Period)
	}
	if !input.EndTime.Equal(now) {
		t.Errorf("expected end time %v, got %v", now, *input.EndTime)
	}
	wantStart := now.Add(-300 * time.Second)
	if !input.StartTime.Equal(wantStart) {
		t.Errorf("expected start one period back %v, got %v", wantStart, *input.StartTime)
	}
}

func TestGroupedInputUnknownStatisticPassthrough(t *testing.T) {
	b := &Builder{Namespace: "ns", Period: 60 * time.Second, GroupBy: []string{"host"}}
	now := time.Now()

	input := b.GroupedInput(MetricSpec{Name: "Latency", Statistic: "p99"}, now)

	expr := *input.MetricDataQueries[0].Expression
	if !strings.HasPrefix(expr, "SELECT p99(Latency)") {
		t.Errorf("expected raw token passthrough in expression, got %q", expr)
	}
}

func TestGrouped(t *testing.T) {
	if (&Builder{}).Grouped() {
		t.Error("expected Grouped()=false without group-by fields")
	}
	if !(&Builder{GroupBy: []string{"az"}}).Grouped() {
		t.Error("expected Grouped()=true with group-by fields")
	}
}

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"CPUUtilization", "CPUUtilization"},
		{"my_metric", "my_metric"},
		{"AWS/EC2", `"AWS/EC2"`},
		{"9lives", `"9lives"`},
		{"with space", `"with space"`},
		{`has"quote`, `"has""quote"`},
		{"", `""`},
	}
	for _, tt := range tests {
		if got := quoteIdent(tt.in); got != tt.expected {
			t.Errorf("quoteIdent(%q) = %q, want %q", tt.in, got, tt.expected)
		}
	}
}
