package functional

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/szibis/cloudwatch-forwarder/internal/config"
	"github.com/szibis/cloudwatch-forwarder/internal/emitter"
	"github.com/szibis/cloudwatch-forwarder/internal/query"
	"github.com/szibis/cloudwatch-forwarder/internal/stats"
)

// TestFunctional_Config_YAMLToQueryInputs loads a YAML file and checks the
// flattened configuration produces the exact CloudWatch request the poll
// worker would send.
func TestFunctional_Config_YAMLToQueryInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
cloudwatch:
  namespace: AWS/ApplicationELB
  metrics:
    - RequestCount:Sum
    - TargetResponseTime
  dimension_names:
    - LoadBalancer
  dimension_values:
    - app/prod-web/1234
  period: 2m
poll:
  interval: 2m
  time_offset: 10m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	y, err := config.LoadYAML(path)
	if err != nil {
		t.Fatalf("Failed to load YAML: %v", err)
	}
	cfg := y.ToConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Config failed validation: %v", err)
	}

	specs := query.ParseMetricList(cfg.CWMetrics, cfg.CWStatistics)
	if len(specs) != 2 {
		t.Fatalf("Expected 2 metric specs, got %d", len(specs))
	}
	if specs[0].Name != "RequestCount" || specs[0].Statistic != "Sum" {
		t.Errorf("Expected RequestCount:Sum, got %s", specs[0])
	}
	if specs[1].Name != "TargetResponseTime" || specs[1].Statistic != "Average" {
		t.Errorf("Expected default statistic Average for TargetResponseTime, got %s", specs[1])
	}

	builder := &query.Builder{
		Namespace:  cfg.CWNamespace,
		Period:     cfg.CWPeriod,
		Offset:     cfg.TimeOffset,
		Dimensions: query.BuildDimensions(cfg.CWDimensionNames, cfg.CWDimensionValues),
		GroupBy:    cfg.GroupByFields(),
	}
	if builder.Grouped() {
		t.Fatal("Expected aggregate mode without group-by fields")
	}

	now := time.Now()
	in := builder.AggregateInput(specs[0], now)
	wantEnd := now.Add(-10 * time.Minute)
	if !aws.ToTime(in.EndTime).Equal(wantEnd) {
		t.Errorf("Expected window end %v with time offset applied, got %v", wantEnd, aws.ToTime(in.EndTime))
	}
	if got := aws.ToTime(in.EndTime).Sub(aws.ToTime(in.StartTime)); got != 20*time.Minute {
		t.Errorf("Expected 10-period window of 20m, got %s", got)
	}
	if aws.ToInt32(in.Period) != 120 {
		t.Errorf("Expected period 120s, got %d", aws.ToInt32(in.Period))
	}
	if len(in.Dimensions) != 1 ||
		aws.ToString(in.Dimensions[0].Name) != "LoadBalancer" ||
		aws.ToString(in.Dimensions[0].Value) != "app/prod-web/1234" {
		t.Errorf("Expected load balancer dimension, got %v", in.Dimensions)
	}
}

// TestFunctional_Config_GroupBySwitchesToGroupedMode checks a group_by list
// in YAML flips the builder into grouped mode with a quoted namespace in the
// Metrics Insights expression.
func TestFunctional_Config_GroupBySwitchesToGroupedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
cloudwatch:
  namespace: AWS/Lambda
  metrics:
    - Invocations:Sum
  group_by:
    - FunctionName
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	y, err := config.LoadYAML(path)
	if err != nil {
		t.Fatalf("Failed to load YAML: %v", err)
	}
	cfg := y.ToConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Config failed validation: %v", err)
	}

	builder := &query.Builder{
		Namespace: cfg.CWNamespace,
		Period:    cfg.CWPeriod,
		Offset:    cfg.TimeOffset,
		GroupBy:   cfg.GroupByFields(),
	}
	if !builder.Grouped() {
		t.Fatal("Expected grouped mode with group-by fields configured")
	}

	specs := query.ParseMetricList(cfg.CWMetrics, cfg.CWStatistics)
	in := builder.GroupedInput(specs[0], time.Now())
	wantExpr := `SELECT SUM(Invocations) FROM "AWS/Lambda" GROUP BY FunctionName`
	if got := aws.ToString(in.MetricDataQueries[0].Expression); got != wantExpr {
		t.Errorf("Expected expression %q, got %q", wantExpr, got)
	}
}

// TestFunctional_Config_EmitterWiring converts a configuration into emitter
// settings and checks the static record attributes land on every emitted
// record.
func TestFunctional_Config_EmitterWiring(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tag = "billing.cloudwatch"
	cfg.RecordAttrs = "env=prod,team=infra"

	snk := &captureSink{}
	st := stats.NewCollector()
	em := emitter.New(cfg.EmitterConfig(), snk, st, nil)

	now := time.Now().Truncate(time.Second)
	em.EmitAggregate(query.MetricSpec{Name: "CPUUtilization", Statistic: "Average"},
		aggregateOutput(now, 63.5), now)

	records := snk.snapshot()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Tag != "billing.cloudwatch" {
		t.Errorf("Expected configured tag, got %s", rec.Tag)
	}
	if rec.Record["env"] != "prod" || rec.Record["team"] != "infra" {
		t.Errorf("Expected record attributes env=prod team=infra, got %v", rec.Record)
	}
	if v, ok := rec.Record["CPUUtilization"].(float64); !ok || v != 63.5 {
		t.Errorf("Expected CPUUtilization=63.5, got %v", rec.Record["CPUUtilization"])
	}
}
