package functional

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/szibis/cloudwatch-forwarder/internal/cardinality"
	"github.com/szibis/cloudwatch-forwarder/internal/cwclient"
	"github.com/szibis/cloudwatch-forwarder/internal/emitter"
	"github.com/szibis/cloudwatch-forwarder/internal/poller"
	"github.com/szibis/cloudwatch-forwarder/internal/query"
	"github.com/szibis/cloudwatch-forwarder/internal/sink"
	"github.com/szibis/cloudwatch-forwarder/internal/stats"
)

// capturedRecord is one record handed to the capture sink.
type capturedRecord struct {
	Tag    string
	TS     time.Time
	Record map[string]interface{}
}

// captureSink collects emitted records in memory instead of posting them to
// a fluent endpoint.
type captureSink struct {
	mu      sync.Mutex
	records []capturedRecord
}

var _ sink.Sink = (*captureSink)(nil)

func (s *captureSink) Emit(tag string, ts time.Time, record map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, capturedRecord{Tag: tag, TS: ts, Record: record})
	return nil
}

func (s *captureSink) Healthy() bool { return true }
func (s *captureSink) Close() error  { return nil }

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *captureSink) snapshot() []capturedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capturedRecord, len(s.records))
	copy(out, s.records)
	return out
}

// fakeCloudWatch serves canned responses and records every request input.
type fakeCloudWatch struct {
	mu          sync.Mutex
	statsOut    *cloudwatch.GetMetricStatisticsOutput
	dataOut     *cloudwatch.GetMetricDataOutput
	statsInputs []*cloudwatch.GetMetricStatisticsInput
	dataInputs  []*cloudwatch.GetMetricDataInput
}

func (f *fakeCloudWatch) GetMetricStatistics(_ context.Context, params *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsInputs = append(f.statsInputs, params)
	return f.statsOut, nil
}

func (f *fakeCloudWatch) GetMetricData(_ context.Context, params *cloudwatch.GetMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dataInputs = append(f.dataInputs, params)
	return f.dataOut, nil
}

func (f *fakeCloudWatch) firstStatsInput() *cloudwatch.GetMetricStatisticsInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statsInputs) == 0 {
		return nil
	}
	return f.statsInputs[0]
}

func (f *fakeCloudWatch) firstDataInput() *cloudwatch.GetMetricDataInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dataInputs) == 0 {
		return nil
	}
	return f.dataInputs[0]
}

// stallingCloudWatch blocks every call until the context is cancelled.
type stallingCloudWatch struct{}

func (s *stallingCloudWatch) GetMetricStatistics(ctx context.Context, _ *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stallingCloudWatch) GetMetricData(ctx context.Context, _ *cloudwatch.GetMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// erroringCloudWatch fails every call.
type erroringCloudWatch struct {
	err error
}

func (e *erroringCloudWatch) GetMetricStatistics(_ context.Context, _ *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	return nil, e.err
}

func (e *erroringCloudWatch) GetMetricData(_ context.Context, _ *cloudwatch.GetMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	return nil, e.err
}

func aggregateOutput(ts time.Time, avg float64) *cloudwatch.GetMetricStatisticsOutput {
	return &cloudwatch.GetMetricStatisticsOutput{
		Label: aws.String("CPUUtilization"),
		Datapoints: []cwtypes.Datapoint{{
			Timestamp: aws.Time(ts),
			Average:   aws.Float64(avg),
		}},
	}
}

// startWatchdog runs the watchdog in the background and returns a channel
// closed when it exits.
func startWatchdog(ctx context.Context, wd *poller.Watchdog) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		wd.Run(ctx)
	}()
	return done
}

// waitForCondition polls cond until it returns true or the timeout expires.
func waitForCondition(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestFunctional_Poll_AggregateEndToEnd drives one aggregate poll pass from
// the watchdog through the query builder, a fake CloudWatch API, and the
// emitter down to the sink.
func TestFunctional_Poll_AggregateEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	latest := time.Now().Truncate(time.Minute)
	fake := &fakeCloudWatch{
		statsOut: &cloudwatch.GetMetricStatisticsOutput{
			Label: aws.String("CPUUtilization"),
			Datapoints: []cwtypes.Datapoint{
				{Timestamp: aws.Time(latest.Add(-4 * time.Minute)), Average: aws.Float64(17.0)},
				{Timestamp: aws.Time(latest), Average: aws.Float64(42.5)},
				{Timestamp: aws.Time(latest.Add(-2 * time.Minute)), Average: aws.Float64(23.0)},
			},
		},
	}
	snk := &captureSink{}
	st := stats.NewCollector()

	em := emitter.New(emitter.Config{
		Tag:        "cloudwatch",
		ExtraAttrs: map[string]interface{}{"env": "prod"},
	}, snk, st, nil)

	wd := poller.NewWatchdog(poller.Config{Interval: time.Minute}, poller.Deps{
		Specs: query.ParseMetricList("CPUUtilization", "Average"),
		Builder: &query.Builder{
			Namespace:  "AWS/EC2",
			Period:     time.Minute,
			Dimensions: query.BuildDimensions("InstanceId", "i-0abc1234"),
		},
		Emitter:   em,
		NewClient: func(context.Context) (cwclient.API, error) { return fake, nil },
		Stats:     st,
	})

	done := startWatchdog(ctx, wd)

	// The first pass runs immediately after spawn.
	waitForCondition(t, 3*time.Second, "first emitted record", func() bool {
		return snk.count() >= 1
	})
	cancel()
	<-done

	records := snk.snapshot()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Tag != "cloudwatch" {
		t.Errorf("Expected tag cloudwatch, got %s", rec.Tag)
	}
	if !rec.TS.Equal(latest) {
		t.Errorf("Expected latest datapoint timestamp %v, got %v", latest, rec.TS)
	}
	if v, ok := rec.Record["CPUUtilization"].(float64); !ok || v != 42.5 {
		t.Errorf("Expected CPUUtilization=42.5, got %v", rec.Record["CPUUtilization"])
	}
	if rec.Record["env"] != "prod" {
		t.Errorf("Expected env=prod attribute, got %v", rec.Record["env"])
	}

	in := fake.firstStatsInput()
	if in == nil {
		t.Fatal("No GetMetricStatistics request recorded")
	}
	if aws.ToString(in.Namespace) != "AWS/EC2" {
		t.Errorf("Expected namespace AWS/EC2, got %s", aws.ToString(in.Namespace))
	}
	if aws.ToString(in.MetricName) != "CPUUtilization" {
		t.Errorf("Expected metric CPUUtilization, got %s", aws.ToString(in.MetricName))
	}
	if aws.ToInt32(in.Period) != 60 {
		t.Errorf("Expected period 60s, got %d", aws.ToInt32(in.Period))
	}
	if len(in.Statistics) != 1 || string(in.Statistics[0]) != "Average" {
		t.Errorf("Expected statistics [Average], got %v", in.Statistics)
	}
	if len(in.Dimensions) != 1 ||
		aws.ToString(in.Dimensions[0].Name) != "InstanceId" ||
		aws.ToString(in.Dimensions[0].Value) != "i-0abc1234" {
		t.Errorf("Expected dimension InstanceId=i-0abc1234, got %v", in.Dimensions)
	}
	if window := aws.ToTime(in.EndTime).Sub(aws.ToTime(in.StartTime)); window != 10*time.Minute {
		t.Errorf("Expected 10-period look-back window, got %s", window)
	}

	snap := st.GetSnapshot()
	if snap.PollCycles[stats.ModeAggregate] != 1 {
		t.Errorf("Expected 1 aggregate poll cycle, got %d", snap.PollCycles[stats.ModeAggregate])
	}
	if snap.DatapointsFetched != 3 {
		t.Errorf("Expected 3 fetched datapoints, got %d", snap.DatapointsFetched)
	}
	if snap.RecordsEmitted != 1 {
		t.Errorf("Expected 1 emitted record, got %d", snap.RecordsEmitted)
	}
}

// TestFunctional_Poll_GroupedEndToEnd drives one grouped poll pass and checks
// the Metrics Insights expression, the per-group records, and the cardinality
// tracker feed.
func TestFunctional_Poll_GroupedEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := time.Now().Truncate(time.Minute)
	fake := &fakeCloudWatch{
		dataOut: &cloudwatch.GetMetricDataOutput{
			MetricDataResults: []cwtypes.MetricDataResult{
				{
					Label:      aws.String("us-east-1 use1-az1"),
					Timestamps: []time.Time{base, base.Add(-time.Minute)},
					Values:     []float64{120, 98},
				},
				{
					Label:      aws.String("eu-west-1 euw1-az2"),
					Timestamps: []time.Time{base},
					Values:     []float64{77},
				},
			},
		},
	}
	snk := &captureSink{}
	st := stats.NewCollector()
	groupBy := []string{"Region", "AvailabilityZone"}
	tracker := cardinality.NewTracker(cardinality.Config{Mode: cardinality.ModeExact})

	em := emitter.New(emitter.Config{
		Tag:     "cloudwatch",
		GroupBy: groupBy,
	}, snk, st, tracker)

	wd := poller.NewWatchdog(poller.Config{Interval: time.Minute}, poller.Deps{
		Specs: query.ParseMetricList("RequestCount:Sum", "Average"),
		Builder: &query.Builder{
			Namespace: "AWS/EC2",
			Period:    time.Minute,
			GroupBy:   groupBy,
		},
		Emitter:   em,
		NewClient: func(context.Context) (cwclient.API, error) { return fake, nil },
		Stats:     st,
	})

	done := startWatchdog(ctx, wd)
	waitForCondition(t, 3*time.Second, "grouped records", func() bool {
		return snk.count() >= 3
	})
	cancel()
	<-done

	records := snk.snapshot()
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	found := false
	for _, rec := range records {
		v, ok := rec.Record["RequestCount"].(float64)
		if !ok || v != 77 {
			continue
		}
		found = true
		if rec.Record["Region"] != "eu-west-1" {
			t.Errorf("Expected Region=eu-west-1, got %v", rec.Record["Region"])
		}
		if rec.Record["AvailabilityZone"] != "euw1-az2" {
			t.Errorf("Expected AvailabilityZone=euw1-az2, got %v", rec.Record["AvailabilityZone"])
		}
		if !rec.TS.Equal(base) {
			t.Errorf("Expected record timestamp %v, got %v", base, rec.TS)
		}
	}
	if !found {
		t.Error("Record for the eu-west-1 group not emitted")
	}

	in := fake.firstDataInput()
	if in == nil {
		t.Fatal("No GetMetricData request recorded")
	}
	if len(in.MetricDataQueries) != 1 {
		t.Fatalf("Expected 1 metric data query, got %d", len(in.MetricDataQueries))
	}
	q := in.MetricDataQueries[0]
	wantExpr := `SELECT SUM(RequestCount) FROM "AWS/EC2" GROUP BY Region, AvailabilityZone`
	if aws.ToString(q.Expression) != wantExpr {
		t.Errorf("Expected expression %q, got %q", wantExpr, aws.ToString(q.Expression))
	}
	if aws.ToInt32(q.Period) != 60 {
		t.Errorf("Expected period 60s, got %d", aws.ToInt32(q.Period))
	}
	if window := aws.ToTime(in.EndTime).Sub(aws.ToTime(in.StartTime)); window != time.Minute {
		t.Errorf("Expected one-period look-back window, got %s", window)
	}

	if got := tracker.Distinct(); got != 2 {
		t.Errorf("Expected 2 distinct group keys, got %d", got)
	}
	snap := st.GetSnapshot()
	if snap.PollCycles[stats.ModeGrouped] != 1 {
		t.Errorf("Expected 1 grouped poll cycle, got %d", snap.PollCycles[stats.ModeGrouped])
	}
	if snap.DatapointsFetched != 3 {
		t.Errorf("Expected 3 fetched datapoints, got %d", snap.DatapointsFetched)
	}
	if snap.RecordsEmitted != 3 {
		t.Errorf("Expected 3 emitted records, got %d", snap.RecordsEmitted)
	}
}

// TestFunctional_Poll_EmitZeroSynthesizesRecord checks that emit-zero turns
// an empty statistics response into a single zero-valued record.
func TestFunctional_Poll_EmitZeroSynthesizesRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeCloudWatch{
		statsOut: &cloudwatch.GetMetricStatisticsOutput{Label: aws.String("CPUUtilization")},
	}
	snk := &captureSink{}
	st := stats.NewCollector()

	em := emitter.New(emitter.Config{Tag: "cloudwatch", EmitZero: true}, snk, st, nil)
	wd := poller.NewWatchdog(poller.Config{Interval: time.Minute}, poller.Deps{
		Specs:     query.ParseMetricList("CPUUtilization", "Average"),
		Builder:   &query.Builder{Namespace: "AWS/EC2", Period: time.Minute},
		Emitter:   em,
		NewClient: func(context.Context) (cwclient.API, error) { return fake, nil },
		Stats:     st,
	})

	done := startWatchdog(ctx, wd)
	waitForCondition(t, 3*time.Second, "synthetic zero record", func() bool {
		return snk.count() >= 1
	})
	cancel()
	<-done

	records := snk.snapshot()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if v, ok := records[0].Record["CPUUtilization"].(float64); !ok || v != 0 {
		t.Errorf("Expected CPUUtilization=0, got %v", records[0].Record["CPUUtilization"])
	}

	snap := st.GetSnapshot()
	if snap.EmptyResults != 1 {
		t.Errorf("Expected 1 empty result, got %d", snap.EmptyResults)
	}
	if snap.ZeroEmissions != 1 {
		t.Errorf("Expected 1 zero emission, got %d", snap.ZeroEmissions)
	}
}

// TestFunctional_Poll_EmptyResultSkipsEmission checks that without emit-zero
// an empty response is counted and nothing reaches the sink.
func TestFunctional_Poll_EmptyResultSkipsEmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeCloudWatch{
		statsOut: &cloudwatch.GetMetricStatisticsOutput{Label: aws.String("CPUUtilization")},
	}
	snk := &captureSink{}
	st := stats.NewCollector()

	em := emitter.New(emitter.Config{Tag: "cloudwatch"}, snk, st, nil)
	wd := poller.NewWatchdog(poller.Config{Interval: time.Minute}, poller.Deps{
		Specs:     query.ParseMetricList("CPUUtilization", "Average"),
		Builder:   &query.Builder{Namespace: "AWS/EC2", Period: time.Minute},
		Emitter:   em,
		NewClient: func(context.Context) (cwclient.API, error) { return fake, nil },
		Stats:     st,
	})

	done := startWatchdog(ctx, wd)
	waitForCondition(t, 3*time.Second, "first poll cycle", func() bool {
		return st.GetSnapshot().CyclesTotal() >= 1
	})
	cancel()
	<-done

	if got := snk.count(); got != 0 {
		t.Errorf("Expected no records, got %d", got)
	}
	snap := st.GetSnapshot()
	if snap.EmptyResults != 1 {
		t.Errorf("Expected 1 empty result, got %d", snap.EmptyResults)
	}
	if snap.ZeroEmissions != 0 {
		t.Errorf("Expected no zero emissions, got %d", snap.ZeroEmissions)
	}
	if snap.RecordsEmitted != 0 {
		t.Errorf("Expected no emitted records, got %d", snap.RecordsEmitted)
	}
}

// TestFunctional_Poll_WatchdogReplacesStalledWorker wedges the first worker
// in a CloudWatch call that never returns and checks the watchdog brings up
// a replacement with a fresh client that completes a pass.
func TestFunctional_Poll_WatchdogReplacesStalledWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeCloudWatch{statsOut: aggregateOutput(time.Now(), 55.0)}
	snk := &captureSink{}
	st := stats.NewCollector()

	var clients atomic.Int32
	em := emitter.New(emitter.Config{Tag: "cloudwatch"}, snk, st, nil)
	wd := poller.NewWatchdog(poller.Config{Interval: 200 * time.Millisecond}, poller.Deps{
		Specs:   query.ParseMetricList("CPUUtilization", "Average"),
		Builder: &query.Builder{Namespace: "AWS/EC2", Period: time.Minute},
		Emitter: em,
		NewClient: func(context.Context) (cwclient.API, error) {
			if clients.Add(1) == 1 {
				return &stallingCloudWatch{}, nil
			}
			return fake, nil
		},
		Stats: st,
	})

	done := startWatchdog(ctx, wd)

	waitForCondition(t, 5*time.Second, "worker replacement", func() bool {
		return st.GetSnapshot().WorkerRestarts >= 1
	})
	waitForCondition(t, 5*time.Second, "record from the replacement worker", func() bool {
		return snk.count() >= 1
	})
	cancel()
	<-done

	if got := clients.Load(); got < 2 {
		t.Errorf("Expected a fresh client for the replacement worker, got %d construction(s)", got)
	}
	snap := st.GetSnapshot()
	if snap.WorkerRestarts < 1 {
		t.Errorf("Expected at least 1 worker restart, got %d", snap.WorkerRestarts)
	}
	// Cancelling the wedged call is a forced replacement, not a pass failure.
	if snap.FailuresTotal() != 0 {
		t.Errorf("Expected no recorded pass failures, got %d", snap.FailuresTotal())
	}
}

// TestFunctional_Poll_FailedPassRecoversViaReplacement lets the first worker
// die on an API error and checks the failure is counted and the watchdog
// eventually restores polling.
func TestFunctional_Poll_FailedPassRecoversViaReplacement(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeCloudWatch{statsOut: aggregateOutput(time.Now(), 55.0)}
	snk := &captureSink{}
	st := stats.NewCollector()

	var clients atomic.Int32
	em := emitter.New(emitter.Config{Tag: "cloudwatch"}, snk, st, nil)
	wd := poller.NewWatchdog(poller.Config{Interval: 200 * time.Millisecond}, poller.Deps{
		Specs:   query.ParseMetricList("CPUUtilization", "Average"),
		Builder: &query.Builder{Namespace: "AWS/EC2", Period: time.Minute},
		Emitter: em,
		NewClient: func(context.Context) (cwclient.API, error) {
			if clients.Add(1) == 1 {
				return &erroringCloudWatch{err: errors.New("RequestLimitExceeded")}, nil
			}
			return fake, nil
		},
		Stats: st,
	})

	done := startWatchdog(ctx, wd)

	waitForCondition(t, 5*time.Second, "recorded pass failure", func() bool {
		return st.GetSnapshot().FailuresTotal() >= 1
	})
	waitForCondition(t, 5*time.Second, "record after replacement", func() bool {
		return snk.count() >= 1
	})
	cancel()
	<-done

	snap := st.GetSnapshot()
	if snap.PollFailures[stats.ModeAggregate] < 1 {
		t.Errorf("Expected at least 1 aggregate pass failure, got %d", snap.PollFailures[stats.ModeAggregate])
	}
	if snap.WorkerRestarts < 1 {
		t.Errorf("Expected at least 1 worker restart, got %d", snap.WorkerRestarts)
	}
	if got := clients.Load(); got < 2 {
		t.Errorf("Expected a fresh client after the failed pass, got %d construction(s)", got)
	}
}
