package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/szibis/cloudwatch-forwarder/internal/logging"
	otellog "go.opentelemetry.io/otel/log"
)

var severities = map[logging.Level]otellog.Severity{
	logging.LevelInfo:  otellog.SeverityInfo,
	logging.LevelWarn:  otellog.SeverityWarn,
	logging.LevelError: otellog.SeverityError,
	logging.LevelFatal: otellog.SeverityFatal,
}

// NewLogHook adapts the OTEL logger into a logging.LogHook so every entry
// the process writes also reaches the collector. Returns nil when
// telemetry is disabled.
func (t *Telemetry) NewLogHook() logging.LogHook {
	if t == nil || t.logger == nil {
		return nil
	}
	logger := t.logger

	return func(level logging.Level, msg string, attrs map[string]interface{}) {
		sev, ok := severities[level]
		if !ok {
			sev = otellog.SeverityInfo
		}

		var rec otellog.Record
		rec.SetTimestamp(time.Now())
		rec.SetBody(otellog.StringValue(msg))
		rec.SetSeverity(sev)
		rec.SetSeverityText(string(level))
		for k, v := range attrs {
			rec.AddAttributes(otellog.KeyValue{Key: k, Value: otelValue(v)})
		}

		logger.Emit(context.Background(), rec)
	}
}

// otelValue maps the attribute types logging.F produces onto OTEL values.
// Anything unrecognized is stringified.
func otelValue(v interface{}) otellog.Value {
	switch val := v.(type) {
	case nil:
		return otellog.StringValue("<nil>")
	case string:
		return otellog.StringValue(val)
	case bool:
		return otellog.BoolValue(val)
	case int:
		return otellog.IntValue(val)
	case int64:
		return otellog.Int64Value(val)
	case float64:
		return otellog.Float64Value(val)
	case time.Duration:
		return otellog.StringValue(val.String())
	case error:
		return otellog.StringValue(val.Error())
	default:
		return otellog.StringValue(fmt.Sprint(val))
	}
}
