package statistic

import (
	"strings"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Statistic tokens accepted by aggregate-statistics queries.
const (
	SampleCount = "SampleCount"
	Average     = "Average"
	Sum         = "Sum"
	Minimum     = "Minimum"
	Maximum     = "Maximum"
)

// shortForms maps a statistic token to the aggregation function code used
// in grouped query expressions (SELECT <code>(metric) ...).
var shortForms = map[string]string{
	SampleCount: "COUNT",
	Average:     "AVG",
	Sum:         "SUM",
	Minimum:     "MIN",
	Maximum:     "MAX",
}

var longForms = map[string]string{
	"COUNT": SampleCount,
	"AVG":   Average,
	"SUM":   Sum,
	"MIN":   Minimum,
	"MAX":   Maximum,
}

// ShortForm returns the aggregation function code for a statistic token.
// Unknown tokens are returned unchanged with ok=false so callers can warn
// and proceed with the raw value.
func ShortForm(token string) (string, bool) {
	if code, ok := shortForms[token]; ok {
		return code, true
	}
	return token, false
}

// LongForm returns the statistic token for an aggregation function code.
// Unknown codes are returned unchanged with ok=false.
func LongForm(code string) (string, bool) {
	if token, ok := longForms[code]; ok {
		return token, true
	}
	return code, false
}

// Known reports whether token is one of the five supported statistics.
func Known(token string) bool {
	_, ok := shortForms[token]
	return ok
}

// DatapointValue resolves the member of a datapoint selected by a statistic
// token, matching case-insensitively. ok=false means the datapoint carries
// no value for the token, either because the member is unset or because the
// token is not a supported statistic; callers treat that as an empty result.
func DatapointValue(dp cwtypes.Datapoint, token string) (float64, bool) {
	var v *float64
	switch strings.ToLower(token) {
	case "samplecount":
		v = dp.SampleCount
	case "average":
		v = dp.Average
	case "sum":
		v = dp.Sum
	case "minimum":
		v = dp.Minimum
	case "maximum":
		v = dp.Maximum
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}
