package query

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/szibis/cloudwatch-forwarder/internal/logging"
)

// BuildDimensions pairs the configured dimension name and value lists into
// CloudWatch dimensions. Both lists present: entries are paired positionally
// and a length mismatch truncates to the shorter list with a warning. Only
// one list present: a single dimension is built from the raw string with the
// other side empty (historical behavior, kept on purpose). Neither: nil.
func BuildDimensions(namesCSV, valuesCSV string) []cwtypes.Dimension {
	switch {
	case namesCSV == "" && valuesCSV == "":
		return nil
	case namesCSV == "" || valuesCSV == "":
		return []cwtypes.Dimension{
			{
				Name:  aws.String(namesCSV),
				Value: aws.String(valuesCSV),
			},
		}
	}

	names := splitTrim(namesCSV)
	values := splitTrim(valuesCSV)
	n := len(names)
	if len(values) < n {
		n = len(values)
	}
	if len(names) != len(values) {
		logging.Warn("dimension name/value lists differ in length, truncating to shorter",
			logging.F("names", len(names), "values", len(values), "used", n))
	}

	dims := make([]cwtypes.Dimension, 0, n)
	for i := 0; i < n; i++ {
		dims = append(dims, cwtypes.Dimension{
			Name:  aws.String(names[i]),
			Value: aws.String(values[i]),
		})
	}
	return dims
}

func splitTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// SplitFields parses a comma-separated field list, dropping empties. Used
// for the group-by field configuration.
func SplitFields(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
