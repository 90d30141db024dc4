package telemetry

import (
	"context"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys attached to pipeline stages
const (
	LabelStage     = "stage"
	LabelProductID = "product_id"
	LabelOperation = "operation"
)

// StageLabels returns the labels of a pipeline stage
func StageLabels(stage, productID string) map[string]string {
	return map[string]string{LabelStage: stage, LabelProductID: productID}
}

// WithProfilingLabels runs fn with pprof labels so CPU samples taken inside can be
// filtered by stage in Pyroscope. Labels are applied even when the profiler is off.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := labelPairs(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

func labelPairs(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k, v := range labels {
		if strings.TrimSpace(k) == "" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		v := labels[k]
		if len(v) > 64 {
			v = v[:64]
		}
		pairs = append(pairs, k, v)
	}
	return pairs
}
