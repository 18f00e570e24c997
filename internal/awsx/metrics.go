package awsx

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics emits sweep counters to CloudWatch. A nil *Metrics is a no-op so
// callers don't have to guard every emission.
type Metrics struct {
	CW        CloudWatchAPI
	Namespace string
}

// NewMetrics returns a Metrics emitter; namespace defaults to "Reserveflow".
func NewMetrics(cw CloudWatchAPI, namespace string) *Metrics {
	if namespace == "" {
		namespace = "Reserveflow"
	}
	return &Metrics{CW: cw, Namespace: namespace}
}

// Count records a count metric. Failures are logged, never propagated; a
// dropped datapoint must not fail a sweep.
func (m *Metrics) Count(ctx context.Context, name string, value float64) {
	if m == nil || m.CW == nil {
		return
	}
	now := time.Now().UTC()
	_, err := m.CW.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.Namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &name,
				Timestamp:  &now,
				Unit:       cwtypes.StandardUnitCount,
				Value:      &value,
			},
		},
	})
	if err != nil {
		log.Printf("[metrics] put %s failed: %v", name, err)
	}
}
