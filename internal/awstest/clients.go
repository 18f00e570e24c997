package awstest

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// FakeS3 records PutObject calls.
type FakeS3 struct {
	mu      sync.Mutex
	Objects map[string][]byte // key -> body
	Err     error
}

func NewFakeS3() *FakeS3 {
	return &FakeS3{Objects: map[string][]byte{}}
}

func (f *FakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	body, _ := io.ReadAll(params.Body)
	f.Objects[*params.Key] = body
	return &s3.PutObjectOutput{}, nil
}

// FakeSQS records sent message bodies.
type FakeSQS struct {
	mu     sync.Mutex
	Bodies []string
	Err    error
}

func NewFakeSQS() *FakeSQS {
	return &FakeSQS{}
}

func (f *FakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Bodies = append(f.Bodies, *params.MessageBody)
	return &sqs.SendMessageOutput{}, nil
}

// Sent returns a copy of the recorded message bodies.
func (f *FakeSQS) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.Bodies...)
}

// FakeCloudWatch counts datapoints per metric name.
type FakeCloudWatch struct {
	mu     sync.Mutex
	Counts map[string]float64
}

func NewFakeCloudWatch() *FakeCloudWatch {
	return &FakeCloudWatch{Counts: map[string]float64{}}
}

func (f *FakeCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range params.MetricData {
		if d.MetricName != nil && d.Value != nil {
			f.Counts[*d.MetricName] += *d.Value
		}
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}
