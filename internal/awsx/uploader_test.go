package awsx

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type captureS3 struct {
	key  string
	body []byte
	err  error
}

func (c *captureS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.key = *params.Key
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(params.Body)
	c.body = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func TestUploadProofKeyIsDeterministic(t *testing.T) {
	s3c := &captureS3{}
	u := NewUploader(s3c, "proofs", "")

	url, err := u.UploadProof(context.Background(), "order-1", 2, []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if s3c.key != "payment-proofs/order-1/attempt-2.png" {
		t.Fatalf("key = %q", s3c.key)
	}
	if url != "https://proofs.s3.amazonaws.com/payment-proofs/order-1/attempt-2.png" {
		t.Fatalf("url = %q", url)
	}
	if string(s3c.body) != "img" {
		t.Fatalf("body = %q", s3c.body)
	}
}

func TestUploadProofUsesBaseURL(t *testing.T) {
	u := NewUploader(&captureS3{}, "proofs", "https://cdn.example.com")
	url, err := u.UploadProof(context.Background(), "order-1", 1, []byte("x"), "application/pdf")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "https://cdn.example.com/payment-proofs/order-1/attempt-1.pdf" {
		t.Fatalf("url = %q", url)
	}
}

func TestUploadProofPropagatesError(t *testing.T) {
	u := NewUploader(&captureS3{err: errors.New("denied")}, "proofs", "")
	if _, err := u.UploadProof(context.Background(), "order-1", 1, nil, "image/jpeg"); err == nil {
		t.Fatal("expected error")
	}
}
