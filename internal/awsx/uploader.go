package awsx

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores payment-proof images in S3 and returns a stable URL.
type Uploader struct {
	S3      S3API
	Bucket  string
	BaseURL string // optional CDN/base URL; defaults to the virtual-hosted S3 URL
}

// NewUploader returns an Uploader bound to a bucket.
func NewUploader(s3Client S3API, bucket, baseURL string) *Uploader {
	return &Uploader{S3: s3Client, Bucket: bucket, BaseURL: baseURL}
}

// UploadProof writes the proof image under a deterministic key so a retried
// upload for the same attempt overwrites rather than duplicates.
func (u *Uploader) UploadProof(ctx context.Context, orderID string, attemptNumber int, body []byte, contentType string) (string, error) {
	key := fmt.Sprintf("payment-proofs/%s/attempt-%d%s", orderID, attemptNumber, extFor(contentType))

	_, err := u.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	if u.BaseURL != "" {
		return fmt.Sprintf("%s/%s", u.BaseURL, key), nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", u.Bucket, key), nil
}

func extFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".jpg"
	}
}
