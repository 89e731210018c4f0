package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"studybuddy/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Archiver writes raw purchase events to
// receipts/<account>/<platform>/<transactionId>.json.
type S3Archiver struct {
	client *s3.Client
	bucket string
	logger zerolog.Logger
}

// NewS3Archiver wraps an S3 client and target bucket.
func NewS3Archiver(client *s3.Client, bucket string, logger zerolog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("service", "S3Archiver").Logger(),
	}
}

func (a *S3Archiver) Archive(ctx context.Context, accountID string, ev model.PurchaseEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal purchase event: %w", err)
	}
	key := fmt.Sprintf("receipts/%s/%s/%s.json", accountID, ev.Platform, ev.TransactionID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive receipt %s: %w", key, err)
	}
	return nil
}
